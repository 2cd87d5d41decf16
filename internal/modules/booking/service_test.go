package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"yogastudio/internal/cache"
	"yogastudio/internal/database"
	"yogastudio/internal/domain"
	"yogastudio/internal/queue"
	"yogastudio/internal/repository"
)

const testPhone = "+79990001122"

var (
	errRemoteDown = errors.New("dial tcp: connection refused")
	fixedNow      = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
)

// Mock remote stores
type MockBookingStore struct {
	mock.Mock
}

func (m *MockBookingStore) Insert(ctx context.Context, phone string, b *domain.Booking) error {
	args := m.Called(ctx, phone, b)
	return args.Error(0)
}

func (m *MockBookingStore) FindByPhoneAndClass(ctx context.Context, phone, classID string) (*domain.Booking, error) {
	args := m.Called(ctx, phone, classID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingStore) ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) Upsert(ctx context.Context, u *domain.UserProfile) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockProfileStore) Update(ctx context.Context, u domain.UserProfile) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// fakeRemote is an in-memory remote store that can be switched off.
type fakeRemote struct {
	mu        sync.Mutex
	down      bool
	failClass map[string]bool
	rows      map[string]fakeRow
	profiles  map[string]domain.UserProfile
	seq       int
	inserts   int
}

type fakeRow struct {
	phone string
	b     domain.Booking
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		failClass: map[string]bool{},
		rows:      map[string]fakeRow{},
		profiles:  map[string]domain.UserProfile{},
	}
}

func (f *fakeRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeRemote) Insert(_ context.Context, phone string, b *domain.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failClass[b.ClassID] {
		return errRemoteDown
	}
	for _, r := range f.rows {
		if r.phone == phone && r.b.ClassID == b.ClassID {
			return repository.ErrDuplicate
		}
	}
	f.seq++
	f.inserts++
	b.ID = fmt.Sprintf("srv-%d", f.seq)
	f.rows[b.ID] = fakeRow{phone: phone, b: *b}
	return nil
}

func (f *fakeRemote) FindByPhoneAndClass(_ context.Context, phone, classID string) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errRemoteDown
	}
	for _, r := range f.rows {
		if r.phone == phone && r.b.ClassID == classID {
			b := r.b
			return &b, nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) ListByPhone(_ context.Context, phone string) ([]domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errRemoteDown
	}
	var out []domain.Booking
	for _, r := range f.rows {
		if r.phone == phone {
			out = append(out, r.b)
		}
	}
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRemoteDown
	}
	if _, ok := f.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeRemote) Upsert(_ context.Context, u *domain.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRemoteDown
	}
	if existing, ok := f.profiles[u.Phone]; ok {
		u.Avatar = existing.Avatar
		u.CreatedAt = existing.CreatedAt
	}
	f.profiles[u.Phone] = *u
	return nil
}

func (f *fakeRemote) Update(_ context.Context, u domain.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errRemoteDown
	}
	if _, ok := f.profiles[u.Phone]; !ok {
		return repository.ErrNotFound
	}
	f.profiles[u.Phone] = u
	return nil
}

func (f *fakeRemote) rowCount(phone, classID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.phone == phone && r.b.ClassID == classID {
			n++
		}
	}
	return n
}

// gatedRemote pauses once, after a remote call has already taken effect.
type gatedRemote struct {
	*fakeRemote
	gateInsert  bool
	gateList    bool
	afterInsert func()
	once        sync.Once
	entered     chan struct{}
	release     chan struct{}
}

func newGatedRemote() *gatedRemote {
	return &gatedRemote{
		fakeRemote: newFakeRemote(),
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

func (g *gatedRemote) pause() {
	g.once.Do(func() {
		g.entered <- struct{}{}
		<-g.release
	})
}

func (g *gatedRemote) Insert(ctx context.Context, phone string, b *domain.Booking) error {
	err := g.fakeRemote.Insert(ctx, phone, b)
	if err == nil && g.afterInsert != nil {
		g.afterInsert()
	}
	if g.gateInsert {
		g.pause()
	}
	return err
}

func (g *gatedRemote) ListByPhone(ctx context.Context, phone string) ([]domain.Booking, error) {
	out, err := g.fakeRemote.ListByPhone(ctx, phone)
	if g.gateList {
		g.pause()
	}
	return out, err
}

func newSQLiteTestCache(t *testing.T) cache.Cache {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Connect(fmt.Sprintf("file:booking_%s?mode=memory&cache=shared", name), database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	c, err := cache.NewSQLiteCache(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newBlobTestCache(t *testing.T) cache.Cache {
	t.Helper()
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return cache.NewBlobCache(store)
}

// forEachBackend runs fn against both cache backends.
func forEachBackend(t *testing.T, fn func(t *testing.T, c cache.Cache)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteTestCache(t)) })
	t.Run("blob", func(t *testing.T) { fn(t, newBlobTestCache(t)) })
}

func newTestService(c cache.Cache, bookings BookingStore, profiles ProfileStore, events EventPublisher) *Service {
	return NewService(Deps{
		Cache:    c,
		Bookings: bookings,
		Profiles: profiles,
		Events:   events,
		Options: Options{
			RemoteTimeout: time.Second,
			Now:           func() time.Time { return fixedNow },
		},
	})
}

func testSession(id string) domain.ClassSession {
	return domain.ClassSession{
		ID:         id,
		DateStr:    "2025-03-14",
		Time:       "18:30",
		Name:       "Хатха Йога",
		Instructor: "Катя Габран",
		Duration:   "60 мин",
		SpotsTotal: 15,
		Location:   "Зал на Ленина",
		Intensity:  2,
		Price:      700,
	}
}

func testUser() domain.UserProfile {
	return domain.UserProfile{Name: "Анна", Phone: testPhone}
}

func TestBookClass_RemoteHealthy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		bookings := new(MockBookingStore)
		profiles := new(MockProfileStore)
		events := new(MockEventPublisher)

		profiles.On("Upsert", mock.Anything, mock.AnythingOfType("*domain.UserProfile")).Return(nil)
		bookings.On("FindByPhoneAndClass", mock.Anything, testPhone, "c1").Return(nil, nil)
		bookings.On("Insert", mock.Anything, testPhone, mock.AnythingOfType("*domain.Booking")).
			Run(func(args mock.Arguments) {
				args.Get(2).(*domain.Booking).ID = "srv-1"
			}).
			Return(nil)
		events.On("PublishBookingEvent", mock.Anything, mock.MatchedBy(func(ev queue.BookingEvent) bool {
			return ev.Type == queue.EventBookingCreated && ev.BookingID == "srv-1"
		})).Return(nil)

		svc := newTestService(c, bookings, profiles, events)

		ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
		require.NoError(t, err)
		assert.True(t, ok)

		rec, err := c.FindBookingByClassID(ctx, testPhone, "c1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "srv-1", rec.ID)
		assert.Equal(t, domain.SyncSynced, rec.Status)
		assert.Equal(t, fixedNow.UnixMilli(), rec.Timestamp)

		user, err := c.GetUser(ctx)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, testPhone, user.ID)
		assert.Equal(t, "Москва", user.City)
		assert.True(t, user.IsRegistered)

		bookings.AssertExpectations(t)
		events.AssertExpectations(t)
	})
}

func TestBookClass_LocalDuplicateSkipsRemote(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		bookings := new(MockBookingStore)
		profiles := new(MockProfileStore)
		profiles.On("Upsert", mock.Anything, mock.Anything).Return(errRemoteDown)

		pending := domain.NewPendingBooking(testSession("c1"), testPhone, fixedNow.Add(-time.Hour))
		require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{pending}))

		svc := newTestService(c, bookings, profiles, nil)

		ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
		require.NoError(t, err)
		assert.False(t, ok)

		bookings.AssertNotCalled(t, "FindByPhoneAndClass", mock.Anything, mock.Anything, mock.Anything)
		bookings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestBookClass_RemoteDuplicate(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	bookings := new(MockBookingStore)
	profiles := new(MockProfileStore)

	existing := &domain.Booking{ID: "srv-9", ClassID: "c1", ClassName: "Хатха Йога", Timestamp: 1}
	profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	bookings.On("FindByPhoneAndClass", mock.Anything, testPhone, "c1").Return(existing, nil)

	svc := newTestService(c, bookings, profiles, nil)

	ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
	require.NoError(t, err)
	assert.False(t, ok)
	bookings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)

	// the remote row is mirrored so the next attempt stops at the local guard
	rec, err := c.FindBookingByClassID(ctx, testPhone, "c1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "srv-9", rec.ID)
	assert.Equal(t, domain.SyncSynced, rec.Status)
}

func TestBookClass_InsertUniqueViolation(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	bookings := new(MockBookingStore)
	profiles := new(MockProfileStore)

	profiles.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	bookings.On("FindByPhoneAndClass", mock.Anything, testPhone, "c1").Return(nil, nil)
	bookings.On("Insert", mock.Anything, testPhone, mock.Anything).Return(repository.ErrDuplicate)

	svc := newTestService(c, bookings, profiles, nil)

	ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := c.GetPendingBookings(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBookClass_RemoteDownQueuesPending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		bookings := new(MockBookingStore)
		profiles := new(MockProfileStore)
		events := new(MockEventPublisher)

		profiles.On("Upsert", mock.Anything, mock.Anything).Return(errRemoteDown)
		bookings.On("FindByPhoneAndClass", mock.Anything, testPhone, "c1").Return(nil, errRemoteDown)
		events.On("PublishBookingEvent", mock.Anything, mock.MatchedBy(func(ev queue.BookingEvent) bool {
			return ev.Type == queue.EventBookingQueued && ev.SyncStatus == string(domain.SyncPending)
		})).Return(nil)

		svc := newTestService(c, bookings, profiles, events)

		ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
		require.NoError(t, err)
		assert.True(t, ok)

		pending, err := c.GetPendingBookings(ctx, testPhone)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, fmt.Sprintf("pending-%d-c1", fixedNow.UnixMilli()), pending[0].ID)
		assert.Equal(t, "Хатха Йога", pending[0].ClassName)
		assert.Equal(t, "Зал на Ленина", pending[0].Location)

		bookings.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
		events.AssertExpectations(t)

		// the registration still landed locally
		user, err := c.GetUser(ctx)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "Анна", user.Name)
	})
}

// brokenWrites fails every booking write, reads go through.
type brokenWrites struct {
	cache.Cache
}

func (brokenWrites) UpsertBookings(context.Context, []domain.CachedBooking) error {
	return errors.New("disk I/O error")
}

func TestBookClass_DualFailureReturnsLocalError(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.setDown(true)
	svc := newTestService(brokenWrites{Cache: newBlobTestCache(t)}, remote, remote, nil)

	ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLocalCache)
}

func TestBookClass_ValidatesInput(t *testing.T) {
	svc := newTestService(newBlobTestCache(t), new(MockBookingStore), new(MockProfileStore), nil)

	_, err := svc.BookClass(context.Background(), testSession(""), testUser())
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.BookClass(context.Background(), testSession("c1"), domain.UserProfile{Name: "x"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBookClass_OfflineTwiceKeepsOneRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		remote := newFakeRemote()
		remote.setDown(true)
		svc := newTestService(c, remote, remote, nil)

		first, err := svc.BookClass(ctx, testSession("c1"), testUser())
		require.NoError(t, err)
		second, err := svc.BookClass(ctx, testSession("c1"), testUser())
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)

		all, err := c.GetBookingsByPhone(ctx, testPhone)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestBookClass_ConcurrentCallsBookOnce(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	remote := newFakeRemote()
	remote.setDown(true)
	svc := newTestService(c, remote, remote, nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		calls = 8
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	pending, err := c.GetPendingBookings(ctx, testPhone)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSync_ConvergesAfterOutage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		remote := newFakeRemote()
		remote.setDown(true)
		svc := newTestService(c, remote, remote, nil)

		ok, err := svc.BookClass(ctx, testSession("c1"), testUser())
		require.NoError(t, err)
		require.True(t, ok)

		// still offline: nothing moves, the pending record is served from the cache
		list, err := svc.GetBookings(ctx, testPhone)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, domain.IsPendingID(list[0].ID))

		remote.setDown(false)

		report := svc.SyncPendingBookings(ctx, testPhone)
		assert.Equal(t, 1, report.Synced)

		list, err = svc.GetBookings(ctx, testPhone)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "srv-1", list[0].ID)
		assert.Equal(t, "c1", list[0].ClassID)

		pending, err := c.GetPendingBookings(ctx, testPhone)
		require.NoError(t, err)
		assert.Empty(t, pending)
		assert.Equal(t, 1, remote.rowCount(testPhone, "c1"))

		// repeated syncs are no-ops
		report = svc.SyncPendingBookings(ctx, testPhone)
		assert.Equal(t, 0, report.Attempted)
		assert.Equal(t, 1, remote.inserts)
	})
}

func TestSync_PartialFailureLeavesOthersSynced(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		remote := newFakeRemote()
		svc := newTestService(c, remote, remote, nil)

		var records []domain.CachedBooking
		for i, id := range []string{"c1", "c2", "c3"} {
			records = append(records, domain.NewPendingBooking(testSession(id), testPhone, fixedNow.Add(time.Duration(i)*time.Millisecond)))
		}
		require.NoError(t, c.UpsertBookings(ctx, records))
		remote.failClass["c2"] = true

		report := svc.SyncPendingBookings(ctx, testPhone)
		assert.Equal(t, SyncReport{Phone: testPhone, Attempted: 3, Synced: 2, Failed: 1}, report)

		pending, err := c.GetPendingBookings(ctx, testPhone)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "c2", pending[0].ClassID)

		for _, id := range []string{"c1", "c3"} {
			rec, err := c.FindBookingByClassID(ctx, testPhone, id)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, domain.SyncSynced, rec.Status)
			assert.False(t, domain.IsPendingID(rec.ID))
		}
	})
}

func TestSync_DuplicateAdoptsRemoteRow(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	remote := newFakeRemote()
	events := new(MockEventPublisher)
	svc := newTestService(c, remote, remote, events)

	// an earlier flush landed but its response was lost
	landed := domain.NewBookingForSession(testSession("c1"), fixedNow)
	require.NoError(t, remote.Insert(ctx, testPhone, &landed))

	pending := domain.NewPendingBooking(testSession("c1"), testPhone, fixedNow)
	require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{pending}))

	events.On("PublishBookingEvent", mock.Anything, mock.MatchedBy(func(ev queue.BookingEvent) bool {
		return ev.Type == queue.EventBookingSynced && ev.BookingID == landed.ID && ev.PendingID == pending.ID
	})).Return(nil)

	report := svc.SyncPendingBookings(ctx, testPhone)
	assert.Equal(t, 1, report.Synced)

	rec, err := c.FindBookingByClassID(ctx, testPhone, "c1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, landed.ID, rec.ID)
	assert.Equal(t, domain.SyncSynced, rec.Status)
	assert.Equal(t, 1, remote.rowCount(testPhone, "c1"))
	events.AssertExpectations(t)
}

func TestGetBookings_RemoteWinsAndPrunesStale(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		bookings := new(MockBookingStore)
		profiles := new(MockProfileStore)

		stale := domain.NewSyncedBooking(domain.Booking{ID: "srv-1", ClassID: "c1", ClassName: "old name"}, testPhone)
		gone := domain.NewSyncedBooking(domain.Booking{ID: "srv-2", ClassID: "c2", ClassName: "cancelled elsewhere"}, testPhone)
		pending := domain.NewPendingBooking(testSession("c3"), testPhone, fixedNow)
		require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{stale, gone}))
		require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{pending}))

		fresh := domain.Booking{ID: "srv-1", ClassID: "c1", ClassName: "Vinyasa Flow", Timestamp: 5}
		bookings.On("Insert", mock.Anything, testPhone, mock.Anything).Return(errRemoteDown)
		bookings.On("ListByPhone", mock.Anything, testPhone).Return([]domain.Booking{fresh}, nil)

		svc := newTestService(c, bookings, profiles, nil)

		list, err := svc.GetBookings(ctx, testPhone)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, fresh, list[0])
		assert.Equal(t, pending.ID, list[1].ID)

		rec, err := c.GetBookingByID(ctx, "srv-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "Vinyasa Flow", rec.ClassName)

		rec, err = c.GetBookingByID(ctx, "srv-2")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestGetBookings_KeepsRecordFlushedDuringList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		remote := newGatedRemote()
		remote.gateList = true
		svc := newTestService(c, remote, remote, nil)

		listed := make(chan []domain.Booking, 1)
		go func() {
			list, _ := svc.GetBookings(ctx, testPhone)
			listed <- list
		}()
		<-remote.entered

		// queued and flushed while the remote list is on its way back
		pending := domain.NewPendingBooking(testSession("c1"), testPhone, fixedNow)
		require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{pending}))
		reports := make(chan SyncReport, 1)
		go func() { reports <- svc.SyncPendingBookings(ctx, testPhone) }()
		time.Sleep(50 * time.Millisecond)
		close(remote.release)

		<-listed
		assert.Equal(t, 1, (<-reports).Synced)

		rec, err := c.FindBookingByClassID(ctx, testPhone, "c1")
		require.NoError(t, err)
		require.NotNil(t, rec, "synced booking was pruned from the cache")
		assert.Equal(t, domain.SyncSynced, rec.Status)
		assert.False(t, domain.IsPendingID(rec.ID))
		assert.Equal(t, 1, remote.rowCount(testPhone, "c1"))

		list, err := svc.GetBookings(ctx, testPhone)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, rec.ID, list[0].ID)
	})
}

func TestGetBookings_RemoteDownServesCache(t *testing.T) {
	ctx := context.Background()
	c := newBlobTestCache(t)
	remote := newFakeRemote()
	remote.setDown(true)
	svc := newTestService(c, remote, remote, nil)

	synced := domain.NewSyncedBooking(domain.Booking{ID: "srv-1", ClassID: "c1"}, testPhone)
	other := domain.NewSyncedBooking(domain.Booking{ID: "srv-7", ClassID: "c1"}, "+70000000000")
	require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{synced, other}))

	list, err := svc.GetBookings(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, []domain.Booking{synced.Booking}, list)
}

func TestCancelBooking_PendingIsLocalOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		bookings := new(MockBookingStore)
		svc := newTestService(c, bookings, new(MockProfileStore), nil)

		pending := domain.NewPendingBooking(testSession("c1"), testPhone, fixedNow)
		require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{pending}))

		assert.True(t, svc.CancelBooking(ctx, pending.ID))
		bookings.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)

		rec, err := c.GetBookingByID(ctx, pending.ID)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestCancelBooking_Synced(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	bookings := new(MockBookingStore)
	svc := newTestService(c, bookings, new(MockProfileStore), nil)

	synced := domain.NewSyncedBooking(domain.Booking{ID: "srv-1", ClassID: "c1"}, testPhone)
	require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{synced}))

	bookings.On("Delete", mock.Anything, "srv-1").Return(errRemoteDown).Once()
	assert.False(t, svc.CancelBooking(ctx, "srv-1"))
	bookings.AssertNumberOfCalls(t, "Delete", 1)

	rec, err := c.GetBookingByID(ctx, "srv-1")
	require.NoError(t, err)
	require.NotNil(t, rec, "failed cancel must leave the local record")

	bookings.On("Delete", mock.Anything, "srv-1").Return(nil).Once()
	assert.True(t, svc.CancelBooking(ctx, "srv-1"))

	rec, err = c.GetBookingByID(ctx, "srv-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
	bookings.AssertExpectations(t)
}

func TestCancelBooking_Unknown(t *testing.T) {
	ctx := context.Background()
	bookings := new(MockBookingStore)
	svc := newTestService(newBlobTestCache(t), bookings, new(MockProfileStore), nil)

	bookings.On("Delete", mock.Anything, "srv-404").Return(repository.ErrNotFound)

	assert.False(t, svc.CancelBooking(ctx, "srv-404"))
	assert.False(t, svc.CancelBooking(ctx, "pending-1-c1"))
	assert.False(t, svc.CancelBooking(ctx, ""))
	bookings.AssertNumberOfCalls(t, "Delete", 1)
}

func TestCancelBooking_WaitsForInFlightFlush(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		remote := newGatedRemote()
		remote.gateInsert = true
		svc := newTestService(c, remote, remote, nil)

		pending := domain.NewPendingBooking(testSession("c1"), testPhone, fixedNow)
		require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{pending}))

		reports := make(chan SyncReport, 1)
		go func() { reports <- svc.SyncPendingBookings(ctx, testPhone) }()
		<-remote.entered

		cancelled := make(chan bool, 1)
		go func() { cancelled <- svc.CancelBooking(ctx, pending.ID) }()
		time.Sleep(50 * time.Millisecond)
		close(remote.release)

		assert.Equal(t, 1, (<-reports).Synced)
		assert.True(t, <-cancelled)

		all, err := c.GetBookingsByPhone(ctx, testPhone)
		require.NoError(t, err)
		assert.Empty(t, all, "cancelled booking came back in the cache")
		assert.Equal(t, 0, remote.rowCount(testPhone, "c1"), "cancelled booking left on the server")
	})
}

func TestSync_DropsRemoteRowWhenPlaceholderCancelled(t *testing.T) {
	ctx := context.Background()
	c := newBlobTestCache(t)
	remote := newGatedRemote()
	svc := newTestService(c, remote, remote, nil)

	pending := domain.NewPendingBooking(testSession("c1"), testPhone, fixedNow)
	require.NoError(t, c.UpsertBookings(ctx, []domain.CachedBooking{pending}))
	// another process sharing the cache cancels while the insert is on the wire
	remote.afterInsert = func() { _ = c.RemoveBooking(ctx, pending.ID) }

	report := svc.SyncPendingBookings(ctx, testPhone)
	assert.Equal(t, SyncReport{Phone: testPhone, Attempted: 1, Synced: 0, Failed: 1}, report)

	all, err := c.GetBookingsByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, remote.rowCount(testPhone, "c1"))
}

func TestRegisterUser_MergesRemoteProfile(t *testing.T) {
	ctx := context.Background()
	c := newBlobTestCache(t)
	remote := newFakeRemote()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	remote.profiles[testPhone] = domain.UserProfile{Phone: testPhone, Avatar: "https://cdn.example/a.png", CreatedAt: created}
	svc := newTestService(c, remote, remote, nil)

	user, err := svc.RegisterUser(ctx, "  Анна ", " "+testPhone+" ")
	require.NoError(t, err)
	assert.Equal(t, "Анна", user.Name)
	assert.Equal(t, testPhone, user.ID)
	assert.Equal(t, "https://cdn.example/a.png", user.Avatar)
	assert.True(t, user.CreatedAt.Equal(created))

	cached, err := c.GetUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, user.Avatar, cached.Avatar)
}

func TestRegisterUser_TwiceKeepsOneProfile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		remote := newFakeRemote()
		svc := newTestService(c, remote, remote, nil)

		first, err := svc.RegisterUser(ctx, "Anna", testPhone)
		require.NoError(t, err)
		assert.Empty(t, first.Avatar)

		// avatar set on the server between the two calls
		remote.mu.Lock()
		p := remote.profiles[testPhone]
		p.Avatar = "https://cdn.example/anna.png"
		remote.profiles[testPhone] = p
		remote.mu.Unlock()

		second, err := svc.RegisterUser(ctx, "Anna", testPhone)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/anna.png", second.Avatar)
		assert.Len(t, remote.profiles, 1)

		cached, err := c.GetUser(ctx)
		require.NoError(t, err)
		require.NotNil(t, cached)
		assert.Equal(t, testPhone, cached.ID)
		assert.Equal(t, "https://cdn.example/anna.png", cached.Avatar)
	})
}

func TestRegisterUser_KeepsLocallyEditedProfile(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	remote := newFakeRemote()
	svc := newTestService(c, remote, remote, nil)

	_, err := svc.RegisterUser(ctx, "Анна", testPhone)
	require.NoError(t, err)
	ok, err := svc.UpdateUserProfile(ctx, domain.UserProfile{
		Name: "Анна", Phone: testPhone, City: "Казань", Avatar: "https://cdn.example/anna.png",
	})
	require.NoError(t, err)
	require.True(t, ok)

	remote.setDown(true)
	_, err = svc.BookClass(ctx, testSession("c1"), testUser())
	require.NoError(t, err)

	cached, err := c.GetUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Казань", cached.City)
	assert.Equal(t, "https://cdn.example/anna.png", cached.Avatar)

	remote.setDown(false)
	_, err = svc.BookClass(ctx, testSession("c2"), testUser())
	require.NoError(t, err)
	assert.Equal(t, "Казань", remote.profiles[testPhone].City)

	cached, err = c.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Казань", cached.City)
}

func TestUpdateUserProfile_WritesLocallyWhenOffline(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	remote := newFakeRemote()
	remote.setDown(true)
	svc := newTestService(c, remote, remote, nil)

	ok, err := svc.UpdateUserProfile(ctx, domain.UserProfile{Name: "Анна", Phone: testPhone, City: "Казань"})
	require.NoError(t, err)
	assert.True(t, ok)

	cached, err := c.GetUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "Казань", cached.City)
	assert.Equal(t, testPhone, cached.ID)
}

func TestLogout_KeepsBookings(t *testing.T) {
	ctx := context.Background()
	c := newSQLiteTestCache(t)
	remote := newFakeRemote()
	remote.setDown(true)
	svc := newTestService(c, remote, remote, nil)

	_, err := svc.BookClass(ctx, testSession("c1"), testUser())
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx))

	user, err := svc.GetUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	all, err := c.GetBookingsByPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.SyncCurrentUser(ctx)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestSyncWorker_RunOnce(t *testing.T) {
	ctx := context.Background()
	c := newBlobTestCache(t)
	remote := newFakeRemote()
	svc := newTestService(c, remote, remote, nil)
	worker := NewSyncWorker(svc)

	// no user yet
	report, err := worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{}, report)

	remote.setDown(true)
	_, err = svc.BookClass(ctx, testSession("c1"), testUser())
	require.NoError(t, err)
	remote.setDown(false)

	report, err = worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, remote.rowCount(testPhone, "c1"))
}

func TestSyncWorker_StartStops(t *testing.T) {
	svc := newTestService(newBlobTestCache(t), newFakeRemote(), newFakeRemote(), nil)
	worker := NewSyncWorker(svc)

	assert.Nil(t, worker.Start(context.Background(), SyncWorkerConfig{Enabled: false}))

	stop := worker.Start(context.Background(), SyncWorkerConfig{Enabled: true, Interval: 10 * time.Millisecond})
	require.NotNil(t, stop)
	time.Sleep(30 * time.Millisecond)
	close(stop)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	unlockB := k.Lock("b")
	unlock()
	unlockB()
	assert.Empty(t, k.locks)
}
