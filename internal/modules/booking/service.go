package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"yogastudio/internal/cache"
	"yogastudio/internal/domain"
	"yogastudio/internal/queue"
	"yogastudio/internal/repository"
)

const (
	defaultRemoteTimeout   = 5 * time.Second
	defaultSyncConcurrency = 4
	defaultCity            = "Москва"
	publishTimeout         = 2 * time.Second
)

// Options tune the synchronizer. Zero values fall back to defaults.
type Options struct {
	RemoteTimeout   time.Duration
	SyncConcurrency int
	DefaultCity     string
	Now             func() time.Time
}

// Deps is everything the service talks to. Events may be nil.
type Deps struct {
	Cache    cache.Cache
	Bookings BookingStore
	Profiles ProfileStore
	Events   EventPublisher
	Options  Options
}

// Service books classes against the remote store and falls back to the local
// cache when the remote store cannot be reached.
type Service struct {
	cache    cache.Cache
	bookings BookingStore
	profiles ProfileStore
	events   EventPublisher
	opts     Options
	locks    *keyedMutex
}

func NewService(deps Deps) *Service {
	opts := deps.Options
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaultRemoteTimeout
	}
	if opts.SyncConcurrency <= 0 {
		opts.SyncConcurrency = defaultSyncConcurrency
	}
	if strings.TrimSpace(opts.DefaultCity) == "" {
		opts.DefaultCity = defaultCity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		cache:    deps.Cache,
		bookings: deps.Bookings,
		profiles: deps.Profiles,
		events:   deps.Events,
		opts:     opts,
		locks:    newKeyedMutex(),
	}
}

// RegisterUser upserts the profile remotely when possible and always mirrors it locally.
func (s *Service) RegisterUser(ctx context.Context, name, phone string) (*domain.UserProfile, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return nil, ErrValidation
	}

	user := domain.NewUserProfile(strings.TrimSpace(name), phone, s.opts.DefaultCity, s.opts.Now())
	// same person on this device: keep what was edited locally
	if cached, err := s.cache.GetUser(ctx); err == nil && cached != nil && cached.Phone == phone {
		if cached.City != "" {
			user.City = cached.City
		}
		user.Avatar = cached.Avatar
		if !cached.CreatedAt.IsZero() {
			user.CreatedAt = cached.CreatedAt
		}
	}

	merged := user
	err := s.remote(ctx, func(rctx context.Context) error {
		return s.profiles.Upsert(rctx, &merged)
	})
	if err != nil {
		logRemoteFailure("profile_upsert", phone, err)
	} else {
		if merged.Avatar != "" {
			user.Avatar = merged.Avatar
		}
		if !merged.CreatedAt.IsZero() {
			user.CreatedAt = merged.CreatedAt
		}
	}

	if err := s.cache.SetUser(ctx, user); err != nil {
		return nil, localFailure("set_user", phone, err)
	}
	return &user, nil
}

// BookClass returns true when the booking is stored remotely or queued
// locally, false when the user already holds a booking for the class.
// The error is non-nil only when the local cache itself failed.
func (s *Service) BookClass(ctx context.Context, session domain.ClassSession, user domain.UserProfile) (bool, error) {
	if strings.TrimSpace(session.ID) == "" {
		return false, ErrValidation
	}
	profile, err := s.RegisterUser(ctx, user.Name, user.Phone)
	if err != nil {
		return false, err
	}
	phone := profile.Phone

	unlock := s.locks.Lock(phone)
	defer unlock()

	// local guard covers pending records the remote store has never seen
	existing, err := s.cache.FindBookingByClassID(ctx, phone, session.ID)
	if err != nil {
		return false, localFailure("find_booking", phone, err)
	}
	if existing != nil {
		return false, nil
	}

	now := s.opts.Now()
	payload := domain.NewBookingForSession(session, now)

	var remoteDup *domain.Booking
	err = s.remote(ctx, func(rctx context.Context) error {
		var ferr error
		remoteDup, ferr = s.bookings.FindByPhoneAndClass(rctx, phone, session.ID)
		return ferr
	})
	if err == nil && remoteDup != nil {
		s.mirror(ctx, phone, *remoteDup)
		return false, nil
	}
	if err == nil {
		err = s.remote(ctx, func(rctx context.Context) error {
			return s.bookings.Insert(rctx, phone, &payload)
		})
		if errors.Is(err, repository.ErrDuplicate) {
			return false, nil
		}
		if err == nil {
			synced := domain.NewSyncedBooking(payload, phone)
			s.mirror(ctx, phone, payload)
			s.publish(ctx, queue.EventBookingCreated, synced, "")
			return true, nil
		}
	}

	logRemoteFailure("book_class", phone, err)

	pending := domain.NewPendingBooking(session, phone, now)
	if err := s.cache.UpsertBookings(ctx, []domain.CachedBooking{pending}); err != nil {
		return false, localFailure("queue_pending", phone, err)
	}
	log.Printf("booking_queued phone=%s class_id=%s pending_id=%s", maskPhone(phone), session.ID, pending.ID)
	s.publish(ctx, queue.EventBookingQueued, pending, "")
	return true, nil
}

// GetBookings flushes pending records, then returns the remote list merged
// with whatever is still pending. Without the remote store it serves the cache.
func (s *Service) GetBookings(ctx context.Context, phone string) ([]domain.Booking, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return nil, ErrValidation
	}

	s.SyncPendingBookings(ctx, phone)

	// the list and the prune must see the same state a concurrent flush would change
	unlock := s.locks.Lock(phone)
	defer unlock()

	var remote []domain.Booking
	err := s.remote(ctx, func(rctx context.Context) error {
		var lerr error
		remote, lerr = s.bookings.ListByPhone(rctx, phone)
		return lerr
	})
	if err != nil {
		logRemoteFailure("list_bookings", phone, err)
		cached, cerr := s.cache.GetBookingsByPhone(ctx, phone)
		if cerr != nil {
			return nil, localFailure("list_bookings", phone, cerr)
		}
		return domain.StripAll(cached), nil
	}

	s.reconcile(ctx, phone, remote)

	out := make([]domain.Booking, 0, len(remote))
	out = append(out, remote...)

	pending, err := s.cache.GetPendingBookings(ctx, phone)
	if err != nil {
		log.Printf("cache_warning op=list_pending phone=%s error=%q", maskPhone(phone), err.Error())
		return out, nil
	}
	return append(out, domain.StripAll(pending)...), nil
}

// reconcile makes the cache mirror the remote list: every remote row becomes
// synced, and synced rows the remote store no longer has are dropped.
func (s *Service) reconcile(ctx context.Context, phone string, remote []domain.Booking) {
	records := make([]domain.CachedBooking, 0, len(remote))
	keep := make(map[string]struct{}, len(remote))
	for _, b := range remote {
		records = append(records, domain.NewSyncedBooking(b, phone))
		keep[b.ID] = struct{}{}
	}
	if len(records) > 0 {
		if err := s.cache.UpsertBookings(ctx, records); err != nil {
			log.Printf("cache_warning op=mirror_remote phone=%s error=%q", maskPhone(phone), err.Error())
			return
		}
	}

	cached, err := s.cache.GetBookingsByPhone(ctx, phone)
	if err != nil {
		log.Printf("cache_warning op=prune_stale phone=%s error=%q", maskPhone(phone), err.Error())
		return
	}
	for _, c := range cached {
		if c.IsPending() {
			continue
		}
		if _, ok := keep[c.ID]; ok {
			continue
		}
		if err := s.cache.RemoveBooking(ctx, c.ID); err != nil {
			log.Printf("cache_warning op=prune_stale phone=%s booking_id=%s error=%q", maskPhone(phone), c.ID, err.Error())
		}
	}
}

// SyncPendingBookings pushes every pending record for phone to the remote
// store. Records are independent: one failure leaves the others untouched.
func (s *Service) SyncPendingBookings(ctx context.Context, phone string) SyncReport {
	phone = normalizePhone(phone)
	report := SyncReport{Phone: phone}
	if phone == "" {
		return report
	}

	unlock := s.locks.Lock(phone)
	defer unlock()

	pending, err := s.cache.GetPendingBookings(ctx, phone)
	if err != nil {
		log.Printf("cache_warning op=list_pending phone=%s error=%q", maskPhone(phone), err.Error())
		return report
	}
	if len(pending) == 0 {
		return report
	}

	var synced, failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(s.opts.SyncConcurrency)
	for _, rec := range pending {
		g.Go(func() error {
			if s.flushOne(ctx, rec) {
				synced.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Attempted = len(pending)
	report.Synced = int(synced.Load())
	report.Failed = int(failed.Load())
	log.Printf("sync_done phone=%s attempted=%d synced=%d failed=%d",
		maskPhone(phone), report.Attempted, report.Synced, report.Failed)
	return report
}

func (s *Service) flushOne(ctx context.Context, rec domain.CachedBooking) bool {
	payload := rec.Booking
	payload.ID = ""

	err := s.remote(ctx, func(rctx context.Context) error {
		return s.bookings.Insert(rctx, rec.Phone, &payload)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// an earlier attempt reached the server before we lost the response
		var existing *domain.Booking
		err = s.remote(ctx, func(rctx context.Context) error {
			var ferr error
			existing, ferr = s.bookings.FindByPhoneAndClass(rctx, rec.Phone, rec.ClassID)
			return ferr
		})
		if err == nil && existing == nil {
			err = fmt.Errorf("duplicate reported for class %s but no remote row", rec.ClassID)
		}
		if err == nil {
			payload = *existing
		}
	}
	if err != nil {
		logRemoteFailure("flush_pending", rec.Phone, err)
		return false
	}

	// cancelled while the insert was in flight (another process sharing the cache)
	if still, gerr := s.cache.GetBookingByID(ctx, rec.ID); gerr == nil && still == nil {
		derr := s.remote(ctx, func(rctx context.Context) error {
			return s.bookings.Delete(rctx, payload.ID)
		})
		if derr != nil && !errors.Is(derr, repository.ErrNotFound) {
			logRemoteFailure("flush_cancelled", rec.Phone, derr)
		}
		log.Printf("sync_skipped pending_id=%s reason=cancelled", rec.ID)
		return false
	}

	synced, err := rec.MarkSynced(payload)
	if err != nil {
		log.Printf("sync_error pending_id=%s error=%q", rec.ID, err.Error())
		return false
	}

	// write the synced record before dropping the placeholder; if the remove
	// fails the next flush hits the unique index and adopts the same row
	if err := s.cache.UpsertBookings(ctx, []domain.CachedBooking{synced}); err != nil {
		log.Printf("cache_warning op=store_synced pending_id=%s error=%q", rec.ID, err.Error())
		return false
	}
	if err := s.cache.RemoveBooking(ctx, rec.ID); err != nil {
		log.Printf("cache_warning op=remove_pending pending_id=%s error=%q", rec.ID, err.Error())
		return false
	}

	s.publish(ctx, queue.EventBookingSynced, synced, rec.ID)
	return true
}

// CancelBooking deletes a pending booking locally, anything else remotely.
// On false nothing has changed.
func (s *Service) CancelBooking(ctx context.Context, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}

	rec, err := s.cache.GetBookingByID(ctx, id)
	if err != nil {
		log.Printf("cache_warning op=get_booking booking_id=%s error=%q", id, err.Error())
		rec = nil
	}

	if rec != nil {
		// waits for an in-flight flush of the same phone
		unlock := s.locks.Lock(rec.Phone)
		defer unlock()

		current, err := s.cache.GetBookingByID(ctx, id)
		if err != nil {
			log.Printf("cache_warning op=get_booking booking_id=%s error=%q", id, err.Error())
			return false
		}
		if current == nil && rec.IsPending() {
			// the flush landed first: cancel the booking it turned into
			current, err = s.cache.FindBookingByClassID(ctx, rec.Phone, rec.ClassID)
			if err != nil {
				log.Printf("cache_warning op=find_booking booking_id=%s error=%q", id, err.Error())
				return false
			}
			if current == nil {
				return false
			}
			id = current.ID
		}
		rec = current
	}

	if rec != nil && rec.IsPending() {
		if err := s.cache.RemoveBooking(ctx, id); err != nil {
			log.Printf("cache_warning op=cancel_pending booking_id=%s error=%q", id, err.Error())
			return false
		}
		s.publish(ctx, queue.EventBookingCancelled, *rec, "")
		return true
	}
	// pending ids never exist remotely
	if domain.IsPendingID(id) {
		return false
	}

	err = s.remote(ctx, func(rctx context.Context) error {
		return s.bookings.Delete(rctx, id)
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logRemoteFailure("cancel_booking", "", err)
		}
		return false
	}

	if err := s.cache.RemoveBooking(ctx, id); err != nil {
		log.Printf("cache_warning op=cancel_synced booking_id=%s error=%q", id, err.Error())
	}
	if rec != nil {
		s.publish(ctx, queue.EventBookingCancelled, *rec, "")
	}
	return true
}

// GetUser returns the profile registered on this device, or nil.
func (s *Service) GetUser(ctx context.Context) (*domain.UserProfile, error) {
	u, err := s.cache.GetUser(ctx)
	if err != nil {
		return nil, localFailure("get_user", "", err)
	}
	return u, nil
}

// UpdateUserProfile pushes name, city and avatar to the remote store when it
// can and always rewrites the local profile.
func (s *Service) UpdateUserProfile(ctx context.Context, user domain.UserProfile) (bool, error) {
	user.Phone = normalizePhone(user.Phone)
	if user.Phone == "" {
		return false, ErrValidation
	}
	user.ID = user.Phone
	user.IsRegistered = true

	err := s.remote(ctx, func(rctx context.Context) error {
		return s.profiles.Update(rctx, user)
	})
	if err != nil {
		logRemoteFailure("profile_update", user.Phone, err)
	}

	if err := s.cache.SetUser(ctx, user); err != nil {
		return false, localFailure("set_user", user.Phone, err)
	}
	return true, nil
}

// Logout forgets the local profile. Remote data and cached bookings stay.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.cache.ClearUser(ctx); err != nil {
		return localFailure("clear_user", "", err)
	}
	return nil
}

// SyncCurrentUser flushes pending bookings of the profile cached on this device.
func (s *Service) SyncCurrentUser(ctx context.Context) (SyncReport, error) {
	u, err := s.GetUser(ctx)
	if err != nil {
		return SyncReport{}, err
	}
	if u == nil {
		return SyncReport{}, ErrNoUser
	}
	return s.SyncPendingBookings(ctx, u.Phone), nil
}

func (s *Service) remote(ctx context.Context, fn func(context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()
	return fn(rctx)
}

// mirror records a remote row as synced; the remote store stays authoritative if this fails.
func (s *Service) mirror(ctx context.Context, phone string, b domain.Booking) {
	rec := domain.NewSyncedBooking(b, phone)
	if err := s.cache.UpsertBookings(ctx, []domain.CachedBooking{rec}); err != nil {
		log.Printf("cache_warning op=mirror_remote phone=%s booking_id=%s error=%q", maskPhone(phone), b.ID, err.Error())
	}
}

func (s *Service) publish(ctx context.Context, eventType string, b domain.CachedBooking, pendingID string) {
	if s.events == nil {
		return
	}
	ev := queue.NewBookingEvent(eventType, b, s.opts.Now())
	ev.PendingID = pendingID

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	_ = s.events.PublishBookingEvent(pctx, ev)
}

func normalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}

// maskPhone keeps logs useful without writing full phone numbers.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}

func logRemoteFailure(op, phone string, err error) {
	if phone == "" {
		log.Printf("remote_warning op=%s error=%q", op, err.Error())
		return
	}
	log.Printf("remote_warning op=%s phone=%s error=%q", op, maskPhone(phone), err.Error())
}

func localFailure(op, phone string, err error) error {
	log.Printf("cache_error op=%s phone=%s error=%q", op, maskPhone(phone), err.Error())
	return fmt.Errorf("%w: %s: %v", ErrLocalCache, op, err)
}
