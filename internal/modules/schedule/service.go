package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"yogastudio/internal/domain"
)

const (
	defaultInstructor    = "Катя Габран"
	defaultRemoteTimeout = 5 * time.Second
	// templates with a day score at or below this are skipped that day
	keepThreshold = 0.3
)

var ErrValidation = errors.New("validation error")

// BookingCounter returns how many remote bookings each class has.
type BookingCounter interface {
	CountByClassIDs(ctx context.Context, classIDs []string) (map[string]int, error)
}

type template struct {
	name      string
	time      string
	duration  string
	spots     int
	location  string
	intensity int
	price     int
}

var templates = map[domain.ClassKind][]template{
	domain.ClassOffline: {
		{name: "Inside Flow", time: "09:00", duration: "90 мин", spots: 12, location: "Зал на Мира", intensity: 3, price: 800},
		{name: "Хатха Йога", time: "18:30", duration: "60 мин", spots: 15, location: "Зал на Ленина", intensity: 2, price: 700},
		{name: "Медитация + Sound Healing", time: "20:00", duration: "60 мин", spots: 10, location: "Зал на Мира", intensity: 1, price: 1000},
		{name: "Vinyasa Flow", time: "12:00", duration: "75 мин", spots: 12, location: "Зал на Ленина", intensity: 3, price: 800},
	},
	domain.ClassOnline: {
		{name: "Утренний поток (Zoom)", time: "08:00", duration: "45 мин", spots: 50, location: "Online", intensity: 2, price: 400},
		{name: "Вечерняя растяжка (Zoom)", time: "19:00", duration: "60 мин", spots: 50, location: "Online", intensity: 1, price: 400},
	},
}

type Options struct {
	RemoteTimeout time.Duration
	Instructor    string
}

// Service builds the day's schedule from fixed templates. The same date always
// yields the same classes and ids; only the booked counts come from the remote store.
type Service struct {
	counts BookingCounter
	opts   Options
}

func NewService(counts BookingCounter, opts Options) *Service {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaultRemoteTimeout
	}
	if opts.Instructor == "" {
		opts.Instructor = defaultInstructor
	}
	return &Service{counts: counts, opts: opts}
}

func (s *Service) GetClassesForDate(ctx context.Context, date time.Time, kind domain.ClassKind) ([]domain.ClassSession, error) {
	if !kind.Valid() {
		return nil, ErrValidation
	}

	dateStr := date.Format("2006-01-02")
	seed := daySeed(date)

	var kept []template
	for i, tmpl := range templates[kind] {
		if pseudoRandom(seed+float64(i)) > keepThreshold {
			kept = append(kept, tmpl)
		}
	}

	ids := make([]string, len(kept))
	for idx := range kept {
		ids[idx] = ClassID(dateStr, kind, idx)
	}

	counts := s.remoteCounts(ctx, ids)

	out := make([]domain.ClassSession, 0, len(kept))
	for idx, tmpl := range kept {
		initial := int(math.Floor(pseudoRandom(seed+float64(idx*10)) * (float64(tmpl.spots) / 3)))
		out = append(out, domain.ClassSession{
			ID:          ids[idx],
			DateStr:     dateStr,
			Time:        tmpl.time,
			Name:        tmpl.name,
			Instructor:  s.opts.Instructor,
			Duration:    tmpl.duration,
			SpotsTotal:  tmpl.spots,
			SpotsBooked: min(initial+counts[ids[idx]], tmpl.spots),
			Location:    tmpl.location,
			Intensity:   tmpl.intensity,
			Price:       tmpl.price,
			IsOnline:    kind == domain.ClassOnline,
		})
	}
	return out, nil
}

// remoteCounts is empty when the remote store is unreachable; the schedule still renders offline.
func (s *Service) remoteCounts(ctx context.Context, ids []string) map[string]int {
	if s.counts == nil || len(ids) == 0 {
		return map[string]int{}
	}
	rctx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()

	counts, err := s.counts.CountByClassIDs(rctx, ids)
	if err != nil {
		log.Printf("remote_warning op=count_bookings classes=%d error=%q", len(ids), err.Error())
		return map[string]int{}
	}
	return counts
}

// ClassID formats <YYYY-MM-DD>-<kind>-<idx>.
func ClassID(dateStr string, kind domain.ClassKind, idx int) string {
	return fmt.Sprintf("%s-%s-%d", dateStr, kind, idx)
}

func daySeed(date time.Time) float64 {
	return float64(date.Year()*1000 + int(date.Month())*100 + date.Day())
}

func pseudoRandom(seed float64) float64 {
	x := math.Sin(seed) * 10000
	return x - math.Floor(x)
}
