package main

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm/clause"

	"yogastudio/internal/config"
	"yogastudio/internal/database"
	"yogastudio/internal/domain"
	"yogastudio/internal/modules/schedule"
	"yogastudio/internal/repository"
)

type demoProfile struct {
	phone  string
	name   string
	city   string
	avatar string
}

var demoProfiles = []demoProfile{
	{phone: "+79990001122", name: "Анна Смирнова", city: "Москва", avatar: "https://i.pravatar.cc/150?u=anna"},
	{phone: "+79990003344", name: "Ольга Петрова", city: "Москва"},
	{phone: "+79990005566", name: "Мария Иванова", city: "Санкт-Петербург"},
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dsn, _ := cfg.RemoteTarget()
	db, err := database.Connect(dsn)
	if err != nil {
		log.Fatal("DB connection failed:", err)
	}
	defer func() { _ = database.Close(db) }()

	log.Println("Running AutoMigrate...")
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		log.Fatal("AutoMigrate failed:", err)
	}

	ctx := context.Background()
	profiles := repository.NewProfileRepository(db)
	bookings := repository.NewBookingRepository(db)

	// ================== PROFILES ==================
	log.Println("Upserting profiles...")
	now := time.Now()
	for _, p := range demoProfiles {
		m := repository.ProfileModel{
			Phone:     p.phone,
			Name:      p.name,
			City:      p.city,
			Avatar:    strPtr(p.avatar),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "city", "avatar", "updated_at"}),
		}).Create(&m).Error; err != nil {
			log.Fatalf("profile %s: %v", p.phone, err)
		}
	}

	// ================== BOOKINGS ==================
	log.Println("Creating bookings for the next 3 days...")
	classes := schedule.NewService(nil, schedule.Options{})
	created, skipped := 0, 0
	for day := 1; day <= 3; day++ {
		date := now.AddDate(0, 0, day)
		for _, kind := range []domain.ClassKind{domain.ClassOffline, domain.ClassOnline} {
			sessions, err := classes.GetClassesForDate(ctx, date, kind)
			if err != nil {
				log.Fatalf("schedule %s: %v", date.Format("2006-01-02"), err)
			}
			for i, session := range sessions {
				p := demoProfiles[(day+i)%len(demoProfiles)]
				b := domain.NewBookingForSession(session, now)
				err := bookings.Insert(ctx, p.phone, &b)
				switch {
				case errors.Is(err, repository.ErrDuplicate):
					skipped++
				case err != nil:
					log.Fatalf("booking %s: %v", session.ID, err)
				default:
					created++
				}
			}
		}
	}
	log.Printf("Bookings: created=%d already_present=%d", created, skipped)

	for _, p := range demoProfiles {
		u, err := profiles.GetByPhone(ctx, p.phone)
		if err != nil {
			log.Fatalf("profile %s: %v", p.phone, err)
		}
		list, err := bookings.ListByPhone(ctx, p.phone)
		if err != nil {
			log.Fatalf("bookings %s: %v", p.phone, err)
		}
		log.Printf("  %s (%s, %s): %d bookings", u.Name, u.Phone, u.City, len(list))
	}

	log.Println("Seed completed")
}
