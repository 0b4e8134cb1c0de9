// Command seed provisions demo principals for local development: one
// admin, one guard, and two students with parent contacts.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gatepass/backend/internal/auth"
	"github.com/gatepass/backend/internal/config"
	"github.com/gatepass/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL required for seeding")
	}

	ctx := context.Background()
	pg, err := store.OpenPostgres(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pg.Close()

	validity := time.Now().AddDate(1, 0, 0)
	users := []struct {
		user     store.User
		password string
	}{
		{store.User{Name: "Campus Admin", Email: "admin@campus.edu",
			Role: store.RoleAdmin, Active: true}, "admin123"},
		{store.User{Name: "Main Gate Guard", Email: "guard@campus.edu",
			Role: store.RoleGuard, Active: true}, "guard123"},
		{store.User{Name: "Madhavi Kumari", Email: "u22cn361@campus.edu",
			Role: store.RoleStudent, Active: true, SubjectCode: "U22CN361",
			Class: "CSE-3A", ParentName: "Lakshmi Kumari", ParentPhone: "9876500000",
			ValidUntil: &validity}, "student123"},
		{store.User{Name: "Rahul Sharma", Email: "u22cn414@campus.edu",
			Role: store.RoleStudent, Active: true, SubjectCode: "U22CN414",
			Class: "CSE-3B", ParentName: "Suresh Sharma", ParentPhone: "9876511111",
			ValidUntil: &validity}, "student123"},
	}

	for _, entry := range users {
		if _, err := pg.GetUserByEmail(ctx, entry.user.Email); err == nil {
			log.Printf("skip %s: already exists", entry.user.Email)
			continue
		}
		hash, err := auth.HashPassword(entry.password)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		entry.user.PasswordHash = hash
		id, err := pg.CreateUser(ctx, &entry.user)
		if err != nil {
			log.Fatalf("create %s: %v", entry.user.Email, err)
		}
		log.Printf("created %s (%s) id=%d", entry.user.Email, entry.user.Role, id)
	}
	log.Println("seed complete")
}
