package database

import (
	"log"

	"shuttle-tracker/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// SeedUsers inserts demo accounts on an empty database: two drivers and
// one rider. Passwords are bcrypt-hashed.
func SeedUsers(db *sqlx.DB) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding demo users...")

	users := []struct {
		email    string
		password string
		name     string
		role     string
	}{
		{"driver1@shuttle.local", "driver1pass", "Driver One", models.RoleDriver},
		{"driver2@shuttle.local", "driver2pass", "Driver Two", models.RoleDriver},
		{"rider@shuttle.local", "riderpass", "Demo Rider", models.RoleRider},
	}

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		id := uuid.New().String()
		_, err = db.Exec(`
			INSERT INTO users (id, email, password, name, role)
			VALUES ($1, $2, $3, $4, $5)
		`, id, u.email, string(hash), u.name, u.role)
		if err != nil {
			return err
		}

		// Drivers also get a driver record so the app can read shift state
		// right after login.
		if u.role == models.RoleDriver {
			_, err = db.Exec(`
				INSERT INTO drivers (id, user_id, name, email, is_on_shift, vehicle_no)
				VALUES ($1, $1, $2, $3, FALSE, 'N/A')
			`, id, u.name, u.email)
			if err != nil {
				return err
			}
		}

		log.Printf("   ✓ %s (%s)", u.email, u.role)
	}

	log.Println("✅ Demo users seeded")
	return nil
}
