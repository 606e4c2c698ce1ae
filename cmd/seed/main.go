// Package main implements a one-shot seed command that creates an
// organization (if one with the given name doesn't already exist) and a
// user within it directly in the Remembr database. It lives inside the
// module so it can access internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --org "Acme Corp" \
//	  --email admin@acme.example \
//	  --password secret
//
// Environment variables:
//
//	REMEMBR_DB_DSN      SQLite file path (default: ./remembr.db); the seed always uses the sqlite driver
//	REMEMBR_SECRET_KEY  Master encryption key — must match the value used by the server
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/remembr/remembr/internal/auth"
	"github.com/remembr/remembr/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Flags ────────────────────────────────────────────────────────────────

	orgName := flag.String("org", "", "Organization name (required; reused if it already exists)")
	email := flag.String("email", "", "User email (required)")
	password := flag.String("password", "", "Plain-text password (required)")
	flag.Parse()

	if *orgName == "" {
		return fmt.Errorf("--org is required")
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}

	// ─── Config ───────────────────────────────────────────────────────────────

	dsn := envOrDefault("REMEMBR_DB_DSN", "./remembr.db")

	secretKey := os.Getenv("REMEMBR_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"REMEMBR_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  encrypted password will be unreadable at login time.",
		)
	}

	// ─── Encryption ───────────────────────────────────────────────────────────

	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(secretKey))
	if err := storage.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	// ─── Database ─────────────────────────────────────────────────────────────

	logger, _ := zap.NewDevelopment()

	database, err := storage.New(storage.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// ─── Organization ─────────────────────────────────────────────────────────

	org, err := findOrCreateOrg(database, *orgName)
	if err != nil {
		return fmt.Errorf("resolve organization: %w", err)
	}

	// ─── Hash password ────────────────────────────────────────────────────────

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	// ─── Create user ──────────────────────────────────────────────────────────

	user := &storage.User{
		OrgID:    org.ID,
		Email:    *email,
		Password: storage.EncryptedString(hashed),
		IsActive: true,
	}

	if err := database.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("a user with email %q already exists", *email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("✓ User created\n")
	fmt.Printf("  ID:    %s\n", user.ID)
	fmt.Printf("  Org:   %s (%s)\n", org.Name, org.ID)
	fmt.Printf("  Email: %s\n", user.Email)

	return nil
}

func findOrCreateOrg(db *gorm.DB, name string) (*storage.Organization, error) {
	var org storage.Organization
	err := db.Where("name = ?", name).First(&org).Error
	switch {
	case err == nil:
		return &org, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		org = storage.Organization{Name: name}
		if err := db.Create(&org).Error; err != nil {
			return nil, err
		}
		return &org, nil
	default:
		return nil, err
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
