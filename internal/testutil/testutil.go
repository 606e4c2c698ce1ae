// Package testutil provides shared fixtures for package-level tests: an
// in-process SQLite database with migrations applied, and scope/identity
// builders, so unit tests run without any external service (AMBIENT STACK
// test tooling).
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/storage"
)

// NewDB opens a fresh in-memory SQLite database with every migration
// applied and the tenant guard registered. Each call gets its own isolated
// database (a unique cache-shared DSN) so parallel tests never interfere.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := storage.New(storage.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   zap.NewNop(),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

// NewOrg creates a fresh Organization row and returns its id.
func NewOrg(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	org := storage.Organization{Name: "test-org-" + uuid.NewString()}
	require.NoError(t, db.Create(&org).Error)
	return org.ID
}

// OrgScope builds an org-level scope.Scope for orgID, the level every
// background/admin-style operation (e.g. the reaper) runs under.
func OrgScope(orgID uuid.UUID) scope.Scope {
	s, err := scope.New(orgID.String(), "", "", "", scope.LevelOrg)
	if err != nil {
		panic(err)
	}
	return s
}
