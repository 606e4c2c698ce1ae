// Package session implements the Session envelope named in §3/§4.10's
// "Create Session" / "List Sessions" / "Get Session" primary operations.
// A Session's scope tuple is immutable after creation — no method here
// ever updates org_id/team_id/user_id/agent_id on an existing row.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/shortterm"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

// Store creates and retrieves Session envelopes.
type Store struct {
	db        *gorm.DB
	shortTerm *shortterm.Window
}

// New builds a Store. shortTerm backs TokenUsage, which reports the
// session's current short-term window usage; Get reads the row only.
func New(db *gorm.DB, shortTerm *shortterm.Window) *Store {
	return &Store{db: db, shortTerm: shortTerm}
}

func (s *Store) scopedDB(ctx context.Context, sc scope.Scope) (*gorm.DB, error) {
	return tenant.BindScope(s.db.WithContext(ctx), sc)
}

// Create persists a new Session at the caller's writable scope.
func (s *Store) Create(ctx context.Context, sc scope.Scope, metadata map[string]any, expiresAt *time.Time) (*storage.Session, error) {
	writable := scope.ResolveWritable(sc)

	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("session: marshal metadata: %w", err)
	}

	sess := storage.Session{
		OrgID:     uuid.MustParse(writable.OrgID),
		Metadata:  string(metaJSON),
		ExpiresAt: expiresAt,
	}
	if writable.TeamID != "" {
		id := uuid.MustParse(writable.TeamID)
		sess.TeamID = &id
	}
	if writable.UserID != "" {
		id := uuid.MustParse(writable.UserID)
		sess.UserID = &id
	}
	if writable.AgentID != "" {
		id := uuid.MustParse(writable.AgentID)
		sess.AgentID = &id
	}

	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	if err := db.Create(&sess).Error; err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return &sess, nil
}

// Get retrieves a single session by id within scope.
func (s *Store) Get(ctx context.Context, sc scope.Scope, sessionID uuid.UUID) (*storage.Session, error) {
	readable := scope.ResolveReadable(sc)
	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	var sess storage.Session
	err = db.
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Where("id = ?", sessionID).
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("session not found", apperr.DetailSessionNotFound)
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	return &sess, nil
}

// TokenUsage reports the session's current short-term window usage,
// separate from Get so a caller that only needs the row can skip the
// cache round trip.
func (s *Store) TokenUsage(ctx context.Context, sessionID string) (shortterm.TokenUsage, error) {
	return s.shortTerm.GetTokenUsage(ctx, sessionID)
}

// List returns sessions in scope, most recent first.
func (s *Store) List(ctx context.Context, sc scope.Scope, limit int) ([]storage.Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	readable := scope.ResolveReadable(sc)
	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var sessions []storage.Session
	err = db.
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return sessions, nil
}
