// Package audit implements the append-only audit trail used by the
// Forgetting Service (§4.7): deletions record their success/failed outcome
// (and the user-wide deletion an attempt entry before it starts) on their
// own transaction, separate from the transaction that
// performs the deletion, so a failed write never loses its own audit trail.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/storage"
)

// Status values recorded on an audit entry.
const (
	StatusAttempt = "attempt"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry is the input to Write.
type Entry struct {
	OrgID        uuid.UUID
	ActorUserID  *uuid.UUID
	Action       string
	Status       string
	TargetType   string
	TargetID     string
	RequestID    string
	Details      map[string]any
	ErrorMessage string
}

// Log writes audit entries on their own connection/transaction, isolated
// from the caller's in-flight transaction.
type Log struct {
	db  *gorm.DB
	log *zap.Logger
}

// New builds a Log.
func New(db *gorm.DB, log *zap.Logger) *Log {
	return &Log{db: db, log: log}
}

// Write persists e. Failure to write an audit entry is itself only logged —
// it must never cause the caller's already-committed (or already-failed)
// deletion to error a second time.
func (l *Log) Write(ctx context.Context, e Entry) {
	detailsJSON, err := json.Marshal(e.Details)
	if err != nil || e.Details == nil {
		detailsJSON = []byte("{}")
	}

	row := storage.AuditLogEntry{
		OrgID:        e.OrgID,
		ActorUserID:  e.ActorUserID,
		Action:       e.Action,
		Status:       e.Status,
		TargetType:   e.TargetType,
		TargetID:     e.TargetID,
		RequestID:    e.RequestID,
		Details:      string(detailsJSON),
		ErrorMessage: e.ErrorMessage,
	}

	// Session(&gorm.Session{NewDB: true}) detaches from any transaction the
	// caller's *gorm.DB handle might currently be bound to, but the context
	// itself still carries the caller's cancellation — context.WithoutCancel
	// strips that so a write for a request whose ctx is already cancelled
	// (or about to be) isn't rejected at connection-acquisition time before
	// it even reaches the database.
	detachedCtx := context.WithoutCancel(ctx)
	if err := l.db.WithContext(detachedCtx).Session(&gorm.Session{NewDB: true}).Create(&row).Error; err != nil {
		l.log.Error("failed to persist audit log entry",
			zap.String("action", e.Action), zap.Error(err))
	}
}
