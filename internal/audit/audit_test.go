package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/testutil"
)

var errRollback = errors.New("forced rollback for test")

func TestWritePersistsEntry(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)
	actorID := uuid.New()

	log := New(db, zap.NewNop())
	log.Write(context.Background(), Entry{
		OrgID:       orgID,
		ActorUserID: &actorID,
		Action:      "delete_episode",
		Status:      StatusSuccess,
		TargetType:  "episode",
		TargetID:    "ep-1",
		RequestID:   "req-1",
		Details:     map[string]any{"reason": "user request"},
	})

	var entries []storage.AuditLogEntry
	require.NoError(t, db.Where("request_id = ?", "req-1").Find(&entries).Error)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, orgID, entry.OrgID)
	assert.Equal(t, actorID, *entry.ActorUserID)
	assert.Equal(t, "delete_episode", entry.Action)
	assert.Equal(t, StatusSuccess, entry.Status)
	assert.Equal(t, "episode", entry.TargetType)
	assert.Equal(t, "ep-1", entry.TargetID)
	assert.JSONEq(t, `{"reason":"user request"}`, entry.Details)
}

func TestWriteNilDetailsDefaultsToEmptyObject(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	log := New(db, zap.NewNop())
	log.Write(context.Background(), Entry{
		OrgID:      orgID,
		Action:     "delete_session_memories",
		Status:     StatusAttempt,
		TargetType: "session",
		TargetID:   "sess-1",
		RequestID:  "req-2",
	})

	var entry storage.AuditLogEntry
	require.NoError(t, db.Where("request_id = ?", "req-2").First(&entry).Error)
	assert.JSONEq(t, `{}`, entry.Details)
	assert.Nil(t, entry.ActorUserID)
}

func TestWriteRecordsFailureOutcome(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	log := New(db, zap.NewNop())
	log.Write(context.Background(), Entry{
		OrgID:        orgID,
		Action:       "delete_user_memories",
		Status:       StatusFailed,
		TargetType:   "user",
		TargetID:     "user-1",
		RequestID:    "req-3",
		ErrorMessage: "storage unavailable",
	})

	var entry storage.AuditLogEntry
	require.NoError(t, db.Where("request_id = ?", "req-3").First(&entry).Error)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, "storage unavailable", entry.ErrorMessage)
}

func TestWriteIsolatedFromCallerTransaction(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)
	log := New(db, zap.NewNop())

	err := db.Transaction(func(tx *gorm.DB) error {
		log.Write(context.Background(), Entry{
			OrgID:      orgID,
			Action:     "delete_episode",
			Status:     StatusAttempt,
			TargetType: "episode",
			TargetID:   "ep-2",
			RequestID:  "req-4",
		})
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	var count int64
	require.NoError(t, db.Model(&storage.AuditLogEntry{}).Where("request_id = ?", "req-4").Count(&count).Error)
	assert.Equal(t, int64(1), count, "audit entry survives even when the caller's own transaction rolls back")
}
