package forgetting

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/audit"
	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
	"github.com/remembr/remembr/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	auditLog := audit.New(db, zap.NewNop())
	return New(db, cache.NewMemStore(), auditLog, zap.NewNop()), db
}

func createEpisode(t *testing.T, db *gorm.DB, orgID uuid.UUID, sessionID *uuid.UUID, userID *uuid.UUID) storage.Episode {
	t.Helper()
	var ep storage.Episode
	err := db.Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		ep = storage.Episode{OrgID: orgID, SessionID: sessionID, UserID: userID, Role: "user", Content: "hello"}
		return tx.Create(&ep).Error
	})
	require.NoError(t, err)
	return ep
}

func createSession(t *testing.T, db *gorm.DB, orgID uuid.UUID, userID *uuid.UUID) storage.Session {
	t.Helper()
	var sess storage.Session
	err := db.Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		sess = storage.Session{OrgID: orgID, UserID: userID}
		return tx.Create(&sess).Error
	})
	require.NoError(t, err)
	return sess
}

func TestDeleteEpisode(t *testing.T) {
	svc, db := newTestService(t)
	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	ep := createEpisode(t, db, orgID, nil, nil)

	found, err := svc.DeleteEpisode(context.Background(), sc, ep.ID, ActorContext{RequestID: "req-1"})
	require.NoError(t, err)
	assert.True(t, found)

	var remaining []storage.Episode
	err = db.Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		return tx.Find(&remaining).Error
	})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeleteEpisodeNotFound(t *testing.T) {
	svc, db := newTestService(t)
	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)

	found, err := svc.DeleteEpisode(context.Background(), sc, uuid.New(), ActorContext{RequestID: "req-2"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteSessionMemories(t *testing.T) {
	svc, db := newTestService(t)
	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	sess := createSession(t, db, orgID, nil)
	createEpisode(t, db, orgID, &sess.ID, nil)
	createEpisode(t, db, orgID, &sess.ID, nil)
	other := createEpisode(t, db, orgID, nil, nil)

	count, err := svc.DeleteSessionMemories(context.Background(), sc, sess.ID, ActorContext{RequestID: "req-3"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	var remaining []storage.Episode
	err = db.Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		return tx.Find(&remaining).Error
	})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, other.ID, remaining[0].ID)
}

func TestDeleteUserMemories(t *testing.T) {
	svc, db := newTestService(t)
	orgID := testutil.NewOrg(t, db)
	userID := uuid.New()
	otherUserID := uuid.New()

	sess := createSession(t, db, orgID, &userID)
	createEpisode(t, db, orgID, &sess.ID, &userID)
	otherSess := createSession(t, db, orgID, &otherUserID)
	createEpisode(t, db, orgID, &otherSess.ID, &otherUserID)

	result, err := svc.DeleteUserMemories(context.Background(), orgID, userID, ActorContext{RequestID: "req-4"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedEpisodes)
	assert.Equal(t, int64(1), result.DeletedSessions)

	var remainingSessions []storage.Session
	err = db.Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		return tx.Find(&remainingSessions).Error
	})
	require.NoError(t, err)
	require.Len(t, remainingSessions, 1)
	assert.Equal(t, otherSess.ID, remainingSessions[0].ID)
}

func TestDeleteEpisodeAuditTrail(t *testing.T) {
	svc, db := newTestService(t)
	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	ep := createEpisode(t, db, orgID, nil, nil)

	_, err := svc.DeleteEpisode(context.Background(), sc, ep.ID, ActorContext{RequestID: "req-5"})
	require.NoError(t, err)

	var entries []storage.AuditLogEntry
	require.NoError(t, db.Where("request_id = ?", "req-5").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, "delete_episode", entries[0].Action)
}

func TestDeleteUserMemoriesRecordsAttemptAndFailureOnStorageError(t *testing.T) {
	svc, db := newTestService(t)
	orgID := testutil.NewOrg(t, db)
	userID := uuid.New()

	sess := createSession(t, db, orgID, &userID)
	createEpisode(t, db, orgID, &sess.ID, &userID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.DeleteUserMemories(ctx, orgID, userID, ActorContext{RequestID: "req-6"})
	require.Error(t, err, "a storage failure must surface as an error, not a silent partial result")

	var entries []storage.AuditLogEntry
	require.NoError(t, db.Where("request_id = ?", "req-6").Order("created_at ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.StatusAttempt, entries[0].Status)
	assert.Equal(t, audit.StatusFailed, entries[1].Status)
	assert.NotEmpty(t, entries[1].ErrorMessage)

	var remainingEpisodes, remainingSessions int64
	require.NoError(t, db.Model(&storage.Episode{}).Where("org_id = ? AND user_id = ?", orgID, userID).Count(&remainingEpisodes).Error)
	require.NoError(t, db.Model(&storage.Session{}).Where("org_id = ? AND user_id = ?", orgID, userID).Count(&remainingSessions).Error)
	assert.Equal(t, int64(1), remainingEpisodes, "a failed transaction must not partially delete")
	assert.Equal(t, int64(1), remainingSessions)
}
