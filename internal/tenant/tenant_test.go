package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/testutil"
)

func TestUnboundQueryReturnsNoRows(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	require.NoError(t, Bind(db, orgID).Create(&storage.Session{OrgID: orgID}).Error)

	var sessions []storage.Session
	require.NoError(t, db.Find(&sessions).Error)
	assert.Empty(t, sessions, "a query with no binding must see zero tenant-scoped rows")
}

func TestBoundQuerySeesOnlyOwnOrg(t *testing.T) {
	db := testutil.NewDB(t)
	orgA := testutil.NewOrg(t, db)
	orgB := testutil.NewOrg(t, db)

	require.NoError(t, Bind(db, orgA).Create(&storage.Session{OrgID: orgA}).Error)
	require.NoError(t, Bind(db, orgB).Create(&storage.Session{OrgID: orgB}).Error)

	var sessions []storage.Session
	require.NoError(t, Bind(db, orgA).Find(&sessions).Error)
	require.Len(t, sessions, 1)
	assert.Equal(t, orgA, sessions[0].OrgID)
}

func TestUnboundCreateIsRejected(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	err := db.Create(&storage.Session{OrgID: orgID}).Error
	require.ErrorIs(t, err, ErrNotBound)
}

func TestCreateStampsBoundOrgEvenIfUnset(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	sess := &storage.Session{}
	require.NoError(t, Bind(db, orgID).Create(sess).Error)
	assert.Equal(t, orgID, sess.OrgID)
}

func TestCreateRejectsMismatchedOrgID(t *testing.T) {
	db := testutil.NewDB(t)
	orgA := testutil.NewOrg(t, db)
	orgB := testutil.NewOrg(t, db)

	err := Bind(db, orgA).Create(&storage.Session{OrgID: orgB}).Error
	require.Error(t, err)
}

func TestUnboundDeleteAffectsNoRows(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	var sess storage.Session
	require.NoError(t, Bind(db, orgID).Create(&storage.Session{OrgID: orgID}).Error)
	require.NoError(t, Bind(db, orgID).First(&sess).Error)

	result := db.Delete(&storage.Session{}, "id = ?", sess.ID)
	require.NoError(t, result.Error)
	assert.Equal(t, int64(0), result.RowsAffected)

	require.NoError(t, Bind(db, orgID).First(&sess, "id = ?", sess.ID).Error)
}

func TestNonTenantTableIsUnaffected(t *testing.T) {
	db := testutil.NewDB(t)
	orgID := testutil.NewOrg(t, db)

	entry := storage.AuditLogEntry{OrgID: orgID, Action: "test", Status: "success", TargetType: "x", TargetID: "y", RequestID: "r"}
	require.NoError(t, db.Create(&entry).Error)

	var entries []storage.AuditLogEntry
	require.NoError(t, db.Find(&entries).Error)
	assert.Len(t, entries, 1, "audit_log_entries is not in tenantTables, so it passes through unfiltered")
}

func TestRequestContextRoundTrip(t *testing.T) {
	orgID := uuid.New()
	ctx := WithRequestContext(context.Background(), RequestContext{OrgID: orgID, RequestID: "req-1"})

	rc, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, orgID, rc.OrgID)
	assert.Equal(t, "req-1", rc.RequestID)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
