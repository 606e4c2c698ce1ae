package shortterm

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
	"github.com/remembr/remembr/internal/testutil"
)

func createSessionRow(t *testing.T, db *gorm.DB, orgID uuid.UUID) storage.Session {
	t.Helper()
	var sess storage.Session
	err := db.Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		sess = storage.Session{OrgID: orgID}
		return tx.Create(&sess).Error
	})
	require.NoError(t, err)
	return sess
}

func TestAddMessageAndGetContext(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.AddMessage(ctx, "sess-1", Message{Role: "user", Content: "hello there"}))
	require.NoError(t, w.AddMessage(ctx, "sess-1", Message{Role: "assistant", Content: "hi!"}))

	msgs, err := w.GetContext(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Greater(t, m.Tokens, 0)
		assert.Greater(t, m.PriorityScore, 0.0)
	}
}

func TestGetContextEmptyOnMiss(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop())
	require.NoError(t, err)

	msgs, err := w.GetContext(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCompressToBudgetDropsLowestPriorityFirst(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop(), WithMaxTokens(10))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.AddMessage(ctx, "sess-budget", Message{Role: "assistant", Content: "a", Tokens: 6, PriorityScore: 0.1, Timestamp: time.Now()}))
	require.NoError(t, w.AddMessage(ctx, "sess-budget", Message{Role: "system", Content: "b", Tokens: 6, PriorityScore: 9.0, Timestamp: time.Now()}))

	msgs, err := w.GetContext(ctx, "sess-budget")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].Content)
}

func TestCompressToBudgetNeverEmptiesNonEmptyWindow(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop(), WithMaxTokens(1))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.AddMessage(ctx, "sess-tiny", Message{Role: "user", Content: "this is a longer message than the budget allows"}))

	msgs, err := w.GetContext(ctx, "sess-tiny")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestGetTokenUsage(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop(), WithMaxTokens(100))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.AddMessage(ctx, "sess-usage", Message{Role: "user", Content: "hi", Tokens: 10}))

	usage, err := w.GetTokenUsage(ctx, "sess-usage")
	require.NoError(t, err)
	assert.Equal(t, 10, usage.Used)
	assert.Equal(t, 100, usage.Max)
	assert.Equal(t, 10.0, usage.Percentage)
}

func TestInvalidateCache(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.AddMessage(ctx, "sess-inv", Message{Role: "user", Content: "hi"}))
	msgs, err := w.GetContext(ctx, "sess-inv")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.True(t, w.InvalidateCache(ctx, "sess-inv"))

	msgs, err = w.GetContext(ctx, "sess-inv")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCheckpointAndRestore(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	sessRow := createSessionRow(t, db, orgID)

	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "user", Content: "message one"}))
	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "assistant", Content: "message two"}))

	checkpointID, err := w.Checkpoint(ctx, sessRow.ID.String(), sc)
	require.NoError(t, err)
	require.NotEqual(t, checkpointID.String(), "00000000-0000-0000-0000-000000000000")

	checkpoints, err := w.ListCheckpoints(ctx, sessRow.ID.String(), sc)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
	assert.Equal(t, 2, checkpoints[0].MessageCount)

	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "user", Content: "message three"}))

	restoredCount, err := w.RestoreFromCheckpoint(ctx, sessRow.ID.String(), checkpointID.String(), sc)
	require.NoError(t, err)
	assert.Equal(t, 2, restoredCount)

	msgs, err := w.GetContext(ctx, sessRow.ID.String())
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestAutoCheckpointNoopBelowThreshold(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop(), WithMaxTokens(1000), WithAutoCheckpointThreshold(0.9))
	require.NoError(t, err)
	ctx := context.Background()

	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	sessRow := createSessionRow(t, db, orgID)

	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "user", Content: "hi", Tokens: 5}))

	checkpointID, err := w.AutoCheckpoint(ctx, sessRow.ID.String(), sc)
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", checkpointID.String())
}

func TestAutoCheckpointFiresAboveThreshold(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop(), WithMaxTokens(10), WithAutoCheckpointThreshold(0.5))
	require.NoError(t, err)
	ctx := context.Background()

	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	sessRow := createSessionRow(t, db, orgID)

	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "user", Content: "hi", Tokens: 9}))

	checkpointID, err := w.AutoCheckpoint(ctx, sessRow.ID.String(), sc)
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", checkpointID.String())
}

func TestBudgetEnforcementDropsLowestPriorityUntilUnderBudget(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop(), WithMaxTokens(12))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, w.AddMessage(ctx, "sess-enforce", Message{Role: "system", Content: "instruction", Tokens: 4}))
	require.NoError(t, w.AddMessage(ctx, "sess-enforce", Message{Role: "assistant", Content: "verbose response example", Tokens: 6}))
	require.NoError(t, w.AddMessage(ctx, "sess-enforce", Message{Role: "user", Content: "question", Tokens: 4}))

	msgs, err := w.GetContext(ctx, "sess-enforce")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var roles []string
	total := 0
	for _, m := range msgs {
		roles = append(roles, m.Role)
		total += m.Tokens
	}
	assert.ElementsMatch(t, []string{"system", "user"}, roles, "the assistant message has the lowest priority and is dropped first")
	assert.Equal(t, 8, total)

	usage, err := w.GetTokenUsage(ctx, "sess-enforce")
	require.NoError(t, err)
	assert.Equal(t, 8, usage.Used)
}

func TestCheckpointDivergeThenRestoreReturnsToCheckpointContent(t *testing.T) {
	db := testutil.NewDB(t)
	w, err := New(cache.NewMemStore(), db, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	sessRow := createSessionRow(t, db, orgID)

	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "user", Content: "rules"}))
	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "user", Content: "question"}))

	checkpointID, err := w.Checkpoint(ctx, sessRow.ID.String(), sc)
	require.NoError(t, err)

	require.NoError(t, w.AddMessage(ctx, sessRow.ID.String(), Message{Role: "assistant", Content: "temporary"}))

	restored, err := w.RestoreFromCheckpoint(ctx, sessRow.ID.String(), checkpointID.String(), sc)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	msgs, err := w.GetContext(ctx, sessRow.ID.String())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "rules", msgs[0].Content)
	assert.Equal(t, "question", msgs[1].Content)
}
