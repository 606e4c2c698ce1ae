package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remembr/remembr/internal/episodic"
	"github.com/remembr/remembr/internal/testutil"
)

func TestEngineDiff(t *testing.T) {
	db := testutil.NewDB(t)
	ep := episodic.New(db, zap.NewNop(), nil)
	engine := New(nil, ep, nil, nil)

	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	ctx := context.Background()

	_, err := ep.Log(ctx, sc, episodic.LogInput{Role: "user", Content: "old message"})
	require.NoError(t, err)

	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)

	recent, err := ep.Log(ctx, sc, episodic.LogInput{Role: "assistant", Content: "new message"})
	require.NoError(t, err)

	results, err := engine.Diff(ctx, sc, "", &cutoff, nil, 0)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, recent.ID, results[0].ID)
}

func TestEngineDiffInvalidSessionID(t *testing.T) {
	db := testutil.NewDB(t)
	ep := episodic.New(db, zap.NewNop(), nil)
	engine := New(nil, ep, nil, nil)

	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)

	_, err := engine.Diff(context.Background(), sc, "not-a-uuid", nil, nil, 0)
	require.Error(t, err)
}
