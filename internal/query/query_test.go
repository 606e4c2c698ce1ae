package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/episodic"
	"github.com/remembr/remembr/internal/shortterm"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/testutil"
)

func TestDedupeEpisodicKeepsHighestScore(t *testing.T) {
	ep := storage.Episode{ID: uuid.New(), Content: "Reset password from account settings"}

	deduped := dedupeEpisodic([]EpisodeResult{
		{Episode: ep, Score: 0.71},
		{Episode: ep, Score: 0.95},
	})

	require.Len(t, deduped, 1)
	assert.Equal(t, 0.95, deduped[0].Score)
}

func TestDedupeEpisodicPreservesFirstSeenOrderAmongDistinctEpisodes(t *testing.T) {
	epA := storage.Episode{ID: uuid.New()}
	epB := storage.Episode{ID: uuid.New()}

	deduped := dedupeEpisodic([]EpisodeResult{
		{Episode: epA, Score: 0.5},
		{Episode: epB, Score: 0.9},
		{Episode: epA, Score: 0.6},
	})

	require.Len(t, deduped, 2)
	assert.Equal(t, epA.ID, deduped[0].Episode.ID)
	assert.Equal(t, 0.6, deduped[0].Score)
	assert.Equal(t, epB.ID, deduped[1].Episode.ID)
}

func TestEpisodeMatchesTagOverlapNotEquality(t *testing.T) {
	ep := storage.Episode{Tags: `["billing","urgent"]`}
	req := Request{Tags: []string{"urgent", "other"}}
	assert.True(t, episodeMatches(ep, req), "one shared tag should match, not require set equality")

	reqNoOverlap := Request{Tags: []string{"unrelated"}}
	assert.False(t, episodeMatches(ep, reqNoOverlap))
}

func TestEpisodeMatchesSessionRoleAndTimeFilters(t *testing.T) {
	sessionID := uuid.New()
	now := time.Now()
	ep := storage.Episode{SessionID: &sessionID, Role: "user", CreatedAt: now}

	assert.True(t, episodeMatches(ep, Request{SessionID: sessionID.String(), Role: "user"}))
	assert.False(t, episodeMatches(ep, Request{Role: "assistant"}))

	from := now.Add(-time.Minute)
	to := now.Add(time.Minute)
	assert.True(t, episodeMatches(ep, Request{FromTime: &from, ToTime: &to}))

	past := now.Add(-time.Hour)
	assert.False(t, episodeMatches(ep, Request{ToTime: &past}))
}

func TestMergeResultsOrdersByScoreInHybridMode(t *testing.T) {
	engine := New(nil, nil, nil, nil)

	short := []ShortTermResult{{Message: shortterm.Message{Content: "Reset password from account settings", Timestamp: time.Now()}, Score: 0.4}}
	episodes := []EpisodeResult{{Episode: storage.Episode{ID: uuid.New(), CreatedAt: time.Now()}, Score: 0.95}}

	merged := engine.mergeResults(short, episodes, Request{Mode: ModeHybrid})

	assert.Equal(t, 2, merged.total)
	require.Len(t, merged.episodic, 1)
	require.Len(t, merged.shortTerm, 1)
}

// TestQueryFilterOnlyAcrossBothLayers exercises the engine's full concurrent
// fan-out with only sqlite-backed dependencies, no embedder or vector
// searcher required since filter_only never reaches them.
func TestQueryFilterOnlyAcrossBothLayers(t *testing.T) {
	db := testutil.NewDB(t)
	log := zap.NewNop()

	shortTerm, err := shortterm.New(cache.NewMemStore(), db, log)
	require.NoError(t, err)
	ep := episodic.New(db, log, nil)
	engine := New(shortTerm, ep, nil, nil)

	orgID := testutil.NewOrg(t, db)
	sc := testutil.OrgScope(orgID)
	ctx := context.Background()

	logged, err := ep.Log(ctx, sc, episodic.LogInput{Role: "assistant", Content: "Reset password from account settings"})
	require.NoError(t, err)

	result, err := engine.Query(ctx, sc, Request{
		Query:            "reset password",
		IncludeShortTerm: true,
		IncludeEpisodic:  true,
		Mode:             ModeFilterOnly,
	})
	require.NoError(t, err)

	require.Len(t, result.Episodes, 1)
	assert.Equal(t, logged.ID, result.Episodes[0].Episode.ID)
	assert.Equal(t, 1, result.TotalResults)
}

func TestQueryEpisodicIsScopedToOwnOrg(t *testing.T) {
	db := testutil.NewDB(t)
	log := zap.NewNop()
	ep := episodic.New(db, log, nil)
	engine := New(nil, ep, nil, nil)
	ctx := context.Background()

	orgA := testutil.NewOrg(t, db)
	orgB := testutil.NewOrg(t, db)
	scopeA := testutil.OrgScope(orgA)
	scopeB := testutil.OrgScope(orgB)

	_, err := ep.Log(ctx, scopeA, episodic.LogInput{Role: "user", Content: "secret ALPHA-42"})
	require.NoError(t, err)

	resultA, err := engine.Query(ctx, scopeA, Request{Query: "ALPHA-42", IncludeEpisodic: true, Mode: ModeFilterOnly})
	require.NoError(t, err)
	assert.Len(t, resultA.Episodes, 1)

	resultB, err := engine.Query(ctx, scopeB, Request{Query: "ALPHA-42", IncludeEpisodic: true, Mode: ModeFilterOnly})
	require.NoError(t, err)
	assert.Empty(t, resultB.Episodes)
}
