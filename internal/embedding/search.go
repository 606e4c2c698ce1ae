package embedding

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

// ScoredEpisode pairs an episode with its similarity score against some
// query vector. Defined here (not in internal/query) so both the sqlite
// and postgres searchers can return it without an import cycle.
type ScoredEpisode struct {
	Episode storage.Episode
	Score   float64
}

// BruteForceSearcher computes cosine similarity in Go against every
// scope-visible embedding. Used for the sqlite development backend, which
// has no native vector type or distance operator.
type BruteForceSearcher struct {
	db *gorm.DB
}

// NewBruteForceSearcher builds a BruteForceSearcher over db.
func NewBruteForceSearcher(db *gorm.DB) *BruteForceSearcher {
	return &BruteForceSearcher{db: db}
}

// Search returns the scope-visible episodes with the highest cosine
// similarity to queryVector, most similar first, truncated to limit.
func (s *BruteForceSearcher) Search(ctx context.Context, sc scope.Scope, queryVector []float32, limit int) ([]ScoredEpisode, error) {
	readable := scope.ResolveReadable(sc)
	db, err := tenant.BindScope(s.db.WithContext(ctx), sc)
	if err != nil {
		return nil, fmt.Errorf("embedding: brute force search: %w", err)
	}

	var rows []storage.Embedding
	err = db.
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Where("episode_id IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("embedding: brute force search: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	episodeIDs := make([]any, 0, len(rows))
	byEpisode := make(map[string]storage.Embedding, len(rows))
	for _, r := range rows {
		episodeIDs = append(episodeIDs, r.EpisodeID)
		byEpisode[r.EpisodeID.String()] = r
	}

	var episodes []storage.Episode
	if err := db.Where("id IN ?", episodeIDs).Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("embedding: brute force search: load episodes: %w", err)
	}

	scored := make([]ScoredEpisode, 0, len(episodes))
	for _, ep := range episodes {
		row, ok := byEpisode[ep.ID.String()]
		if !ok {
			continue
		}
		vector, err := DecodeVector(row.Vector)
		if err != nil {
			continue
		}
		scored = append(scored, ScoredEpisode{Episode: ep, Score: CosineSimilarity(queryVector, vector)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
