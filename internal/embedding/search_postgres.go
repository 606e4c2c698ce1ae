package embedding

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

// PostgresSearcher delegates nearest-neighbor search to pgvector's distance
// operator instead of pulling every scope-visible vector into Go, the
// production-scale counterpart to BruteForceSearcher. Requires the
// embeddings table's vector column to be backed by pgvector's native type
// (see internal/storage migrations' postgres variant).
type PostgresSearcher struct {
	db *gorm.DB
}

// NewPostgresSearcher builds a PostgresSearcher over db.
func NewPostgresSearcher(db *gorm.DB) *PostgresSearcher {
	return &PostgresSearcher{db: db}
}

// pgvectorRow scans the joined episode + distance projection.
type pgvectorRow struct {
	storage.Episode
	Distance float64 `gorm:"column:distance"`
}

// Search returns the scope-visible episodes ordered by pgvector's
// cosine-distance operator (<=>), converted to the similarity_score
// convention (1 - distance).
func (s *PostgresSearcher) Search(ctx context.Context, sc scope.Scope, queryVector []float32, limit int) ([]ScoredEpisode, error) {
	readable := scope.ResolveReadable(sc)
	qv := pgvector.NewVector(queryVector)

	db, err := tenant.BindScope(s.db.WithContext(ctx), sc)
	if err != nil {
		return nil, fmt.Errorf("embedding: pgvector search: %w", err)
	}

	var rows []pgvectorRow
	err = db.
		Table("episodes").
		Select("episodes.*, (embeddings.vector_native <=> ?) AS distance", qv).
		Joins("JOIN embeddings ON embeddings.episode_id = episodes.id").
		Scopes(scope.ToPredicate(readable, scope.Columns{Org: "episodes.org_id", Team: "episodes.team_id", User: "episodes.user_id", Agent: "episodes.agent_id"})).
		Order("distance ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("embedding: pgvector search: %w", err)
	}

	out := make([]ScoredEpisode, 0, len(rows))
	for _, r := range rows {
		out = append(out, ScoredEpisode{Episode: r.Episode, Score: 1 - r.Distance})
	}
	return out, nil
}
