// Package episodic implements the Episodic Store (§4.4): durable logging
// and scope-filtered retrieval of episodes, with embedding enrichment
// dispatched to a bounded worker pool (see internal/embedding) rather than
// the fire-and-forget background task the original service used (§9).
package episodic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

// Enricher is the embedding pipeline's entry point for newly logged
// episodes. Implemented by *embedding.Pool; kept as an interface here so
// episodic has no import-time dependency on the pool's construction.
type Enricher interface {
	Enqueue(episodeID uuid.UUID, orgID uuid.UUID, content string)
}

// noopEnricher is used when the store is constructed without embedding
// enrichment (e.g. in tests that don't care about embeddings).
type noopEnricher struct{}

func (noopEnricher) Enqueue(uuid.UUID, uuid.UUID, string) {}

// Store is the episodic memory service.
type Store struct {
	db       *gorm.DB
	log      *zap.Logger
	enricher Enricher
}

// New builds a Store. Pass nil for enricher to disable embedding enrichment.
func New(db *gorm.DB, log *zap.Logger, enricher Enricher) *Store {
	if enricher == nil {
		enricher = noopEnricher{}
	}
	return &Store{db: db, log: log, enricher: enricher}
}

// scopedDB returns a *gorm.DB with the tenant guard's current_org_id bound
// from sc, so the row-level safety net (internal/tenant) admits the
// scope.ToPredicate-filtered rows this package's queries build.
func (s *Store) scopedDB(ctx context.Context, sc scope.Scope) (*gorm.DB, error) {
	return tenant.BindScope(s.db.WithContext(ctx), sc)
}

// LogInput is the payload for Log.
type LogInput struct {
	Role      string
	Content   string
	Tags      []string
	Metadata  map[string]any
	SessionID *uuid.UUID
}

// Log persists a new episode at the caller's writable scope, then enqueues
// it for embedding enrichment before returning.
func (s *Store) Log(ctx context.Context, sc scope.Scope, in LogInput) (*storage.Episode, error) {
	writable := scope.ResolveWritable(sc)

	tagsJSON, err := json.Marshal(in.Tags)
	if err != nil {
		return nil, fmt.Errorf("episodic: marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("episodic: marshal metadata: %w", err)
	}

	episode := storage.Episode{
		OrgID:     uuid.MustParse(writable.OrgID),
		SessionID: in.SessionID,
		Role:      in.Role,
		Content:   in.Content,
		Tags:      string(tagsJSON),
		Metadata:  string(metaJSON),
	}
	if writable.TeamID != "" {
		id := uuid.MustParse(writable.TeamID)
		episode.TeamID = &id
	}
	if writable.UserID != "" {
		id := uuid.MustParse(writable.UserID)
		episode.UserID = &id
	}
	if writable.AgentID != "" {
		id := uuid.MustParse(writable.AgentID)
		episode.AgentID = &id
	}

	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("episodic: log episode: %w", err)
	}
	if err := db.Create(&episode).Error; err != nil {
		return nil, fmt.Errorf("episodic: log episode: %w", err)
	}

	s.enricher.Enqueue(episode.ID, episode.OrgID, in.Content)
	return &episode, nil
}

// Get retrieves a single episode by id within scope.
func (s *Store) Get(ctx context.Context, sc scope.Scope, episodeID uuid.UUID) (*storage.Episode, error) {
	readable := scope.ResolveReadable(sc)
	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("episodic: get: %w", err)
	}
	var episode storage.Episode
	err = db.
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Where("id = ?", episodeID).
		First(&episode).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("episode not found", apperr.DetailEpisodeNotFound)
		}
		return nil, fmt.Errorf("episodic: get: %w", err)
	}
	return &episode, nil
}

// ListFilter narrows a List call.
type ListFilter struct {
	SessionID *uuid.UUID
	Tags      []string
	Role      string
	FromTime  *time.Time
	ToTime    *time.Time
	Limit     int
	Offset    int
}

// List returns episodes in scope, most recent first, subject to filter.
func (s *Store) List(ctx context.Context, sc scope.Scope, f ListFilter) ([]storage.Episode, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	readable := scope.ResolveReadable(sc)
	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("episodic: list: %w", err)
	}
	q := db.
		Scopes(scope.ToPredicate(readable, scope.Columns{}))

	if f.SessionID != nil {
		q = q.Where("session_id = ?", *f.SessionID)
	}
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.FromTime != nil {
		q = q.Where("created_at >= ?", *f.FromTime)
	}
	if f.ToTime != nil {
		q = q.Where("created_at <= ?", *f.ToTime)
	}

	var episodes []storage.Episode
	if err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&episodes).Error; err != nil {
		return nil, fmt.Errorf("episodic: list: %w", err)
	}

	if len(f.Tags) > 0 {
		episodes = filterByTags(episodes, f.Tags)
	}
	return episodes, nil
}

// filterByTags keeps episodes whose tag set intersects wanted. Episode.Tags
// is stored as a JSON array; sqlite has no array-overlap operator so this
// is applied in Go, matching the Postgres "&&" semantics the original uses.
func filterByTags(episodes []storage.Episode, wanted []string) []storage.Episode {
	want := make(map[string]struct{}, len(wanted))
	for _, t := range wanted {
		want[t] = struct{}{}
	}

	out := make([]storage.Episode, 0, len(episodes))
	for _, ep := range episodes {
		var tags []string
		if err := json.Unmarshal([]byte(ep.Tags), &tags); err != nil {
			continue
		}
		for _, t := range tags {
			if _, ok := want[t]; ok {
				out = append(out, ep)
				break
			}
		}
	}
	return out
}

// SearchByTags returns episodes whose tags overlap the provided set.
func (s *Store) SearchByTags(ctx context.Context, sc scope.Scope, tags []string, limit int) ([]storage.Episode, error) {
	return s.List(ctx, sc, ListFilter{Tags: tags, Limit: limit})
}

// SearchByTime returns episodes constrained to a time range.
func (s *Store) SearchByTime(ctx context.Context, sc scope.Scope, from, to *time.Time, limit int) ([]storage.Episode, error) {
	return s.List(ctx, sc, ListFilter{FromTime: from, ToTime: to, Limit: limit})
}

// GetSessionHistory returns recent episodes for a session, most recent first.
func (s *Store) GetSessionHistory(ctx context.Context, sc scope.Scope, sessionID uuid.UUID, limit int) ([]storage.Episode, error) {
	return s.List(ctx, sc, ListFilter{SessionID: &sessionID, Limit: limit})
}

// ReplaySession returns a full session history ordered oldest-to-newest.
func (s *Store) ReplaySession(ctx context.Context, sc scope.Scope, sessionID uuid.UUID) ([]storage.Episode, error) {
	history, err := s.List(ctx, sc, ListFilter{SessionID: &sessionID, Limit: 10_000})
	if err != nil {
		return nil, err
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	return history, nil
}

// Delete removes an episode if it exists in scope. No-op (not an error) if
// the episode is absent or out of scope.
func (s *Store) Delete(ctx context.Context, sc scope.Scope, episodeID uuid.UUID) error {
	episode, err := s.Get(ctx, sc, episodeID)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			return nil
		}
		return err
	}
	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return fmt.Errorf("episodic: delete: %w", err)
	}
	if err := db.Delete(episode).Error; err != nil {
		return fmt.Errorf("episodic: delete: %w", err)
	}
	return nil
}

// Count returns the number of episodes available in scope.
func (s *Store) Count(ctx context.Context, sc scope.Scope) (int64, error) {
	readable := scope.ResolveReadable(sc)
	db, err := s.scopedDB(ctx, sc)
	if err != nil {
		return 0, fmt.Errorf("episodic: count: %w", err)
	}
	var count int64
	err = db.
		Model(&storage.Episode{}).
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("episodic: count: %w", err)
	}
	return count, nil
}
