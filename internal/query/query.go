// Package query implements the Hybrid Query Engine (§4.6): a single query
// entry point that fans the short-term and episodic branches out
// concurrently (via golang.org/x/sync/errgroup, the idiomatic Go analogue of
// the original's asyncio.gather), merges, dedupes, and sorts results.
package query

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/embedding"
	"github.com/remembr/remembr/internal/episodic"
	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/shortterm"
	"github.com/remembr/remembr/internal/storage"
)

// Mode selects how the episodic branch ranks and the overall merge order.
type Mode string

const (
	ModeSemantic   Mode = "semantic"
	ModeHybrid     Mode = "hybrid"
	ModeFilterOnly Mode = "filter_only"
)

// Request controls retrieval across both memory layers.
type Request struct {
	Query            string
	SessionID        string
	Tags             []string
	Role             string
	FromTime         *time.Time
	ToTime           *time.Time
	IncludeShortTerm bool
	IncludeEpisodic  bool
	Limit            int
	ScoreThreshold   float64
	Mode             Mode
}

// ShortTermResult is a scored short-term window message.
type ShortTermResult struct {
	Message shortterm.Message
	Score   float64
}

// EpisodeResult is a scored episode. Aliased to embedding.ScoredEpisode so
// that embedding.BruteForceSearcher and embedding.PostgresSearcher satisfy
// VectorSearcher directly, without an adapter type.
type EpisodeResult = embedding.ScoredEpisode

// Result is the aggregated, merged search output.
type Result struct {
	ShortTermMessages []ShortTermResult
	Episodes          []EpisodeResult
	TotalResults      int
	QueryTimeMS       float64
}

// VectorSearcher resolves the episodic semantic branch: given a query
// embedding, return scope-filtered (episode, similarity_score) pairs.
// embedding.BruteForceSearcher (sqlite) and a pgvector-native searcher
// (postgres) both implement it.
type VectorSearcher interface {
	Search(ctx context.Context, sc scope.Scope, queryVector []float32, limit int) ([]EpisodeResult, error)
}

// Engine is the single query entry-point for context-aware memory retrieval.
type Engine struct {
	shortTerm *shortterm.Window
	episodic  *episodic.Store
	embedder  *embedding.Client
	vectors   VectorSearcher
}

// New builds an Engine. vectors may be nil if semantic/hybrid modes are not
// needed (e.g. a filter_only-only deployment).
func New(shortTerm *shortterm.Window, ep *episodic.Store, embedder *embedding.Client, vectors VectorSearcher) *Engine {
	return &Engine{shortTerm: shortTerm, episodic: ep, embedder: embedder, vectors: vectors}
}

// Query runs the short-term and episodic branches concurrently and returns
// the merged, scored, limit-truncated result set.
func (e *Engine) Query(ctx context.Context, sc scope.Scope, req Request) (Result, error) {
	started := time.Now()
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.ScoreThreshold == 0 {
		req.ScoreThreshold = 0.65
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}

	var shortResults []ShortTermResult
	var episodeResults []EpisodeResult

	g, gCtx := errgroup.WithContext(ctx)
	if req.IncludeShortTerm {
		g.Go(func() error {
			r, err := e.queryShortTerm(gCtx, sc, req)
			if err != nil {
				return err
			}
			shortResults = r
			return nil
		})
	}
	if req.IncludeEpisodic {
		g.Go(func() error {
			r, err := e.queryEpisodic(gCtx, sc, req)
			if err != nil {
				return err
			}
			episodeResults = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	merged := e.mergeResults(shortResults, episodeResults, req)

	return Result{
		ShortTermMessages: merged.shortTerm,
		Episodes:          merged.episodic,
		TotalResults:      merged.total,
		QueryTimeMS:       round3(time.Since(started).Seconds() * 1000),
	}, nil
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

func (e *Engine) queryShortTerm(ctx context.Context, sc scope.Scope, req Request) ([]ShortTermResult, error) {
	if req.SessionID == "" {
		return nil, nil
	}

	messages, err := e.shortTerm.GetContext(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	var filtered []ShortTermResult
	for _, msg := range messages {
		if !messageMatches(msg, req) {
			continue
		}
		filtered = append(filtered, ShortTermResult{Message: msg, Score: messageScore(msg, req.Query)})
	}

	if req.Mode == ModeFilterOnly {
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Message.Timestamp.After(filtered[j].Message.Timestamp)
		})
	} else {
		sort.SliceStable(filtered, func(i, j int) bool {
			if filtered[i].Score != filtered[j].Score {
				return filtered[i].Score > filtered[j].Score
			}
			return filtered[i].Message.Timestamp.After(filtered[j].Message.Timestamp)
		})
	}
	if len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}
	return filtered, nil
}

func messageMatches(msg shortterm.Message, req Request) bool {
	if req.Role != "" && msg.Role != req.Role {
		return false
	}
	if req.FromTime != nil && msg.Timestamp.Before(*req.FromTime) {
		return false
	}
	if req.ToTime != nil && msg.Timestamp.After(*req.ToTime) {
		return false
	}
	if req.Mode != ModeFilterOnly && req.Query != "" {
		return strings.Contains(strings.ToLower(msg.Content), strings.ToLower(req.Query))
	}
	return true
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// messageScore scores a short-term message against query: token-overlap
// ratio over query tokens, plus 0.2 if query is a literal substring.
func messageScore(msg shortterm.Message, query string) float64 {
	if query == "" {
		return 0
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	contentTokens := tokenize(msg.Content)

	overlap := 0
	for t := range queryTokens {
		if _, ok := contentTokens[t]; ok {
			overlap++
		}
	}
	score := float64(overlap) / float64(len(queryTokens))
	if strings.Contains(strings.ToLower(msg.Content), strings.ToLower(query)) {
		score += 0.2
	}
	return score
}

func (e *Engine) queryEpisodic(ctx context.Context, sc scope.Scope, req Request) ([]EpisodeResult, error) {
	var results []EpisodeResult

	if req.Mode == ModeSemantic && req.Query == "" {
		return nil, apperr.New(apperr.KindValidation, "semantic mode requires a non-empty query").WithDetail(apperr.DetailSemanticQueryRequired)
	}

	switch {
	case req.Mode == ModeSemantic && req.Query != "":
		r, err := e.searchVector(ctx, sc, req)
		if err != nil {
			return nil, err
		}
		results = r

	case req.Mode == ModeHybrid && req.Query != "":
		r, err := e.searchVector(ctx, sc, req)
		if err != nil {
			return nil, err
		}
		results = r

	default:
		var episodes []storage.Episode
		var err error
		fetchLimit := req.Limit * 2
		if req.SessionID != "" {
			sessionID, parseErr := uuid.Parse(req.SessionID)
			if parseErr != nil {
				return nil, apperr.New(apperr.KindValidation, "invalid session id")
			}
			episodes, err = e.episodic.GetSessionHistory(ctx, sc, sessionID, fetchLimit)
		} else {
			episodes, err = e.episodic.SearchByTime(ctx, sc, req.FromTime, req.ToTime, fetchLimit)
		}
		if err != nil {
			return nil, err
		}
		for _, ep := range episodes {
			results = append(results, EpisodeResult{Episode: ep, Score: 0})
		}
	}

	deduped := dedupeEpisodic(results)

	var filtered []EpisodeResult
	for _, r := range deduped {
		if episodeMatches(r.Episode, req) {
			filtered = append(filtered, r)
		}
	}

	if req.Mode == ModeFilterOnly {
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Episode.CreatedAt.After(filtered[j].Episode.CreatedAt)
		})
	} else {
		sort.SliceStable(filtered, func(i, j int) bool {
			if filtered[i].Score != filtered[j].Score {
				return filtered[i].Score > filtered[j].Score
			}
			return filtered[i].Episode.CreatedAt.After(filtered[j].Episode.CreatedAt)
		})
	}
	if len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}
	return filtered, nil
}

func dedupeEpisodic(results []EpisodeResult) []EpisodeResult {
	byID := make(map[string]EpisodeResult, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		id := r.Episode.ID.String()
		existing, ok := byID[id]
		if !ok {
			order = append(order, id)
			byID[id] = r
			continue
		}
		if r.Score > existing.Score {
			byID[id] = r
		}
	}
	out := make([]EpisodeResult, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func episodeMatches(ep storage.Episode, req Request) bool {
	if req.SessionID != "" {
		if ep.SessionID == nil || ep.SessionID.String() != req.SessionID {
			return false
		}
	}
	if req.Role != "" && ep.Role != req.Role {
		return false
	}
	if len(req.Tags) > 0 && !tagsOverlap(ep.Tags, req.Tags) {
		return false
	}
	if req.FromTime != nil && ep.CreatedAt.Before(*req.FromTime) {
		return false
	}
	if req.ToTime != nil && ep.CreatedAt.After(*req.ToTime) {
		return false
	}
	return true
}

// Diff answers "what memory was added between from and to": a pure
// filter_only retrieval over the episodic store, with no score ranking. It
// stands in for the knowledge-graph diffing §6 alludes to without the
// non-goal's graph machinery.
func (e *Engine) Diff(ctx context.Context, sc scope.Scope, sessionID string, from, to *time.Time, limit int) ([]storage.Episode, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := episodic.ListFilter{FromTime: from, ToTime: to, Limit: limit}
	if sessionID != "" {
		sessUUID, err := uuid.Parse(sessionID)
		if err != nil {
			return nil, apperr.New(apperr.KindValidation, "invalid session id")
		}
		filter.SessionID = &sessUUID
	}
	return e.episodic.List(ctx, sc, filter)
}

func (e *Engine) searchVector(ctx context.Context, sc scope.Scope, req Request) ([]EpisodeResult, error) {
	if e.vectors == nil || e.embedder == nil {
		return nil, nil
	}
	vector, _, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	results, err := e.vectors.Search(ctx, sc, vector, req.Limit*2)
	if err != nil {
		return nil, err
	}
	var out []EpisodeResult
	for _, r := range results {
		if r.Score >= req.ScoreThreshold {
			out = append(out, r)
		}
	}
	return out, nil
}

type mergedResult struct {
	shortTerm []ShortTermResult
	episodic  []EpisodeResult
	total     int
}

func (e *Engine) mergeResults(shortResults []ShortTermResult, episodeResults []EpisodeResult, req Request) mergedResult {
	type entry struct {
		kind      string
		createdAt time.Time
		score     float64
		short     ShortTermResult
		episode   EpisodeResult
	}

	entries := make([]entry, 0, len(shortResults)+len(episodeResults))
	for _, r := range shortResults {
		entries = append(entries, entry{kind: "short_term", createdAt: r.Message.Timestamp, score: r.Score, short: r})
	}
	for _, r := range episodeResults {
		entries = append(entries, entry{kind: "episodic", createdAt: r.Episode.CreatedAt, score: r.Score, episode: r})
	}

	if req.Mode == ModeFilterOnly {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].createdAt.After(entries[j].createdAt) })
	} else {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].score != entries[j].score {
				return entries[i].score > entries[j].score
			}
			return entries[i].createdAt.After(entries[j].createdAt)
		})
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := mergedResult{total: len(entries)}
	for _, en := range entries {
		if en.kind == "short_term" {
			out.shortTerm = append(out.shortTerm, en.short)
		} else {
			out.episodic = append(out.episodic, en.episode)
		}
	}
	return out
}

func decodeTags(raw string) []string {
	var tags []string
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}

func tagsOverlap(episodeTagsJSON string, wanted []string) bool {
	tags := decodeTags(episodeTagsJSON)
	want := make(map[string]struct{}, len(wanted))
	for _, t := range wanted {
		want[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}
