// Package shortterm implements the Short-Term Window Engine (§4.3): a
// Redis-backed sliding window of recent conversation messages, kept under a
// token budget by priority-based compression, with checkpoint/restore to the
// episodic store for durability across TTL expiry.
package shortterm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

// roleWeights assigns the base component of a message's priority score.
// Roles not listed (tool, handoff, etc.) fall back to 0.5.
var roleWeights = map[string]float64{
	"system":    3.0,
	"user":      2.0,
	"assistant": 1.0,
}

// Message is the envelope persisted in the short-term window.
type Message struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	Tokens        int       `json:"tokens"`
	PriorityScore float64   `json:"priority_score"`
	Timestamp     time.Time `json:"timestamp"`
}

// CheckpointSummary describes a persisted checkpoint episode.
type CheckpointSummary struct {
	CheckpointID uuid.UUID `json:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// TokenUsage reports how full the active window is.
type TokenUsage struct {
	Used       int     `json:"used"`
	Max        int     `json:"max"`
	Percentage float64 `json:"percentage"`
}

// Window manages the short-term conversational context in cache, with
// checkpoint/restore backed by the episodic store.
type Window struct {
	cache                   cache.Store
	db                      *gorm.DB
	log                     *zap.Logger
	encoding                *tiktoken.Tiktoken
	maxTokens               int
	autoCheckpointThreshold float64
}

// Option configures a Window at construction time.
type Option func(*Window)

// WithMaxTokens overrides the default token budget.
func WithMaxTokens(n int) Option { return func(w *Window) { w.maxTokens = n } }

// WithAutoCheckpointThreshold overrides the default auto-checkpoint trigger
// fraction (e.g. 0.9 fires auto-checkpoint once the window exceeds 90% of
// maxTokens).
func WithAutoCheckpointThreshold(pct float64) Option {
	return func(w *Window) { w.autoCheckpointThreshold = pct }
}

// New builds a Window. maxTokens defaults to 4000 and autoCheckpointThreshold
// to 0.9 when not overridden via options.
func New(store cache.Store, db *gorm.DB, log *zap.Logger, opts ...Option) (*Window, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("shortterm: failed to load tokenizer: %w", err)
	}
	w := &Window{
		cache:                   store,
		db:                      db,
		log:                     log,
		encoding:                enc,
		maxTokens:               4000,
		autoCheckpointThreshold: 0.9,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Window) key(sessionID string) string {
	return cache.MakeKey("short_term", sessionID, "window")
}

// InvalidateCache evicts sessionID's cached window, forcing the next read to
// rebuild from storage. Used by the expired-session reaper once a session
// has passed expires_at — the window cache entry would otherwise linger
// until its own TTL, serving stale context for an already-dead session.
func (w *Window) InvalidateCache(ctx context.Context, sessionID string) bool {
	return w.cache.Delete(ctx, w.key(sessionID))
}

// TokenCount counts text tokens using the cl100k_base tokenizer.
func (w *Window) TokenCount(text string) int {
	if text == "" {
		return 0
	}
	return len(w.encoding.Encode(text, nil, nil))
}

func scorePriority(m Message) float64 {
	weight, ok := roleWeights[m.Role]
	if !ok {
		weight = 0.5
	}
	recency := float64(m.Timestamp.UnixNano()) / 1e9 / 1e9
	length := 1.0 / float64(max(m.Tokens, 1))
	score := weight*100 + recency*10 + length
	// Round to 8 decimal places, mirroring the deterministic tie-breaking the
	// original scorer relies on.
	return float64(int64(score*1e8+0.5)) / 1e8
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// removalOrder returns indices into msgs sorted by (priority_score,
// timestamp, index) ascending — the next candidate to drop is always first.
func removalOrder(msgs []Message) []int {
	idx := make([]int, len(msgs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if msgs[ia].PriorityScore != msgs[ib].PriorityScore {
			return msgs[ia].PriorityScore < msgs[ib].PriorityScore
		}
		if !msgs[ia].Timestamp.Equal(msgs[ib].Timestamp) {
			return msgs[ia].Timestamp.Before(msgs[ib].Timestamp)
		}
		return ia < ib
	})
	return idx
}

// compressToBudget drops lowest-priority messages until the total token
// count fits budget. The single highest-priority message is always kept,
// even if it alone exceeds budget — an empty window is never a valid
// compression result of a non-empty one.
func compressToBudget(msgs []Message, budget int) []Message {
	kept := append([]Message(nil), msgs...)
	for {
		total := 0
		for _, m := range kept {
			total += m.Tokens
		}
		if total <= budget || len(kept) <= 1 {
			return kept
		}
		order := removalOrder(kept)
		drop := order[0]
		kept = append(kept[:drop], kept[drop+1:]...)
	}
}

// scopedDB binds the row-level tenant guard's current_org_id from s before
// returning a *gorm.DB, the §4.8 safety net backing every session/episode
// lookup below.
func (w *Window) scopedDB(ctx context.Context, s scope.Scope) (*gorm.DB, error) {
	return tenant.BindScope(w.db.WithContext(ctx), s)
}

// scopedSession verifies sessionID belongs to s (the §4.8 guard referenced
// by Checkpoint/RestoreFromCheckpoint/ListCheckpoints) and returns it.
func (w *Window) scopedSession(ctx context.Context, sessionID string, s scope.Scope) (*storage.Session, error) {
	sessUUID, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid session id")
	}
	db, err := w.scopedDB(ctx, s)
	if err != nil {
		return nil, apperr.NotFound("session not found in scope", apperr.DetailSessionNotFound)
	}
	readable := scope.ResolveReadable(s)
	var session storage.Session
	err = db.
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Where("id = ?", sessUUID).
		First(&session).Error
	if err != nil {
		return nil, apperr.NotFound("session not found in scope", apperr.DetailSessionNotFound)
	}
	return &session, nil
}

func (w *Window) persist(ctx context.Context, sessionID string, msgs []Message) bool {
	return w.cache.Set(ctx, w.key(sessionID), msgs, cache.ShortTermTTL)
}

// AddMessage appends a message to the sliding window, deriving token count
// and priority score if not already set, then compresses to the configured
// budget. Concurrent callers racing on the same session must serialize their
// own add_message calls (§9) — this method applies last-writer-wins.
func (w *Window) AddMessage(ctx context.Context, sessionID string, msg Message) error {
	current, err := w.GetContext(ctx, sessionID)
	if err != nil {
		return err
	}

	if msg.Tokens <= 0 {
		msg.Tokens = w.TokenCount(msg.Content)
	}
	if msg.PriorityScore <= 0 {
		msg.PriorityScore = scorePriority(msg)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	current = append(current, msg)
	compressed := compressToBudget(current, w.maxTokens)

	if !w.persist(ctx, sessionID, compressed) {
		return apperr.New(apperr.KindStorageFailure, "failed to persist short-term window")
	}
	return nil
}

// GetContext loads the current window. Returns an empty slice (not an
// error) on a cache miss.
func (w *Window) GetContext(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if !w.cache.Get(ctx, w.key(sessionID), &msgs) {
		return []Message{}, nil
	}
	return msgs, nil
}

// GetTokenUsage reports the current window's utilization against budget.
func (w *Window) GetTokenUsage(ctx context.Context, sessionID string) (TokenUsage, error) {
	msgs, err := w.GetContext(ctx, sessionID)
	if err != nil {
		return TokenUsage{}, err
	}
	used := 0
	for _, m := range msgs {
		used += m.Tokens
	}
	pct := 0.0
	if w.maxTokens > 0 {
		pct = float64(used) / float64(w.maxTokens) * 100
	}
	return TokenUsage{Used: used, Max: w.maxTokens, Percentage: round2(pct)}, nil
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

type checkpointMetadata struct {
	Checkpoint   bool `json:"checkpoint"`
	MessageCount int  `json:"message_count"`
}

// Checkpoint persists the current window as a checkpoint episode and returns
// its id. The window itself is left untouched in cache.
func (w *Window) Checkpoint(ctx context.Context, sessionID string, s scope.Scope) (uuid.UUID, error) {
	session, err := w.scopedSession(ctx, sessionID, s)
	if err != nil {
		return uuid.UUID{}, err
	}
	msgs, err := w.GetContext(ctx, sessionID)
	if err != nil {
		return uuid.UUID{}, err
	}

	content, err := json.Marshal(msgs)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("shortterm: marshal checkpoint payload: %w", err)
	}
	meta, _ := json.Marshal(checkpointMetadata{Checkpoint: true, MessageCount: len(msgs)})

	episode := storage.Episode{
		OrgID:     session.OrgID,
		TeamID:    session.TeamID,
		UserID:    session.UserID,
		AgentID:   session.AgentID,
		SessionID: &session.ID,
		Role:      "checkpoint",
		Content:   string(content),
		Metadata:  string(meta),
	}
	db, err := w.scopedDB(ctx, s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("shortterm: create checkpoint episode: %w", err)
	}
	if err := db.Create(&episode).Error; err != nil {
		return uuid.UUID{}, fmt.Errorf("shortterm: create checkpoint episode: %w", err)
	}

	w.log.Info("short-term checkpoint created",
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", episode.ID.String()),
		zap.Int("message_count", len(msgs)))
	return episode.ID, nil
}

// RestoreFromCheckpoint atomically replaces the active window with the
// messages recorded in checkpointID, returning the restored message count.
func (w *Window) RestoreFromCheckpoint(ctx context.Context, sessionID, checkpointID string, s scope.Scope) (int, error) {
	if _, err := w.scopedSession(ctx, sessionID, s); err != nil {
		return 0, err
	}

	cpUUID, err := uuid.Parse(checkpointID)
	if err != nil {
		return 0, apperr.New(apperr.KindValidation, "invalid checkpoint id")
	}
	sessUUID, err := uuid.Parse(sessionID)
	if err != nil {
		return 0, apperr.New(apperr.KindValidation, "invalid session id")
	}

	readable := scope.ResolveReadable(s)
	db, err := w.scopedDB(ctx, s)
	if err != nil {
		return 0, apperr.NotFound("checkpoint not found", apperr.DetailCheckpointNotFound)
	}
	var episode storage.Episode
	err = db.
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Where("id = ? AND session_id = ? AND role = ?", cpUUID, sessUUID, "checkpoint").
		First(&episode).Error
	if err != nil {
		return 0, apperr.NotFound("checkpoint not found", apperr.DetailCheckpointNotFound)
	}

	var restored []Message
	if err := json.Unmarshal([]byte(episode.Content), &restored); err != nil {
		return 0, fmt.Errorf("shortterm: decode checkpoint payload: %w", err)
	}

	if !w.cache.AtomicReplace(ctx, w.key(sessionID), restored, cache.ShortTermTTL) {
		return 0, apperr.New(apperr.KindStorageFailure, "failed to restore short-term window")
	}

	w.log.Info("short-term checkpoint restored",
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", checkpointID),
		zap.Int("restored_count", len(restored)))
	return len(restored), nil
}

// ListCheckpoints returns checkpoints for a session, most recent first.
func (w *Window) ListCheckpoints(ctx context.Context, sessionID string, s scope.Scope) ([]CheckpointSummary, error) {
	if _, err := w.scopedSession(ctx, sessionID, s); err != nil {
		return nil, err
	}
	sessUUID, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid session id")
	}

	readable := scope.ResolveReadable(s)
	db, err := w.scopedDB(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("shortterm: list checkpoints: %w", err)
	}
	var episodes []storage.Episode
	err = db.
		Scopes(scope.ToPredicate(readable, scope.Columns{})).
		Where("session_id = ? AND role = ?", sessUUID, "checkpoint").
		Order("created_at DESC").
		Find(&episodes).Error
	if err != nil {
		return nil, fmt.Errorf("shortterm: list checkpoints: %w", err)
	}

	out := make([]CheckpointSummary, 0, len(episodes))
	for _, ep := range episodes {
		var meta checkpointMetadata
		_ = json.Unmarshal([]byte(ep.Metadata), &meta)
		out = append(out, CheckpointSummary{
			CheckpointID: ep.ID,
			CreatedAt:    ep.CreatedAt,
			MessageCount: meta.MessageCount,
		})
	}
	return out, nil
}

// AutoCheckpoint checkpoints and compresses the window to 50% of budget when
// usage exceeds the configured threshold. Returns (uuid.Nil, nil) if usage is
// below threshold — no-op is not an error.
func (w *Window) AutoCheckpoint(ctx context.Context, sessionID string, s scope.Scope) (uuid.UUID, error) {
	usage, err := w.GetTokenUsage(ctx, sessionID)
	if err != nil {
		return uuid.UUID{}, err
	}
	if usage.Percentage <= w.autoCheckpointThreshold*100 {
		return uuid.UUID{}, nil
	}

	checkpointID, err := w.Checkpoint(ctx, sessionID, s)
	if err != nil {
		return uuid.UUID{}, err
	}

	msgs, err := w.GetContext(ctx, sessionID)
	if err != nil {
		return uuid.UUID{}, err
	}
	target := int(float64(w.maxTokens) * 0.5)
	compressed := compressToBudget(msgs, target)

	if !w.persist(ctx, sessionID, compressed) {
		return uuid.UUID{}, apperr.New(apperr.KindStorageFailure, "failed to persist compressed window")
	}

	compressedTokens := 0
	for _, m := range compressed {
		compressedTokens += m.Tokens
	}
	w.log.Info("short-term auto-checkpoint complete",
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", checkpointID.String()),
		zap.Int("original_tokens", usage.Used),
		zap.Int("compressed_tokens", compressedTokens))
	return checkpointID, nil
}
