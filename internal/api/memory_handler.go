package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/episodic"
	"github.com/remembr/remembr/internal/query"
	"github.com/remembr/remembr/internal/shortterm"
)

// MemoryHandler groups the episodic write/read/search surface: Log Memory,
// Search Memory, and Memory Diff.
type MemoryHandler struct {
	episodic  *episodic.Store
	query     *query.Engine
	shortTerm *shortterm.Window
	logger    *zap.Logger
}

// NewMemoryHandler builds a MemoryHandler.
func NewMemoryHandler(ep *episodic.Store, qe *query.Engine, shortTerm *shortterm.Window, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{episodic: ep, query: qe, shortTerm: shortTerm, logger: logger.Named("memory_handler")}
}

type logMemoryRequest struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	SessionID *string        `json:"session_id,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type logMemoryResponse struct {
	EpisodeID  string    `json:"episode_id"`
	SessionID  *string   `json:"session_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	TokenCount int       `json:"token_count"`
}

// Log handles POST /api/v1/memories: persists a new episode.
func (h *MemoryHandler) Log(w http.ResponseWriter, r *http.Request) {
	var req logMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role == "" || req.Content == "" {
		ErrValidation(w, r, "role and content are required")
		return
	}

	in := episodic.LogInput{Role: req.Role, Content: req.Content, Tags: req.Tags, Metadata: req.Metadata}
	if req.SessionID != nil {
		id, err := uuid.Parse(*req.SessionID)
		if err != nil {
			ErrValidation(w, r, "invalid session_id")
			return
		}
		in.SessionID = &id
	}

	sc := scopeFromCtx(r.Context())
	episode, err := h.episodic.Log(r.Context(), sc, in)
	if err != nil {
		h.logger.Error("log memory failed", zap.Error(err))
		WriteError(w, r, err)
		return
	}

	resp := logMemoryResponse{
		EpisodeID:  episode.ID.String(),
		CreatedAt:  episode.CreatedAt,
		TokenCount: h.shortTerm.TokenCount(req.Content),
	}
	if episode.SessionID != nil {
		v := episode.SessionID.String()
		resp.SessionID = &v
	}
	Created(w, r, resp)
}

type searchMemoryRequest struct {
	Query            string   `json:"query,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Role             string   `json:"role,omitempty"`
	FromTime         *time.Time `json:"from_time,omitempty"`
	ToTime           *time.Time `json:"to_time,omitempty"`
	IncludeShortTerm bool     `json:"include_short_term"`
	IncludeEpisodic  bool     `json:"include_episodic"`
	Limit            int      `json:"limit,omitempty"`
	ScoreThreshold   float64  `json:"score_threshold,omitempty"`
	Mode             string   `json:"mode,omitempty"`
}

type searchResultItem struct {
	EpisodeID string    `json:"episode_id"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags"`
}

type searchMemoryResponse struct {
	Results     []searchResultItem `json:"results"`
	Total       int                `json:"total"`
	QueryTimeMS float64            `json:"query_time_ms"`
}

// Search handles POST /api/v1/memories/search: the Hybrid Query Engine
// entry point (§4.6).
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FromTime != nil && req.ToTime != nil && req.FromTime.After(*req.ToTime) {
		WriteError(w, r, apperr.New(apperr.KindValidation, "from_time must not be after to_time").WithDetail(apperr.DetailInvalidTimeRange))
		return
	}

	mode := query.ModeHybrid
	switch req.Mode {
	case "", string(query.ModeHybrid):
		mode = query.ModeHybrid
	case string(query.ModeSemantic):
		mode = query.ModeSemantic
	case string(query.ModeFilterOnly):
		mode = query.ModeFilterOnly
	default:
		ErrValidation(w, r, "unknown search mode: "+req.Mode)
		return
	}
	if mode == query.ModeSemantic && req.Query == "" {
		WriteError(w, r, apperr.New(apperr.KindValidation, "semantic mode requires a non-empty query").WithDetail(apperr.DetailSemanticQueryRequired))
		return
	}

	sc := scopeFromCtx(r.Context())
	result, err := h.query.Query(r.Context(), sc, query.Request{
		Query:            req.Query,
		SessionID:        req.SessionID,
		Tags:             req.Tags,
		Role:             req.Role,
		FromTime:         req.FromTime,
		ToTime:           req.ToTime,
		IncludeShortTerm: req.IncludeShortTerm,
		IncludeEpisodic:  req.IncludeEpisodic,
		Limit:            req.Limit,
		ScoreThreshold:   req.ScoreThreshold,
		Mode:             mode,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	items := make([]searchResultItem, 0, len(result.Episodes)+len(result.ShortTermMessages))
	for _, ep := range result.Episodes {
		tags := []string{}
		_ = decodeJSONString(ep.Episode.Tags, &tags)
		items = append(items, searchResultItem{
			EpisodeID: ep.Episode.ID.String(),
			Content:   ep.Episode.Content,
			Role:      ep.Episode.Role,
			Score:     ep.Score,
			CreatedAt: ep.Episode.CreatedAt,
			Tags:      tags,
		})
	}
	for _, sm := range result.ShortTermMessages {
		items = append(items, searchResultItem{
			Content:   sm.Message.Content,
			Role:      sm.Message.Role,
			Score:     sm.Score,
			CreatedAt: sm.Message.Timestamp,
			Tags:      []string{},
		})
	}

	Ok(w, r, searchMemoryResponse{Results: items, Total: result.TotalResults, QueryTimeMS: result.QueryTimeMS})
}

type diffRequest struct {
	SessionID string     `json:"session_id,omitempty"`
	FromTime  *time.Time `json:"from_time,omitempty"`
	ToTime    *time.Time `json:"to_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// Diff handles POST /api/v1/memories/diff: episodes added within a time
// window, with no score ranking (§6 "Memory Diff").
func (h *MemoryHandler) Diff(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FromTime != nil && req.ToTime != nil && req.FromTime.After(*req.ToTime) {
		WriteError(w, r, apperr.New(apperr.KindValidation, "from_time must not be after to_time").WithDetail(apperr.DetailInvalidTimeRange))
		return
	}

	sc := scopeFromCtx(r.Context())
	episodes, err := h.query.Diff(r.Context(), sc, req.SessionID, req.FromTime, req.ToTime, req.Limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	out := make([]episodeResponse, 0, len(episodes))
	for _, ep := range episodes {
		out = append(out, episodeToResponse(ep))
	}
	Ok(w, r, map[string]any{"items": out})
}
