package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remembr/remembr/internal/episodic"
	"github.com/remembr/remembr/internal/session"
	"github.com/remembr/remembr/internal/shortterm"
	"github.com/remembr/remembr/internal/storage"
)

// SessionHandler groups session lifecycle endpoints: create, list, get
// (with usage), history, and checkpoint/restore.
type SessionHandler struct {
	sessions  *session.Store
	episodic  *episodic.Store
	shortTerm *shortterm.Window
	logger    *zap.Logger
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions *session.Store, ep *episodic.Store, shortTerm *shortterm.Window, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, episodic: ep, shortTerm: shortTerm, logger: logger.Named("session_handler")}
}

type sessionResponse struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	TeamID    *string        `json:"team_id,omitempty"`
	UserID    *string        `json:"user_id,omitempty"`
	AgentID   *string        `json:"agent_id,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func sessionToResponse(s storage.Session) sessionResponse {
	resp := sessionResponse{
		ID:        s.ID.String(),
		OrgID:     s.OrgID.String(),
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
		Metadata:  map[string]any{},
	}
	_ = decodeJSONString(s.Metadata, &resp.Metadata)
	if s.TeamID != nil {
		v := s.TeamID.String()
		resp.TeamID = &v
	}
	if s.UserID != nil {
		v := s.UserID.String()
		resp.UserID = &v
	}
	if s.AgentID != nil {
		v := s.AgentID.String()
		resp.AgentID = &v
	}
	return resp
}

type createSessionRequest struct {
	Metadata  map[string]any `json:"metadata,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Create handles POST /api/v1/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	sc := scopeFromCtx(r.Context())
	sess, err := h.sessions.Create(r.Context(), sc, req.Metadata, req.ExpiresAt)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		WriteError(w, r, err)
		return
	}
	Created(w, r, sessionToResponse(*sess))
}

// List handles GET /api/v1/sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	sc := scopeFromCtx(r.Context())

	sessions, err := h.sessions.List(r.Context(), sc, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToResponse(s))
	}
	Ok(w, r, map[string]any{"items": out})
}

type sessionWithUsageResponse struct {
	sessionResponse
	TokenUsage shortterm.TokenUsage `json:"token_usage"`
}

// Get handles GET /api/v1/sessions/{id}: the session row plus its current
// short-term window token usage.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrValidation(w, r, "invalid session id")
		return
	}

	sess, err := h.sessions.Get(r.Context(), sc, sessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	usage, err := h.sessions.TokenUsage(r.Context(), sess.ID.String())
	if err != nil {
		WriteError(w, r, err)
		return
	}

	Ok(w, r, sessionWithUsageResponse{sessionResponse: sessionToResponse(*sess), TokenUsage: usage})
}

type episodeResponse struct {
	EpisodeID string    `json:"episode_id"`
	SessionID *string   `json:"session_id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

func episodeToResponse(ep storage.Episode) episodeResponse {
	resp := episodeResponse{
		EpisodeID: ep.ID.String(),
		Role:      ep.Role,
		Content:   ep.Content,
		CreatedAt: ep.CreatedAt,
		Tags:      []string{},
	}
	if ep.SessionID != nil {
		v := ep.SessionID.String()
		resp.SessionID = &v
	}
	_ = decodeJSONString(ep.Tags, &resp.Tags)
	return resp
}

// History handles GET /api/v1/sessions/{id}/history.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrValidation(w, r, "invalid session id")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 100)

	episodes, err := h.episodic.GetSessionHistory(r.Context(), sc, sessionID, limit)
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

// Checkpoint handles POST /api/v1/sessions/{id}/checkpoints.
func (h *SessionHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	sessionID := chi.URLParam(r, "id")

	checkpointID, err := h.shortTerm.Checkpoint(r.Context(), sessionID, sc)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	Created(w, r, map[string]string{"checkpoint_id": checkpointID.String()})
}

// ListCheckpoints handles GET /api/v1/sessions/{id}/checkpoints.
func (h *SessionHandler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	sessionID := chi.URLParam(r, "id")

	checkpoints, err := h.shortTerm.ListCheckpoints(r.Context(), sessionID, sc)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	Ok(w, r, map[string]any{"items": checkpoints})
}

// Restore handles POST /api/v1/sessions/{id}/checkpoints/{checkpoint_id}/restore.
func (h *SessionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	sessionID := chi.URLParam(r, "id")
	checkpointID := chi.URLParam(r, "checkpoint_id")

	restored, err := h.shortTerm.RestoreFromCheckpoint(r.Context(), sessionID, checkpointID, sc)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	Ok(w, r, map[string]int{"restored_count": restored})
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
