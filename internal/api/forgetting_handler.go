package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/forgetting"
	"github.com/remembr/remembr/internal/scope"
)

// ForgettingHandler groups the right-to-be-forgotten endpoints: Forget
// Episode, Forget Session, and Forget User (org-level only).
type ForgettingHandler struct {
	svc    *forgetting.Service
	logger *zap.Logger
}

// NewForgettingHandler builds a ForgettingHandler.
func NewForgettingHandler(svc *forgetting.Service, logger *zap.Logger) *ForgettingHandler {
	return &ForgettingHandler{svc: svc, logger: logger.Named("forgetting_handler")}
}

func actorFromRequest(r *http.Request, sc scope.Scope) forgetting.ActorContext {
	actor := forgetting.ActorContext{RequestID: middleware.GetReqID(r.Context())}
	if sc.UserID != "" {
		if id, err := uuid.Parse(sc.UserID); err == nil {
			actor.ActorUserID = &id
		}
	}
	return actor
}

// Episode handles DELETE /api/v1/memories/{id}.
func (h *ForgettingHandler) Episode(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	episodeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrValidation(w, r, "invalid episode id")
		return
	}

	found, err := h.svc.DeleteEpisode(r.Context(), sc, episodeID, actorFromRequest(r, sc))
	if err != nil {
		h.logger.Error("forget episode failed", zap.Error(err))
		WriteError(w, r, err)
		return
	}
	if !found {
		WriteError(w, r, apperr.NotFound("episode not found", apperr.DetailEpisodeNotFound))
		return
	}
	NoContent(w)
}

// Session handles DELETE /api/v1/sessions/{id}/memories.
func (h *ForgettingHandler) Session(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrValidation(w, r, "invalid session id")
		return
	}

	deleted, err := h.svc.DeleteSessionMemories(r.Context(), sc, sessionID, actorFromRequest(r, sc))
	if err != nil {
		h.logger.Error("forget session memories failed", zap.Error(err))
		WriteError(w, r, err)
		return
	}
	Ok(w, r, map[string]int64{"deleted_episodes": deleted})
}

// User handles DELETE /api/v1/users/{id}/memories. Org-level only (§7): a
// caller authenticated below org level gets AUTHORIZATION_ERROR rather than
// a narrowed delete, since "forget everything this user ever said" is an
// org-wide compliance operation, not a per-scope one.
func (h *ForgettingHandler) User(w http.ResponseWriter, r *http.Request) {
	sc := scopeFromCtx(r.Context())
	if sc.Level != scope.LevelOrg {
		WriteError(w, r, apperr.New(apperr.KindAuthorization, "forget user requires org-level scope").WithDetail(apperr.DetailOrgLevelRequired))
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrValidation(w, r, "invalid user id")
		return
	}
	orgID, err := uuid.Parse(sc.OrgID)
	if err != nil {
		WriteError(w, r, apperr.New(apperr.KindValidation, "invalid org scope"))
		return
	}

	result, err := h.svc.DeleteUserMemories(r.Context(), orgID, userID, actorFromRequest(r, sc))
	if err != nil {
		h.logger.Error("forget user memories failed", zap.Error(err))
		WriteError(w, r, err)
		return
	}
	Ok(w, r, map[string]int64{
		"deleted_episodes": result.DeletedEpisodes,
		"deleted_sessions": result.DeletedSessions,
	})
}
