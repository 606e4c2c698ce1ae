// Package forgetting implements the Forgetting Service (§4.7):
// "right-to-be-forgotten" operations and targeted retractions with an
// auditable trail, each deletion performed in one storage transaction with
// the audit write committed separately afterward.
package forgetting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/audit"
	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

// Service performs scoped, audited deletion operations.
type Service struct {
	db    *gorm.DB
	cache cache.Store
	audit *audit.Log
	log   *zap.Logger
}

// New builds a Service.
func New(db *gorm.DB, store cache.Store, auditLog *audit.Log, log *zap.Logger) *Service {
	return &Service{db: db, cache: store, audit: auditLog, log: log}
}

// ActorContext carries the caller metadata every forgetting operation's
// audit trail requires.
type ActorContext struct {
	ActorUserID *uuid.UUID
	RequestID   string
}

func exactScopeFilter(sc scope.Scope) (q string, args []any) {
	q = "org_id = ?"
	args = append(args, sc.OrgID)
	if sc.TeamID != "" {
		q += " AND team_id = ?"
		args = append(args, sc.TeamID)
	} else {
		q += " AND team_id IS NULL"
	}
	if sc.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, sc.UserID)
	} else {
		q += " AND user_id IS NULL"
	}
	if sc.AgentID != "" {
		q += " AND agent_id = ?"
		args = append(args, sc.AgentID)
	} else {
		q += " AND agent_id IS NULL"
	}
	return q, args
}

// UserDeleteResult summarizes a delete_user_memories call.
type UserDeleteResult struct {
	DeletedEpisodes int64
	DeletedSessions int64
}

// DeleteEpisode deletes an episode (and its embeddings) in one transaction,
// under sc's exact scope. Returns false if no such episode exists in scope.
func (s *Service) DeleteEpisode(ctx context.Context, sc scope.Scope, episodeID uuid.UUID, actor ActorContext) (bool, error) {
	orgUUID := uuid.MustParse(sc.OrgID)
	found := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgUUID)
		q, args := exactScopeFilter(sc)
		var episode storage.Episode
		err := tx.Where("id = ?", episodeID).Where(q, args...).First(&episode).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true

		if err := tx.Where("episode_id = ?", episodeID).Delete(&storage.Embedding{}).Error; err != nil {
			return err
		}
		return tx.Delete(&episode).Error
	})

	if err != nil {
		s.audit.Write(ctx, audit.Entry{
			OrgID: orgUUID, ActorUserID: actor.ActorUserID, Action: "delete_episode",
			Status: audit.StatusFailed, TargetType: "episode", TargetID: episodeID.String(),
			RequestID: actor.RequestID, ErrorMessage: err.Error(),
		})
		return false, fmt.Errorf("forgetting: delete episode: %w", err)
	}

	if found {
		s.audit.Write(ctx, audit.Entry{
			OrgID: orgUUID, ActorUserID: actor.ActorUserID, Action: "delete_episode",
			Status: audit.StatusSuccess, TargetType: "episode", TargetID: episodeID.String(),
			RequestID: actor.RequestID,
		})
	}
	return found, nil
}

// DeleteSessionMemories deletes every episode (and embeddings) belonging to
// a session, invalidates its short-term window cache key, and returns the
// number of episodes removed.
func (s *Service) DeleteSessionMemories(ctx context.Context, sc scope.Scope, sessionID uuid.UUID, actor ActorContext) (int64, error) {
	orgUUID := uuid.MustParse(sc.OrgID)
	var deletedCount int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgUUID)
		q, args := exactScopeFilter(sc)
		var session storage.Session
		err := tx.Where("id = ?", sessionID).Where(q, args...).First(&session).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if err := tx.Model(&storage.Episode{}).
			Where("session_id = ?", sessionID).Count(&deletedCount).Error; err != nil {
			return err
		}

		if err := tx.Where("episode_id IN (?)",
			tenant.Bind(tx.Session(&gorm.Session{NewDB: true}), orgUUID).Model(&storage.Episode{}).
				Select("id").Where("session_id = ?", sessionID)).
			Delete(&storage.Embedding{}).Error; err != nil {
			return err
		}

		if err := tx.Where("session_id = ?", sessionID).Delete(&storage.Episode{}).Error; err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		s.audit.Write(ctx, audit.Entry{
			OrgID: orgUUID, ActorUserID: actor.ActorUserID, Action: "delete_session_memories",
			Status: audit.StatusFailed, TargetType: "session", TargetID: sessionID.String(),
			RequestID: actor.RequestID, ErrorMessage: err.Error(),
		})
		return 0, fmt.Errorf("forgetting: delete session memories: %w", err)
	}

	s.cache.Delete(ctx, cache.MakeKey("short_term", sessionID.String(), "window"))

	s.audit.Write(ctx, audit.Entry{
		OrgID: orgUUID, ActorUserID: actor.ActorUserID, Action: "delete_session_memories",
		Status: audit.StatusSuccess, TargetType: "session", TargetID: sessionID.String(),
		RequestID: actor.RequestID, Details: map[string]any{"deleted_count": deletedCount},
	})
	return deletedCount, nil
}

// DeleteUserMemories deletes every episode, embedding, and session owned by
// a user across an org — the broadest forgetting operation. Writes an
// "attempt" audit entry before starting, then success/failed after.
func (s *Service) DeleteUserMemories(ctx context.Context, orgID, userID uuid.UUID, actor ActorContext) (UserDeleteResult, error) {
	s.audit.Write(ctx, audit.Entry{
		OrgID: orgID, ActorUserID: actor.ActorUserID, Action: "delete_user_memories",
		Status: audit.StatusAttempt, TargetType: "user", TargetID: userID.String(),
		RequestID: actor.RequestID,
	})

	var result UserDeleteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tenant.Bind(tx, orgID)
		if err := tx.Model(&storage.Session{}).
			Where("org_id = ? AND user_id = ?", orgID, userID).
			Count(&result.DeletedSessions).Error; err != nil {
			return err
		}
		if err := tx.Model(&storage.Episode{}).
			Where("org_id = ? AND user_id = ?", orgID, userID).
			Count(&result.DeletedEpisodes).Error; err != nil {
			return err
		}

		if err := tx.Where("org_id = ? AND episode_id IN (?)", orgID,
			tenant.Bind(tx.Session(&gorm.Session{NewDB: true}), orgID).Model(&storage.Episode{}).
				Select("id").Where("org_id = ? AND user_id = ?", orgID, userID)).
			Delete(&storage.Embedding{}).Error; err != nil {
			return err
		}

		if err := tx.Where("org_id = ? AND user_id = ?", orgID, userID).
			Delete(&storage.Episode{}).Error; err != nil {
			return err
		}

		return tx.Where("org_id = ? AND user_id = ?", orgID, userID).
			Delete(&storage.Session{}).Error
	})

	if err != nil {
		s.audit.Write(ctx, audit.Entry{
			OrgID: orgID, ActorUserID: actor.ActorUserID, Action: "delete_user_memories",
			Status: audit.StatusFailed, TargetType: "user", TargetID: userID.String(),
			RequestID: actor.RequestID, ErrorMessage: err.Error(),
		})
		return UserDeleteResult{}, fmt.Errorf("forgetting: delete user memories: %w", err)
	}

	s.audit.Write(ctx, audit.Entry{
		OrgID: orgID, ActorUserID: actor.ActorUserID, Action: "delete_user_memories",
		Status: audit.StatusSuccess, TargetType: "user", TargetID: userID.String(),
		RequestID: actor.RequestID,
		Details: map[string]any{
			"deleted_episodes": result.DeletedEpisodes,
			"deleted_sessions": result.DeletedSessions,
		},
	})
	return result, nil
}
