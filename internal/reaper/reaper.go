// Package reaper runs the two periodic background sweeps the core depends
// on instead of an on-demand TTL check at every read: the expired-session
// reaper (sessions past expires_at get dropped and their short-term window
// cache entry invalidated) and the auth cache GC sweep (cached API-key
// validation entries of revoked or expired keys evicted ahead of their own
// TTL). It wraps gocron the same way internal/scheduler does —
// singleton-mode jobs identified by a fixed tag, started once at server
// startup.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/shortterm"
	"github.com/remembr/remembr/internal/storage"
	"github.com/remembr/remembr/internal/tenant"
)

const (
	sessionSweepTag = "reaper:expired_sessions"
	cacheSweepTag   = "reaper:auth_cache_gc"
)

// Reaper owns the gocron scheduler driving both sweeps. The zero value is
// not usable — create instances with New.
type Reaper struct {
	cron      gocron.Scheduler
	db        *gorm.DB
	shortTerm *shortterm.Window
	cache     cache.Store
	logger    *zap.Logger
}

// Config controls how often each sweep runs.
type Config struct {
	SessionSweepInterval time.Duration
	CacheSweepInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionSweepInterval <= 0 {
		c.SessionSweepInterval = 5 * time.Minute
	}
	if c.CacheSweepInterval <= 0 {
		c.CacheSweepInterval = 10 * time.Minute
	}
	return c
}

// New creates and configures a Reaper. Call Start to begin processing.
func New(db *gorm.DB, shortTerm *shortterm.Window, store cache.Store, logger *zap.Logger) (*Reaper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("reaper: failed to create gocron scheduler: %w", err)
	}
	return &Reaper{
		cron:      s,
		db:        db,
		shortTerm: shortTerm,
		cache:     store,
		logger:    logger.Named("reaper"),
	}, nil
}

// Start schedules both sweeps and starts the underlying gocron scheduler.
// Call once at server startup, after the database connection is established.
func (rp *Reaper) Start(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	if _, err := rp.cron.NewJob(
		gocron.DurationJob(cfg.SessionSweepInterval),
		gocron.NewTask(func() {
			sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := rp.sweepExpiredSessions(sweepCtx); err != nil {
				rp.logger.Error("expired-session sweep failed", zap.Error(err))
			}
		}),
		gocron.WithTags(sessionSweepTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("reaper: scheduling session sweep: %w", err)
	}

	if _, err := rp.cron.NewJob(
		gocron.DurationJob(cfg.CacheSweepInterval),
		gocron.NewTask(func() {
			sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			rp.sweepAuthCache(sweepCtx)
		}),
		gocron.WithTags(cacheSweepTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("reaper: scheduling auth cache sweep: %w", err)
	}

	rp.logger.Info("reaper started",
		zap.Duration("session_sweep_interval", cfg.SessionSweepInterval),
		zap.Duration("cache_sweep_interval", cfg.CacheSweepInterval),
	)
	rp.cron.Start()
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for
// any currently running sweep to finish before returning.
func (rp *Reaper) Stop() error {
	if err := rp.cron.Shutdown(); err != nil {
		return fmt.Errorf("reaper: shutdown error: %w", err)
	}
	rp.logger.Info("reaper stopped")
	return nil
}

// sweepExpiredSessions deletes every session past expires_at, org by org —
// the sessions table is tenant-guarded (internal/tenant), so each org's
// delete runs in its own bound transaction rather than one unscoped,
// cross-tenant query. The short-term window cache entry for each deleted
// session is invalidated so a stale window can never be served after the
// session record itself is gone.
func (rp *Reaper) sweepExpiredSessions(ctx context.Context) error {
	var orgs []storage.Organization
	if err := rp.db.WithContext(ctx).Select("id").Find(&orgs).Error; err != nil {
		return fmt.Errorf("reaper: listing orgs: %w", err)
	}

	now := time.Now()
	total := 0
	for _, org := range orgs {
		var expired []storage.Session
		err := rp.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			tx = tenant.Bind(tx, org.ID)
			if err := tx.Where("expires_at IS NOT NULL AND expires_at < ?", now).Find(&expired).Error; err != nil {
				return err
			}
			if len(expired) == 0 {
				return nil
			}
			ids := make([]string, len(expired))
			for i, s := range expired {
				ids[i] = s.ID.String()
			}
			return tx.Where("id IN ?", ids).Delete(&storage.Session{}).Error
		})
		if err != nil {
			rp.logger.Error("expired-session sweep failed for org",
				zap.String("org_id", org.ID.String()),
				zap.Error(err),
			)
			continue
		}
		for _, s := range expired {
			rp.shortTerm.InvalidateCache(ctx, s.ID.String())
		}
		total += len(expired)
	}

	if total > 0 {
		rp.logger.Info("expired-session sweep complete", zap.Int("deleted", total))
	}
	return nil
}

// sweepAuthCache evicts the cached API-key validation entries of keys that
// are revoked or past expires_at. auth.APIKeys already deletes a key's entry
// on Revoke; this sweep also covers keys that expired without an explicit
// revoke, so the cache doesn't hold dead entries until their own TTL.
// Refresh-token revocation entries are left to expire on their own TTL.
func (rp *Reaper) sweepAuthCache(ctx context.Context) {
	var keys []storage.APIKey
	now := time.Now()
	if err := rp.db.WithContext(ctx).
		Where("revoked_at IS NOT NULL OR (expires_at IS NOT NULL AND expires_at < ?)", now).
		Select("hash_hex").Find(&keys).Error; err != nil {
		rp.logger.Error("auth cache sweep: listing dead api keys failed", zap.Error(err))
		return
	}

	evicted := 0
	for _, k := range keys {
		if rp.cache.Delete(ctx, cache.MakeKey("apikey", k.HashHex)) {
			evicted++
		}
	}
	if evicted > 0 {
		rp.logger.Info("auth cache sweep complete", zap.Int("evicted", evicted))
	}
}
