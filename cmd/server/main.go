package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/remembr/remembr/internal/api"
	"github.com/remembr/remembr/internal/audit"
	"github.com/remembr/remembr/internal/auth"
	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/config"
	"github.com/remembr/remembr/internal/embedding"
	"github.com/remembr/remembr/internal/episodic"
	"github.com/remembr/remembr/internal/forgetting"
	"github.com/remembr/remembr/internal/query"
	"github.com/remembr/remembr/internal/ratelimit"
	"github.com/remembr/remembr/internal/reaper"
	"github.com/remembr/remembr/internal/session"
	"github.com/remembr/remembr/internal/shortterm"
	"github.com/remembr/remembr/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "remembr-server",
		Short: "Remembr server — multi-tenant persistent memory service for AI agents",
		Long: `Remembr server exposes the short-term window, episodic memory,
hybrid query, and forgetting API surface described in §6, backed by a
tenant-guarded Postgres or SQLite store and a Redis-backed (or in-memory,
for local development) cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	config.RegisterFlags(root, cfg)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remembr-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting remembr server",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("environment", string(cfg.Environment)),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must run before any DB operation touching an
	// EncryptedString column (user passwords, embedding-service credentials).
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.SecretKey))
	if err := storage.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := storage.New(storage.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Cache ---
	cacheStore, closeCache := buildCache(cfg.RedisAddr, logger)
	if closeCache != nil {
		defer closeCache()
	}

	// --- 4. Auth ---
	jwtManager, err := auth.NewJWTManager([]byte(cfg.SecretKey), "remembr-server", cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}
	authService := auth.NewService(gormDB, cacheStore, jwtManager)
	apiKeys := auth.NewAPIKeys(gormDB, cacheStore)

	// --- 5. Audit ---
	auditLog := audit.New(gormDB, logger)

	// --- 6. Short-term window ---
	shortTerm, err := shortterm.New(cacheStore, gormDB, logger,
		shortterm.WithMaxTokens(cfg.ShortTermMaxTokens),
		shortterm.WithAutoCheckpointThreshold(cfg.ShortTermAutoCheckpointThreshold),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize short-term window: %w", err)
	}

	// --- 7. Embedding + episodic memory ---
	embedCfg, err := embedding.LoadConfig(ctx, gormDB, cfg.EmbeddingServiceID)
	if err != nil {
		logger.Warn("no embedding service configured — episodes will be stored without vector enrichment", zap.Error(err))
	}
	embedClient := embedding.NewClient(embedCfg)
	embedPool := embedding.NewPool(ctx, embedClient, gormDB, logger, cfg.EmbeddingBatchSize)
	defer embedPool.Stop()

	episodicStore := episodic.New(gormDB, logger, embedPool)

	// --- 8. Vector search + query engine ---
	var vectors query.VectorSearcher
	if cfg.DBDriver == "postgres" {
		vectors = embedding.NewPostgresSearcher(gormDB)
	} else {
		vectors = embedding.NewBruteForceSearcher(gormDB)
	}
	queryEngine := query.New(shortTerm, episodicStore, embedClient, vectors)

	// --- 9. Sessions ---
	sessionStore := session.New(gormDB, shortTerm)

	// --- 10. Forgetting ---
	forgettingSvc := forgetting.New(gormDB, cacheStore, auditLog, logger)

	// --- 11. Rate limiter ---
	limiter := ratelimit.New(cacheStore, cfg.RateLimitDefaultPerMinute, cfg.RateLimitSearchPerMinute)

	// --- 12. Reaper (expired-session + auth cache GC sweeps) ---
	rp, err := reaper.New(gormDB, shortTerm, cacheStore, logger)
	if err != nil {
		return fmt.Errorf("failed to create reaper: %w", err)
	}
	if err := rp.Start(ctx, reaper.Config{}); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	defer func() {
		if err := rp.Stop(); err != nil {
			logger.Warn("reaper shutdown error", zap.Error(err))
		}
	}()

	// --- 13. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Auth:        authService,
		APIKeys:     apiKeys,
		Sessions:    sessionStore,
		Episodic:    episodicStore,
		ShortTerm:   shortTerm,
		Query:       queryEngine,
		Forgetting:  forgettingSvc,
		RateLimiter: limiter,
		Logger:      logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down remembr server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("remembr server stopped")
	return nil
}

// buildCache returns a Redis-backed cache.Store when redisAddr is set, or an
// in-memory fallback for local development when it isn't. The returned
// close func is nil for the in-memory store.
func buildCache(redisAddr string, logger *zap.Logger) (cache.Store, func()) {
	if redisAddr == "" {
		logger.Warn("no redis address configured — using in-memory cache (single-process only, state lost on restart)")
		return cache.NewMemStore(), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	return cache.New(rdb, logger), func() { _ = rdb.Close() }
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
