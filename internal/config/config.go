// Package config loads Remembr's enumerated configuration keys (§6) from
// command-line flags with environment-variable fallback, following the
// teacher's envOrDefault + cobra PersistentFlags pattern.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Environment gates debug surfaces (§6: "environment ∈ {local, staging,
// production}").
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// Config holds every enumerated key from §6, plus the ambient connection
// settings (http address, db driver/dsn, redis address, log level) needed
// to actually start the process — the teacher's config struct carries the
// same mix of domain-enumerated and purely operational fields.
type Config struct {
	HTTPAddr string
	DBDriver string
	DBDSN    string
	RedisAddr string
	LogLevel string

	// Auth (§6 point 1).
	SecretKey                 string
	JWTAlgorithm              string
	AccessTokenExpireMinutes  int
	RefreshTokenExpireDays    int

	// Short-term window (§6 "Configuration").
	ShortTermMaxTokens               int
	ShortTermAutoCheckpointThreshold float64

	// Embedding (§4.5).
	EmbeddingBatchSize     int
	EmbeddingServiceID     string

	// Rate limiting (§6).
	RateLimitDefaultPerMinute int64
	RateLimitSearchPerMinute  int64

	Environment Environment
}

// AccessTokenTTL converts AccessTokenExpireMinutes to a time.Duration.
func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenTTL converts RefreshTokenExpireDays to a time.Duration.
func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// IsProduction reports whether debug surfaces should stay disabled.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Validate checks the invariants the process cannot safely start without.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("config: secret_key is required — set --secret-key or REMEMBR_SECRET_KEY")
	}
	if c.ShortTermAutoCheckpointThreshold <= 0 || c.ShortTermAutoCheckpointThreshold > 1 {
		return fmt.Errorf("config: short_term_auto_checkpoint_threshold must be in (0, 1], got %f", c.ShortTermAutoCheckpointThreshold)
	}
	switch c.Environment {
	case EnvLocal, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("config: environment must be one of local|staging|production, got %q", c.Environment)
	}
	return nil
}

// RegisterFlags binds cfg's fields to cmd's persistent flags, each with an
// environment-variable fallback, mirroring the teacher's envOrDefault +
// PersistentFlags wiring in cmd/server/main.go.
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	cmd.PersistentFlags().StringVar(&cfg.HTTPAddr, "http-addr", envOrDefault("REMEMBR_HTTP_ADDR", ":8080"), "HTTP API listen address")
	cmd.PersistentFlags().StringVar(&cfg.DBDriver, "db-driver", envOrDefault("REMEMBR_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	cmd.PersistentFlags().StringVar(&cfg.DBDSN, "db-dsn", envOrDefault("REMEMBR_DB_DSN", "./remembr.db"), "Database DSN or file path for SQLite")
	cmd.PersistentFlags().StringVar(&cfg.RedisAddr, "redis-addr", envOrDefault("REMEMBR_REDIS_ADDR", ""), "Redis address for the cache/rate-limit store (empty = in-memory store, dev only)")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", envOrDefault("REMEMBR_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	cmd.PersistentFlags().StringVar(&cfg.SecretKey, "secret-key", envOrDefault("REMEMBR_SECRET_KEY", ""), "Symmetric signing secret for access/refresh tokens (required)")
	cmd.PersistentFlags().StringVar(&cfg.JWTAlgorithm, "jwt-algorithm", envOrDefault("REMEMBR_JWT_ALGORITHM", "HS256"), "JWT signing algorithm")
	cmd.PersistentFlags().IntVar(&cfg.AccessTokenExpireMinutes, "access-token-expire-minutes", envOrDefaultInt("REMEMBR_ACCESS_TOKEN_EXPIRE_MINUTES", 30), "Access token lifetime in minutes")
	cmd.PersistentFlags().IntVar(&cfg.RefreshTokenExpireDays, "refresh-token-expire-days", envOrDefaultInt("REMEMBR_REFRESH_TOKEN_EXPIRE_DAYS", 7), "Refresh token lifetime in days")

	cmd.PersistentFlags().IntVar(&cfg.ShortTermMaxTokens, "short-term-max-tokens", envOrDefaultInt("REMEMBR_SHORT_TERM_MAX_TOKENS", 4000), "Short-term working-set token budget")
	cmd.PersistentFlags().Float64Var(&cfg.ShortTermAutoCheckpointThreshold, "short-term-auto-checkpoint-threshold", envOrDefaultFloat("REMEMBR_SHORT_TERM_AUTO_CHECKPOINT_THRESHOLD", 0.8), "Fraction of the token budget that triggers an auto-checkpoint")

	cmd.PersistentFlags().IntVar(&cfg.EmbeddingBatchSize, "embedding-batch-size", envOrDefaultInt("REMEMBR_EMBEDDING_BATCH_SIZE", 16), "Number of embedding enrichment worker goroutines")
	cmd.PersistentFlags().StringVar(&cfg.EmbeddingServiceID, "embedding-service-id", envOrDefault("REMEMBR_EMBEDDING_SERVICE_ID", "default"), "Identifier of the active embedding_service_configs row")

	cmd.PersistentFlags().Int64Var(&cfg.RateLimitDefaultPerMinute, "rate-limit-default-per-minute", envOrDefaultInt64("REMEMBR_RATE_LIMIT_DEFAULT_PER_MINUTE", 120), "Default per-minute request budget per identity")
	cmd.PersistentFlags().Int64Var(&cfg.RateLimitSearchPerMinute, "rate-limit-search-per-minute", envOrDefaultInt64("REMEMBR_RATE_LIMIT_SEARCH_PER_MINUTE", 30), "Per-minute request budget for the search endpoint per identity")

	cmd.PersistentFlags().StringVar((*string)(&cfg.Environment), "environment", envOrDefault("REMEMBR_ENVIRONMENT", string(EnvLocal)), "Deployment environment (local, staging, production)")
}
