package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/remembr/remembr/internal/auth"
	"github.com/remembr/remembr/internal/episodic"
	"github.com/remembr/remembr/internal/forgetting"
	"github.com/remembr/remembr/internal/query"
	"github.com/remembr/remembr/internal/ratelimit"
	"github.com/remembr/remembr/internal/session"
	"github.com/remembr/remembr/internal/shortterm"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after every component is constructed and passed to
// NewRouter as a single struct to keep the constructor signature manageable
// as the number of dependencies grows.
type RouterConfig struct {
	Auth      *auth.Service
	APIKeys   *auth.APIKeys
	Sessions  *session.Store
	Episodic  *episodic.Store
	ShortTerm *shortterm.Window
	Query     *query.Engine
	Forgetting *forgetting.Service
	RateLimiter *ratelimit.Limiter
	Logger    *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router. Every route
// is registered under /api/v1 (§4.10).
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	apiKeyHandler := NewAPIKeyHandler(cfg.APIKeys, cfg.Logger)
	sessionHandler := NewSessionHandler(cfg.Sessions, cfg.Episodic, cfg.ShortTerm, cfg.Logger)
	memoryHandler := NewMemoryHandler(cfg.Episodic, cfg.Query, cfg.ShortTerm, cfg.Logger)
	forgettingHandler := NewForgettingHandler(cfg.Forgetting, cfg.Logger)

	authenticators := Authenticators{Auth: cfg.Auth, APIKeys: cfg.APIKeys}

	r.Route("/api/v1", func(r chi.Router) {
		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(cfg.RateLimiter, ratelimit.BucketDefault))
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/refresh", authHandler.Refresh)
			r.Post("/auth/logout", authHandler.Logout)
		})

		// --- Authenticated routes (Bearer access token or x-api-key) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(authenticators))

			r.Group(func(r chi.Router) {
				r.Use(RateLimit(cfg.RateLimiter, ratelimit.BucketDefault))

				r.Route("/sessions", func(r chi.Router) {
					r.Post("/", sessionHandler.Create)
					r.Get("/", sessionHandler.List)
					r.Get("/{id}", sessionHandler.Get)
					r.Get("/{id}/history", sessionHandler.History)
					r.Delete("/{id}/memories", forgettingHandler.Session)
					r.Post("/{id}/checkpoints", sessionHandler.Checkpoint)
					r.Get("/{id}/checkpoints", sessionHandler.ListCheckpoints)
					r.Post("/{id}/checkpoints/{checkpoint_id}/restore", sessionHandler.Restore)
				})

				r.Route("/memories", func(r chi.Router) {
					r.Post("/", memoryHandler.Log)
					r.Post("/diff", memoryHandler.Diff)
					r.Delete("/{id}", forgettingHandler.Episode)
				})

				r.Route("/users/{id}/memories", func(r chi.Router) {
					r.Delete("/", forgettingHandler.User)
				})

				r.Route("/api-keys", func(r chi.Router) {
					r.Post("/", apiKeyHandler.Issue)
					r.Get("/", apiKeyHandler.List)
					r.Delete("/{id}", apiKeyHandler.Revoke)
				})
			})

			// Semantic search gets its own, tighter rate-limit bucket (§6).
			r.Group(func(r chi.Router) {
				r.Use(RateLimit(cfg.RateLimiter, ratelimit.BucketSearch))
				r.Post("/memories/search", memoryHandler.Search)
			})
		})
	})

	return r
}
