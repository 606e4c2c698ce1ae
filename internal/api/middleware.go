package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/auth"
	"github.com/remembr/remembr/internal/ratelimit"
	"github.com/remembr/remembr/internal/scope"
)

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const (
	// contextKeyScope is the context key under which the resolved
	// scope.Scope is stored after successful authentication.
	contextKeyScope contextKey = iota
)

// Authenticators bundles the two ways a request can authenticate (§6 point
// 2): a bearer access token, or an x-api-key header. Authenticate tries
// Bearer first, then x-api-key.
type Authenticators struct {
	Auth    *auth.Service
	APIKeys *auth.APIKeys
}

// Authenticate resolves the caller's identity from either an
// "Authorization: Bearer <token>" header or an "x-api-key" header, derives
// its scope.Scope via scope.ResolveScope, and stores it in the request
// context for handlers and the rate limiter to read. Writes 401 and stops
// the chain when neither credential is present or valid.
func Authenticate(a Authenticators) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolveIdentity(r, a)
			if err != nil {
				WriteError(w, r, err)
				return
			}

			sc, err := scope.ResolveScope(identity)
			if err != nil {
				WriteError(w, r, apperr.New(apperr.KindAuthentication, "could not resolve scope"))
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyScope, sc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveIdentity(r *http.Request, a Authenticators) (scope.Identity, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return scope.Identity{}, apperr.New(apperr.KindAuthentication, "malformed authorization header")
		}
		claims, err := a.Auth.ValidateAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return scope.Identity{}, err
		}
		return a.Auth.ResolveIdentity(r.Context(), claims)
	}

	if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" {
		rec, err := a.APIKeys.Validate(r.Context(), key)
		if err != nil {
			return scope.Identity{}, err
		}
		return auth.IdentityFromAPIKey(rec), nil
	}

	return scope.Identity{}, apperr.New(apperr.KindAuthentication, "missing credentials")
}

// scopeFromCtx retrieves the scope.Scope installed by Authenticate. Panics
// if called on a route not behind Authenticate — a programmer error, not a
// request-time condition.
func scopeFromCtx(ctx context.Context) scope.Scope {
	sc, ok := ctx.Value(contextKeyScope).(scope.Scope)
	if !ok {
		panic("api: scopeFromCtx called without Authenticate in the middleware chain")
	}
	return sc
}

// RateLimit enforces bucket's per-minute budget against the caller
// identified by ratelimit.KeyFromRequest, writing a 429 with
// remaining/retry-after details on exhaustion (§7).
func RateLimit(limiter *ratelimit.Limiter, bucket ratelimit.Bucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Allow(r.Context(), ratelimit.KeyFromRequest(r), bucket)
			if !res.Allowed {
				ErrRateLimit(w, r, res.Limit, res.Remaining, res.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. Chi's middleware.RequestID is expected to
// run before this middleware so the request id is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
