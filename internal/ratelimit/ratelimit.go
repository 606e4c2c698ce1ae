// Package ratelimit implements the Rate Limiter (§4.9): a fixed-window
// request counter keyed on the caller's identity, backed by the same cache
// primitive as the short-term window (INCR+EXPIRE on a Redis key), the Go
// analogue of the original FastAPI service's slowapi+Redis limiter.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/cache"
)

// Bucket names one of the two rate-limit buckets the original distinguishes:
// a generous default and a tighter one for the expensive semantic search path.
type Bucket string

const (
	BucketDefault Bucket = "default"
	BucketSearch  Bucket = "search"
)

// window is the fixed-window size every bucket counts against.
const window = time.Minute

// Limiter enforces per-minute request budgets per identity+bucket.
type Limiter struct {
	store            cache.Store
	defaultPerMinute int64
	searchPerMinute  int64
}

// New builds a Limiter. A perMinute value <= 0 disables limiting for that
// bucket (Allow always succeeds).
func New(store cache.Store, defaultPerMinute, searchPerMinute int64) *Limiter {
	return &Limiter{store: store, defaultPerMinute: defaultPerMinute, searchPerMinute: searchPerMinute}
}

func (l *Limiter) limitFor(bucket Bucket) int64 {
	if bucket == BucketSearch {
		return l.searchPerMinute
	}
	return l.defaultPerMinute
}

// KeyFromRequest resolves the limiter identity for r: the bearer token if
// present, else the x-api-key header, else the client address. Chi's RealIP
// middleware is expected to run earlier so r.RemoteAddr already reflects the
// real client when behind a proxy.
func KeyFromRequest(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if apiKey := strings.TrimSpace(r.Header.Get("x-api-key")); apiKey != "" {
		return apiKey
	}

	return r.RemoteAddr
}

// Result reports the outcome of an Allow check.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Allow increments identity's counter in bucket's current fixed window and
// reports whether the request is within budget. A store failure fails open
// (Allowed=true) — the cache primitive itself never surfaces a distinct
// error, so a Redis outage degrades to "rate limiting is off" rather than
// rejecting every request.
func (l *Limiter) Allow(ctx context.Context, identity string, bucket Bucket) Result {
	limit := l.limitFor(bucket)
	if limit <= 0 {
		return Result{Allowed: true, Limit: 0, Remaining: 0}
	}

	key := cache.MakeKey("ratelimit", string(bucket), identity, windowBucketID())

	count, ok := l.store.Increment(ctx, key, 1)
	if !ok {
		return Result{Allowed: true, Limit: limit}
	}
	if count == 1 {
		l.store.Expire(ctx, key, window)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	if count > limit {
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: l.store.TTL(ctx, key),
		}
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining}
}

// windowBucketID returns a string identifying the current fixed window
// (the current UTC minute, formatted YYYYMMDDhhmm), so every request within the same minute shares
// one counter key and the key naturally expires after EXPIRE window.
func windowBucketID() string {
	return time.Now().UTC().Format("200601021504")
}

// ErrRateLimited builds the abstract error the HTTP surface translates into
// a 429 response, mirroring the original's RATE_LIMIT_EXCEEDED detail code.
func ErrRateLimited(res Result) *apperr.Error {
	return apperr.New(apperr.KindRateLimit, "rate limit exceeded").WithDetail(apperr.DetailRateLimitExceeded)
}
