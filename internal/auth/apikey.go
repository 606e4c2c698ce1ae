package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/storage"
)

const (
	// apiKeyPrefix marks every issued key so logging and support tooling can
	// recognize a leaked key on sight without looking it up.
	apiKeyPrefix = "rmbr_"

	// apiKeyRandomBytes is chosen so the base64url encoding comfortably
	// clears the >= 32 random character floor.
	apiKeyRandomBytes = 32

	// apiKeyCacheTTL bounds how stale a cached validation result may be
	// after the key is revoked.
	apiKeyCacheTTL = 60 * time.Second
)

// APIKeys issues and validates API keys (§6 point 2). Only the hex SHA-256
// digest of a key is ever stored; the raw value is returned once, at Issue.
type APIKeys struct {
	db    *gorm.DB
	cache cache.Store
}

// NewAPIKeys builds an APIKeys manager.
func NewAPIKeys(db *gorm.DB, store cache.Store) *APIKeys {
	return &APIKeys{db: db, cache: store}
}

// Issue generates a new API key for orgID, optionally scoped to userID/
// agentID, and persists its hash. The raw key is returned only here.
func (k *APIKeys) Issue(ctx context.Context, orgID uuid.UUID, userID, agentID *uuid.UUID, name string, expiresAt *time.Time) (string, *storage.APIKey, error) {
	raw, err := generateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("auth: generating api key: %w", err)
	}

	rec := &storage.APIKey{
		OrgID:     orgID,
		UserID:    userID,
		AgentID:   agentID,
		Name:      name,
		HashHex:   sha256Hex(raw),
		ExpiresAt: expiresAt,
	}
	if err := k.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", nil, fmt.Errorf("auth: persisting api key: %w", err)
	}
	return raw, rec, nil
}

// Validate resolves a raw API key string to its stored record, rejecting
// expired or revoked keys. Successful lookups are cached for apiKeyCacheTTL
// so the hot auth path on every API-key request avoids a DB round trip.
func (k *APIKeys) Validate(ctx context.Context, raw string) (*storage.APIKey, error) {
	if len(raw) < len(apiKeyPrefix)+32 {
		return nil, apperr.New(apperr.KindAuthentication, "malformed api key").WithDetail(apperr.DetailAPIKeyNotFound)
	}

	hashHex := sha256Hex(raw)
	cacheKey := cache.MakeKey("apikey", hashHex)

	var rec storage.APIKey
	if k.cache.Get(ctx, cacheKey, &rec) {
		return k.checkLiveness(&rec)
	}

	if err := k.db.WithContext(ctx).Where("hash_hex = ?", hashHex).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.KindAuthentication, "api key not found").WithDetail(apperr.DetailAPIKeyNotFound)
		}
		return nil, fmt.Errorf("auth: looking up api key: %w", err)
	}
	// Belt-and-suspenders constant-time check of the digest match itself,
	// independent of the DB engine's own equality comparison.
	if subtle.ConstantTimeCompare([]byte(hashHex), []byte(rec.HashHex)) != 1 {
		return nil, apperr.New(apperr.KindAuthentication, "api key not found").WithDetail(apperr.DetailAPIKeyNotFound)
	}

	k.cache.Set(ctx, cacheKey, &rec, apiKeyCacheTTL)

	go k.touchLastUsed(rec.ID)

	return k.checkLiveness(&rec)
}

func (k *APIKeys) checkLiveness(rec *storage.APIKey) (*storage.APIKey, error) {
	if rec.RevokedAt != nil {
		return nil, apperr.New(apperr.KindAuthentication, "api key revoked").WithDetail(apperr.DetailAPIKeyNotFound)
	}
	if rec.ExpiresAt != nil && time.Now().After(*rec.ExpiresAt) {
		return nil, apperr.New(apperr.KindAuthentication, "api key expired").WithDetail(apperr.DetailAPIKeyNotFound)
	}
	return rec, nil
}

// touchLastUsed best-effort records the key's most recent use. Run off the
// request path — a failure here must never turn a valid key into a rejected
// request.
func (k *APIKeys) touchLastUsed(id uuid.UUID) {
	now := time.Now()
	k.db.Model(&storage.APIKey{}).Where("id = ?", id).Update("last_used_at", now)
}

// Revoke marks the key revoked and evicts any cached validation result so
// the revocation is visible immediately rather than after apiKeyCacheTTL.
func (k *APIKeys) Revoke(ctx context.Context, orgID, keyID uuid.UUID) error {
	var rec storage.APIKey
	if err := k.db.WithContext(ctx).Where("id = ? AND org_id = ?", keyID, orgID).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperr.NotFound("api key not found", apperr.DetailAPIKeyNotFound)
		}
		return fmt.Errorf("auth: loading api key for revocation: %w", err)
	}

	now := time.Now()
	if err := k.db.WithContext(ctx).Model(&rec).Update("revoked_at", now).Error; err != nil {
		return fmt.Errorf("auth: revoking api key: %w", err)
	}

	k.cache.Delete(ctx, cache.MakeKey("apikey", rec.HashHex))
	return nil
}

// List returns every API key belonging to orgID, newest first.
func (k *APIKeys) List(ctx context.Context, orgID uuid.UUID) ([]storage.APIKey, error) {
	var keys []storage.APIKey
	err := k.db.WithContext(ctx).Where("org_id = ?", orgID).Order("created_at DESC").Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("auth: listing api keys: %w", err)
	}
	return keys, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// sha256Hex returns the hex-encoded SHA-256 digest of raw. Shared by API
// key storage and the refresh-token revocation cache key (service.go) — in
// both cases we need a stable, non-reversible handle on a secret string.
func sha256Hex(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
