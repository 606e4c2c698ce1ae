package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenType distinguishes an access token from a refresh token within the
// same claims shape (§6: "type ∈ {access, refresh}"), so a refresh token
// presented where an access token is expected (or vice versa) is rejected
// even though both carry a valid signature.
type tokenType string

const (
	tokenTypeAccess  tokenType = "access"
	tokenTypeRefresh tokenType = "refresh"
)

// Claims holds the claims embedded in both access and refresh tokens.
// Subject (sub) carries the user id; AgentID is populated only for tokens
// issued on behalf of a specific agent identity.
type Claims struct {
	jwt.RegisteredClaims

	Type    tokenType `json:"type"`
	AgentID string    `json:"agent_id,omitempty"`
}

// JWTManager signs and verifies bearer tokens with a single fixed symmetric
// algorithm (HS256, per §6) and a shared secret, rather than arkeep's RSA
// keypair — Remembr has no JWKS consumer, so there is nothing an asymmetric
// scheme buys here.
type JWTManager struct {
	secret               []byte
	issuer               string
	accessTokenDuration  time.Duration
	refreshTokenDuration time.Duration
}

// NewJWTManager builds a JWTManager. secret must be non-empty; it is the
// `secret_key` configuration value. accessTTL and refreshTTL come from
// `access_token_expire_minutes` / `refresh_token_expire_days`.
func NewJWTManager(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) (*JWTManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: secret_key must not be empty")
	}
	if accessTTL <= 0 {
		accessTTL = 30 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &JWTManager{
		secret:               secret,
		issuer:               issuer,
		accessTokenDuration:  accessTTL,
		refreshTokenDuration: refreshTTL,
	}, nil
}

// GenerateAccessToken issues a short-lived access token for userID, carrying
// agentID when the caller is authenticated as a specific agent.
func (m *JWTManager) GenerateAccessToken(userID, agentID string) (string, time.Time, error) {
	return m.sign(userID, agentID, tokenTypeAccess, m.accessTokenDuration)
}

// GenerateRefreshToken issues a long-lived refresh token for userID.
func (m *JWTManager) GenerateRefreshToken(userID string) (string, time.Time, error) {
	return m.sign(userID, "", tokenTypeRefresh, m.refreshTokenDuration)
}

func (m *JWTManager) sign(userID, agentID string, typ tokenType, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:    typ,
		AgentID: agentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing %s token: %w", typ, err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken parses tokenString and requires it to be an access
// token. Callers use errors.Is(err, ErrTokenExpired) to distinguish an
// expired token from a malformed/tampered one.
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	return m.validate(tokenString, tokenTypeAccess)
}

// ValidateRefreshToken parses tokenString and requires it to be a refresh
// token. Revocation (§6: cache presence means "revoked") is the caller's
// responsibility — this only checks signature, expiry, and type.
func (m *JWTManager) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return m.validate(tokenString, tokenTypeRefresh)
}

func (m *JWTManager) validate(tokenString string, want tokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			// Reject anything but HMAC — blocks the classic "alg:none" /
			// RSA-to-HMAC confusion attack.
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Type != want {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
