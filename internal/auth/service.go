package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/apperr"
	"github.com/remembr/remembr/internal/cache"
	"github.com/remembr/remembr/internal/scope"
	"github.com/remembr/remembr/internal/storage"
)

// Service is the entry point for every authentication operation: local
// login, access/refresh token lifecycle, and resolving an authenticated
// bearer claim into the scope.Identity the rest of the core consumes. It
// talks to storage.User directly — there is exactly one backing store, so
// the teacher's provider-interface indirection buys nothing here.
type Service struct {
	db    *gorm.DB
	cache cache.Store
	jwt   *JWTManager
}

// NewService builds a Service.
func NewService(db *gorm.DB, store cache.Store, jwt *JWTManager) *Service {
	return &Service{db: db, cache: store, jwt: jwt}
}

// Login authenticates a user by email/password and issues a token pair.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenPair, *storage.User, error) {
	var user storage.User
	err := s.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// Same error as a wrong password — do not leak whether the
			// email is registered.
			return nil, nil, apperr.New(apperr.KindAuthentication, "invalid credentials")
		}
		return nil, nil, fmt.Errorf("auth: fetching user by email: %w", err)
	}

	if !user.IsActive {
		return nil, nil, apperr.New(apperr.KindAuthentication, "user account is disabled")
	}

	if !verifyPassword(req.Password, string(user.Password)) {
		return nil, nil, apperr.New(apperr.KindAuthentication, "invalid credentials")
	}

	pair, err := s.issueTokenPair(user.ID.String(), "")
	if err != nil {
		return nil, nil, err
	}
	return pair, &user, nil
}

// RefreshToken validates rawRefreshToken, checks it has not been revoked,
// and issues a fresh access token. The refresh token itself is not rotated
// — matching §6 exactly: only a new access token is returned, the refresh
// token keeps living out its own lifetime until its exp or an explicit
// Logout.
func (s *Service) RefreshToken(ctx context.Context, rawRefreshToken string) (*TokenPair, error) {
	if s.isRevoked(ctx, rawRefreshToken) {
		return nil, apperr.New(apperr.KindAuthentication, "refresh token revoked")
	}

	claims, err := s.jwt.ValidateRefreshToken(rawRefreshToken)
	if err != nil {
		return nil, translateTokenErr(err)
	}

	var user storage.User
	if err := s.db.WithContext(ctx).Where("id = ?", claims.Subject).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.KindAuthentication, "user not found")
		}
		return nil, fmt.Errorf("auth: fetching user for token refresh: %w", err)
	}
	if !user.IsActive {
		return nil, apperr.New(apperr.KindAuthentication, "user account is disabled")
	}

	accessToken, accessExpiresAt, err := s.jwt.GenerateAccessToken(user.ID.String(), claims.AgentID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          rawRefreshToken,
		RefreshTokenExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes rawRefreshToken by placing its hash in the cache with a
// TTL matched to its remaining lifetime (§6). An already-expired or
// malformed token is a no-op — there is nothing left to revoke.
func (s *Service) Logout(ctx context.Context, rawRefreshToken string) error {
	claims, err := s.jwt.ValidateRefreshToken(rawRefreshToken)
	if err != nil {
		return nil
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}

	s.cache.Set(ctx, revocationKey(rawRefreshToken), true, ttl)
	return nil
}

func (s *Service) isRevoked(ctx context.Context, rawRefreshToken string) bool {
	var revoked bool
	return s.cache.Get(ctx, revocationKey(rawRefreshToken), &revoked) && revoked
}

func revocationKey(rawRefreshToken string) string {
	return cache.MakeKey("revoked_refresh", sha256Hex(rawRefreshToken))
}

func (s *Service) issueTokenPair(userID, agentID string) (*TokenPair, error) {
	accessToken, accessExpiresAt, err := s.jwt.GenerateAccessToken(userID, agentID)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExpiresAt, err := s.jwt.GenerateRefreshToken(userID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}, nil
}

// ValidateAccessToken parses and verifies a bearer access token. Used by the
// HTTP middleware to authenticate incoming requests before resolving scope.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.jwt.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, translateTokenErr(err)
	}
	return claims, nil
}

// ResolveIdentity loads the user named by claims.Subject and builds the
// scope.Identity the scope resolver consumes. Team/org membership is
// looked up fresh on every request rather than carried in the token, so a
// team reassignment takes effect on the user's very next request instead
// of waiting for the access token to expire.
func (s *Service) ResolveIdentity(ctx context.Context, claims *Claims) (scope.Identity, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return scope.Identity{}, apperr.New(apperr.KindAuthentication, "invalid token subject")
	}

	var user storage.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return scope.Identity{}, apperr.New(apperr.KindAuthentication, "user not found")
		}
		return scope.Identity{}, fmt.Errorf("auth: resolving identity: %w", err)
	}
	if !user.IsActive {
		return scope.Identity{}, apperr.New(apperr.KindAuthentication, "user account is disabled")
	}

	id := scope.Identity{
		OrgID:   user.OrgID.String(),
		UserID:  user.ID.String(),
		AgentID: claims.AgentID,
	}
	if user.TeamID != nil {
		id.TeamID = user.TeamID.String()
	}
	return id, nil
}

// IdentityFromAPIKey builds a scope.Identity from a validated API key
// record, per §6 point 2: "org + optional user + optional agent".
func IdentityFromAPIKey(key *storage.APIKey) scope.Identity {
	id := scope.Identity{OrgID: key.OrgID.String()}
	if key.UserID != nil {
		id.UserID = key.UserID.String()
	}
	if key.AgentID != nil {
		id.AgentID = key.AgentID.String()
	}
	return id
}

func translateTokenErr(err error) error {
	switch err {
	case ErrTokenExpired:
		return apperr.New(apperr.KindAuthentication, "token expired")
	case ErrTokenInvalid:
		return apperr.New(apperr.KindAuthentication, "token invalid")
	default:
		return err
	}
}
