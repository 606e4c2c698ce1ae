package auth

import "errors"

// Sentinel errors of the auth package. Callers should use errors.Is for
// comparison. JWTManager returns ErrTokenExpired and ErrTokenInvalid; the
// other sentinels are not returned by this package: Service and APIKeys
// report credential, user and key failures as *apperr.Error values instead.
var (
	// ErrInvalidCredentials denotes an email/password pair that does not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrUserNotFound denotes that no user exists for the given identifier.
	ErrUserNotFound = errors.New("auth: user not found")

	// ErrUserDisabled denotes an inactive user account.
	ErrUserDisabled = errors.New("auth: user account is disabled")

	// ErrTokenExpired is returned when a JWT or refresh token has expired.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or verified.
	ErrTokenInvalid = errors.New("auth: token invalid")

	// ErrRefreshTokenRevoked denotes a refresh token whose hash is present
	// in the revocation cache (§6: presence means "revoked").
	ErrRefreshTokenRevoked = errors.New("auth: refresh token revoked")

	// ErrAPIKeyNotFound denotes an API key string that does not match any
	// stored hash, has expired, or has been revoked.
	ErrAPIKeyNotFound = errors.New("auth: api key not found")
)