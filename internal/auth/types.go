package auth

import "time"

// LoginRequest carries credentials for an email/password login attempt.
type LoginRequest struct {
	Email    string
	Password string
}

// TokenPair is returned after a successful login or token refresh.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}
