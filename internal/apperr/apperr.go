// Package apperr defines the abstract error taxonomy shared by every
// internal package. Components return *apperr.Error (or wrap one); the HTTP
// surface is the only layer that translates a Kind into a wire status code.
package apperr

import "fmt"

// Kind is one of the eight abstract error kinds.
type Kind string

const (
	KindAuthentication   Kind = "authentication"
	KindAuthorization    Kind = "authorization"
	KindNotFound         Kind = "not_found"
	KindValidation       Kind = "validation"
	KindConflict         Kind = "conflict"
	KindRateLimit        Kind = "rate_limit"
	KindExternalService  Kind = "external_service"
	KindStorageFailure   Kind = "storage_failure"
)

// Detail is a machine-friendly detail code, e.g. SESSION_NOT_FOUND.
type Detail string

const (
	DetailSessionNotFound       Detail = "SESSION_NOT_FOUND"
	DetailEpisodeNotFound       Detail = "EPISODE_NOT_FOUND"
	DetailCheckpointNotFound    Detail = "CHECKPOINT_NOT_FOUND"
	DetailAPIKeyNotFound        Detail = "API_KEY_NOT_FOUND"
	DetailOrgLevelRequired      Detail = "ORG_LEVEL_REQUIRED"
	DetailInvalidTimeRange      Detail = "INVALID_TIME_RANGE"
	DetailRateLimitExceeded     Detail = "RATE_LIMIT_EXCEEDED"
	DetailSemanticQueryRequired Detail = "SEMANTIC_QUERY_REQUIRED"
)

// Error is the concrete error type returned by internal packages.
type Error struct {
	Kind    Kind
	Detail  Detail
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetail attaches a machine-readable detail code.
func (e *Error) WithDetail(d Detail) *Error {
	e.Detail = d
	return e
}

// Wrap constructs an *Error that wraps a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// NotFound is a convenience constructor — not-found and out-of-scope are
// intentionally indistinguishable per spec §7, so every "absent or
// forbidden" path returns this same Kind.
func NotFound(message string, detail Detail) *Error {
	return New(KindNotFound, message).WithDetail(detail)
}

// As reports whether err is (or wraps) an *apperr.Error, and returns it.
func As(err error) (*Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
