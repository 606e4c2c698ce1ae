// Package api implements the HTTP Surface (§4.10, §6): a contract-only
// layer that validates payloads, maps domain errors to stable wire codes,
// and carries the request id into the audit trail. It uses Chi as the
// router and exposes every resource under /api/v1.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/remembr/remembr/internal/apperr"
)

// envelope is the success response shape: {"data": ..., "request_id": ...,
// "timestamp": ...}, per §6.
type envelope struct {
	Data      any       `json:"data"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// errorBody is the "error" object nested in an error response.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 response wrapping payload in the standard envelope.
func Ok(w http.ResponseWriter, r *http.Request, payload any) {
	writeJSON(w, http.StatusOK, envelope{Data: payload, RequestID: reqID(r), Timestamp: time.Now().UTC()})
}

// Created writes a 201 response wrapping payload in the standard envelope.
func Created(w http.ResponseWriter, r *http.Request, payload any) {
	writeJSON(w, http.StatusCreated, envelope{Data: payload, RequestID: reqID(r), Timestamp: time.Now().UTC()})
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func reqID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// codeForKind maps an abstract apperr.Kind to the stable wire code and
// HTTP status §6 enumerates.
func codeForKind(k apperr.Kind) (code string, status int) {
	switch k {
	case apperr.KindAuthentication:
		return "AUTHENTICATION_ERROR", http.StatusUnauthorized
	case apperr.KindAuthorization:
		return "AUTHORIZATION_ERROR", http.StatusForbidden
	case apperr.KindNotFound:
		return "NOT_FOUND", http.StatusNotFound
	case apperr.KindValidation:
		return "VALIDATION_ERROR", http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return "CONFLICT_ERROR", http.StatusConflict
	case apperr.KindRateLimit:
		return "RATE_LIMIT_ERROR", http.StatusTooManyRequests
	case apperr.KindExternalService, apperr.KindStorageFailure:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

// WriteError maps err to a stable wire code/status and writes the error
// envelope. Any error that is not an *apperr.Error (an unclassified
// internal failure) is treated as INTERNAL_ERROR and its detail is never
// echoed to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Code:      "INTERNAL_ERROR",
			Message:   "an internal error occurred",
			RequestID: reqID(r),
		}})
		return
	}

	code, status := codeForKind(appErr.Kind)
	message := appErr.Message
	if status == http.StatusInternalServerError {
		// Never leak wrapped internal causes to the client.
		message = "an internal error occurred"
	}

	body := errorBody{Code: code, Message: message, RequestID: reqID(r)}
	if appErr.Detail != "" {
		body.Details = map[string]string{"reason": string(appErr.Detail)}
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

// ErrValidation writes a VALIDATION_ERROR response for a request-shape
// problem caught before any domain call (e.g. malformed JSON, missing
// required field) — these never reach a service package, so they have no
// apperr.Error to carry.
func ErrValidation(w http.ResponseWriter, r *http.Request, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorEnvelope{Error: errorBody{
		Code:      "VALIDATION_ERROR",
		Message:   message,
		RequestID: reqID(r),
	}})
}

// ErrRateLimit writes a RATE_LIMIT_ERROR response carrying remaining/retry
// information, per §7 ("Rate-limit responses carry remaining/retry-after
// details").
func ErrRateLimit(w http.ResponseWriter, r *http.Request, limit, remaining int64, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfter.Truncate(time.Second).String())
	writeJSON(w, http.StatusTooManyRequests, errorEnvelope{Error: errorBody{
		Code:    "RATE_LIMIT_ERROR",
		Message: "rate limit exceeded",
		Details: map[string]any{
			"limit":             limit,
			"remaining":         remaining,
			"retry_after_ms":    retryAfter.Milliseconds(),
		},
		RequestID: reqID(r),
	}})
}

// decodeJSONString unmarshals a JSON-encoded storage column (metadata,
// tags, …) into dst. A malformed or empty column decodes to dst's zero
// value rather than failing the response — storage-layer corruption should
// never turn a successful read into a 500.
func decodeJSONString(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

// decodeJSON decodes the request body into dst, rejecting unknown fields
// and bodies over 1 MiB. Writes a VALIDATION_ERROR response and returns
// false on any decode failure so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrValidation(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}
