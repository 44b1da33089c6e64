package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/highscore-backend/internal/auth"
)

// Error identifiers reported in the envelope "error" field.
const (
	ErrIDNone                = "none"
	ErrIDMissingData         = "missing_data"
	ErrIDInvalidNonce        = "invalid_nonce"
	ErrIDServerMissingNonce  = "server_missing_nonce"
	ErrIDInvalidNonceOrHash  = "invalid_nonce_or_hash"
	ErrIDInvalidJSON         = "invalid_json"
	ErrIDMissingScore        = "missing_score"
	ErrIDMissingUsername     = "missing_username"
	ErrIDInvalidCommand      = "invalid_command"
	ErrIDDBLoginError        = "db_login_error"
	ErrIDBadRequest          = "bad_request"
	ErrIDUnauthorized        = "unauthorized"
	ErrIDNotFound            = "not_found"
	ErrIDMethodNotAllowed    = "method_not_allowed"
	ErrIDPayloadTooLarge     = "payload_too_large"
	ErrIDServiceUnavailable  = "service_unavailable"
	ErrIDInternalServerError = "internal_error"
)

// Envelope is the uniform response shape for every command:
// {"error": id, "command": name, "response": ...}.
type Envelope struct {
	Error    string `json:"error"`
	Command  string `json:"command,omitempty"`
	Response any    `json:"response"`
}

// EnvelopeError carries an Envelope together with a non-200 HTTP status.
// It is what huma renders for framework-level failures.
type EnvelopeError struct {
	status int
	Envelope
}

func (e *EnvelopeError) Error() string {
	if m, ok := e.Response.(map[string]string); ok && m["message"] != "" {
		return m["message"]
	}
	return e.Envelope.Error
}

func (e *EnvelopeError) GetStatus() int {
	return e.status
}

func init() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if len(errs) > 0 && msg == "" {
			msg = errs[0].Error()
		}
		return &EnvelopeError{
			status: status,
			Envelope: Envelope{
				Error:    errorIDForStatus(status),
				Response: map[string]string{"message": msg},
			},
		}
	}
}

// errorIDForStatus names transport-level failures that never reach a command.
func errorIDForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return ErrIDUnauthorized
	case http.StatusNotFound:
		return ErrIDNotFound
	case http.StatusMethodNotAllowed:
		return ErrIDMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		return ErrIDPayloadTooLarge
	case http.StatusServiceUnavailable:
		return ErrIDServiceUnavailable
	}
	if status >= 500 {
		return ErrIDInternalServerError
	}
	return ErrIDBadRequest
}

// authErrorID maps an Authenticate error to its identifier. Anything that is
// not an authentication verdict is a storage failure.
func authErrorID(err error) string {
	switch {
	case errors.Is(err, auth.ErrNoChallengeMaterial):
		return ErrIDInvalidNonce
	case errors.Is(err, auth.ErrNoServerNonce):
		return ErrIDServerMissingNonce
	case errors.Is(err, auth.ErrInvalidSignature):
		return ErrIDInvalidNonceOrHash
	default:
		return ErrIDDBLoginError
	}
}

// emptyResponse is the "response" value of errors and acknowledgements.
func emptyResponse() []any { return []any{} }
