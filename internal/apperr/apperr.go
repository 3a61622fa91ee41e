// Package apperr provides the structured error taxonomy shared across the
// proxy, mirroring the Anthropic Messages API error envelope.
package apperr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// AppError is a structured error carrying both the HTTP status to return to
// the client and the Anthropic error `type` string for the response body.
type AppError struct {
	HTTPStatusCode int    `json:"-"`
	AnthropicType  string `json:"-"`
	Code           string `json:"code"`
	Message        string `json:"message"`
	Err            error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped error for errors.Is / errors.As.
func (e *AppError) Unwrap() error { return e.Err }

// anthropicEnvelope is the `{type, error:{type, message}}` shape documented
// by the Anthropic Messages API.
type anthropicEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ToAnthropic renders the error as the client-facing Anthropic error body.
func (e *AppError) ToAnthropic() []byte {
	env := anthropicEnvelope{Type: "error"}
	env.Error.Type = e.AnthropicType
	env.Error.Message = e.Message
	b, err := json.Marshal(env)
	if err != nil {
		return []byte(`{"type":"error","error":{"type":"api_error","message":"internal error"}}`)
	}
	return b
}

func New(status int, anthropicType, code, message string, err error) *AppError {
	return &AppError{HTTPStatusCode: status, AnthropicType: anthropicType, Code: code, Message: message, Err: err}
}

// Constructors matching the spec's error mapping table (spec.md §7).

func InvalidRequest(message string, err error) *AppError {
	return New(http.StatusBadRequest, "invalid_request_error", "invalid_request", message, err)
}

func ClientUnauthorized(message string, err error) *AppError {
	return New(http.StatusUnauthorized, "authentication_error", "unauthorized", message, err)
}

func AllCredentialsExhausted(message string, err error) *AppError {
	return New(http.StatusServiceUnavailable, "overloaded_error", "all_credentials_exhausted", message, err)
}

func UpstreamFatal(message string, err error) *AppError {
	return New(http.StatusBadGateway, "api_error", "upstream_fatal", message, err)
}

func Timeout(message string, err error) *AppError {
	return New(http.StatusGatewayTimeout, "api_error", "timeout", message, err)
}

func Internal(message string, err error) *AppError {
	return New(http.StatusInternalServerError, "api_error", "internal_error", message, err)
}

// As attempts to recover an *AppError from an arbitrary error, falling back
// to an internal-error classification when err is not already one.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*AppError); ok {
		return ae
	}
	return Internal(err.Error(), err)
}
