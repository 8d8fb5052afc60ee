package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// RFC 6749 §5.2 / §4.1.2.1 error codes.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeInvalidScope            = "invalid_scope"
	CodeAccessDenied            = "access_denied"
	CodeServerError             = "server_error"
	CodeLoginRequired           = "login_required"
)

var (
	// ErrInvalidRequest is returned for missing or malformed protocol parameters.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidClient is returned when the client is unknown or fails authentication.
	ErrInvalidClient = errors.New("invalid client")
	// ErrUnauthorizedGrant is returned when the client may not use the requested grant type.
	ErrUnauthorizedGrant = errors.New("grant type not allowed for client")
	// ErrInvalidScope is returned when any requested scope is outside the client's allowed set.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrInvalidGrant is returned for unknown, expired or already redeemed codes and refresh tokens.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrRedirectMismatch is returned when a redirect URI does not exactly match the registered one.
	ErrRedirectMismatch = errors.New("redirect uri mismatch")
	// ErrUnsupportedGrantType is returned for grant types the server does not implement.
	ErrUnsupportedGrantType = errors.New("unsupported grant type")
	// ErrUnsupportedResponseType is returned for any response_type other than "code".
	ErrUnsupportedResponseType = errors.New("unsupported response type")
	// ErrAccessDenied is returned when the resource owner or server denies the request.
	ErrAccessDenied = errors.New("access denied")
	// ErrServerError wraps unexpected internal failures.
	ErrServerError = errors.New("server error")
)

// Error is the wire form of an OAuth2 error response.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`

	err error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

func (e *Error) Unwrap() error {
	return e.err
}

// Wrap attaches a human readable description to one of the sentinel errors.
func Wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// ToError converts any error into its OAuth2 wire representation.
// Descriptions are only exposed for protocol errors; internal failures
// collapse into a generic server_error.
func ToError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}

	code := CodeFor(err)
	desc := ""
	if code != CodeServerError {
		desc = err.Error()
	}
	return &Error{Code: code, Description: desc, err: err}
}

// ToAuthorizeError converts err for the authorization endpoint, where an
// unusable redirect_uri is a malformed request rather than a bad grant.
func ToAuthorizeError(err error) *Error {
	oe := ToError(err)
	if oe.Code == CodeInvalidGrant && errors.Is(err, ErrRedirectMismatch) {
		return &Error{Code: CodeInvalidRequest, Description: oe.Description, State: oe.State, err: err}
	}
	return oe
}

// CodeFor maps an error to its RFC 6749 error code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrInvalidClient):
		return CodeInvalidClient
	case errors.Is(err, ErrUnauthorizedGrant):
		return CodeUnauthorizedClient
	case errors.Is(err, ErrInvalidScope):
		return CodeInvalidScope
	case errors.Is(err, ErrInvalidGrant), errors.Is(err, ErrRedirectMismatch):
		return CodeInvalidGrant
	case errors.Is(err, ErrUnsupportedGrantType):
		return CodeUnsupportedGrantType
	case errors.Is(err, ErrUnsupportedResponseType):
		return CodeUnsupportedResponseType
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	default:
		return CodeServerError
	}
}

// StatusFor returns the HTTP status used by the token endpoint for err.
func StatusFor(err error) int {
	switch CodeFor(err) {
	case CodeInvalidClient:
		return http.StatusUnauthorized
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
