package auth

import "fmt"

// Stable OAuth error codes surfaced to clients.
const (
	ErrInvalidRequest          = "invalid_request"
	ErrAccessDenied            = "access_denied"
	ErrUnsupportedResponseType = "unsupported_response_type"
	ErrInvalidScope            = "invalid_scope"
	ErrInvalidClient           = "invalid_client"
	ErrUnauthorizedClient      = "unauthorized_client"
	ErrInvalidGrant            = "invalid_grant"
	ErrUnsupportedGrantType    = "unsupported_grant_type"
	ErrServerError             = "server_error"
	ErrTemporarilyUnavailable  = "temporarily_unavailable"
)

// OAuthError carries a stable error code. When RedirectURI is set the HTTP
// layer delivers it by 303 redirect with error/error_description query
// parameters; otherwise as a 400-class JSON body.
type OAuthError struct {
	Code        string
	Description string
	RedirectURI string
	State       string
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func oauthError(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}
