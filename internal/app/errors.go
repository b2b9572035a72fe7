package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"storyboard/api/internal/auth"
	"storyboard/api/internal/store"
)

// DomainError is a service-level failure carrying everything the HTTP
// boundary needs to render a stable JSON error body.
type DomainError struct {
	Status      int
	Code        string
	Description string
	Field       string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func domainError(status int, code, description string) *DomainError {
	return &DomainError{Status: status, Code: code, Description: description}
}

func validationError(field, description string) *DomainError {
	return &DomainError{
		Status:      http.StatusBadRequest,
		Code:        "invalid_request",
		Description: description,
		Field:       field,
	}
}

func permissionDenied() *DomainError {
	return domainError(http.StatusForbidden, "access_denied", "permission denied")
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "access_denied", "authentication required")
}

// mapError translates any service error into HTTP status, stable code,
// description and optional field name. Not-found and not-visible are
// deliberately indistinguishable.
func mapError(err error) (status int, code, description, field string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Description, domainErr.Field
	}
	var oauthErr *auth.OAuthError
	if errors.As(err, &oauthErr) {
		return oauthStatus(oauthErr.Code), oauthErr.Code, oauthErr.Description, ""
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "invalid_request", "not found", ""
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "access_denied", "invalid or expired token", ""
	}
	if errors.Is(err, store.ErrGroupNotEmpty) {
		return http.StatusBadRequest, "invalid_request", "project group is not empty", ""
	}
	if store.IsUniqueViolation(err) {
		return http.StatusConflict, "invalid_request", "duplicate resource", ""
	}
	return http.StatusInternalServerError, "server_error", "server error", ""
}

func oauthStatus(code string) int {
	switch code {
	case auth.ErrInvalidGrant, auth.ErrAccessDenied:
		return http.StatusUnauthorized
	case auth.ErrServerError:
		return http.StatusInternalServerError
	case auth.ErrTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}
