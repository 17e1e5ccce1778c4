package utils

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ValidationError represents a missing or invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// AuthError is returned for missing, invalid or expired credentials.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func NewAuthError(message string) error {
	return &AuthError{Message: message}
}

// ForbiddenError is returned when an authenticated caller acts on something
// it does not own.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func NewForbiddenError(message string) error {
	return &ForbiddenError{Message: message}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFoundError(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// ConflictError is returned when a unique field is already taken.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is already in use", e.Field)
}

func NewConflictError(field string) error {
	return &ConflictError{Field: field}
}

// UpstreamError wraps a failure of an external collaborator such as the
// media store.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func NewUpstreamError(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsForbidden(err error) bool {
	var target *ForbiddenError
	return errors.As(err, &target)
}

func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// WriteServiceError converts a service error into the matching HTTP response.
// Unknown errors are logged and reported as a generic server fault.
func WriteServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validationErr *ValidationError
		authErr       *AuthError
		forbiddenErr  *ForbiddenError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		upstreamErr   *UpstreamError
	)

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "ValidationError", validationErr.Error())
	case errors.As(err, &authErr):
		WriteError(w, http.StatusUnauthorized, "AuthError", authErr.Message)
	case errors.As(err, &forbiddenErr):
		WriteError(w, http.StatusForbidden, "Forbidden", forbiddenErr.Message)
	case errors.As(err, &notFoundErr):
		WriteError(w, http.StatusNotFound, "NotFound", notFoundErr.Error())
	case errors.As(err, &conflictErr):
		WriteError(w, http.StatusConflict, "Conflict", conflictErr.Error())
	case errors.As(err, &upstreamErr):
		logger.Warn("upstream failure", zap.String("op", upstreamErr.Op), zap.Error(upstreamErr.Err))
		WriteError(w, http.StatusBadGateway, "UpstreamError", fmt.Sprintf("%s failed", upstreamErr.Op))
	default:
		logger.Error("unexpected error", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}
