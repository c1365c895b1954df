// Package apperr defines the error kinds shared by the ledger and workflow services.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error kinds. Callers match them with errors.Is.
var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a missing entity or an empty allocation.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks an operation against an entity in an incompatible state.
	ErrInvalidState = errors.New("invalid state")
	// ErrTransient marks lock timeouts and serialization failures that may be retried.
	ErrTransient = errors.New("transient failure")
	// ErrForbidden marks an actor lacking the role or permission for an operation.
	ErrForbidden = errors.New("forbidden")
)

// Validation wraps ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflict wraps ErrConflict with a message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with a message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidState wraps ErrInvalidState with a message.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Forbidden wraps ErrForbidden with a message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// PostgreSQL SQLSTATE codes mapped by Classify.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
)

// Classify maps driver errors onto the error kinds. Errors that already
// carry a kind, and errors it does not recognise, are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrInvalidState, ErrTransient, ErrForbidden} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
		}
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sqlite_busy"):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// HTTPStatus returns the response code for an error kind.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
