package services

import (
	"errors"

	"github.com/Rod082213/teams-clone/models"
)

var (
	// ErrUnauthorized covers unauthenticated connections and identity mismatches.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence wraps storage failures on the live path.
	ErrPersistence = errors.New("persistence failure")
	ErrNotFound    = errors.New("not found")
	// ErrConflict rejects a change that collides with existing state.
	ErrConflict = errors.New("conflict")
)

// ValidationError rejects malformed input with a reason meant for the user.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(reason string) error { return &ValidationError{Reason: reason} }

// ErrorKind classifies err for the message-error event.
func ErrorKind(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return models.ErrorKindValidation
	case errors.Is(err, ErrUnauthorized):
		return models.ErrorKindAuthorization
	default:
		return models.ErrorKindPersistence
	}
}
