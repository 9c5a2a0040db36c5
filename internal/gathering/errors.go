package gathering

import (
	"errors"
	"fmt"

	"github.com/Vasu1712/gatherhub/internal/policy"
	"github.com/Vasu1712/gatherhub/internal/storage"
)

// ValidationError is a malformed or out-of-range input.
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

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Reason returns the user-facing text for a service error, or "" when the
// error is internal and must not leak.
func Reason(err error) string {
	var denied *policy.DeniedError
	var bad *ValidationError
	switch {
	case errors.As(err, &denied):
		return denied.Reason
	case errors.As(err, &bad):
		return bad.Message
	case errors.Is(err, storage.ErrNotFound):
		return "Not found."
	case errors.Is(err, storage.ErrConflict):
		return "Already exists."
	}
	return ""
}
