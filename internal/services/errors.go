package services

import (
	"errors"
	"fmt"

	"github.com/ajramos/quickreply/internal/store"
)

// Standard service errors
var (
	// Input errors
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = store.ErrNotFound

	// Persistence errors
	ErrStorage = store.ErrStorage

	// Collaborator errors
	ErrSurface     = errors.New("messaging surface failure")
	ErrTranslation = errors.New("translation failed")

	// Lifecycle errors
	ErrSwitch       = errors.New("account switch failed")
	ErrDestroyed    = errors.New("controller destroyed")
	ErrAccountInUse = errors.New("account already open in another controller")
)

// ValidationError identifies the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SwitchError reports the step at which an account switch failed.
type SwitchError struct {
	From string
	To   string
	Step SwitchState
	Err  error
}

func (e *SwitchError) Error() string {
	return fmt.Sprintf("switch %q -> %q failed during %s: %v", e.From, e.To, e.Step, e.Err)
}

func (e *SwitchError) Unwrap() []error { return []error{ErrSwitch, e.Err} }

// SurfaceError wraps a messaging surface failure.
type SurfaceError struct {
	Op  string // send_text, send_media, insert_text, focus_input
	Err error
}

func (e *SurfaceError) Error() string {
	return fmt.Sprintf("surface %s: %v", e.Op, e.Err)
}

func (e *SurfaceError) Unwrap() []error { return []error{ErrSurface, e.Err} }

// TranslationError wraps a translation failure.
type TranslationError struct {
	Provider string
	Err      error
}

func (e *TranslationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("translation: %v", e.Err)
	}
	return fmt.Sprintf("translation via %s: %v", e.Provider, e.Err)
}

func (e *TranslationError) Unwrap() []error { return []error{ErrTranslation, e.Err} }

// IsRetryableError determines if a failure should be offered a retry
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrSwitch) ||
		errors.Is(err, ErrSurface) ||
		errors.Is(err, ErrTranslation)
}

// IsPermanentError determines if an error is permanent and should not be retried
func IsPermanentError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDestroyed) ||
		errors.Is(err, ErrAccountInUse)
}

// IsFieldError returns the field to highlight for validation failures
func IsFieldError(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field, true
	}
	return "", false
}
