package serving

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown models or unregistered versions.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for illegal version transitions, empty rollback
	// history and duplicate registrations with mismatched metadata.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable is returned when an artifact load or inference fails.
	ErrUnavailable = errors.New("unavailable")

	// ErrTimeout is returned when a prediction exceeds its deadline.
	ErrTimeout = errors.New("timeout")
)

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted detail message.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Unavailablef wraps ErrUnavailable with a formatted detail message.
func Unavailablef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Timeoutf wraps ErrTimeout with a formatted detail message.
func Timeoutf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is an ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsUnavailable reports whether err is an ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsTimeout reports whether err is an ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
