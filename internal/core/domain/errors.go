package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")

	// ErrTransientBackend marks a write or query failure that may succeed on replay.
	ErrTransientBackend = errors.New("transient backend failure")
	// ErrPermanentWrite marks a write the backend rejected; replaying it cannot help.
	ErrPermanentWrite = errors.New("permanent write failure")

	ErrQueryLeg          = errors.New("search leg failed")
	ErrSearchUnavailable = errors.New("search unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsPermanentWrite reports whether a writer failure must not be replayed.
// Anything not explicitly permanent is treated as transient.
func IsPermanentWrite(err error) bool {
	return err != nil && (errors.Is(err, ErrPermanentWrite) || errors.Is(err, ErrInvalidInput))
}
