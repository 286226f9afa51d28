package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrUnavailable   = errors.New("storage unavailable")
	ErrIO            = errors.New("storage i/o error")

	ErrNotFound           = errors.New("item not found")
	ErrAmbiguousID        = errors.New("id prefix matches more than one item")
	ErrNothingToUndo      = errors.New("nothing to undo")
	ErrAlreadyClassifying = errors.New("classification already in progress")
	ErrClosed             = errors.New("collection is closed")

	ErrImportTooLarge  = errors.New("import exceeds size limit")
	ErrImportMalformed = errors.New("import file is malformed")
	ErrImportEmpty     = errors.New("no valid items in import")
)

// ValidationError rejects user input before any state changes.
type ValidationError struct {
	Field string
	// Hint is a corrective message suitable for showing to the user.
	Hint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Hint)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageKind classifies a StorageError.
type StorageKind int

const (
	KindIO StorageKind = iota
	KindQuotaExceeded
	KindUnavailable
)

func (k StorageKind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindUnavailable:
		return "unavailable"
	default:
		return "io"
	}
}

// StorageError is returned by every persistence failure.
type StorageError struct {
	Kind StorageKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("storage %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrIO:
		return e.Kind == KindIO
	}
	return false
}

// IsQuotaExceeded reports whether err signals exhausted storage capacity.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
