package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	// ErrHalted means a batch or page failed after every retry; the report names it.
	ErrHalted = errors.New("reconciliation halted")
	// ErrCancelled means the run stopped between batches because its context ended.
	ErrCancelled = errors.New("reconciliation cancelled")
	// ErrRevisionMismatch means another writer moved an entity since it was read.
	ErrRevisionMismatch = errors.New("destination revision changed since read")
)

// ClassifiedError tags an error with its category.
type ClassifiedError struct {
	Category models.ErrorCategory
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with category. A nil err stays nil.
func Classify(category models.ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Category: category, Err: err}
}

// CategoryOf returns the explicit category of err, treating timeouts, network
// failures and unclassified store errors as transient infrastructure.
func CategoryOf(err error) models.ErrorCategory {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	return models.CategoryTransient
}

// IsTransient reports whether retrying err might succeed.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrRevisionMismatch) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return CategoryOf(err) == models.CategoryTransient
}
