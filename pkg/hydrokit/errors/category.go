// Package errors classifies kernel failures so callers know whether to skip,
// retry, degrade, or give up.
//
// The taxonomy mirrors how the kernel reacts to each failure:
//   - Skipped: the offending unit (a package file) is logged and bootstrap continues
//   - Retried: the operation is rewritten or repeated once before propagating
//   - Unrecoverable: raised immediately, there is no fallback path
//   - Degraded: an optional collaborator is missing and the feature narrows silently
//   - Transient: a contended resource (database lock, crashed worker) may recover
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryUnrecoverable indicates there is no fallback.
	// Examples: a code cache rejected after header patching.
	CategoryUnrecoverable Category = iota

	// CategorySkipped indicates the failing unit is dropped and work continues.
	// Examples: corrupt package file, package built for another platform.
	CategorySkipped

	// CategoryRetried indicates the operation was rewritten and retried once.
	// Examples: top-level await in add-on source.
	CategoryRetried

	// CategoryDegraded indicates an optional collaborator is absent.
	// Examples: no task queue in a single-process deployment.
	CategoryDegraded

	// CategoryTransient indicates retry will likely help.
	// Examples: SQLite busy, worker process exited.
	CategoryTransient
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryUnrecoverable:
		return "unrecoverable"
	case CategorySkipped:
		return "skipped"
	case CategoryRetried:
		return "retried"
	case CategoryDegraded:
		return "degraded"
	case CategoryTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Unrecoverable creates an unrecoverable error.
func Unrecoverable(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryUnrecoverable, context)
}

// Skipped creates a skipped error.
func Skipped(err error, context string) *CategorizedError {
	return NewCategorized(err, CategorySkipped, context)
}

// Retried creates a retried error. attempts records how many tries were made.
func Retried(err error, context string, attempts int) *CategorizedError {
	e := NewCategorized(err, CategoryRetried, context)
	e.Retries = attempts
	return e
}

// Degraded creates a degraded error.
func Degraded(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryDegraded, context)
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnrecoverable // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	// A deadline may clear on the next attempt; an explicit cancel will not.
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryUnrecoverable
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsSkippable reports whether the failing unit can be dropped while work continues.
func IsSkippable(err error) bool {
	return Categorize(err) == CategorySkipped
}

// IsFatal reports whether the error has no fallback.
func IsFatal(err error) bool {
	return Categorize(err) == CategoryUnrecoverable
}
