package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a part, quote or notification does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a lifecycle transition is not allowed
	// from the current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrStockUnavailable matches any *StockUnavailableError via errors.Is.
	ErrStockUnavailable = errors.New("stock unavailable")
)

// StockUnavailableError lists the parts that can no longer cover a quote.
type StockUnavailableError struct {
	Shortages []Shortage
}

func (e *StockUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s requested=%d available=%d", s.PartReference, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrStockUnavailable, strings.Join(parts, ", "))
}

// Is lets errors.Is(err, ErrStockUnavailable) match.
func (e *StockUnavailableError) Is(target error) bool {
	return target == ErrStockUnavailable
}

// InvalidStateError wraps ErrInvalidState with the offending status.
func InvalidStateError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
