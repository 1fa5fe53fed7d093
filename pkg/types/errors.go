package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an error for handling purposes. Each kind maps to one
// recovery strategy: transient errors retry with backoff, book invariant
// violations force a fresh snapshot, slippage aborts the attempt, partial
// fills trigger a defensive unwind, risk halts stop new entries, and only
// unrecoverable errors propagate to shutdown.
type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"
	KindRateLimit     ErrorKind = "rate_limit"
	KindBookInvariant ErrorKind = "book_invariant"
	KindSlippage      ErrorKind = "slippage"
	KindPartialFill   ErrorKind = "partial_fill"
	KindRiskHalt      ErrorKind = "risk_halt"
	KindUnrecoverable ErrorKind = "unrecoverable"
)

// Error is a classified error carrying the market it concerns and the
// underlying cause chain.
type Error struct {
	Kind      ErrorKind
	MarketKey string
	Timestamp time.Time
	Err       error
}

// NewError wraps err with a kind and optional market key.
func NewError(kind ErrorKind, marketKey string, err error) *Error {
	return &Error{
		Kind:      kind,
		MarketKey: marketKey,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
}

func (e *Error) Error() string {
	if e.MarketKey != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Kind, e.MarketKey, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err, or empty when unclassified.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsUnrecoverable reports whether err must propagate to shutdown.
func IsUnrecoverable(err error) bool {
	return KindOf(err) == KindUnrecoverable
}

// Sentinel errors shared across components.
var (
	// ErrBookInvariantViolated signals a crossed book or a sequence gap.
	// The book is paused until a fresh snapshot arrives.
	ErrBookInvariantViolated = errors.New("book invariant violated")

	// ErrBookStale signals that a book is too old to evaluate.
	ErrBookStale = errors.New("book stale")

	// ErrBookEmpty signals a missing side on an evaluated book.
	ErrBookEmpty = errors.New("book side empty")

	// ErrDepthExhausted signals that a requested size exceeds available depth.
	ErrDepthExhausted = errors.New("book depth exhausted")

	// ErrSlippageExceeded signals adverse price movement between detection
	// and the pre-execution recheck.
	ErrSlippageExceeded = errors.New("slippage exceeded")

	// ErrBelowMinProfit signals a sized opportunity whose absolute profit
	// falls under the configured floor.
	ErrBelowMinProfit = errors.New("below minimum profit")

	// ErrRiskHalted signals that the daily loss limit closed new entries.
	ErrRiskHalted = errors.New("risk halted")

	// ErrCooldownActive signals a market still inside its inter-trade
	// interval.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrExecutionLocked signals a market whose critical section is held.
	ErrExecutionLocked = errors.New("execution locked")

	// ErrRateLimited signals a dropped background request.
	ErrRateLimited = errors.New("rate limited")
)
