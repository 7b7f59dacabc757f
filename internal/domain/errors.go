// Package domain provides shared domain-level sentinel errors and the
// structured error type returned across component boundaries.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoRoute indicates no routing strategy produced a target worker.
var ErrNoRoute = errors.New("no route found for event")

// ErrWorkerUnavailable indicates the primary worker and its entire
// fallback chain were exhausted.
var ErrWorkerUnavailable = errors.New("worker unavailable: fallback chain exhausted")

// ErrWorkflowTerminal indicates a transition was requested on an instance
// that is already in a terminal state.
var ErrWorkflowTerminal = errors.New("workflow instance is in a terminal state")

// ErrInvalidTransition indicates the requested transition is not allowed
// from the instance's current state.
var ErrInvalidTransition = errors.New("transition not allowed from current state")

// ErrTransitionConflict indicates a concurrent transition won the race for
// the same instance. The caller may retry.
var ErrTransitionConflict = errors.New("concurrent transition conflict")

// ErrInstanceHalted indicates automatic processing of the instance was
// stopped after a critical failure and requires external intervention.
var ErrInstanceHalted = errors.New("instance halted: requires intervention")

// Category classifies an error by its origin.
type Category string

const (
	CategorySystem      Category = "SYSTEM"
	CategoryValidation  Category = "VALIDATION"
	CategoryBusiness    Category = "BUSINESS_LOGIC"
	CategorySecurity    Category = "SECURITY"
	CategoryIntegration Category = "INTEGRATION"
)

// Severity orders errors from least to most severe.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the upper-case name used in audit records and responses.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	}
	return "ERROR"
}

// Error is the structured error carried across component boundaries.
// TrackingID correlates the error with the event that produced it, and
// RecoveryAttempted reports whether retry/fallback was already exhausted
// before the error was surfaced.
type Error struct {
	Category          Category
	Severity          Severity
	TrackingID        string
	Agent             string
	RecoveryAttempted bool
	Err               error
}

func (e *Error) Error() string {
	if e.TrackingID == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Category, e.TrackingID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a category, severity and tracking ID.
func NewError(cat Category, sev Severity, trackingID string, err error) *Error {
	return &Error{Category: cat, Severity: sev, TrackingID: trackingID, Err: err}
}

// CategoryOf returns the category of err if it is a *Error, else SYSTEM.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return CategorySystem
}

// Retryable reports whether the resilience layer may retry err.
// VALIDATION and BUSINESS_LOGIC errors indicate caller bugs and are never
// retried; INTEGRATION and SYSTEM errors are transient by default.
func Retryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryValidation, CategoryBusiness, CategorySecurity:
		return false
	}
	return true
}
