// Copyright 2025 Cynic Protocol
//
// Package cynicerr implements the §7 error taxonomy: a structured
// CynicError that never carries a stack trace — callers branch on Kind,
// not on message text. Not every package returns one: pkg/kernel, for
// one, returns plain errors.
package cynicerr

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a failure by its protocol-level handling policy.
type Kind string

const (
	// Integrity: signature/hash/Merkle mismatch. Policy: reject, penalize source.
	Integrity Kind = "INTEGRITY"
	// Protocol: wrong slot, missing parent, cardinality exceeded. Policy: reject; request parents if recoverable.
	Protocol Kind = "PROTOCOL"
	// ResourceExhausted: queue overflow, disk full. Policy: shed low-priority work, alert.
	ResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	// ConsensusFault: equivocation, lockout violation. Policy: zero the offender's epoch weight.
	ConsensusFault Kind = "CONSENSUS_FAULT"
	// Transient: network timeout, peer unavailable. Policy: retry with jittered phi-backoff.
	Transient Kind = "TRANSIENT"
	// Configuration: bad constants, unreadable keys. Policy: fatal at startup.
	Configuration Kind = "CONFIGURATION"
	// DimensionEvaluation: evaluator error. Policy: partial judgment unless META fails.
	DimensionEvaluation Kind = "DIMENSION_EVALUATION"
)

// Severity mirrors the handling weight attached to each Kind in §7.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
	SeverityFatal  Severity = "fatal"
)

var kindSeverity = map[Kind]Severity{
	Integrity:           SeverityHigh,
	Protocol:            SeverityMedium,
	ResourceExhausted:   SeverityMedium,
	ConsensusFault:      SeverityHigh,
	Transient:           SeverityLow,
	Configuration:       SeverityFatal,
	DimensionEvaluation: SeverityLow,
}

// Severity returns the default severity for k.
func (k Kind) Severity() Severity {
	if s, ok := kindSeverity[k]; ok {
		return s
	}
	return SeverityMedium
}

// defaultRetriable reports whether a Kind is retriable absent an
// override — only Transient failures retry by default.
func (k Kind) defaultRetriable() bool {
	return k == Transient
}

// CynicError is the structured result a classified failure carries:
// {Kind, Reason, Retriable, CorrelationID}, plus an
// optional wrapped cause and free-form context for logging.
type CynicError struct {
	Kind          Kind
	Reason        string
	Retriable     bool
	CorrelationID string
	Context       map[string]any
	Cause         error
	At            time.Time
}

// Error implements the error interface.
func (e *CynicError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v (correlation=%s)", e.Kind, e.Reason, e.Cause, e.CorrelationID)
	}
	return fmt.Sprintf("[%s] %s (correlation=%s)", e.Kind, e.Reason, e.CorrelationID)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *CynicError) Unwrap() error { return e.Cause }

// New builds a CynicError of the given kind with a fresh correlation ID.
func New(kind Kind, reason string) *CynicError {
	return &CynicError{
		Kind:          kind,
		Reason:        reason,
		Retriable:     kind.defaultRetriable(),
		CorrelationID: uuid.NewString(),
		At:            time.Now().UTC(),
	}
}

// Newf builds a CynicError with a formatted reason.
func Newf(kind Kind, format string, args ...any) *CynicError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and reason to an existing error as its cause.
func Wrap(err error, kind Kind, reason string) *CynicError {
	e := New(kind, reason)
	e.Cause = err
	return e
}

// Wrapf wraps err with a formatted reason.
func Wrapf(err error, kind Kind, format string, args ...any) *CynicError {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// WithContext attaches a structured logging field and returns e for chaining.
func (e *CynicError) WithContext(key string, value any) *CynicError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetriable overrides the Kind's default retriability.
func (e *CynicError) WithRetriable(retriable bool) *CynicError {
	e.Retriable = retriable
	return e
}

// WithCorrelationID overrides the auto-generated correlation ID, for
// propagating one across a request/response boundary (e.g. an ID
// received from a peer).
func (e *CynicError) WithCorrelationID(id string) *CynicError {
	e.CorrelationID = id
	return e
}

// As reports whether err is (or wraps) a *CynicError, extracting it.
func As(err error) (*CynicError, bool) {
	var ce *CynicError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Is reports whether err is a CynicError of the given Kind.
func Is(err error, kind Kind) bool {
	ce, ok := As(err)
	return ok && ce.Kind == kind
}

// IsRetriable reports whether err should be retried. Non-CynicError
// values are never retried — only classified failures carry a retry
// policy.
func IsRetriable(err error) bool {
	ce, ok := As(err)
	return ok && ce.Retriable
}

// BackoffDuration computes the phi-multiplier backoff for Transient
// failures: base * phi^attempt. No jitter is applied; the same attempt
// always yields the same duration.
func BackoffDuration(base time.Duration, attempt int, phi float64) time.Duration {
	mult := 1.0
	for i := 0; i < attempt; i++ {
		mult *= phi
	}
	return time.Duration(float64(base) * mult)
}
