// Package errs defines the typed error kinds used across the acquisition
// engine (spec §7). Callers discriminate kinds with errors.Is/As; each
// kind wraps an underlying cause so the original error text is preserved.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the enumerated error categories.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnknownSource
	KindConfigError
	KindUpstreamTransient
	KindUpstreamPermanent
	KindQuotaExhausted
	KindCircuitOpen
	KindTimeout
	KindStorageError
	KindClassifierError
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindUnknownSource:
		return "UnknownSource"
	case KindConfigError:
		return "ConfigError"
	case KindUpstreamTransient:
		return "UpstreamTransient"
	case KindUpstreamPermanent:
		return "UpstreamPermanent"
	case KindQuotaExhausted:
		return "QuotaExhausted"
	case KindCircuitOpen:
		return "CircuitOpen"
	case KindTimeout:
		return "Timeout"
	case KindStorageError:
		return "StorageError"
	case KindClassifierError:
		return "ClassifierError"
	case KindParseError:
		return "ParseError"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrapped error carrying one of the enumerated Kinds.
type Error struct {
	Kind Kind
	Op   string // what was being attempted, e.g. "harvest demo"
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err (or a plain message if err is nil) with kind and op.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retriable reports whether an error kind is eligible for the Runner's
// backoff-and-retry loop (transient network/5xx/parse failures only).
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamTransient, KindParseError:
		return true
	default:
		return false
	}
}
