package captcha

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures inside the captcha pipeline.
type ErrorKind string

const (
	KindTransientNetwork    ErrorKind = "TRANSIENT_NETWORK"    // recognition service unreachable or non-200
	KindMalformedResponse   ErrorKind = "MALFORMED_RESPONSE"   // non-zero code or unparsable body
	KindMissingElement      ErrorKind = "MISSING_ELEMENT"      // selector not on the page
	KindGeometryUnavailable ErrorKind = "GEOMETRY_UNAVAILABLE" // bounding box query failed
	KindInteraction         ErrorKind = "INTERACTION"          // pointer or page primitive failed
	KindAmbiguousOutcome    ErrorKind = "AMBIGUOUS_OUTCOME"    // neither success signal seen after a drag
)

// Recoverable reports whether the pipeline absorbs this kind with a default.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindTransientNetwork, KindMalformedResponse, KindMissingElement, KindGeometryUnavailable:
		return true
	}
	return false
}

// Error is a classified pipeline failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind checks if err wraps a captcha *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of a wrapped *Error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Kind
	}
	return ""
}
