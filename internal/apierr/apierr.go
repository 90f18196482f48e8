// Package apierr tags errors flowing out of the sub-flow and sessionstore
// layers with the taxonomy the specification's error-handling design
// names, so ingress adapters can type-switch on a wrapped Kind to pick the
// externally-visible outcome without parsing error strings. Grounded on
// the teacher's sentinel-error style (internal/playground/registry.go's
// ErrPromptExists/ErrPromptNotFound, internal/rag/service/errors.go) and
// checked the same way, via errors.Is/errors.As.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories named in the specification's
// error handling design (§7).
type Kind string

const (
	// Transient marks an infrastructure failure that is expected to
	// succeed on retry (a dropped Postgres/Redis/Qdrant connection, an LLM
	// provider timeout). REST callers see 5xx; messaging callers still ack
	// 200 and drop the turn.
	Transient Kind = "transient"

	// ContentionTimeout marks a per-session lock that could not be
	// acquired within its wait window, meaning another turn for the same
	// session is already in flight. REST callers see 503; messaging
	// callers drop the turn silently.
	ContentionTimeout Kind = "contention_timeout"

	// Validation marks a caller-supplied input that failed validation
	// before any sub-flow ran (missing webhook parameters, a bad
	// signature, an empty message). REST callers see 4xx.
	Validation Kind = "validation"

	// LLMContractViolation marks a model response that didn't conform to
	// the JSON contract a prompt task expects. This Kind exists for
	// completeness with spec.md §7's taxonomy, but by design it never
	// escapes a sub-flow: promptrunner.Run's caller recovers locally
	// (falls back to a clarifying question or a safe default) rather than
	// propagating the violation to ingress.
	LLMContractViolation Kind = "llm_contract_violation"
)

// Error wraps an underlying cause with a Kind, letting callers recover the
// original error via errors.Unwrap/errors.As while ingress decides the
// externally-visible outcome from Kind alone.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("apierr: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("apierr: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a Kind-tagged Error, identifying the operation that
// failed. Returns nil if err is nil, so call sites can write
// `return apierr.New(apierr.Transient, "op", err)` unconditionally after an
// `if err != nil` guard without a second nil check.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is tagged with kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the tagged Kind from err, defaulting to Transient for an
// untagged error — every error that escapes a sub-flow or store without an
// explicit Kind is an infrastructure failure by construction, since
// Validation and LLMContractViolation are always tagged at their origin.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}
