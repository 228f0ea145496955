// Package errs classifies errors crossing the internal/httpapi boundary into
// the error-kind taxonomy of spec.md §7, extended with MethodNotSupported
// to keep an unsupported DID method distinct from a malformed one (see
// DESIGN.md). Core packages (replay, resolver, store, submit) return plain
// wrapped errors or the specific sentinel errors declared alongside them;
// only the HTTP adapter needs to know which HTTP status and DID-resolution
// error code each one maps to.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the error classification of spec.md §7, extended with
// MethodNotSupported.
type Kind int

const (
	// Internal is the default classification: a server-side fault, surfaced
	// as 500 with an opaque message while the detail chain is logged.
	Internal Kind = iota
	// BadRequest is the caller's fault: invalid DID syntax, malformed hex,
	// suffix/encoded-state mismatch, or an empty submission batch.
	BadRequest
	// NotFound means the DID has no operations on chain and is not a
	// resolvable long-form DID.
	NotFound
	// Deactivated means the DID resolved but has been deactivated.
	Deactivated
	// MethodNotSupported means the DID string named a method other than
	// "prism"; surfaced as 501, distinct from a syntactically malformed DID.
	MethodNotSupported
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "BadRequest"
	case NotFound:
		return "NotFound"
	case Deactivated:
		return "Deactivated"
	case MethodNotSupported:
		return "MethodNotSupported"
	default:
		return "Internal"
	}
}

// classified wraps an error with an explicit Kind, set via Wrap.
type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap annotates err with an explicit classification, so Classify need not
// guess it back out of the message.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

// Wrapf is Wrap with fmt.Errorf-style formatting of the message, %w-wrapping
// err.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	return Wrap(kind, fmt.Errorf(format+": %w", append(args, err)...))
}

// Classify returns the explicit classification given to err via Wrap, or
// Internal if err was never classified (the conservative default: an
// unclassified error should never be mistaken for the caller's fault).
func Classify(err error) Kind {
	if err == nil {
		return Internal
	}
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return Internal
}
