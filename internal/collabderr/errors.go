// Package collabderr defines the error taxonomy collabd's components use
// to classify failures, so callers can branch on class with errors.Is
// instead of string matching.
package collabderr

import "errors"

var (
	// ErrAuthFailure: invalid or expired credential. Terminal — the
	// transport is closed with no frames sent.
	ErrAuthFailure = errors.New("auth failure")

	// ErrAccessDenied: principal lacks access to the document. Terminal.
	ErrAccessDenied = errors.New("access denied")

	// ErrDocumentNotFound: the document repository has no record and the
	// document could not be created. Terminal.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidFrame: unparseable or schema-violating client frame.
	// Recoverable — logged and dropped, connection stays open.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrInvalidOperation: operation fails Validate after transform.
	// Recoverable — reported to the originator only.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrResyncRequired: base_version is older than the retained window or
	// newer than the document's current version.
	// Recoverable — client should reload a fresh snapshot.
	ErrResyncRequired = errors.New("resync required")

	// ErrSlowConsumer: outbound queue overflowed. The transport is closed;
	// the client is expected to reconnect.
	ErrSlowConsumer = errors.New("slow consumer")

	// ErrInternal: unexpected fault during hub mutation. The hub's state
	// must remain consistent — mutation is all-or-nothing.
	ErrInternal = errors.New("internal error")
)

// Code maps a taxonomy error to the wire-level error code an error frame
// carries.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrDocumentNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidFrame):
		return "invalid_frame"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrResyncRequired):
		return "resync_required"
	case errors.Is(err, ErrSlowConsumer):
		return "slow_consumer"
	default:
		return "internal"
	}
}
