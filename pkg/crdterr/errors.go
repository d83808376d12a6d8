// Package crdterr collects the sentinel error taxonomy of spec.md §7.
// Every fallible entry point in this module wraps one of these with
// github.com/pkg/errors so callers can both errors.Is against a
// sentinel and errors.Cause through to the original failure.
package crdterr

import "github.com/pkg/errors"

var (
	// ErrEncoding covers malformed LEB128, truncated columns, bad UTF-8,
	// out-of-order column specs, or an unexpected null in a required
	// column.
	ErrEncoding = errors.New("encoding error")

	// ErrChecksumMismatch means a chunk header's checksum disagrees
	// with the computed one.
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")

	// ErrMissingDep means a change names a parent hash not yet present.
	// Recoverable: apply_changes buffers the change and retries later.
	ErrMissingDep = errors.New("missing dependency")

	// ErrOpsOutOfOrder means document ops were encountered in a
	// non-canonical order. Fatal for the load in progress.
	ErrOpsOutOfOrder = errors.New("ops out of canonical order")

	// ErrDuplicateChange means a change hash has already been applied.
	// Idempotent: callers should treat this as success.
	ErrDuplicateChange = errors.New("duplicate change")

	// ErrInvalidObjectId means the caller addressed an object that does
	// not exist.
	ErrInvalidObjectId = errors.New("invalid object id")

	// ErrInvalidOpId means the caller addressed an op that does not
	// exist.
	ErrInvalidOpId = errors.New("invalid op id")

	// ErrInvalidProp means the caller addressed a property that does
	// not exist on this object.
	ErrInvalidProp = errors.New("invalid property")

	// ErrMismatchingHeads means a loaded document chunk's reconstructed
	// heads disagree with its declared heads. Only raised under
	// VerificationMode Check.
	ErrMismatchingHeads = errors.New("mismatching heads after load")

	// ErrInvalidChangeRequest means a transaction op violates a type
	// constraint, e.g. indexed access on a map.
	ErrInvalidChangeRequest = errors.New("invalid change request")
)
