package segment

import "errors"

// Sentinel error kinds a caller can match with errors.Is. They mirror the
// three error kinds spec.md §7 distinguishes: failures that must propagate
// (IOFailure), failures that mean "try something else" (Unavailable), and
// caller mistakes (ArgumentRange).
var (
	// ErrIOFailure marks a failure opening, mapping, writing, forcing,
	// closing or deleting the backing file. Init and LastModifiedTime
	// return it directly; elsewhere it is logged and swallowed.
	ErrIOFailure = errors.New("segment: io failure")

	// ErrUnavailable marks an operation refused because the segment is
	// shutting down or already full.
	ErrUnavailable = errors.New("segment: unavailable")

	// ErrArgumentRange marks a pos/size argument outside [0, readPosition].
	ErrArgumentRange = errors.New("segment: argument out of range")
)
