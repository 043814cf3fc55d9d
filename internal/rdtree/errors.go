package rdtree

import "errors"

// Sentinel errors mapped to the host error vocabulary. Every public
// operation returns (or wraps, via %w) one of these so callers can test
// with errors.Is across the vtab boundary.
var (
	// ErrInvalidArgument covers malformed constraint blobs, bad
	// bits/bytes(N) syntax, unknown CREATE options, and mismatched BFP
	// lengths passed to a scalar function.
	ErrInvalidArgument = errors.New("rdtree: invalid argument")

	// ErrCorruption covers an inconsistency between the node table and
	// the mapping tables: a rowid that points at a node not containing
	// it, an over-full node, or a root depth that disagrees with the
	// observed leaf depth.
	ErrCorruption = errors.New("rdtree: corrupted index")

	// ErrHostIO covers a failure in the underlying page read/write.
	ErrHostIO = errors.New("rdtree: host I/O failure")

	// ErrConstraint covers insertion of a rowid that already exists.
	ErrConstraint = errors.New("rdtree: constraint violation")

	// ErrInterrupted covers a host interrupt observed between cursor
	// steps.
	ErrInterrupted = errors.New("rdtree: interrupted")
)
