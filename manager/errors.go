package manager

import "errors"

// Sentinel error taxonomy, matched with errors.Is and wrapped with
// fmt.Errorf("...: %w", err) at each layer boundary.
var (
	// ErrOutOfSpace is returned when the allocator cannot satisfy a Push.
	// The bundle is not admitted; allocator and catalog are left unchanged.
	ErrOutOfSpace = errors.New("manager: out of space")

	// ErrNotRead is returned by Remove when a read session hasn't consumed
	// its whole chain and force was not set.
	ErrNotRead = errors.New("manager: chain not fully read")

	// ErrIOFailure wraps a short read/write or seek error from a disk
	// pipeline. The affected operation fails; the engine keeps serving
	// other bundles.
	ErrIOFailure = errors.New("manager: io failure")

	// ErrCorruptHeader names the condition of a segment's on-disk reserved
	// header disagreeing with the in-memory chain during a read.
	// ReadNextSegment logs a warning for it and continues; this sentinel
	// is neither returned nor attached to that log entry.
	ErrCorruptHeader = errors.New("manager: corrupt segment header")

	// ErrRestoreFailure names a chain-walk inconsistency found during
	// startup restore. New does not return it: it logs the restore
	// package's error and starts empty, leaving on-disk files intact for
	// forensic inspection.
	ErrRestoreFailure = errors.New("manager: restore failure")

	// ErrInvalidID is returned by a free of an already-free segment ID.
	// It indicates a programming error and is fatal to the caller's
	// current operation.
	ErrInvalidID = errors.New("manager: invalid segment id")

	// ErrStopped is returned by PushBegin, PushAllSegments and PopTop once
	// Stop has been called. ReturnTop, ReadNextSegment and Remove do not
	// check for it.
	ErrStopped = errors.New("manager: engine stopped")

	// ErrChainExhausted names the condition of every segment of a read
	// session's chain having been delivered. ReadNextSegment reports that
	// condition as io.EOF, not as this sentinel.
	ErrChainExhausted = errors.New("manager: read chain exhausted")
)
