// Package simerr defines the sentinel errors shared across the control
// plane. Call sites wrap these with fmt.Errorf("...: %w", ...) so callers
// can still errors.Is against the kind while getting a useful message.
package simerr

import "errors"

var (
	// ErrDecodeFailure means an architecture adapter could not decode an
	// instruction. Locally recovered: the instruction is skipped for
	// coverage purposes and execution continues.
	ErrDecodeFailure = errors.New("adapter: instruction decode failure")

	// ErrMemoryAccessFailure means a read or write of target memory
	// failed. During injection this aborts the iteration; during cmplog
	// operand resolution it just drops that one record.
	ErrMemoryAccessFailure = errors.New("simulator: memory access failure")

	// ErrCmplogOverflow means the cmplog map was full; the new record was
	// dropped silently (callers may still count it).
	ErrCmplogOverflow = errors.New("tracer: cmplog map overflow")

	// ErrSnapshotFailure means a snapshot save or restore failed. Fatal:
	// drives the harness to Done.
	ErrSnapshotFailure = errors.New("snapshot: save or restore failed")

	// ErrConfiguration means an invalid field value was supplied, or a
	// mutation was attempted after the configuration froze.
	ErrConfiguration = errors.New("config: invalid or frozen configuration")

	// ErrHarnessAbsent means the first run started without a discoverable
	// harness and without an explicit start() call. Fatal.
	ErrHarnessAbsent = errors.New("harness: no harness discovered")

	// ErrSimulatorException wraps an exception thrown by the simulator
	// itself (as opposed to the target). Fatal if raised during snapshot
	// or restore, otherwise logged and the iteration is aborted.
	ErrSimulatorException = errors.New("simulator: exception raised")
)
