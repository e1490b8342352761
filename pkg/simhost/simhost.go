// Package simhost is the thin adapter translating Simulator Service
// callbacks into calls on the tracer/detector/harness (component H,
// spec.md §4.H), and the context object the rest of the core is threaded
// through instead of a module-wide singleton (spec.md §9).
package simhost

import "context"

// ConfObjectHandle and ProcessorHandle are newtyped handles confining raw
// simulator pointers to this package; the rest of the core only ever sees
// these opaque tokens (spec.md §9).
type ConfObjectHandle struct{ id uintptr }
type ProcessorHandle struct{ id uintptr }

func NewConfObjectHandle(id uintptr) ConfObjectHandle { return ConfObjectHandle{id: id} }
func NewProcessorHandle(id uintptr) ProcessorHandle   { return ProcessorHandle{id: id} }

// TimeEventHandle identifies a posted virtual-time timeout event, returned
// by PostTimeEvent and consumed by CancelTimeEvent.
type TimeEventHandle struct{ id uint64 }

// Simulator is the *Simulator Service* spec.md §6 lists as inbound
// operations — an opaque, in-process Go interface per SPEC_FULL §6. A real
// binding lives outside this repo; LocalSimulator (local.go) is an
// in-memory fake satisfying it for tests and for cmd/simfuzz-host.
type Simulator interface {
	RegisterInstructionCB(cpu ProcessorHandle, fn func(pc uint64)) error
	RegisterCachedInstructionCB(cpu ProcessorHandle, fn func(pc uint64)) error
	RegisterExceptionCB(fn func(cpu ProcessorHandle, number int64)) error
	RegisterBreakpointCB(fn func(id int64)) error

	PostTimeEvent(cpu ProcessorHandle, seconds float64, fn func()) (TimeEventHandle, error)
	CancelTimeEvent(h TimeEventHandle) error

	ReadMemory(cpu ProcessorHandle, addr uint64, length int, virtual bool) ([]byte, error)
	WriteMemory(cpu ProcessorHandle, addr uint64, data []byte, virtual bool) error
	ReadRegister(cpu ProcessorHandle, name string) (uint64, error)
	WriteRegister(cpu ProcessorHandle, name string, value uint64) error
	InstructionBytes(cpu ProcessorHandle, pc uint64) ([]byte, error)

	SnapshotSave(name string) error
	SnapshotRestore(name string) error
	SnapshotDelete(name string) error
	MicrocheckpointSave(name string, flags int) error
	MicrocheckpointRestore(index int) error
	DiscardFuture() error

	BreakSimulation(msg string) error
	ContinueSimulation() error

	GetProcessor(index int) (ProcessorHandle, error)
	ProcessorNumber(cpu ProcessorHandle) (int, error)
	ProcessorArchitecture(cpu ProcessorHandle) (string, error)
}

// ScriptAPI is the outbound scripting surface the core exposes to the
// simulator (spec.md §6) — set_<field>/get_<field> per config field (left
// to pkg/config's exported setters/fields directly, consumed via Go rather
// than string dispatch), plus the four-verb shape SPEC_FULL §12 adopts
// from TSFFS's client IPC framing (Initialize/Reset/Run/Exit).
type ScriptAPI interface {
	// Start is the explicit harness-without-magic entry point
	// (start(buffer_addr, size_addr_or_max, size_width, virtual?)).
	Start(ctx context.Context, bufferAddr, sizeAddrOrMax uint64, sizeWidth int, virtual bool) error
	// NextInput submits one candidate testcase and runs it to completion,
	// corresponding to TSFFS's client Reset+Run pair collapsed into one
	// call since this design keeps the driver in-process (documented as a
	// deliberate simplification, DESIGN.md Open Questions).
	NextInput(ctx context.Context, bytes []byte) error
	// Stop is the explicit manual stop() API.
	Stop() error
	// Exit performs best-effort cleanup and transitions to Done.
	Exit()

	AddTraceProcessor(cpu ProcessorHandle) error
	AddArchitectureHint(cpu ProcessorHandle, hint string) error
}
