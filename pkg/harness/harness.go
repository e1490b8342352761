// Package harness implements the harness/control state machine: the single
// state variable, the three Start calling conventions, and testcase
// injection, per spec.md §4.E.
package harness

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/simfuzz/simfuzz/pkg/detector"
	"github.com/simfuzz/simfuzz/pkg/simerr"
	"github.com/simfuzz/simfuzz/pkg/snapshot"
)

// CPU is the register/memory surface the harness needs for injection,
// mirroring spec.md §6's read_register/write_register/read_memory/
// write_memory Simulator Service calls.
type CPU interface {
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, value uint64) error
	ReadMemory(addr uint64, length int, virtual bool) ([]byte, error)
	WriteMemory(addr uint64, data []byte, virtual bool) error
}

// Descriptor is captured once at the first Start event and is immutable
// for the rest of the run (spec.md §3).
type Descriptor struct {
	Convention CallingConvention

	BufferAddr uint64
	// SizeAddr is the size-cell address, valid for PtrSizePtr/PtrSizePtrVal.
	SizeAddr uint64
	// MaxSize is the immediate hard max, valid for PtrSizeVal/PtrSizePtrVal;
	// for PtrSizePtr it is read from the size cell on Start.
	MaxSize uint64

	SizeWidth  int // 1, 2, 4, or 8
	BigEndian  bool
	UseVirtual bool
}

// byteOrder returns the encoding to use for the size cell.
func (d Descriptor) byteOrder() binary.ByteOrder {
	if d.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// SolutionKind re-exports detector.SolutionKind so callers of this package
// don't need to import pkg/detector directly.
type SolutionKind = detector.SolutionKind

const (
	KindNone       = detector.KindNone
	KindTimeout    = detector.KindTimeout
	KindException  = detector.KindException
	KindBreakpoint = detector.KindBreakpoint
	KindManual     = detector.KindManual
)

// StopReason is the closed sum type SPEC_FULL §12 adopts from
// original_source's StopReason/SolutionKind: Normal carries no detail,
// Solution carries a kind and a numeric detail (exception/breakpoint
// number).
type StopReason interface {
	Kind() SolutionKind
	isStopReason()
}

// Normal is a non-solution stop (Stop-magic or explicit stop()).
type Normal struct{}

func (Normal) Kind() SolutionKind { return KindNone }
func (Normal) isStopReason()      {}

// Solution is a stop classified as interesting by the detector.
type Solution struct {
	SolutionKind SolutionKind
	Detail       int64
}

func (s Solution) Kind() SolutionKind { return s.SolutionKind }
func (Solution) isStopReason()        {}

// Config is the subset of the global configuration the harness consults
// directly; pkg/config.Config is converted to this at Configure time.
type Config struct {
	StartOnHarness bool
	StopOnHarness  bool
	MagicStart     int64
	MagicStop      int64
	MagicAssert    int64
	UseSnapshots   bool
	TimeoutSeconds float64
}

// Harness is the root owner described in spec.md §9: tracer and detector
// receive handles into it (via callbacks), never back-pointers.
type Harness struct {
	runID string

	mu    sync.Mutex
	state stateBox
	cfg   Config
	desc  *Descriptor

	snapshots *snapshot.Manager
	cpu       CPU

	// pendingReason is recorded on the transition into Stopped and handed
	// to the driver (then cleared) by TakeStopReason.
	pendingReason StopReason
}

// New constructs a Harness against a CPU and snapshot manager. Both are
// acquired from pkg/simhost at startup and held for the run's lifetime.
func New(cpu CPU, snapshots *snapshot.Manager) *Harness {
	h := &Harness{
		runID:     uuid.NewString(),
		snapshots: snapshots,
		cpu:       cpu,
	}
	return h
}

// RunID uniquely identifies this harness instance across process restarts,
// used for event-log correlation.
func (h *Harness) RunID() string { return h.runID }

// State returns the current execution state.
func (h *Harness) State() State { return h.state.load() }

// Configure transitions Uninitialized -> Configured.
func (h *Harness) Configure(cfg Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.load() != Uninitialized {
		return fmt.Errorf("configure: harness already configured: %w", simerr.ErrConfiguration)
	}
	h.cfg = cfg
	h.state.store(Configured)
	return nil
}

// StartExplicit implements the explicit start(descriptor) API (spec.md §6
// outbound start()), independent of a MagicStart hit.
func (h *Harness) StartExplicit(ctx context.Context, desc Descriptor) error {
	return h.start(ctx, desc)
}

// OnMagicStart implements the MagicStart path: the caller (pkg/simhost,
// having recognised the magic opcode via the architecture adapter) derives
// a Descriptor from the sub-code and live registers and hands it here.
func (h *Harness) OnMagicStart(ctx context.Context, subCode MagicSubCode, desc Descriptor) error {
	if !h.cfg.StartOnHarness {
		return nil
	}
	convention, ok := conventionFromSubCode(subCode)
	if !ok {
		return fmt.Errorf("magic start: unrecognised sub-code %d: %w", subCode, simerr.ErrConfiguration)
	}
	desc.Convention = convention
	return h.start(ctx, desc)
}

func (h *Harness) start(ctx context.Context, desc Descriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	// spec.md §9 open question: two CPUs simultaneously hitting Start —
	// first wins, second ignored.
	if h.state.load() != Configured {
		return nil
	}

	if desc.Convention == PtrSizePtr {
		maxBytes, err := h.cpu.ReadMemory(desc.SizeAddr, desc.SizeWidth, desc.UseVirtual)
		if err != nil {
			return fmt.Errorf("start: read size cell: %w", simerr.ErrMemoryAccessFailure)
		}
		desc.MaxSize = decodeUint(desc.byteOrder(), maxBytes)
	}
	h.desc = &desc

	if _, err := h.snapshots.Take(ctx, h.runID); err != nil {
		return err
	}
	h.state.store(SnapshotTaken)
	h.state.store(Ready)
	return nil
}

// Descriptor returns the captured harness descriptor, if Start has fired.
func (h *Harness) Descriptor() (Descriptor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.desc == nil {
		return Descriptor{}, false
	}
	return *h.desc, true
}

// NextInput restores the snapshot (except on the very first iteration,
// which is already at the post-Take Ready state) and injects bytes into
// the target's testcase buffer, per spec.md §4.E.
func (h *Harness) NextInput(ctx context.Context, bytes []byte, firstIteration bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.load() != Ready {
		return fmt.Errorf("next_input: not ready (state=%s): %w", h.state.load(), simerr.ErrConfiguration)
	}
	if !firstIteration {
		if err := h.snapshots.Restore(ctx); err != nil {
			return err
		}
	}
	if err := h.inject(bytes); err != nil {
		return err
	}
	h.state.store(Running)
	return nil
}

// inject writes bytes (truncated to the descriptor's max) into the target
// buffer and, where the calling convention requires it, writes the actual
// size back to the size location.
func (h *Harness) inject(bytes []byte) error {
	d := *h.desc
	n := uint64(len(bytes))
	if d.MaxSize > 0 && n > d.MaxSize {
		n = d.MaxSize
	}
	payload := bytes[:n]

	if err := h.cpu.WriteMemory(d.BufferAddr, payload, d.UseVirtual); err != nil {
		return fmt.Errorf("inject: write buffer: %w", simerr.ErrMemoryAccessFailure)
	}

	switch d.Convention {
	case PtrSizePtr, PtrSizePtrVal:
		buf := make([]byte, d.SizeWidth)
		encodeUint(d.byteOrder(), buf, n)
		if err := h.cpu.WriteMemory(d.SizeAddr, buf, d.UseVirtual); err != nil {
			return fmt.Errorf("inject: write size cell: %w", simerr.ErrMemoryAccessFailure)
		}
	case PtrSizeVal:
		// No write-back; the target already has its hard max as an
		// immediate.
	}
	return nil
}

// OnMagicStop implements the MagicStop path (Running -> Stopped(Normal)).
func (h *Harness) OnMagicStop() {
	if !h.cfg.StopOnHarness {
		return
	}
	h.toStopped(Normal{})
}

// StopExplicit implements the explicit stop() API.
func (h *Harness) StopExplicit() {
	h.toStopped(Normal{})
}

// OnSolution is called by the detector (via the simhost trampoline) once it
// classifies a stop as a solution.
func (h *Harness) OnSolution(kind SolutionKind, detail int64) {
	h.toStopped(Solution{SolutionKind: kind, Detail: detail})
}

func (h *Harness) toStopped(reason StopReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.load() != Running {
		return
	}
	h.pendingReason = reason
	h.state.store(Stopped)
}

// TakeStopReason consumes the pending stop reason and transitions
// Stopped -> Ready, per spec.md's "driver picks feedback and solution
// classification -> Ready" transition.
func (h *Harness) TakeStopReason() (StopReason, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.load() != Stopped {
		return nil, false
	}
	reason := h.pendingReason
	h.pendingReason = nil
	h.state.store(Ready)
	return reason, true
}

// Exit performs best-effort cleanup and transitions to the terminal Done
// state from any prior state.
func (h *Harness) Exit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.store(Done)
}

func decodeUint(order binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	default:
		return 0
	}
}

func encodeUint(order binary.ByteOrder, buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	}
}
