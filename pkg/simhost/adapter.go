package simhost

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/simfuzz/simfuzz/pkg/arch"
	"github.com/simfuzz/simfuzz/pkg/config"
	"github.com/simfuzz/simfuzz/pkg/detector"
	"github.com/simfuzz/simfuzz/pkg/harness"
	"github.com/simfuzz/simfuzz/pkg/simerr"
	"github.com/simfuzz/simfuzz/pkg/simlog"
	"github.com/simfuzz/simfuzz/pkg/snapshot"
	"github.com/simfuzz/simfuzz/pkg/tracer"
)

// Adapter is the context object owned by the simulator's class-registration
// entry point and threaded through every callback closure, rather than
// being exposed as package-level state: one run, one Adapter.
type Adapter struct {
	sim    Simulator
	cfg    *config.Config
	logf   simlog.Func
	events *config.EventLog

	harness  *harness.Harness
	tracer   *tracer.Tracer
	detector *detector.Detector

	mu            sync.Mutex
	processors    map[int]arch.Adapter
	startCPU      ProcessorHandle
	traceCPUs     []ProcessorHandle
	timeoutEvent  TimeEventHandle
	timeoutArmed  bool
	iterCount     uint64
	rng           *rand.Rand
}

var _ ScriptAPI = (*Adapter)(nil)

// New builds an Adapter around a concrete Simulator and a frozen-at-start
// Config, wiring B/C/D/E per spec.md §4.H.
func New(sim Simulator, cfg *config.Config, events *config.EventLog, logf simlog.Func) *Adapter {
	if logf == nil {
		logf = simlog.Discard
	}
	a := &Adapter{
		sim:        sim,
		cfg:        cfg,
		logf:       logf,
		events:     events,
		processors: map[int]arch.Adapter{},
		rng:        rand.New(rand.NewSource(1)),
	}

	policy := detector.Policy{
		AllExceptionsAreSolutions:  cfg.AllExceptionsAreSolutions,
		AllBreakpointsAreSolutions: cfg.AllBreakpointsAreSolutions,
		Exceptions:                 cfg.Exceptions,
		Breakpoints:                cfg.Breakpoints,
	}
	a.detector = detector.New(policy, a.onDetectorStop)

	cpuForSnapshot := simCPU{sim: sim, cpu: func() ProcessorHandle { return a.startCPU }}
	backend := &serviceBackend{sim: sim, useSnapshots: cfg.UseSnapshots}
	snapshots := snapshot.NewManager(backend)
	a.harness = harness.New(cpuForSnapshot, snapshots)

	running := func() bool { return a.harness.State() == harness.Running }
	a.tracer = tracer.New(cfg.CoverageMapSize, cfg.CoverageMode, cfg.Cmplog, 4096, running)

	return a
}

func (a *Adapter) harnessConfig() harness.Config {
	return harness.Config{
		StartOnHarness: a.cfg.StartOnHarness,
		StopOnHarness:  a.cfg.StopOnHarness,
		MagicStart:     a.cfg.MagicStart,
		MagicStop:      a.cfg.MagicStop,
		MagicAssert:    a.cfg.MagicAssert,
		UseSnapshots:   a.cfg.UseSnapshots,
		TimeoutSeconds: a.cfg.TimeoutSeconds,
	}
}

// AttachStartProcessor registers the instruction/exception/breakpoint
// callbacks for the CPU that will carry the Start magic, per spec.md §4.H
// "default: only the start CPU".
func (a *Adapter) AttachStartProcessor(cpu ProcessorHandle) error {
	if err := a.harness.Configure(a.harnessConfig()); err != nil {
		return err
	}
	a.mu.Lock()
	a.startCPU = cpu
	a.mu.Unlock()
	return a.AddTraceProcessor(cpu)
}

// AddTraceProcessor implements the outbound add_trace_processor(cpu) call:
// an additional CPU's instructions feed the same coverage map (spec.md §8
// scenario 4).
func (a *Adapter) AddTraceProcessor(cpu ProcessorHandle) error {
	isa, err := a.isaFor(cpu)
	if err != nil {
		return err
	}
	adapter, ok := arch.FromHint(isa)
	if !ok {
		return fmt.Errorf("simhost: unknown architecture %q for cpu: %w", isa, simerr.ErrConfiguration)
	}
	a.mu.Lock()
	a.processors[cpuIndexKey(cpu)] = adapter
	a.traceCPUs = append(a.traceCPUs, cpu)
	a.mu.Unlock()

	if err := a.sim.RegisterInstructionCB(cpu, func(pc uint64) { a.onInstruction(cpu, pc) }); err != nil {
		return err
	}
	if err := a.sim.RegisterExceptionCB(func(c ProcessorHandle, number int64) { a.detector.OnException(number) }); err != nil {
		return err
	}
	return a.sim.RegisterBreakpointCB(func(id int64) { a.detector.OnBreakpoint(id) })
}

// AddArchitectureHint implements the outbound add_architecture_hint call,
// overriding the per-processor adapter selection.
func (a *Adapter) AddArchitectureHint(cpu ProcessorHandle, hint string) error {
	adapter, ok := arch.FromHint(hint)
	if !ok {
		return fmt.Errorf("simhost: unknown architecture hint %q: %w", hint, simerr.ErrConfiguration)
	}
	a.mu.Lock()
	a.processors[cpuIndexKey(cpu)] = adapter
	a.mu.Unlock()
	return nil
}

func (a *Adapter) isaFor(cpu ProcessorHandle) (string, error) {
	return a.sim.ProcessorArchitecture(cpu)
}

func cpuIndexKey(cpu ProcessorHandle) int {
	return int(cpu.id)
}

func (a *Adapter) adapterFor(cpu ProcessorHandle) arch.Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processors[cpuIndexKey(cpu)]
}

func (a *Adapter) onInstruction(cpu ProcessorHandle, pc uint64) {
	isaAdapter := a.adapterFor(cpu)
	if isaAdapter == nil {
		return
	}
	tcpu := traceCPU{sim: a.sim, cpu: cpu}

	if a.harness.State() == harness.Configured && a.cfg.StartOnHarness && cpu == a.startCPU {
		a.maybeMagicStart(isaAdapter, tcpu, cpu, pc)
	}
	_ = a.tracer.OnInstruction(isaAdapter, tcpu, pc)

	if a.harness.State() == harness.Running {
		a.maybeMagicStopOrAssert(isaAdapter, tcpu, cpu, pc)
	}
}

// resolveMagic decodes the magic instruction at pc and returns its numeric
// magic value, reading it from the register the ISA designates (x86's cpuid
// leaf in EAX, RISC-V's ebreak via t0) when the opcode carries no usable
// immediate of its own (spec.md §4.A).
func (a *Adapter) resolveMagic(isaAdapter arch.Adapter, tcpu traceCPU, cpu ProcessorHandle, pc uint64) (int64, bool) {
	bytes, err := a.sim.InstructionBytes(cpu, pc)
	if err != nil {
		return 0, false
	}
	if err := isaAdapter.Disassemble(pc, bytes); err != nil {
		return 0, false
	}
	magic, ok := isaAdapter.MagicNumberFromInstruction()
	if !ok {
		return 0, false
	}
	if reg, hasReg := isaAdapter.MagicValueRegister(); hasReg {
		v, err := tcpu.ReadRegister(reg)
		if err != nil {
			return 0, false
		}
		magic = int64(v)
	}
	return magic, true
}

func (a *Adapter) maybeMagicStart(isaAdapter arch.Adapter, tcpu traceCPU, cpu ProcessorHandle, pc uint64) {
	magic, ok := a.resolveMagic(isaAdapter, tcpu, cpu, pc)
	if !ok || magic != a.cfg.MagicStart {
		return
	}
	layout := isaAdapter.RegistersForTestcaseLayout()
	bufAddr, _ := tcpu.ReadRegister(layout.BufferReg)
	sizeArg, _ := tcpu.ReadRegister(layout.SizeReg)
	subCodeArg, _ := tcpu.ReadRegister(layout.SubCodeReg)

	subCode := harness.MagicSubCode(subCodeArg)
	desc := harness.Descriptor{
		BufferAddr: bufAddr,
		SizeWidth:  8,
		UseVirtual: true,
	}
	// sizeArg means different things per calling convention: a pointer to
	// the size cell (PtrSizePtr/PtrSizePtrVal) or the immediate hard max
	// itself (PtrSizeVal). PtrSizePtrVal additionally carries the real hard
	// max in ValReg, distinct from the size-cell pointer (spec.md §4.E).
	switch subCode {
	case harness.StartBufferPtrSizeVal:
		desc.MaxSize = sizeArg
	case harness.StartBufferPtrSizePtrVal:
		desc.SizeAddr = sizeArg
		valArg, _ := tcpu.ReadRegister(layout.ValReg)
		desc.MaxSize = valArg
	default:
		desc.SizeAddr = sizeArg
	}
	if err := a.harness.OnMagicStart(context.Background(), subCode, desc); err != nil {
		a.logf(0, "simhost: magic start failed: %v", err)
		return
	}
	a.cfg.Freeze()
}

func (a *Adapter) maybeMagicStopOrAssert(isaAdapter arch.Adapter, tcpu traceCPU, cpu ProcessorHandle, pc uint64) {
	magic, ok := a.resolveMagic(isaAdapter, tcpu, cpu, pc)
	if !ok {
		return
	}
	switch magic {
	case a.cfg.MagicStop:
		a.detector.OnNormalStop()
		a.harness.OnMagicStop()
	case a.cfg.MagicAssert:
		a.detector.OnAssert()
	}
}

// onDetectorStop is the single funnel every stop condition (timeout,
// exception, breakpoint, manual, Stop-magic) passes through when the
// detector reports it. A later condition of higher precedence in the same
// execution is reported again (see detector.StopFunc), so this can run more
// than once per execution. It is the right place to withdraw the simulator-level
// timeout event and unblock NextInput's ContinueSimulation call, regardless
// of which condition actually fired.
func (a *Adapter) onDetectorStop(reason detector.StopReason) {
	a.detector.CancelTimeout()
	a.cancelTimeout()
	if reason.Kind != detector.KindNone {
		a.harness.OnSolution(reason.Kind, reason.Detail)
	}
	if err := a.sim.BreakSimulation("stop"); err != nil {
		a.logf(0, "simhost: break simulation failed: %v", err)
	}
}

// Harness exposes the underlying state machine for the driver.
func (a *Adapter) Harness() *harness.Harness { return a.harness }

// Tracer exposes the tracer for the driver's feedback computation.
func (a *Adapter) Tracer() *tracer.Tracer { return a.tracer }

// RNG returns the adapter's shared random source, used to re-randomise
// prevLocHash at the start of each execution.
func (a *Adapter) RNG() *rand.Rand { return a.rng }
