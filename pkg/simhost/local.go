package simhost

import "fmt"

// LocalSimulator is an in-memory fake satisfying Simulator, used by this
// package's own tests and by cmd/simfuzz-host, which always runs against it
// (a no-simulator smoke-test path). The real binding to an actual full-system simulator
// lives outside this repo (spec.md §1 treats the simulator host as an
// opaque external collaborator); LocalSimulator only needs to drive the
// callback sequence a real one would, which is all the core ever consumes.
//
// Instruction/exception/breakpoint delivery is test-driven rather than
// backed by a real instruction-stepping loop: callers invoke FireInstruction/
// FireException/FireBreakpoint/AdvanceVirtualTime explicitly to script a
// scenario, exactly the way the sibling packages' fakes (harness_test.go's
// fakeCPU, detector_test.go's fake policy) are driven by hand rather than by
// a real target binary.
type LocalSimulator struct {
	registers map[int]map[string]uint64
	memory    map[uint64][]byte
	instrs    map[uint64][]byte
	archs     map[int]string

	instructionCBs       map[int]func(pc uint64)
	cachedInstructionCBs map[int]func(pc uint64)
	exceptionCBs         []func(cpu ProcessorHandle, number int64)
	breakpointCBs        []func(id int64)

	nextTimeEvent uint64
	timeEvents    map[uint64]*timeEvent

	virtualSeconds float64

	snapshots map[string]map[uint64][]byte
	snapRegs  map[string]map[int]map[string]uint64
	checkpointStack []string

	running bool
	stopMsg string
}

type timeEvent struct {
	cpu     ProcessorHandle
	fireAt  float64
	fn      func()
	pending bool
}

// NewLocalSimulator builds an empty fake with no processors registered yet;
// call AddProcessor to populate one before use.
func NewLocalSimulator() *LocalSimulator {
	return &LocalSimulator{
		registers:            map[int]map[string]uint64{},
		memory:               map[uint64][]byte{},
		instrs:               map[uint64][]byte{},
		archs:                map[int]string{},
		instructionCBs:       map[int]func(pc uint64){},
		cachedInstructionCBs: map[int]func(pc uint64){},
		timeEvents:           map[uint64]*timeEvent{},
		snapshots:            map[string]map[uint64][]byte{},
		snapRegs:             map[string]map[int]map[string]uint64{},
	}
}

// AddProcessor registers processor index with the given self-reported
// architecture string (spec.md §6 ProcessorArchitecture) and returns its
// handle.
func (s *LocalSimulator) AddProcessor(index int, archName string) ProcessorHandle {
	s.registers[index] = map[string]uint64{}
	s.archs[index] = archName
	return ProcessorHandle{id: uintptr(index)}
}

// SetInstructionBytes stages the bytes InstructionBytes(pc) returns, as if
// they had been fetched from target memory at pc.
func (s *LocalSimulator) SetInstructionBytes(pc uint64, b []byte) { s.instrs[pc] = b }

// WriteMemoryDirect seeds target memory without going through the
// Simulator.WriteMemory path (used to set up a scenario's initial state).
func (s *LocalSimulator) WriteMemoryDirect(addr uint64, b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	s.memory[addr] = cp
}

// RegisterValue reads a register directly, for test assertions.
func (s *LocalSimulator) RegisterValue(cpu ProcessorHandle, name string) uint64 {
	return s.registers[cpuIdx(cpu)][name]
}

// FireInstruction drives the registered instruction callback(s) for cpu at
// pc, simulating the simulator having just fetched and retired that
// instruction. Prefers the cached-instruction callback if one was
// registered, matching the real service's preference (spec.md §4.B).
func (s *LocalSimulator) FireInstruction(cpu ProcessorHandle, pc uint64) {
	idx := cpuIdx(cpu)
	if fn, ok := s.cachedInstructionCBs[idx]; ok {
		fn(pc)
		return
	}
	if fn, ok := s.instructionCBs[idx]; ok {
		fn(pc)
	}
}

// FireException drives every registered exception callback.
func (s *LocalSimulator) FireException(cpu ProcessorHandle, number int64) {
	for _, fn := range s.exceptionCBs {
		fn(cpu, number)
	}
}

// FireBreakpoint drives every registered breakpoint callback.
func (s *LocalSimulator) FireBreakpoint(id int64) {
	for _, fn := range s.breakpointCBs {
		fn(id)
	}
}

// AdvanceVirtualTime moves the fake's virtual clock forward and fires any
// time events whose deadline has passed, in posting order — modelling
// spec.md §5's "timeout is a virtual-time event posted on the CPU's clock".
func (s *LocalSimulator) AdvanceVirtualTime(seconds float64) {
	s.virtualSeconds += seconds
	for _, id := range sortedTimeEventIDs(s.timeEvents) {
		ev := s.timeEvents[id]
		if ev.pending && ev.fireAt <= s.virtualSeconds {
			ev.pending = false
			ev.fn()
		}
	}
}

func sortedTimeEventIDs(m map[uint64]*timeEvent) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// StopRequested reports whether BreakSimulation was called since the last
// ContinueSimulation, letting a test's instruction-feeding loop know when to
// stop — standing in for the real simulator noticing break_simulation and
// unwinding its instruction loop.
func (s *LocalSimulator) StopRequested() bool { return !s.running }

func cpuIdx(cpu ProcessorHandle) int { return int(cpu.id) }

func (s *LocalSimulator) RegisterInstructionCB(cpu ProcessorHandle, fn func(pc uint64)) error {
	s.instructionCBs[cpuIdx(cpu)] = fn
	return nil
}

func (s *LocalSimulator) RegisterCachedInstructionCB(cpu ProcessorHandle, fn func(pc uint64)) error {
	s.cachedInstructionCBs[cpuIdx(cpu)] = fn
	return nil
}

func (s *LocalSimulator) RegisterExceptionCB(fn func(cpu ProcessorHandle, number int64)) error {
	s.exceptionCBs = append(s.exceptionCBs, fn)
	return nil
}

func (s *LocalSimulator) RegisterBreakpointCB(fn func(id int64)) error {
	s.breakpointCBs = append(s.breakpointCBs, fn)
	return nil
}

func (s *LocalSimulator) PostTimeEvent(cpu ProcessorHandle, seconds float64, fn func()) (TimeEventHandle, error) {
	s.nextTimeEvent++
	id := s.nextTimeEvent
	s.timeEvents[id] = &timeEvent{cpu: cpu, fireAt: s.virtualSeconds + seconds, fn: fn, pending: true}
	return TimeEventHandle{id: id}, nil
}

func (s *LocalSimulator) CancelTimeEvent(h TimeEventHandle) error {
	if ev, ok := s.timeEvents[h.id]; ok {
		ev.pending = false
	}
	return nil
}

func (s *LocalSimulator) ReadMemory(cpu ProcessorHandle, addr uint64, length int, virtual bool) ([]byte, error) {
	b, ok := s.memory[addr]
	if !ok {
		return nil, fmt.Errorf("simhost: unmapped read at 0x%x", addr)
	}
	if len(b) < length {
		return nil, fmt.Errorf("simhost: short read at 0x%x", addr)
	}
	out := make([]byte, length)
	copy(out, b[:length])
	return out, nil
}

func (s *LocalSimulator) WriteMemory(cpu ProcessorHandle, addr uint64, data []byte, virtual bool) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.memory[addr] = cp
	return nil
}

func (s *LocalSimulator) ReadRegister(cpu ProcessorHandle, name string) (uint64, error) {
	return s.registers[cpuIdx(cpu)][name], nil
}

func (s *LocalSimulator) WriteRegister(cpu ProcessorHandle, name string, value uint64) error {
	s.registers[cpuIdx(cpu)][name] = value
	return nil
}

func (s *LocalSimulator) InstructionBytes(cpu ProcessorHandle, pc uint64) ([]byte, error) {
	b, ok := s.instrs[pc]
	if !ok {
		return nil, fmt.Errorf("simhost: no staged instruction bytes at 0x%x", pc)
	}
	return b, nil
}

func (s *LocalSimulator) snapshotState(name string) {
	mem := make(map[uint64][]byte, len(s.memory))
	for k, v := range s.memory {
		cp := make([]byte, len(v))
		copy(cp, v)
		mem[k] = cp
	}
	s.snapshots[name] = mem

	regs := make(map[int]map[string]uint64, len(s.registers))
	for cpu, set := range s.registers {
		inner := make(map[string]uint64, len(set))
		for k, v := range set {
			inner[k] = v
		}
		regs[cpu] = inner
	}
	s.snapRegs[name] = regs
}

func (s *LocalSimulator) restoreState(name string) error {
	mem, ok := s.snapshots[name]
	if !ok {
		return fmt.Errorf("simhost: no snapshot named %q", name)
	}
	s.memory = mem
	s.registers = s.snapRegs[name]
	return nil
}

func (s *LocalSimulator) SnapshotSave(name string) error {
	s.snapshotState(name)
	return nil
}

func (s *LocalSimulator) SnapshotRestore(name string) error { return s.restoreState(name) }

func (s *LocalSimulator) SnapshotDelete(name string) error {
	delete(s.snapshots, name)
	delete(s.snapRegs, name)
	return nil
}

func (s *LocalSimulator) MicrocheckpointSave(name string, flags int) error {
	s.snapshotState(name)
	s.checkpointStack = append(s.checkpointStack, name)
	return nil
}

func (s *LocalSimulator) MicrocheckpointRestore(index int) error {
	if index <= 0 || index > len(s.checkpointStack) {
		return fmt.Errorf("simhost: no microcheckpoint at index %d", index)
	}
	return s.restoreState(s.checkpointStack[index-1])
}

func (s *LocalSimulator) DiscardFuture() error { return nil }

func (s *LocalSimulator) BreakSimulation(msg string) error {
	s.running = false
	s.stopMsg = msg
	return nil
}

func (s *LocalSimulator) ContinueSimulation() error {
	s.running = true
	return nil
}

func (s *LocalSimulator) GetProcessor(index int) (ProcessorHandle, error) {
	if _, ok := s.registers[index]; !ok {
		return ProcessorHandle{}, fmt.Errorf("simhost: no processor %d", index)
	}
	return ProcessorHandle{id: uintptr(index)}, nil
}

func (s *LocalSimulator) ProcessorNumber(cpu ProcessorHandle) (int, error) { return cpuIdx(cpu), nil }

func (s *LocalSimulator) ProcessorArchitecture(cpu ProcessorHandle) (string, error) {
	name, ok := s.archs[cpuIdx(cpu)]
	if !ok {
		return "", fmt.Errorf("simhost: no architecture recorded for processor %d", cpuIdx(cpu))
	}
	return name, nil
}

var _ Simulator = (*LocalSimulator)(nil)
