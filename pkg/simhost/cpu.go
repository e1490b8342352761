package simhost

// simCPU adapts a Simulator plus a late-bound processor handle to
// harness.CPU, so E never sees raw simulator pointers (spec.md §9). cpu is
// a func rather than a fixed ProcessorHandle because the start-CPU handle
// for snapshot/injection purposes is only known after AttachStartProcessor
// runs.
type simCPU struct {
	sim Simulator
	cpu func() ProcessorHandle
}

func (c simCPU) ReadRegister(name string) (uint64, error) {
	return c.sim.ReadRegister(c.cpu(), name)
}

func (c simCPU) WriteRegister(name string, value uint64) error {
	return c.sim.WriteRegister(c.cpu(), name, value)
}

func (c simCPU) ReadMemory(addr uint64, length int, virtual bool) ([]byte, error) {
	return c.sim.ReadMemory(c.cpu(), addr, length, virtual)
}

func (c simCPU) WriteMemory(addr uint64, data []byte, virtual bool) error {
	return c.sim.WriteMemory(c.cpu(), addr, data, virtual)
}

// traceCPU adapts a Simulator plus a fixed processor handle to arch.CPU
// and tracer.CPU — both fix addressing to virtual, matching spec.md §6's
// default; an architecture hint never changes addressing mode, only ISA.
type traceCPU struct {
	sim Simulator
	cpu ProcessorHandle
}

func (c traceCPU) ReadRegister(name string) (uint64, error) {
	return c.sim.ReadRegister(c.cpu, name)
}

func (c traceCPU) ReadMemory(addr uint64, length int) ([]byte, error) {
	return c.sim.ReadMemory(c.cpu, addr, length, true)
}

func (c traceCPU) InstructionBytes(pc uint64) ([]byte, error) {
	return c.sim.InstructionBytes(c.cpu, pc)
}
