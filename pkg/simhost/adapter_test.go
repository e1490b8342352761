package simhost

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/simfuzz/simfuzz/pkg/config"
	"github.com/simfuzz/simfuzz/pkg/detector"
	"github.com/simfuzz/simfuzz/pkg/harness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bufferAddr = 0x2000
	sizeAddr   = 0x3000
	startPC    = 0x1000
	jmpPC      = 0x1010
	stopPC     = 0x1020
)

func newX8664Adapter(t *testing.T, cfg *config.Config) (*Adapter, *LocalSimulator, ProcessorHandle) {
	t.Helper()
	sim := NewLocalSimulator()
	cpu := sim.AddProcessor(0, "x86-64")

	a := New(sim, cfg, nil, nil)
	require.NoError(t, a.AttachStartProcessor(cpu))

	maxSize := make([]byte, 8)
	binary.LittleEndian.PutUint64(maxSize, 64)
	sim.WriteMemoryDirect(sizeAddr, maxSize)

	// cpuid, the x86/x86-64 magic opcode; its leaf (the magic number) lives
	// in RAX rather than in the instruction bytes.
	sim.SetInstructionBytes(startPC, []byte{0x0F, 0xA2})
	sim.SetInstructionBytes(stopPC, []byte{0x0F, 0xA2})
	sim.SetInstructionBytes(jmpPC, []byte{0xEB, 0x02})

	require.NoError(t, sim.WriteRegister(cpu, "rax", uint64(cfg.MagicStart)))
	require.NoError(t, sim.WriteRegister(cpu, "rdx", uint64(harness.StartBufferPtrSizePtr)))
	require.NoError(t, sim.WriteRegister(cpu, "rsi", bufferAddr))
	require.NoError(t, sim.WriteRegister(cpu, "rdi", sizeAddr))

	return a, sim, cpu
}

func TestAdapterMagicStartRunStop(t *testing.T) {
	cfg := config.New()
	cfg.StartOnHarness = true
	cfg.StopOnHarness = true
	cfg.UseSnapshots = true

	a, sim, cpu := newX8664Adapter(t, cfg)

	sim.FireInstruction(cpu, startPC)
	assert.Equal(t, harness.Ready, a.Harness().State())

	require.NoError(t, a.NextInput(context.Background(), []byte("racecar")))
	assert.Equal(t, harness.Running, a.Harness().State())

	sim.FireInstruction(cpu, jmpPC)
	assert.Contains(t, a.Tracer().CoverageMap(), byte(1))

	require.NoError(t, sim.WriteRegister(cpu, "rax", uint64(cfg.MagicStop)))
	sim.FireInstruction(cpu, stopPC)

	assert.Equal(t, harness.Stopped, a.Harness().State())
	reason, ok := a.Harness().TakeStopReason()
	require.True(t, ok)
	assert.Equal(t, detector.KindNone, reason.Kind())
	assert.Equal(t, harness.Ready, a.Harness().State())
}

func TestAdapterTimeoutClassifiesAsSolution(t *testing.T) {
	cfg := config.New()
	cfg.StartOnHarness = true
	cfg.StopOnHarness = true
	cfg.UseSnapshots = true
	require.NoError(t, cfg.SetTimeoutSeconds(1.0))

	a, sim, cpu := newX8664Adapter(t, cfg)
	sim.FireInstruction(cpu, startPC)
	require.NoError(t, a.NextInput(context.Background(), []byte("x")))

	sim.AdvanceVirtualTime(2.0)

	assert.Equal(t, harness.Stopped, a.Harness().State())
	reason, ok := a.Harness().TakeStopReason()
	require.True(t, ok)
	assert.Equal(t, detector.KindTimeout, reason.Kind())
}

func TestAdapterManualStopDuringRun(t *testing.T) {
	cfg := config.New()
	cfg.StartOnHarness = true
	cfg.StopOnHarness = true
	cfg.UseSnapshots = true

	a, sim, cpu := newX8664Adapter(t, cfg)
	sim.FireInstruction(cpu, startPC)
	require.NoError(t, a.NextInput(context.Background(), []byte("y")))

	require.NoError(t, a.Stop())
	assert.Equal(t, harness.Stopped, a.Harness().State())
	reason, ok := a.Harness().TakeStopReason()
	require.True(t, ok)
	assert.Equal(t, detector.KindNone, reason.Kind())
}

func TestAdapterExceptionOutsideListIsIgnored(t *testing.T) {
	cfg := config.New()
	cfg.StartOnHarness = true
	cfg.StopOnHarness = true
	cfg.UseSnapshots = true
	require.NoError(t, cfg.SetExceptions([]int64{14}))

	a, sim, cpu := newX8664Adapter(t, cfg)
	sim.FireInstruction(cpu, startPC)
	require.NoError(t, a.NextInput(context.Background(), []byte("z")))

	sim.FireException(cpu, 99)
	assert.Equal(t, harness.Running, a.Harness().State())

	sim.FireException(cpu, 14)
	assert.Equal(t, harness.Stopped, a.Harness().State())
	reason, ok := a.Harness().TakeStopReason()
	require.True(t, ok)
	assert.Equal(t, detector.KindException, reason.Kind())
}

// TestAdapterTwoProcessorsShareCoverageMap exercises spec.md §8 scenario 4:
// a second processor attached via AddTraceProcessor feeds edges into the
// same coverage map as the start CPU.
func TestAdapterTwoProcessorsShareCoverageMap(t *testing.T) {
	cfg := config.New()
	cfg.StartOnHarness = true
	cfg.StopOnHarness = true
	cfg.UseSnapshots = true

	a, sim, cpu0 := newX8664Adapter(t, cfg)
	cpu1 := sim.AddProcessor(1, "riscv")
	require.NoError(t, a.AddTraceProcessor(cpu1))

	const riscvJAL = 0x2000
	// jal x0, 0: opcode 0x6F in the low 7 bits, rd=x0 — a recorded
	// control-flow edge under the riscv classifier.
	sim.SetInstructionBytes(riscvJAL, []byte{0x6F, 0x00, 0x00, 0x00})

	sim.FireInstruction(cpu0, startPC)
	require.NoError(t, a.NextInput(context.Background(), []byte("racecar")))
	assert.Equal(t, harness.Running, a.Harness().State())

	before := countNonzero(a.Tracer().CoverageMap())
	sim.FireInstruction(cpu0, jmpPC)
	afterCPU0 := countNonzero(a.Tracer().CoverageMap())
	assert.Greater(t, afterCPU0, before, "cpu0's jmp should record a new edge")

	sim.FireInstruction(cpu1, riscvJAL)
	afterCPU1 := countNonzero(a.Tracer().CoverageMap())
	assert.Greater(t, afterCPU1, afterCPU0, "cpu1's jal should record a further edge into the same map")
}

func countNonzero(m []byte) int {
	n := 0
	for _, b := range m {
		if b != 0 {
			n++
		}
	}
	return n
}

// TestAdapterArchitectureHintSwitchesAdapterMidRun exercises spec.md §8
// scenario 5: add_architecture_hint overrides the per-processor adapter
// after AddTraceProcessor already selected one from the self-reported ISA.
func TestAdapterArchitectureHintSwitchesAdapterMidRun(t *testing.T) {
	cfg := config.New()
	cfg.StartOnHarness = true
	cfg.StopOnHarness = true
	cfg.UseSnapshots = true
	cfg.Cmplog = true

	a, sim, cpu := newX8664Adapter(t, cfg)
	sim.FireInstruction(cpu, startPC)
	require.NoError(t, a.NextInput(context.Background(), []byte("racecar")))

	require.NoError(t, sim.WriteRegister(cpu, "rax", 0x1111111111111111))
	require.NoError(t, sim.WriteRegister(cpu, "eax", 0x22222222))

	const cmp64PC = 0x1030
	const cmp32PC = 0x1040
	// cmp eax/rax, imm8: opcode 0x3D falls in the x86Classifier's
	// integer-compare range regardless of wide64; the register resolved
	// differs (rax vs eax) based on which adapter decodes it.
	sim.SetInstructionBytes(cmp64PC, []byte{0x3D, 0x05})
	sim.SetInstructionBytes(cmp32PC, []byte{0x3D, 0x05})

	sim.FireInstruction(cpu, cmp64PC)
	recordsBeforeHint := a.Tracer().CmplogRecords()
	require.Len(t, recordsBeforeHint, 1)
	assert.Equal(t, uint64(0x1111111111111111), leU64(recordsBeforeHint[0].OperandA))

	require.NoError(t, a.AddArchitectureHint(cpu, "x86"))

	sim.FireInstruction(cpu, cmp32PC)
	recordsAfterHint := a.Tracer().CmplogRecords()
	require.Len(t, recordsAfterHint, 2)
	assert.Equal(t, uint64(0x22222222), leU64(recordsAfterHint[1].OperandA))
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func TestAdapterExit(t *testing.T) {
	cfg := config.New()
	cfg.StartOnHarness = true
	cfg.StopOnHarness = true
	cfg.UseSnapshots = true

	a, sim, cpu := newX8664Adapter(t, cfg)
	sim.FireInstruction(cpu, startPC)
	require.NoError(t, a.NextInput(context.Background(), []byte("w")))

	a.Exit()
	assert.Equal(t, harness.Done, a.Harness().State())
}
