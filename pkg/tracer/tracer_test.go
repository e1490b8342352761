package tracer

import (
	"math/rand"
	"testing"

	"github.com/simfuzz/simfuzz/pkg/arch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCPU struct {
	instructions map[uint64][]byte
	registers    map[string]uint64
	memory       map[uint64][]byte
}

func (f fakeCPU) InstructionBytes(pc uint64) ([]byte, error) {
	return f.instructions[pc], nil
}

func (f fakeCPU) ReadRegister(name string) (uint64, error) {
	return f.registers[name], nil
}

func (f fakeCPU) ReadMemory(addr uint64, length int) ([]byte, error) {
	return f.memory[addr][:length], nil
}

func alwaysRunning() bool { return true }

func TestCoverageMapBounds(t *testing.T) {
	tr := New(16, HitCount, false, 0, alwaysRunning)
	a, _ := arch.FromHint("x86-64")
	cpu := fakeCPU{instructions: map[uint64][]byte{
		0x1000: {0xE8, 0, 0, 0, 0}, // call
	}}
	for i := 0; i < 1000; i++ {
		require.NoError(t, tr.OnInstruction(a, cpu, 0x1000))
	}
	for _, cell := range tr.CoverageMap() {
		assert.LessOrEqual(t, int(cell), 255)
	}
}

func TestAflIndexWithinBounds(t *testing.T) {
	tr := New(4, HitCount, false, 0, alwaysRunning)
	a, _ := arch.FromHint("x86-64")
	cpu := fakeCPU{instructions: map[uint64][]byte{0x1000: {0xE8, 0, 0, 0, 0}}}
	require.NoError(t, tr.OnInstruction(a, cpu, 0x1000))
	require.NoError(t, tr.OnInstruction(a, cpu, 0x1234567890))
	// No panic / out-of-range access above implies in-bounds indices; also
	// directly check the formula never exceeds mapSize.
	idx := tr.aflIndex(0x1234567890, 7)
	assert.Less(t, idx, uint64(4))
}

func TestNoMutationWhenNotRunning(t *testing.T) {
	notRunning := func() bool { return false }
	tr := New(16, HitCount, false, 0, notRunning)
	a, _ := arch.FromHint("x86-64")
	cpu := fakeCPU{instructions: map[uint64][]byte{0x1000: {0xE8, 0, 0, 0, 0}}}
	require.NoError(t, tr.OnInstruction(a, cpu, 0x1000))
	for _, cell := range tr.CoverageMap() {
		assert.Zero(t, cell)
	}
}

func TestOnceMode(t *testing.T) {
	tr := New(256, Once, false, 0, alwaysRunning)
	a, _ := arch.FromHint("x86-64")
	cpu := fakeCPU{instructions: map[uint64][]byte{0x2000: {0xE8, 0, 0, 0, 0}}}
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.OnInstruction(a, cpu, 0x2000))
	}
	nonZero := 0
	for _, cell := range tr.CoverageMap() {
		if cell != 0 {
			nonZero++
			assert.Equal(t, byte(1), cell)
		}
	}
	assert.Equal(t, 1, nonZero)
}

func TestCmplogRecordsAndOverflow(t *testing.T) {
	tr := New(256, HitCount, true, 2, alwaysRunning)
	a, _ := arch.FromHint("x86-64")
	cpu := fakeCPU{
		instructions: map[uint64][]byte{0x3000: {0x3D, 0x2A}},
		registers:    map[string]uint64{"rax": 42},
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.OnInstruction(a, cpu, 0x3000))
	}
	assert.Len(t, tr.CmplogRecords(), 2)
	assert.Equal(t, uint64(3), tr.DroppedCmplogCount())
}

func TestResetForExecutionClearsCmplogKeepsCoverage(t *testing.T) {
	tr := New(256, HitCount, true, 10, alwaysRunning)
	a, _ := arch.FromHint("x86-64")
	cpu := fakeCPU{
		instructions: map[uint64][]byte{0x3000: {0x3D, 0x2A}},
		registers:    map[string]uint64{"rax": 1},
	}
	require.NoError(t, tr.OnInstruction(a, cpu, 0x3000))
	assert.NotEmpty(t, tr.CmplogRecords())

	before := tr.CoverageMap()
	tr.ResetForExecution(rand.New(rand.NewSource(1)))
	assert.Empty(t, tr.CmplogRecords())
	assert.Equal(t, before, tr.CoverageMap())
}

func TestParseCoverageMode(t *testing.T) {
	m, err := ParseCoverageMode("once")
	require.NoError(t, err)
	assert.Equal(t, Once, m)

	_, err = ParseCoverageMode("bogus")
	assert.Error(t, err)
}
