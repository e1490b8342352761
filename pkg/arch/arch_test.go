package arch

import (
	"errors"
	"testing"

	"github.com/simfuzz/simfuzz/pkg/simerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHintKnown(t *testing.T) {
	for _, isa := range []ISA{X86, X86_64, ARM, ARMThumb2, ARM64, RISCV, ARC} {
		a, ok := FromHint(string(isa))
		require.True(t, ok, "isa=%s", isa)
		assert.Equal(t, isa, a.ISA())
	}
}

func TestFromHintUnknown(t *testing.T) {
	_, ok := FromHint("made-up-isa")
	assert.False(t, ok)
}

func TestX86_64CallAndRet(t *testing.T) {
	a := newX86_64()
	require.NoError(t, a.Disassemble(0x1000, []byte{0xE8, 0x01, 0x02, 0x03, 0x04}))
	assert.True(t, a.LastWasControlFlow())
	assert.True(t, a.LastWasCall())

	require.NoError(t, a.Disassemble(0x1010, []byte{0xC3}))
	assert.True(t, a.LastWasControlFlow())
	assert.True(t, a.LastWasRet())
}

func TestX86_64Cmp(t *testing.T) {
	a := newX86_64()
	require.NoError(t, a.Disassemble(0x1000, []byte{0x3D, 0x2A}))
	assert.True(t, a.LastWasCmp())
	ops, kinds := a.CmpOperands()
	assert.Len(t, ops, 2)
	assert.Equal(t, CmpInteger, kinds[0])
}

func TestX86_64DecodeFailureOnEmpty(t *testing.T) {
	a := newX86_64()
	err := a.Disassemble(0x1000, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, simerr.ErrDecodeFailure))
}

func TestX86_64Magic(t *testing.T) {
	a := newX86_64()
	require.NoError(t, a.Disassemble(0x1000, []byte{0x0F, 0xA2}))
	_, ok := a.MagicNumberFromInstruction()
	assert.True(t, ok)
}

func TestResolveAddArithmetic(t *testing.T) {
	cpu := fakeCPU{registers: map[string]uint64{"rbx": 0x10}}
	expr := Add(Reg("rbx"), ImmUnsigned(32, 4))
	v, err := Resolve(cpu, expr)
	require.NoError(t, err)
	assert.EqualValues(t, 0x14, v)
}

func TestResolveScaledMul(t *testing.T) {
	cpu := fakeCPU{registers: map[string]uint64{"rcx": 3}}
	expr := ScaledMul(Reg("rcx"), 8)
	v, err := Resolve(cpu, expr)
	require.NoError(t, err)
	assert.EqualValues(t, 24, v)
}

func TestResolveBytesDeref(t *testing.T) {
	cpu := fakeCPU{
		registers: map[string]uint64{"rax": 0x2000},
		memory:    map[uint64][]byte{0x2000: {0xAA, 0xBB, 0xCC, 0xDD}},
	}
	got, err := ResolveBytes(cpu, Deref(Reg("rax")), 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, got)
}

func TestARMBranchLink(t *testing.T) {
	a := newARM()
	// BL with cond=AL(0xE), top3=101, link bit set: 0xEB000000.
	require.NoError(t, a.Disassemble(0x8000, []byte{0x00, 0x00, 0x00, 0xEB}))
	assert.True(t, a.LastWasControlFlow())
	assert.True(t, a.LastWasCall())
}

func TestRISCVJalCall(t *testing.T) {
	a := newRISCV()
	// jal ra, 0: opcode=0x6F, rd=1 (ra) -> word = 0x000000EF
	word := []byte{0xEF, 0x00, 0x00, 0x00}
	require.NoError(t, a.Disassemble(0x80000000, word))
	assert.True(t, a.LastWasControlFlow())
	assert.True(t, a.LastWasCall())
}

type fakeCPU struct {
	registers map[string]uint64
	memory    map[uint64][]byte
}

func (f fakeCPU) ReadRegister(name string) (uint64, error) {
	return f.registers[name], nil
}

func (f fakeCPU) ReadMemory(addr uint64, length int) ([]byte, error) {
	return f.memory[addr][:length], nil
}
