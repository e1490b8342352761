package harness

import (
	"context"
	"testing"

	"github.com/simfuzz/simfuzz/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCPU struct {
	registers map[string]uint64
	memory    map[uint64][]byte
}

func newFakeCPU() *fakeCPU {
	return &fakeCPU{registers: map[string]uint64{}, memory: map[uint64][]byte{}}
}

func (f *fakeCPU) ReadRegister(name string) (uint64, error) { return f.registers[name], nil }
func (f *fakeCPU) WriteRegister(name string, v uint64) error {
	f.registers[name] = v
	return nil
}
func (f *fakeCPU) ReadMemory(addr uint64, length int, virtual bool) ([]byte, error) {
	b := f.memory[addr]
	if len(b) < length {
		b = append(b, make([]byte, length-len(b))...)
	}
	return b[:length], nil
}
func (f *fakeCPU) WriteMemory(addr uint64, data []byte, virtual bool) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	f.memory[addr] = buf
	return nil
}

type fakeBackend struct{ restores int }

func (f *fakeBackend) Take(ctx context.Context, name string) (snapshot.Handle, error) {
	return snapshot.Handle{Name: name}, nil
}
func (f *fakeBackend) Restore(ctx context.Context, h snapshot.Handle) error {
	f.restores++
	return nil
}
func (f *fakeBackend) DropFuture(ctx context.Context) error { return nil }
func (f *fakeBackend) SupportsReverseExecution() bool       { return false }

func newTestHarness() (*Harness, *fakeCPU) {
	cpu := newFakeCPU()
	mgr := snapshot.NewManager(&fakeBackend{})
	h := New(cpu, mgr)
	return h, cpu
}

func TestStateMachinePrefixSequence(t *testing.T) {
	h, cpu := newTestHarness()
	require.NoError(t, h.Configure(Config{StartOnHarness: true, StopOnHarness: true}))
	assert.Equal(t, Configured, h.State())

	cpu.memory[0x2000] = []byte{8, 0, 0, 0, 0, 0, 0, 0}
	ctx := context.Background()
	require.NoError(t, h.OnMagicStart(ctx, StartBufferPtrSizePtr, Descriptor{
		BufferAddr: 0x1000,
		SizeAddr:   0x2000,
		SizeWidth:  8,
		UseVirtual: true,
	}))
	assert.Equal(t, Ready, h.State())

	require.NoError(t, h.NextInput(ctx, []byte("AAAAAAAA"), true))
	assert.Equal(t, Running, h.State())

	h.OnMagicStop()
	assert.Equal(t, Stopped, h.State())

	reason, ok := h.TakeStopReason()
	require.True(t, ok)
	assert.Equal(t, KindNone, reason.Kind())
	assert.Equal(t, Ready, h.State())
}

func TestSecondSimultaneousStartIgnored(t *testing.T) {
	h, _ := newTestHarness()
	require.NoError(t, h.Configure(Config{StartOnHarness: true}))
	ctx := context.Background()
	d := Descriptor{Convention: PtrSizeVal, BufferAddr: 0x1000, MaxSize: 8, SizeWidth: 4}
	require.NoError(t, h.StartExplicit(ctx, d))
	assert.Equal(t, Ready, h.State())

	// A second Start (e.g. from another CPU) while already past Configured
	// must be a no-op: first wins (spec.md §9 open question).
	require.NoError(t, h.StartExplicit(ctx, d))
	assert.Equal(t, Ready, h.State())
}

func TestInjectionTruncatesToMax(t *testing.T) {
	h, cpu := newTestHarness()
	require.NoError(t, h.Configure(Config{}))
	ctx := context.Background()
	require.NoError(t, h.StartExplicit(ctx, Descriptor{
		Convention: PtrSizeVal,
		BufferAddr: 0x1000,
		MaxSize:    4,
		SizeWidth:  4,
	}))
	require.NoError(t, h.NextInput(ctx, []byte("ABCDEFGH"), true))
	assert.Equal(t, []byte("ABCD"), cpu.memory[0x1000])
}

func TestInjectionEmptyWritesZeroSize(t *testing.T) {
	h, cpu := newTestHarness()
	require.NoError(t, h.Configure(Config{}))
	ctx := context.Background()
	require.NoError(t, h.StartExplicit(ctx, Descriptor{
		Convention: PtrSizePtr,
		BufferAddr: 0x1000,
		SizeAddr:   0x2000,
		SizeWidth:  4,
	}))
	require.NoError(t, h.NextInput(ctx, nil, true))
	assert.Equal(t, []byte{0, 0, 0, 0}, cpu.memory[0x2000])
}

func TestInjectionPtrSizePtrValWritesBackAndRespectsHardMax(t *testing.T) {
	h, cpu := newTestHarness()
	require.NoError(t, h.Configure(Config{}))
	ctx := context.Background()
	// PtrSizePtrVal: a write-back size pointer (0x2000) distinct from the
	// val argument's hard max (6), per spec.md §4.E's third convention.
	require.NoError(t, h.StartExplicit(ctx, Descriptor{
		Convention: PtrSizePtrVal,
		BufferAddr: 0x1000,
		SizeAddr:   0x2000,
		MaxSize:    6,
		SizeWidth:  4,
	}))
	require.NoError(t, h.NextInput(ctx, []byte("ABCDEFGH"), true))
	assert.Equal(t, []byte("ABCDEF"), cpu.memory[0x1000])
	assert.Equal(t, []byte{6, 0, 0, 0}, cpu.memory[0x2000])
}

func TestOnSolutionClassification(t *testing.T) {
	h, _ := newTestHarness()
	require.NoError(t, h.Configure(Config{}))
	ctx := context.Background()
	require.NoError(t, h.StartExplicit(ctx, Descriptor{Convention: PtrSizeVal, BufferAddr: 0x1000, MaxSize: 8, SizeWidth: 4}))
	require.NoError(t, h.NextInput(ctx, []byte{0xff}, true))

	h.OnSolution(KindException, 14)
	reason, ok := h.TakeStopReason()
	require.True(t, ok)
	sol, isSolution := reason.(Solution)
	require.True(t, isSolution)
	assert.Equal(t, KindException, sol.SolutionKind)
	assert.EqualValues(t, 14, sol.Detail)
}

func TestRestoreCalledOnSubsequentIterationsOnly(t *testing.T) {
	backend := &fakeBackend{}
	mgr := snapshot.NewManager(backend)
	cpu := newFakeCPU()
	h := New(cpu, mgr)
	require.NoError(t, h.Configure(Config{StopOnHarness: true}))
	ctx := context.Background()
	require.NoError(t, h.StartExplicit(ctx, Descriptor{Convention: PtrSizeVal, BufferAddr: 0x1000, MaxSize: 8, SizeWidth: 4}))

	require.NoError(t, h.NextInput(ctx, []byte("x"), true))
	assert.Equal(t, 0, backend.restores)
	h.OnMagicStop()
	_, _ = h.TakeStopReason()

	require.NoError(t, h.NextInput(ctx, []byte("y"), false))
	assert.Equal(t, 1, backend.restores)
}
