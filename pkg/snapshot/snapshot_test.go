package snapshot

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu          sync.Mutex
	takeCalls   int
	restoreLog  []Handle
	dropFutures int
	reverseExec bool
	failTake    bool
}

func (f *fakeBackend) Take(ctx context.Context, name string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.takeCalls++
	if f.failTake {
		return Handle{}, assert.AnError
	}
	return Handle{Name: name, Index: f.takeCalls}, nil
}

func (f *fakeBackend) Restore(ctx context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restoreLog = append(f.restoreLog, h)
	return nil
}

func (f *fakeBackend) DropFuture(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropFutures++
	return nil
}

func (f *fakeBackend) SupportsReverseExecution() bool { return f.reverseExec }

func TestTakeCalledOnce(t *testing.T) {
	backend := &fakeBackend{}
	mgr := NewManager(backend)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Take(context.Background(), "run")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, backend.takeCalls)
}

func TestTakeGeneratesNameWhenEmpty(t *testing.T) {
	backend := &fakeBackend{}
	mgr := NewManager(backend)
	h, err := mgr.Take(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, h.Name)
}

func TestRestoreDropsFuture(t *testing.T) {
	backend := &fakeBackend{}
	mgr := NewManager(backend)
	_, err := mgr.Take(context.Background(), "run")
	require.NoError(t, err)

	require.NoError(t, mgr.Restore(context.Background()))
	require.NoError(t, mgr.Restore(context.Background()))

	assert.Len(t, backend.restoreLog, 2)
	assert.Equal(t, 2, backend.dropFutures)
}

func TestRestoreBeforeTakeFails(t *testing.T) {
	mgr := NewManager(&fakeBackend{})
	err := mgr.Restore(context.Background())
	assert.Error(t, err)
}

func TestTakeFailureSurfacesSnapshotFailure(t *testing.T) {
	mgr := NewManager(&fakeBackend{failTake: true})
	_, err := mgr.Take(context.Background(), "run")
	assert.Error(t, err)
}

func TestSupportsReverseExecutionIsInformational(t *testing.T) {
	backend := &fakeBackend{reverseExec: true}
	mgr := NewManager(backend)
	assert.True(t, mgr.SupportsReverseExecution())

	_, err := mgr.Take(context.Background(), "run")
	require.NoError(t, err)
	// Restore remains valid regardless of the reverse-execution flag.
	assert.NoError(t, mgr.Restore(context.Background()))
}
