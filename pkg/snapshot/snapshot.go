// Package snapshot implements the Snapshot & State Manager: taking and
// restoring full-machine state between fuzzing iterations, via one of two
// Simulator Service backends.
package snapshot

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/simfuzz/simfuzz/pkg/simerr"
	"golang.org/x/sync/singleflight"
)

// Handle is the opaque, Copy-able identifier for a taken snapshot. It is
// never dereferenced outside pkg/simhost; everywhere else it is just a
// token (spec.md §9).
type Handle struct {
	Name  string
	Index int
}

// Backend abstracts the two Simulator Service mechanisms spec.md §4.D
// describes. Exactly one is selected at construction time by use_snapshots.
type Backend interface {
	// Take saves full machine state under name and returns the handle to
	// restore it later. Called exactly once per run.
	Take(ctx context.Context, name string) (Handle, error)
	// Restore rewinds to handle. Called at the start of every iteration
	// except the first.
	Restore(ctx context.Context, handle Handle) error
	// DropFuture discards the recorded event timeline after a restore, so
	// the next run does not replay it. Only meaningful for the
	// micro-checkpoint backend; the snapshot backend's implementation is a
	// no-op.
	DropFuture(ctx context.Context) error
	// SupportsReverseExecution is a purely informational flag, available
	// through Manager.SupportsReverseExecution and not written to the event
	// log; restore is valid regardless of its value.
	SupportsReverseExecution() bool
}

// Manager owns the single Handle for a run and serializes Take so a second
// concurrent caller awaits the first's result instead of racing it with the
// Simulator Service (SPEC_FULL §11: golang.org/x/sync/singleflight).
type Manager struct {
	backend Backend

	group  singleflight.Group
	handle *Handle
}

func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Take saves the machine state exactly once for the run; subsequent callers
// (e.g. a racing second Start magic, spec.md §9 open question) observe the
// same Handle rather than taking a second, wasted snapshot.
func (m *Manager) Take(ctx context.Context, name string) (Handle, error) {
	if name == "" {
		name = uuid.NewString()
	}
	v, err, _ := m.group.Do("take", func() (interface{}, error) {
		if m.handle != nil {
			return *m.handle, nil
		}
		h, err := m.backend.Take(ctx, name)
		if err != nil {
			return Handle{}, fmt.Errorf("take snapshot %q: %w", name, simerr.ErrSnapshotFailure)
		}
		m.handle = &h
		return h, nil
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

// Restore rewinds to the run's snapshot handle.
func (m *Manager) Restore(ctx context.Context) error {
	if m.handle == nil {
		return fmt.Errorf("restore before take: %w", simerr.ErrSnapshotFailure)
	}
	if err := m.backend.Restore(ctx, *m.handle); err != nil {
		return fmt.Errorf("restore snapshot %q: %w", m.handle.Name, simerr.ErrSnapshotFailure)
	}
	return m.backend.DropFuture(ctx)
}

// SupportsReverseExecution forwards to the backend.
func (m *Manager) SupportsReverseExecution() bool {
	return m.backend.SupportsReverseExecution()
}

// Handle returns the run's snapshot handle, or ok=false before Take.
func (m *Manager) Handle() (Handle, bool) {
	if m.handle == nil {
		return Handle{}, false
	}
	return *m.handle, true
}
