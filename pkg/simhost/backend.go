package simhost

import (
	"context"
	"fmt"

	"github.com/simfuzz/simfuzz/pkg/simerr"
	"github.com/simfuzz/simfuzz/pkg/snapshot"
)

// serviceBackend implements snapshot.Backend against the Simulator Service's
// two mechanisms (spec.md §4.D): the snapshot backend when useSnapshots is
// true, the micro-checkpoint backend otherwise. index tracks the
// micro-checkpoint ordinal so Restore can address it by position, matching
// the Simulator Service's index-based restore API.
type serviceBackend struct {
	sim          Simulator
	useSnapshots bool
	index        int
}

func (b *serviceBackend) Take(ctx context.Context, name string) (snapshot.Handle, error) {
	if b.useSnapshots {
		if err := b.sim.SnapshotSave(name); err != nil {
			return snapshot.Handle{}, fmt.Errorf("simhost: snapshot save: %w", joinSnapshotFailure(err))
		}
		return snapshot.Handle{Name: name}, nil
	}
	if err := b.sim.MicrocheckpointSave(name, 0); err != nil {
		return snapshot.Handle{}, fmt.Errorf("simhost: microcheckpoint save: %w", joinSnapshotFailure(err))
	}
	b.index++
	return snapshot.Handle{Name: name, Index: b.index}, nil
}

func (b *serviceBackend) Restore(ctx context.Context, handle snapshot.Handle) error {
	if b.useSnapshots {
		if err := b.sim.SnapshotRestore(handle.Name); err != nil {
			return fmt.Errorf("simhost: snapshot restore: %w", joinSnapshotFailure(err))
		}
		return nil
	}
	if err := b.sim.MicrocheckpointRestore(handle.Index); err != nil {
		return fmt.Errorf("simhost: microcheckpoint restore: %w", joinSnapshotFailure(err))
	}
	return nil
}

// DropFuture discards the recorded future timeline after a micro-checkpoint
// restore (spec.md §4.D); a no-op on the snapshot backend, which has no
// timeline to discard.
func (b *serviceBackend) DropFuture(ctx context.Context) error {
	if b.useSnapshots {
		return nil
	}
	return b.sim.DiscardFuture()
}

func (b *serviceBackend) SupportsReverseExecution() bool {
	return !b.useSnapshots
}

func joinSnapshotFailure(err error) error {
	return fmt.Errorf("%w: %v", simerr.ErrSnapshotFailure, err)
}
