package harness

import "sync/atomic"

// State is the one and only execution-state variable spec.md §3 describes,
// manipulated exclusively through sync/atomic since a timeout callback can
// race the simulator thread's own transition under certain backends.
type State int32

const (
	Uninitialized State = iota
	Configured
	SnapshotTaken
	Ready
	Running
	Stopped
	Done
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Configured:
		return "Configured"
	case SnapshotTaken:
		return "SnapshotTaken"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// stateBox is an atomic holder for State, avoiding sync.Mutex for the
// tracer's hot-path Running() check (spec.md §5's single-threaded model
// still wants this read to be cheap and race-detector-clean across the
// timeout-callback boundary).
type stateBox struct {
	v int32
}

func (b *stateBox) load() State       { return State(atomic.LoadInt32(&b.v)) }
func (b *stateBox) store(s State)     { atomic.StoreInt32(&b.v, int32(s)) }
func (b *stateBox) is(s State) bool   { return b.load() == s }
