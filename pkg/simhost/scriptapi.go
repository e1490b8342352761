package simhost

import (
	"context"
	"fmt"

	"github.com/simfuzz/simfuzz/pkg/harness"
	"github.com/simfuzz/simfuzz/pkg/simerr"
)

// Start implements the explicit start() outbound call (spec.md §6), used
// when start_on_harness is false and the harness is entered already primed
// rather than via a magic instruction. The three-register calling
// convention ABI designates only one write-back address, so explicit start
// always resolves to PtrSizePtr — read the size cell for the max, write the
// actual size back every iteration — the most general of the three
// conventions and the only one expressible without a sub-code register to
// disambiguate (see DESIGN.md Open Questions).
func (a *Adapter) Start(ctx context.Context, bufferAddr, sizeAddrOrMax uint64, sizeWidth int, virtual bool) error {
	desc := harness.Descriptor{
		Convention: harness.PtrSizePtr,
		BufferAddr: bufferAddr,
		SizeAddr:   sizeAddrOrMax,
		SizeWidth:  sizeWidth,
		UseVirtual: virtual,
	}
	if err := a.harness.StartExplicit(ctx, desc); err != nil {
		return err
	}
	a.cfg.Freeze()
	return nil
}

// NextInput submits bytes as the next testcase, arms the virtual-time
// timeout, and resumes the simulator. ContinueSimulation is expected to
// block until some stop path (magic stop, exception, breakpoint, timeout,
// or explicit stop) calls BreakSimulation; the driver then reads the
// outcome via Harness().TakeStopReason().
func (a *Adapter) NextInput(ctx context.Context, bytes []byte) error {
	a.mu.Lock()
	first := a.iterCount == 0
	a.mu.Unlock()

	a.detector.ResetForExecution()
	a.tracer.ResetForExecution(a.rng)

	if err := a.harness.NextInput(ctx, bytes, first); err != nil {
		return err
	}

	a.mu.Lock()
	a.iterCount++
	a.mu.Unlock()

	a.armTimeout()

	if err := a.sim.ContinueSimulation(); err != nil {
		return fmt.Errorf("simhost: continue simulation: %w", err)
	}
	return nil
}

// armTimeout posts the virtual-time timeout event for this iteration, a
// no-op when timeouts are disabled (TimeoutSeconds <= 0).
func (a *Adapter) armTimeout() {
	if a.cfg.TimeoutSeconds <= 0 {
		return
	}
	handle, err := a.sim.PostTimeEvent(a.startCPU, a.cfg.TimeoutSeconds, a.detector.OnTimeout)
	if err != nil {
		a.logf(0, "simhost: post time event failed: %v", err)
		return
	}
	a.mu.Lock()
	a.timeoutEvent = handle
	a.timeoutArmed = true
	a.mu.Unlock()
}

// cancelTimeout withdraws the posted timeout event. It is called from
// onDetectorStop, whichever condition ended the execution, and from Exit;
// only the first call after armTimeout withdraws the event (spec.md §5: "every other stop path cancels the pending
// timeout").
func (a *Adapter) cancelTimeout() {
	a.mu.Lock()
	armed := a.timeoutArmed
	handle := a.timeoutEvent
	a.timeoutArmed = false
	a.mu.Unlock()
	if !armed {
		return
	}
	if err := a.sim.CancelTimeEvent(handle); err != nil {
		a.logf(0, "simhost: cancel time event failed: %v", err)
	}
}

// Stop implements the explicit stop() outbound call.
func (a *Adapter) Stop() error {
	if a.harness.State() != harness.Running {
		return fmt.Errorf("simhost: stop called outside Running: %w", simerr.ErrConfiguration)
	}
	a.detector.OnManualStop()
	a.harness.StopExplicit()
	return nil
}

// Exit performs best-effort cleanup: withdraws any armed timeout, unblocks
// a pending ContinueSimulation, and transitions the harness to Done.
func (a *Adapter) Exit() {
	a.cancelTimeout()
	if err := a.sim.BreakSimulation("exit"); err != nil {
		a.logf(0, "simhost: break simulation on exit failed: %v", err)
	}
	a.harness.Exit()
}
