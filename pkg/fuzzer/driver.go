// Package fuzzer implements the evolutionary loop that turns the Harness
// and Tracer's per-execution feedback into new corpus entries and
// solutions: a background goroutine refreshes derived state, a PlainMAB
// chooses a strategy per iteration, and stats are tallied under a mutex
// rather than atomics.
package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/simfuzz/simfuzz/pkg/config"
	"github.com/simfuzz/simfuzz/pkg/corpus"
	"github.com/simfuzz/simfuzz/pkg/fuzzer/mutate"
	"github.com/simfuzz/simfuzz/pkg/fuzzer/queue"
	"github.com/simfuzz/simfuzz/pkg/harness"
	"github.com/simfuzz/simfuzz/pkg/learning"
	"github.com/simfuzz/simfuzz/pkg/simerr"
	"github.com/simfuzz/simfuzz/pkg/simlog"
	"github.com/simfuzz/simfuzz/pkg/tracer"
)

// Target is the subset of *simhost.Adapter the driver depends on, kept
// narrow so the driver's own tests run against a fake rather than a full
// Simulator.
type Target interface {
	NextInput(ctx context.Context, bytes []byte) error
	Harness() *harness.Harness
	Tracer() *tracer.Tracer
	RNG() *rand.Rand
}

const (
	stratGenerate     = "generate"
	stratBitflip      = "bitflip"
	stratArithmetic   = "arithmetic"
	stratHavoc        = "havoc"
	stratInputToState = "input-to-state"
)

// Driver owns the generate-or-mutate loop: it wraps Target as a
// queue.Executor, picks Requests from a queue.Source built from the corpus
// and a strategy bandit, and classifies every Result into a new corpus
// entry, a solution, or nothing.
type Driver struct {
	target    Target
	cfg       *config.Config
	corpus    *corpus.List
	solutions *corpus.Solutions
	events    *config.EventLog
	metrics   *config.Metrics
	logf      simlog.Func

	strategyMAB learning.MAB[string]
	// execSpeed tracks executions-per-second over a trailing window,
	// rather than a cumulative since-start average, so statsLogger
	// reports a figure that tracks recent throughput.
	execSpeed *learning.RunningRatioAverage[float64]
	// edgeRanker ranks each iteration's edge-gain count against a
	// trailing window, so interesting-testcase events can report how
	// novel a gain was relative to recent executions, not just that it
	// was nonzero.
	edgeRanker *learning.WindowRanker[int]

	mu         sync.Mutex
	execCount  int64
	stats      map[string]uint64
	dict       [][]byte
	lastCmplog []tracer.CmpRecord
	// lastDropped is the tracer's cumulative dropped-cmplog count as of the
	// previous execution, so only the increase is added to the metric.
	lastDropped uint64

	eventCh chan config.Event
}

// New builds a Driver. events and metrics may be nil (no event log / no
// Prometheus instruments); logf may be nil (discarded).
func New(target Target, cfg *config.Config, corpusList *corpus.List, solutions *corpus.Solutions, events *config.EventLog, metrics *config.Metrics, logf simlog.Func) *Driver {
	if logf == nil {
		logf = simlog.Discard
	}
	mab := &learning.PlainMAB[string]{ExplorationRate: 0.15, LearningRate: 0.2}
	for _, s := range []string{stratGenerate, stratBitflip, stratArithmetic, stratHavoc, stratInputToState} {
		mab.AddArm(s)
	}
	d := &Driver{
		target:      target,
		cfg:         cfg,
		corpus:      corpusList,
		solutions:   solutions,
		events:      events,
		metrics:     metrics,
		logf:        logf,
		strategyMAB: mab,
		execSpeed:   learning.NewRunningRatioAverage[float64](1000),
		edgeRanker:  &learning.WindowRanker[int]{Size: 256},
		stats:       map[string]uint64{},
		dict:        append([][]byte(nil), cfg.Tokens...),
		eventCh:     make(chan config.Event, 256),
	}
	return d
}

// Logf forwards to the configured logging hook.
func (d *Driver) Logf(level int, msg string, args ...interface{}) { d.logf(level, msg, args...) }

func (d *Driver) bumpStat(name string) {
	d.mu.Lock()
	d.stats[name]++
	d.mu.Unlock()
}

// seedCorpus populates the corpus with InitialRandomCorpusSize random
// testcases when GenerateRandomCorpus is set and the corpus is empty,
// priming the queue before the main loop starts.
func (d *Driver) seedCorpus(r *rand.Rand) [][]byte {
	if !d.cfg.GenerateRandomCorpus || d.corpus.Len() > 0 {
		return nil
	}
	seeds := make([][]byte, 0, d.cfg.InitialRandomCorpusSize)
	for i := 0; i < d.cfg.InitialRandomCorpusSize; i++ {
		n := 1 + r.Intn(63)
		b := make([]byte, n)
		r.Read(b)
		seeds = append(seeds, b)
	}
	return seeds
}

// pickParent returns a uniformly random corpus testcase to mutate, or nil
// if the corpus is empty.
func (d *Driver) pickParent(r *rand.Rand) []byte {
	entries := d.corpus.All()
	if len(entries) == 0 {
		return nil
	}
	return entries[r.Intn(len(entries))].Testcase
}

// buildCandidate chooses a strategy via the bandit and builds the next
// testcase, falling back to a fresh random input when a mutation strategy
// is picked but the corpus is still empty.
func (d *Driver) buildCandidate(r *rand.Rand) ([]byte, learning.Action[string]) {
	action := d.strategyMAB.Action(r)
	if action.Arm == stratGenerate {
		n := 1 + r.Intn(63)
		b := make([]byte, n)
		r.Read(b)
		return b, action
	}

	parent := d.pickParent(r)
	if parent == nil {
		n := 1 + r.Intn(63)
		b := make([]byte, n)
		r.Read(b)
		return b, action
	}

	d.mu.Lock()
	dict := append([][]byte(nil), d.dict...)
	cmplog := d.lastCmplog
	d.mu.Unlock()

	var fn mutate.Func
	switch action.Arm {
	case stratBitflip:
		fn = mutate.Bitflip
	case stratArithmetic:
		fn = mutate.Arithmetic
	case stratInputToState:
		fn = mutate.InputToState(cmplog)
	default:
		fn = mutate.Havoc(dict)
	}
	return fn(r, parent), action
}

// Execute implements queue.Executor: run one candidate through the target
// and report what happened, including the coverage snapshot taken right
// after the run so the caller can judge novelty.
func (d *Driver) Execute(ctx context.Context, req *queue.Request) *queue.Result {
	start := clockNow()
	if err := d.target.NextInput(ctx, req.Input); err != nil {
		return &queue.Result{Err: fmt.Errorf("fuzzer: next input: %w", err)}
	}
	reason, ok := d.target.Harness().TakeStopReason()
	if !ok {
		return &queue.Result{Err: fmt.Errorf("fuzzer: execution did not stop")}
	}
	elapsed := clockNow().Sub(start).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}

	d.mu.Lock()
	d.execCount++
	d.lastCmplog = d.target.Tracer().CmplogRecords()
	d.execSpeed.Save(1, elapsed)
	dropped := d.target.Tracer().DroppedCmplogCount()
	newlyDropped := dropped - d.lastDropped
	d.lastDropped = dropped
	d.mu.Unlock()

	cov := d.target.Tracer().CoverageMap()
	if d.metrics != nil {
		d.metrics.Executions.Inc()
		d.metrics.CmplogRecords.Add(float64(len(d.lastCmplog)))
		d.metrics.CmplogDropped.Add(float64(newlyDropped))
		edges := 0
		for _, c := range cov {
			if c != 0 {
				edges++
			}
		}
		d.metrics.EdgesFound.Set(float64(edges))
	}

	return &queue.Result{Reason: reason, Coverage: cov}
}

// classify updates the corpus/solutions/stats/MAB state for one finished
// Request, returning the reward fed back to the strategy bandit. gain is the
// edge-gain count this iteration produced (0 for non-novel or errored runs);
// it is fed into edgeRanker so the "corpus" event can report how this gain
// ranks against the recent trailing window.
func (d *Driver) classify(req *queue.Request, res *queue.Result, novel bool, gain int) float64 {
	if res.Err != nil {
		d.Logf(1, "fuzzer: execution error: %v", res.Err)
		return 0
	}

	if res.Reason.Kind() != harness.KindNone {
		kind := solutionKindFor(res.Reason)
		name, err := d.solutions.Save(req.Input, kind, res.Coverage)
		if err != nil {
			d.Logf(0, "fuzzer: failed to save solution: %v", err)
		} else {
			d.bumpStat("solutions")
			if d.metrics != nil {
				d.metrics.SolutionsFound.Inc()
			}
			d.writeEvent(config.Event{Kind: "solution", Solution: name, Bytes: req.Input})
		}
		return 1
	}

	if !novel {
		return 0
	}
	fp := corpus.Fingerprint(res.Coverage)
	added, err := d.corpus.Add(req.Input, fp)
	if err != nil {
		d.Logf(0, "fuzzer: failed to save corpus entry: %v", err)
		return 0
	}
	if added {
		d.bumpStat("corpus")
		if d.metrics != nil {
			d.metrics.CorpusSize.Set(float64(d.corpus.Len()))
		}
		rank := d.edgeRanker.RatioLessThan(gain)
		d.edgeRanker.Save(gain)
		d.writeEvent(config.Event{Kind: "corpus", Bytes: req.Input, EdgeGain: gain, EdgeRank: rank})
		return 1
	}
	return 0.2
}

func solutionKindFor(reason harness.StopReason) corpus.SolutionKind {
	sol, ok := reason.(harness.Solution)
	if !ok {
		return corpus.SolutionManual
	}
	switch sol.SolutionKind {
	case harness.KindTimeout:
		return corpus.SolutionTimeout
	case harness.KindException:
		return corpus.ExceptionKind(sol.Detail)
	case harness.KindBreakpoint:
		return corpus.BreakpointKind(sol.Detail)
	default:
		return corpus.SolutionManual
	}
}

// writeEvent hands ev off to the eventLogWriter goroutine rather than
// writing inline, keeping the hot execution path off the (possibly slow,
// possibly network-bound via Pub/Sub) event log sink. A full channel drops
// the event rather than blocking the fuzzing loop.
func (d *Driver) writeEvent(ev config.Event) {
	if d.events == nil {
		return
	}
	ev.Timestamp = eventClock()
	select {
	case d.eventCh <- ev:
	default:
		d.Logf(1, "fuzzer: event log channel full, dropping %s event", ev.Kind)
	}
}

// eventLogWriter drains eventCh and writes each event to the configured
// sink, one of the driver's three supervised background goroutines.
func (d *Driver) eventLogWriter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.eventCh:
			if err := d.events.Write(ctx, ev); err != nil {
				d.Logf(1, "fuzzer: event log write failed: %v", err)
			}
		}
	}
}

// eventClock is a var so tests can stub it; wall-clock correlation of event
// log entries is advisory only, unlike the harness's virtual-time timeout.
var eventClock = func() int64 { return time.Now().Unix() }

// clockNow is a var so tests driving Execute in a tight loop aren't at the
// mercy of wall-clock jitter when asserting on execSpeed.
var clockNow = time.Now

// Run drives the evolutionary loop until ctx is cancelled or
// cfg.IterationLimit is reached (if >= 0), supervising three independent
// background goroutines — dictionary regeneration, stats logging, and
// event-log flushing — with an errgroup bound to ctx, rather than folding
// them into the main loop.
func (d *Driver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	// mainLoop returning nil (iteration limit reached) does not cancel
	// gctx on its own — errgroup only cancels its derived context on
	// error or once Wait returns. Without this cancel, the background
	// goroutines would still be parked on <-gctx.Done() and Wait would
	// never return once the limit is hit.
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error { return d.dictionaryRefresher(runCtx) })
	g.Go(func() error { return d.statsLogger(runCtx) })
	if d.events != nil {
		g.Go(func() error { return d.eventLogWriter(runCtx) })
	}
	g.Go(func() error {
		defer cancel()
		return d.mainLoop(runCtx)
	})

	return g.Wait()
}

// mutationSource is the second arm of mainLoop's round-robin
// queue.SourceMultiplexer: it takes turns with the seed queue while seeds
// remain and serves every request once the seed queue is empty. It asks the
// strategy bandit for an action and builds a candidate from it, stashing the action on the Request so mainLoop
// can report the reward back once the Result is in.
type mutationSource struct {
	d *Driver
	r *rand.Rand
}

func (m *mutationSource) Next() *queue.Request {
	candidate, action := m.d.buildCandidate(m.r)
	return &queue.Request{Input: candidate, OriginMutator: action.Arm, Strategy: action}
}

func (d *Driver) mainLoop(ctx context.Context) error {
	r := d.target.RNG()

	seeds := &queue.PlainQueue{}
	for _, seed := range d.seedCorpus(r) {
		seeds.Submit(&queue.Request{Input: seed, OriginMutator: stratGenerate})
	}
	src := queue.NewSourceMultiplexer(seeds, &mutationSource{d: d, r: r})

	var iterations int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if d.cfg.IterationLimit >= 0 && iterations >= d.cfg.IterationLimit {
			return nil
		}

		req := src.Next()
		before := d.target.Tracer().CoverageMap()
		res := d.Execute(ctx, req)
		if errors.Is(res.Err, simerr.ErrSnapshotFailure) {
			d.Logf(0, "fuzzer: fatal snapshot failure: %v", res.Err)
			d.target.Harness().Exit()
			return res.Err
		}
		novel := isNovel(before, res.Coverage)
		reward := d.classify(req, res, novel, edgeGainCount(before, res.Coverage))
		if action, ok := req.Strategy.(learning.Action[string]); ok {
			d.strategyMAB.SaveReward(action, reward)
		}
		iterations++
	}
}

// isNovel reports whether after shows any edge count that before did not
// have, the feedback test driving corpus admission (spec.md §3's "the
// driver adds a testcase to the corpus exactly when it exposes new
// coverage").
func isNovel(before, after []byte) bool {
	for i := range after {
		if i >= len(before) {
			return true
		}
		if after[i] != 0 && before[i] == 0 {
			return true
		}
	}
	return false
}

// edgeGainCount counts how many coverage-map bytes went from zero to
// nonzero, the magnitude behind isNovel's boolean verdict.
func edgeGainCount(before, after []byte) int {
	gain := 0
	for i := range after {
		if after[i] == 0 {
			continue
		}
		if i >= len(before) || before[i] == 0 {
			gain++
		}
	}
	return gain
}

// dictionaryRefresher periodically reloads cfg.TokenFiles into the
// in-memory havoc dictionary, so tokens discovered by an offline tokenize
// run after the fuzzer started still get picked up.
func (d *Driver) dictionaryRefresher(ctx context.Context) error {
	if len(d.cfg.TokenFiles) == 0 {
		return nil
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tokens := loadTokenFiles(d.cfg.TokenFiles, d.logf)
			d.mu.Lock()
			d.dict = append(append([][]byte(nil), d.cfg.Tokens...), tokens...)
			d.mu.Unlock()
		}
	}
}

// statsLogger periodically logs corpus/solutions/exec counters on a ticker.
func (d *Driver) statsLogger(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.mu.Lock()
			execs := d.execCount
			speed := d.execSpeed.Load()
			d.mu.Unlock()
			d.Logf(0, "fuzzer: execs=%d corpus=%d solutions=%d execs/sec=%.1f", execs, d.corpus.Len(), d.solutions.Len(), speed)
		}
	}
}
