// Package config implements the typed configuration object exposed to the
// simulator scripting interface (spec.md §4.G): validated setters, freeze
// semantics once the harness passes SnapshotTaken, and every field spec.md
// §3 lists.
package config

import (
	"fmt"
	"sync/atomic"

	"github.com/simfuzz/simfuzz/pkg/arch"
	"github.com/simfuzz/simfuzz/pkg/simerr"
	"github.com/simfuzz/simfuzz/pkg/tracer"
)

// ArchHint is a per-processor architecture override (spec.md §3).
type ArchHint struct {
	ISA arch.ISA
}

// Config is the mutable-until-frozen configuration object. All fields have
// the defaults spec.md §3 specifies; use New to get them.
type Config struct {
	frozen atomic.Bool

	AllBreakpointsAreSolutions bool
	AllExceptionsAreSolutions  bool
	Exceptions                 map[int64]struct{}
	Breakpoints                map[int64]struct{}

	TimeoutSeconds float64

	StartOnHarness bool
	StopOnHarness  bool
	MagicStart     int64
	MagicStop      int64
	MagicAssert    int64

	UseSnapshots bool

	IterationLimit    int64 // < 0 means unset/unbounded
	Tokens            [][]byte
	TokenFiles        []string
	CorpusDirectory   string
	SolutionsDirectory string

	GenerateRandomCorpus     bool
	InitialRandomCorpusSize  int

	Cmplog            bool
	CoverageReporting bool
	CoverageMapSize   int
	CoverageMode      tracer.CoverageMode

	ArchitectureHints map[int]ArchHint

	EventLogPath      string
	EventLogPubsub    string // optional "projects/<p>/topics/<t>" sink
	EventLogRotateMB  int

	MetricsAddr string // optional host:port for the status/metrics server
}

// New returns a Config with every spec.md §3 default applied.
func New() *Config {
	return &Config{
		Exceptions:              map[int64]struct{}{},
		Breakpoints:             map[int64]struct{}{},
		TimeoutSeconds:          5.0,
		MagicStart:              1,
		MagicStop:               2,
		MagicAssert:             3,
		IterationLimit:          -1,
		InitialRandomCorpusSize: 8,
		Cmplog:                  true,
		CoverageMapSize:         tracer.DefaultMapSize,
		CoverageMode:            tracer.HitCount,
		ArchitectureHints:       map[int]ArchHint{},
		EventLogRotateMB:        64,
	}
}

func (c *Config) checkMutable() error {
	if c.frozen.Load() {
		return fmt.Errorf("config: mutation after freeze: %w", simerr.ErrConfiguration)
	}
	return nil
}

// Freeze is called once the harness transitions to SnapshotTaken; every
// setter below rejects further mutation afterwards.
func (c *Config) Freeze() { c.frozen.Store(true) }

// Frozen reports whether Freeze has been called.
func (c *Config) Frozen() bool { return c.frozen.Load() }

// SetTimeoutSeconds validates timeout > 0 per spec.md §4.G.
func (c *Config) SetTimeoutSeconds(v float64) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	if v <= 0 {
		return fmt.Errorf("config: timeout_seconds must be > 0, got %v: %w", v, simerr.ErrConfiguration)
	}
	c.TimeoutSeconds = v
	return nil
}

// SetIterationLimit validates iteration_limit >= 0, or -1 for unbounded.
func (c *Config) SetIterationLimit(v int64) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	if v < -1 {
		return fmt.Errorf("config: iteration_limit must be >= 0, got %d: %w", v, simerr.ErrConfiguration)
	}
	c.IterationLimit = v
	return nil
}

// SetExceptions deduplicates and stores the exception-number set.
func (c *Config) SetExceptions(numbers []int64) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	set := make(map[int64]struct{}, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}
	c.Exceptions = set
	return nil
}

// SetBreakpoints deduplicates and stores the breakpoint-id set.
func (c *Config) SetBreakpoints(ids []int64) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	c.Breakpoints = set
	return nil
}

// SetCorpusDirectory validates only that the path is non-empty; it is not
// resolved or checked for existence here (pkg/corpus creates it).
func (c *Config) SetCorpusDirectory(dir string) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("config: corpus_directory must not be empty: %w", simerr.ErrConfiguration)
	}
	c.CorpusDirectory = dir
	return nil
}

// SetSolutionsDirectory mirrors SetCorpusDirectory.
func (c *Config) SetSolutionsDirectory(dir string) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("config: solutions_directory must not be empty: %w", simerr.ErrConfiguration)
	}
	c.SolutionsDirectory = dir
	return nil
}

// SetCoverageMode parses and validates the coverage mode string.
func (c *Config) SetCoverageMode(mode string) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	m, err := tracer.ParseCoverageMode(mode)
	if err != nil {
		return fmt.Errorf("config: %w: %w", err, simerr.ErrConfiguration)
	}
	c.CoverageMode = m
	return nil
}

// AddArchitectureHint records a per-processor ISA override.
func (c *Config) AddArchitectureHint(cpuIndex int, isa string) error {
	if err := c.checkMutable(); err != nil {
		return err
	}
	if _, ok := arch.FromHint(isa); !ok {
		return fmt.Errorf("config: unknown architecture hint %q: %w", isa, simerr.ErrConfiguration)
	}
	c.ArchitectureHints[cpuIndex] = ArchHint{ISA: arch.ISA(isa)}
	return nil
}

// Clone returns a deep-enough copy suitable for the round-trip law
// set(C); freeze(); read() == C — frozen state is intentionally not
// copied, since a fresh clone starts mutable. Built field-by-field rather
// than as `clone := *c` so the unexported atomic.Bool is never copied by
// value (go vet's copylocks check flags whole-struct copies of anything
// holding a sync type).
func (c *Config) Clone() *Config {
	clone := &Config{
		AllBreakpointsAreSolutions: c.AllBreakpointsAreSolutions,
		AllExceptionsAreSolutions:  c.AllExceptionsAreSolutions,
		Exceptions:                 copySet(c.Exceptions),
		Breakpoints:                copySet(c.Breakpoints),
		TimeoutSeconds:             c.TimeoutSeconds,
		StartOnHarness:             c.StartOnHarness,
		StopOnHarness:              c.StopOnHarness,
		MagicStart:                 c.MagicStart,
		MagicStop:                  c.MagicStop,
		MagicAssert:                c.MagicAssert,
		UseSnapshots:               c.UseSnapshots,
		IterationLimit:             c.IterationLimit,
		Tokens:                     append([][]byte(nil), c.Tokens...),
		TokenFiles:                 append([]string(nil), c.TokenFiles...),
		CorpusDirectory:            c.CorpusDirectory,
		SolutionsDirectory:         c.SolutionsDirectory,
		GenerateRandomCorpus:       c.GenerateRandomCorpus,
		InitialRandomCorpusSize:    c.InitialRandomCorpusSize,
		Cmplog:                     c.Cmplog,
		CoverageReporting:          c.CoverageReporting,
		CoverageMapSize:            c.CoverageMapSize,
		CoverageMode:               c.CoverageMode,
		ArchitectureHints:          make(map[int]ArchHint, len(c.ArchitectureHints)),
		EventLogPath:               c.EventLogPath,
		EventLogPubsub:             c.EventLogPubsub,
		EventLogRotateMB:           c.EventLogRotateMB,
		MetricsAddr:                c.MetricsAddr,
	}
	for k, v := range c.ArchitectureHints {
		clone.ArchitectureHints[k] = v
	}
	return clone
}

func copySet(m map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
