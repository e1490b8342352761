// Command simfuzz-host drives a fuzzing run against the in-process
// LocalSimulator fake: a standalone way to exercise the whole adapter/
// harness/tracer/driver pipeline without attaching to a real full-system
// simulator, which loads this module as a scripted class rather than
// spawning it as an OS process. Flag-bound Config fields and the Cobra
// command structure are grounded on ja7ad-consumption's cmd/consumption/
// main.go; SIGINT/SIGTERM handling uses signal.NotifyContext with
// golang.org/x/sys/unix's signal constants.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/simfuzz/simfuzz/pkg/config"
	"github.com/simfuzz/simfuzz/pkg/corpus"
	"github.com/simfuzz/simfuzz/pkg/fuzzer"
	"github.com/simfuzz/simfuzz/pkg/simhost"
	"github.com/simfuzz/simfuzz/pkg/simlog"
)

type hostFlags struct {
	timeoutSeconds   float64
	iterationLimit   int64
	coverageMode     string
	corpusDirectory  string
	solutionsDirectory string
	eventLogPath     string
	eventLogRotateMB int
	metricsAddr      string
	cmplog           bool
	generateSeed     bool
	initialCorpusSize int
	arch             string
}

func main() {
	var f hostFlags

	root := &cobra.Command{
		Use:   "simfuzz-host",
		Short: "Run a local fuzzing session against the in-process simulator fake",
		Long: `simfuzz-host exercises the full coverage-guided fuzzing pipeline
(tracer, detector, snapshot manager, harness state machine, driver) against
an in-memory simulator fake. It is a smoke-test and local-development
entry point; production use loads the adapter as a class inside a real
full-system simulator instead of running this binary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	root.Flags().Float64Var(&f.timeoutSeconds, "timeout-seconds", 5.0, "per-execution virtual-time timeout")
	root.Flags().Int64Var(&f.iterationLimit, "iteration-limit", -1, "stop after this many executions (-1 = unbounded)")
	root.Flags().StringVar(&f.coverageMode, "coverage-mode", "hit-count", `coverage mode: "hit-count" or "once"`)
	root.Flags().StringVar(&f.corpusDirectory, "corpus-directory", "corpus", "directory (or gs:// URI) for corpus entries")
	root.Flags().StringVar(&f.solutionsDirectory, "solutions-directory", "solutions", "directory (or gs:// URI) for solutions")
	root.Flags().StringVar(&f.eventLogPath, "event-log", "", "path to a JSON-lines event log (disabled if empty)")
	root.Flags().IntVar(&f.eventLogRotateMB, "event-log-rotate-mb", 64, "rotate the event log after this many MB")
	root.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "host:port to serve /metrics and /healthz (disabled if empty)")
	root.Flags().BoolVar(&f.cmplog, "cmplog", true, "enable cmplog extraction and input-to-state mutation")
	root.Flags().BoolVar(&f.generateSeed, "generate-seed-corpus", true, "generate a random seed corpus if none is on disk")
	root.Flags().IntVar(&f.initialCorpusSize, "initial-corpus-size", 8, "size of the generated seed corpus")
	root.Flags().StringVar(&f.arch, "arch", "x86-64", "architecture hint for the single local processor")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, f hostFlags) error {
	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	logf := simlog.Printf()

	cfg := config.New()
	if err := cfg.SetTimeoutSeconds(f.timeoutSeconds); err != nil {
		return err
	}
	if err := cfg.SetIterationLimit(f.iterationLimit); err != nil {
		return err
	}
	if err := cfg.SetCoverageMode(f.coverageMode); err != nil {
		return err
	}
	if err := cfg.SetCorpusDirectory(f.corpusDirectory); err != nil {
		return err
	}
	if err := cfg.SetSolutionsDirectory(f.solutionsDirectory); err != nil {
		return err
	}
	cfg.Cmplog = f.cmplog
	cfg.GenerateRandomCorpus = f.generateSeed
	cfg.InitialRandomCorpusSize = f.initialCorpusSize
	cfg.StartOnHarness = false
	cfg.StopOnHarness = false
	cfg.UseSnapshots = true
	cfg.EventLogPath = f.eventLogPath
	cfg.EventLogRotateMB = f.eventLogRotateMB
	cfg.MetricsAddr = f.metricsAddr

	events, err := config.NewEventLog(cfg.EventLogPath, cfg.EventLogRotateMB, logf)
	if err != nil {
		return fmt.Errorf("simfuzz-host: event log: %w", err)
	}
	defer events.Close()

	var metrics *config.Metrics
	var httpServer *config.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = config.NewMetrics(reg)
		httpServer, err = config.NewServer(cfg.MetricsAddr, reg, logf)
		if err != nil {
			return fmt.Errorf("simfuzz-host: metrics server: %w", err)
		}
		go func() {
			if err := httpServer.Serve(); err != nil {
				logf(1, "simfuzz-host: metrics server stopped: %v", err)
			}
		}()
		defer httpServer.Close()
	}

	corpusBackend, err := corpus.NewBackend(ctx, cfg.CorpusDirectory)
	if err != nil {
		return fmt.Errorf("simfuzz-host: corpus backend: %w", err)
	}
	corpusList := corpus.NewList(corpusBackend)
	if err := corpusList.Load(); err != nil {
		return fmt.Errorf("simfuzz-host: corpus load: %w", err)
	}

	solutionsBackend, err := corpus.NewBackend(ctx, cfg.SolutionsDirectory)
	if err != nil {
		return fmt.Errorf("simfuzz-host: solutions backend: %w", err)
	}
	solutions := corpus.NewSolutions(solutionsBackend)

	sim := simhost.NewLocalSimulator()
	cpu := sim.AddProcessor(0, f.arch)

	adapter := simhost.New(sim, cfg, events, logf)
	if err := adapter.AttachStartProcessor(cpu); err != nil {
		return fmt.Errorf("simfuzz-host: attach start processor: %w", err)
	}
	// Start uses the PtrSizePtr convention: its second argument is the
	// address of a size cell holding the maximum testcase size.
	const bufferAddr, sizeCellAddr = 0x1000, 0x2000
	sizeCell := make([]byte, 8)
	binary.LittleEndian.PutUint64(sizeCell, 64)
	sim.WriteMemoryDirect(sizeCellAddr, sizeCell)
	if err := adapter.Start(ctx, bufferAddr, sizeCellAddr, 8, true); err != nil {
		return fmt.Errorf("simfuzz-host: start: %w", err)
	}

	driver := fuzzer.New(adapter, cfg, corpusList, solutions, events, metrics, logf)

	go func() {
		<-ctx.Done()
		adapter.Exit()
	}()

	if err := driver.Run(ctx); err != nil {
		return fmt.Errorf("simfuzz-host: driver: %w", err)
	}
	logf(0, "simfuzz-host: done, corpus=%d solutions=%d", corpusList.Len(), solutions.Len())
	return nil
}
