// Package driver implements the main cooperative loop binding the fuzzer
// subprocess, the BTS tracer, coverage reduction, the knowledge base, the
// corpus watcher, and the messaging surface together into one run.
package driver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/covswarm/cfd-driver/internal/bblocks"
	"github.com/covswarm/cfd-driver/internal/bts"
	"github.com/covswarm/cfd-driver/internal/bus"
	"github.com/covswarm/cfd-driver/internal/config"
	"github.com/covswarm/cfd-driver/internal/corpuswatch"
	"github.com/covswarm/cfd-driver/internal/elfsection"
	"github.com/covswarm/cfd-driver/internal/knowledge"
	"github.com/covswarm/cfd-driver/internal/output"
	"github.com/covswarm/cfd-driver/internal/procutil"
	"github.com/covswarm/cfd-driver/internal/reduce"
	"github.com/sirupsen/logrus"
)

// maxInputBytes bounds how much of a new corpus file is read per trace.
const maxInputBytes = 1 << 20 // 1 MiB

// idleSleep is the cooperative yield between sub-steps of one iteration.
const idleSleep = 100 * time.Microsecond

// tracer is the subset of *bts.Tracer the loop depends on, so tests can
// substitute a fake.
type tracer interface {
	Trace(inputBytes []byte, sutArgv []string, sink bts.Sink) ([]reduce.Branch, error)
	Close() error
}

// Run executes the driver loop until the fuzzer exits, a fatal error
// occurs, or SIGINT/SIGTERM arrives. The returned error, if any, already
// carries an output.Kind and is ready for output.ExitCodeFor.
func Run(cfg *config.DriverConfig, log *logrus.Entry) error {
	blocks, err := bblocks.Load(cfg.CFGScript, cfg.TargetBinary)
	if err != nil {
		return output.Startup(fmt.Errorf("loading basic blocks: %w", err))
	}

	var bounds *reduce.Bounds
	if cfg.SectionSubstr != "" {
		b, err := elfsection.Find(cfg.TargetBinary, cfg.SectionSubstr)
		if err != nil {
			return output.Startup(fmt.Errorf("resolving section %q: %w", cfg.SectionSubstr, err))
		}
		bounds = &reduce.Bounds{Start: b.Start, End: b.End}
	}

	fuzzer, err := procutil.Spawn(cfg.FuzzerArgv, cfg.FuzzerStdout, cfg.FuzzerStderr)
	if err != nil {
		return output.Startup(fmt.Errorf("spawning fuzzer: %w", err))
	}
	startTime := time.Now()
	log.WithField("pid", fuzzer.PID()).Info("fuzzer spawned")

	mode := "single"
	if cfg.Multi {
		mode = "multi"
	}
	if err := writeRunMeta(cfg.DataDir, cfg.FuzzerID, mode, startTime); err != nil {
		log.WithError(err).Warn("failed to write run-metadata.toml")
	}

	watcher, err := corpuswatch.New(cfg.CorpusDir, log)
	if err != nil {
		_ = fuzzer.KillUncatchable()
		return output.Startup(fmt.Errorf("starting corpus watcher: %w", err))
	}
	defer watcher.Close()

	sink, err := newSink(cfg, log)
	if err != nil {
		_ = fuzzer.KillUncatchable()
		return output.Startup(err)
	}
	defer sink.Close()

	tr := bts.New(log)
	defer tr.Close()

	kb := knowledge.New()

	l := &loop{
		cfg:       cfg,
		log:       log,
		fuzzer:    fuzzer,
		watcher:   watcher,
		sink:      sink,
		tracer:    tr,
		kb:        kb,
		blocks:    blocks,
		bounds:    bounds,
		startTime: startTime,
	}
	return l.run()
}

func newSink(cfg *config.DriverConfig, log *logrus.Entry) (bus.Sink, error) {
	if !cfg.Multi {
		logDir := "work"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating single-mode log directory %s: %w", logDir, err)
		}
		interestingPath := filepath.Join(logDir, cfg.FuzzerID+".interesting.log")
		coveragePath := filepath.Join(logDir, cfg.FuzzerID+".coverage.log")
		return bus.NewSingle(interestingPath, coveragePath)
	}
	return bus.NewMulti(cfg.Ports, log)
}

// loop holds everything one driver run needs across iterations.
type loop struct {
	cfg     *config.DriverConfig
	log     *logrus.Entry
	fuzzer  *procutil.Fuzzer
	watcher *corpuswatch.Watcher
	sink    bus.Sink
	tracer  tracer
	kb      *knowledge.Base
	blocks  []bblocks.Block
	bounds  *reduce.Bounds

	startTime time.Time
	inputN    int
	injectedN int
	running   bool
}

func (l *loop) run() error {
	l.running = true
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		l.running = false
	}()

	for {
		if !l.fuzzer.Alive() {
			l.log.Info("fuzzer exited, terminating")
			return nil
		}
		if !l.running {
			l.log.Info("shutdown requested, killing fuzzer")
			_ = l.fuzzer.KillUncatchable()
			return output.Runtime(fmt.Errorf("interrupted"))
		}

		if err := l.stepCorpus(); err != nil {
			_ = l.fuzzer.KillUncatchable()
			return output.Runtime(err)
		}
		time.Sleep(idleSleep)

		if l.cfg.Multi {
			l.stepMetricRep()
			time.Sleep(idleSleep)
			l.stepUseSub()
			time.Sleep(idleSleep)
		}
	}
}

// stepCorpus polls the watcher and runs the trace -> reduce -> absorb ->
// persist -> publish pipeline for each newly surfaced file.
func (l *loop) stepCorpus() error {
	paths, err := l.watcher.Poll()
	if err != nil && !errors.Is(err, corpuswatch.ErrWatchedDirGone) {
		l.log.WithError(err).Warn("corpus watcher poll error")
	}
	for _, path := range paths {
		if err := l.processNewInput(path); err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}
	return nil
}

func (l *loop) processNewInput(path string) error {
	data, err := readUpTo(path, maxInputBytes)
	if err != nil {
		return fmt.Errorf("reading new corpus input %s: %w", path, err)
	}

	l.inputN++
	n := l.inputN

	sutArgv, scratchSink := l.buildSUTInvocation(n)
	branches, err := l.tracer.Trace(data, sutArgv, scratchSink)
	if err != nil {
		return fmt.Errorf("tracing %s: %w", path, err)
	}

	edges := reduce.Reduce(branches, l.bounds, l.blocks)
	newEdges := l.kb.Absorb(edges)

	inputPath := filepath.Join(l.cfg.DataDir, fmt.Sprintf("%s:%05d.input", l.cfg.FuzzerID, n))
	coveragePath := filepath.Join(l.cfg.DataDir, fmt.Sprintf("%s:%05d.%d.coverage", l.cfg.FuzzerID, n, len(edges)))
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		return fmt.Errorf("writing input file %s: %w", inputPath, err)
	}
	if err := writeCoverage(coveragePath, edges); err != nil {
		return fmt.Errorf("writing coverage file %s: %w", coveragePath, err)
	}

	elapsedUs := time.Since(l.startTime).Microseconds()
	evt := bus.Interesting{FuzzerID: l.cfg.FuzzerID, InputPath: inputPath, CoveragePath: coveragePath}
	if err := l.sink.PublishInteresting(evt, n, newEdges, l.kb.Size(), l.kb.TotalHits(), elapsedUs); err != nil {
		return fmt.Errorf("publishing interesting event for %s: %w", path, err)
	}
	return nil
}

// buildSUTInvocation renders this trace's scratch-input sink and the SUT
// argv to run it with, substituting cfg.InputSink into the argv tail when
// the SUT reads its input from a named file rather than stdin.
func (l *loop) buildSUTInvocation(n int) ([]string, bts.Sink) {
	scratchPath := filepath.Join(os.TempDir(), fmt.Sprintf("%s.sut-input", l.cfg.FuzzerID))
	if l.cfg.InputSink == "" {
		return l.cfg.SUTArgv, bts.Sink{Path: scratchPath, Stdin: true}
	}

	argv := make([]string, len(l.cfg.SUTArgv))
	copy(argv, l.cfg.SUTArgv)
	for i, a := range argv {
		if a == l.cfg.InputSink {
			argv[i] = scratchPath
		}
	}
	return argv, bts.Sink{Path: scratchPath, Stdin: false}
}

// stepMetricRep answers a pending metric-rep request, if any.
func (l *loop) stepMetricRep() {
	coverageFile, ok, err := l.sink.PollMetricRequest()
	if err != nil {
		l.log.WithError(err).Warn("metric-rep poll error")
		return
	}
	if !ok {
		return
	}

	edges, err := readCoverage(coverageFile)
	if err != nil {
		l.log.WithError(err).WithField("file", coverageFile).Warn("metric-rep: peer coverage file unreadable")
		return
	}
	value := l.kb.Diff(edges)
	if err := l.sink.ReplyMetric(value); err != nil {
		l.log.WithError(err).Warn("metric-rep reply failed")
	}
}

// stepUseSub completes a pending injection, if any message this poll was
// addressed to this driver.
func (l *loop) stepUseSub() {
	inj, ok, err := l.sink.PollInjection(l.cfg.FuzzerID)
	if err != nil {
		l.log.WithError(err).Warn("use-sub: malformed peer message, skipping")
		return
	}
	if !ok {
		return
	}

	edges, err := readCoverage(inj.CoveragePath)
	if err != nil {
		l.log.WithError(err).WithField("file", inj.CoveragePath).Warn("use-sub: peer coverage file unreadable")
		return
	}
	l.kb.Absorb(edges)

	data, err := os.ReadFile(inj.InputPath)
	if err != nil {
		l.log.WithError(err).WithField("file", inj.InputPath).Warn("use-sub: peer input file unreadable")
		return
	}

	l.injectedN++
	dest := filepath.Join(l.cfg.InjectDir, fmt.Sprintf("%s:%05d.input", l.cfg.FuzzerID, l.injectedN))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		l.log.WithError(err).WithField("file", dest).Warn("use-sub: failed to write injected input")
		return
	}
	l.watcher.MarkSeen(dest)
	l.log.WithField("dest", dest).Debug("injected peer input")
}

func readUpTo(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
