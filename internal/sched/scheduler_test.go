package sched

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"fuzzdeck/config"
	"fuzzdeck/internal/build"
	"fuzzdeck/internal/crash"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/runner"
	"fuzzdeck/internal/types"
	"fuzzdeck/pkg/mq"
	"fuzzdeck/pkg/telemetry"
	"fuzzdeck/pkg/watchdog"
)

// gateSpawner tracks how many fake fuzzers run at once.
type gateSpawner struct {
	delay time.Duration

	mu      sync.Mutex
	active  int
	peak    int
	targets []string
}

func (g *gateSpawner) Spawn(ctx context.Context, command runner.Command) (runner.Process, error) {
	g.mu.Lock()
	g.active++
	if g.active > g.peak {
		g.peak = g.active
	}
	g.targets = append(g.targets, fuzzTarget(command.Env))
	g.mu.Unlock()

	p := &gateProcess{exited: make(chan struct{}), lines: make(chan string)}
	go func() {
		time.Sleep(g.delay)
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
		close(p.lines)
		close(p.exited)
	}()
	return p, nil
}

func fuzzTarget(env []string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(env[i], "FUZZ_TARGET="); ok {
			return v
		}
	}
	return ""
}

type gateProcess struct {
	lines  chan string
	exited chan struct{}
}

func (p *gateProcess) Lines() <-chan string      { return p.lines }
func (p *gateProcess) Signal(sig os.Signal) error { return nil }
func (p *gateProcess) Kill() error               { return nil }
func (p *gateProcess) Wait() (int, error)        { <-p.exited; return 0, nil }

type failingBuilder struct {
	fail map[build.Key]bool
}

func (f *failingBuilder) Build(ctx context.Context, project, sanitizer string, env map[string]string, sink result.CommandSink) (int, error) {
	if f.fail[build.Key{Project: project, Sanitizer: sanitizer}] {
		return 1, nil
	}
	return 0, nil
}

type harness struct {
	scheduler   *Scheduler
	coordinator *build.Coordinator
	aggregator  *result.Aggregator
	spawner     *gateSpawner
}

func newHarness(t *testing.T, maxParallel int, set *config.TargetSet, failing map[build.Key]bool) *harness {
	t.Helper()
	logger := zap.NewNop()
	appConfig := &config.AppConfig{
		ArtifactsDir: t.TempDir(),
		OSSFuzzDir:   "/oss-fuzz",
		MaxParallel:  maxParallel,
		GracePeriod:  time.Second,
	}
	layout := result.NewLayout(appConfig, result.NewConsoleWriter(&bytes.Buffer{}), logger)
	require.NoError(t, layout.Prepare(set.Targets))
	aggregator := result.NewAggregator(logger, nil)
	aggregator.Register(set.Targets)

	tracing := telemetry.NewTracerFactory(telemetry.TracerFactoryParams{})
	events := mq.NewNoopPublisher()

	coordinator := build.NewCoordinator(build.CoordinatorParams{
		Logger:        logger,
		Builder:       &failingBuilder{fail: failing},
		Layout:        layout,
		Aggregator:    aggregator,
		Events:        events,
		TracerFactory: tracing,
	})

	lc := fxtest.NewLifecycle(t)
	collector := crash.NewCollector(nil, logger, lc)
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)

	spawner := &gateSpawner{delay: 30 * time.Millisecond}
	worker := runner.NewWorker(runner.WorkerParams{
		Logger:        logger,
		AppConfig:     appConfig,
		Spawner:       spawner,
		Layout:        layout,
		Classifier:    crash.NewClassifier(),
		Collector:     collector,
		Watchdog:      watchdog.NewFactory(logger),
		Events:        events,
		TracerFactory: tracing,
	})

	scheduler := NewScheduler(SchedulerParams{
		Logger:      logger,
		AppConfig:   appConfig,
		Coordinator: coordinator,
		Worker:      worker,
		Layout:      layout,
		Aggregator:  aggregator,
	})
	return &harness{scheduler: scheduler, coordinator: coordinator, aggregator: aggregator, spawner: spawner}
}

func mustParse(t *testing.T, yaml string) *config.TargetSet {
	t.Helper()
	set, err := config.ParseTargets([]byte(yaml))
	require.NoError(t, err)
	return set
}

const fourTargets = `
targets:
  - name: t1
    project: zlib
    fuzz_target: a
  - name: t2
    project: zlib
    fuzz_target: b
  - name: t3
    project: libpng
    fuzz_target: c
  - name: t4
    project: libpng
    fuzz_target: d
`

func TestExpandOneJobPerBinary(t *testing.T) {
	set := mustParse(t, `
targets:
  - name: multi
    project: zlib
    fuzz_target: f
    binaries:
      - args: ["-workers=1"]
        max_run_seconds: 30
      - args: ["-workers=2"]
`)
	h := newHarness(t, 1, set, nil)
	h.coordinator.BuildAll(context.Background(), set, true)

	jobs := h.scheduler.Expand(set)
	require.Len(t, jobs, 2)
	assert.Equal(t, 0, jobs[0].BinaryIndex)
	assert.Equal(t, 1, jobs[1].BinaryIndex)
	assert.Equal(t, 30*time.Second, jobs[0].MaxRun)
	assert.Equal(t, time.Duration(config.DefaultMaxRunSeconds)*time.Second, jobs[1].MaxRun)
	assert.Equal(t, []string{"-workers=1"}, jobs[0].Args)
	assert.NotEqual(t, jobs[0].ID, jobs[1].ID, "every job gets its own identifier")
}

func TestExpandSkipsBuildFailedTargets(t *testing.T) {
	set := mustParse(t, fourTargets)
	h := newHarness(t, 2, set, map[build.Key]bool{{Project: "zlib", Sanitizer: "address"}: true})
	h.coordinator.BuildAll(context.Background(), set, false)

	jobs := h.scheduler.Expand(set)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, "libpng", job.Project)
	}
}

func TestRunAllRespectsParallelBound(t *testing.T) {
	set := mustParse(t, fourTargets)
	h := newHarness(t, 2, set, nil)
	h.coordinator.BuildAll(context.Background(), set, true)

	h.scheduler.RunAll(context.Background(), h.scheduler.Expand(set))

	assert.LessOrEqual(t, h.spawner.peak, 2, "never more than max_parallel concurrent runs")
	assert.Len(t, h.spawner.targets, 4, "every job ran")
	for _, name := range []string{"t1", "t2", "t3", "t4"} {
		assert.Equal(t, types.StatusPassed, h.aggregator.Status(name))
	}
}

func TestRunAllSerialKeepsDeclarationOrder(t *testing.T) {
	set := mustParse(t, fourTargets)
	h := newHarness(t, 1, set, nil)
	h.coordinator.BuildAll(context.Background(), set, true)

	h.scheduler.RunAll(context.Background(), h.scheduler.Expand(set))

	assert.Equal(t, []string{"a", "b", "c", "d"}, h.spawner.targets,
		"with a bound of one, jobs run in declaration order")
}

func TestRunAllStopsDispatchOnCancel(t *testing.T) {
	set := mustParse(t, fourTargets)
	h := newHarness(t, 1, set, nil)
	h.coordinator.BuildAll(context.Background(), set, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.scheduler.RunAll(ctx, h.scheduler.Expand(set))

	assert.Empty(t, h.spawner.targets, "a cancelled context dispatches nothing")
}
