package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fuzzdeck/config"
	"fuzzdeck/internal/build"
	"fuzzdeck/internal/crash"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/runner"
	"fuzzdeck/internal/sched"
	"fuzzdeck/internal/types"
	"fuzzdeck/pkg/mq"
	"fuzzdeck/pkg/telemetry"
	"fuzzdeck/pkg/watchdog"
)

type scriptSpawner struct {
	script   []string
	exitCode int
}

func (s *scriptSpawner) Spawn(ctx context.Context, command runner.Command) (runner.Process, error) {
	p := &scriptProcess{lines: make(chan string), exited: make(chan struct{}), exitCode: s.exitCode}
	go func() {
		for _, line := range s.script {
			p.lines <- line
		}
		close(p.lines)
		close(p.exited)
	}()
	return p, nil
}

type scriptProcess struct {
	lines    chan string
	exited   chan struct{}
	exitCode int
}

func (p *scriptProcess) Lines() <-chan string       { return p.lines }
func (p *scriptProcess) Signal(sig os.Signal) error { return nil }
func (p *scriptProcess) Kill() error                { return nil }
func (p *scriptProcess) Wait() (int, error)         { <-p.exited; return p.exitCode, nil }

// runRound spins up the full application with a scripted spawner and
// returns the exit code the orchestrator shut it down with.
func runRound(t *testing.T, appConfig *config.AppConfig, spawner runner.Spawner) fx.ShutdownSignal {
	t.Helper()
	app := fx.New(
		fx.Supply(appConfig),
		fx.Provide(
			func() *zap.Logger { return zap.NewNop() },
			mq.NewNoopPublisher,
			telemetry.NewTracerFactory,
			result.NewConsole,
			result.NewLayout,
			result.NewAggregator,
			crash.NewClassifier,
			crash.NewCollector,
			watchdog.NewFactory,
			runner.NewWorker,
			sched.NewScheduler,
			build.NewCoordinator,
			fx.Annotate(build.NewOSSFuzzBuilder, fx.As(new(build.Builder))),
			func() runner.Spawner { return spawner },
			func() *gorm.DB { return nil },
			func() *redis.Client { return nil },
		),
		fx.Invoke(New),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(startCtx))

	select {
	case sig := <-app.Wait():
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		require.NoError(t, app.Stop(stopCtx))
		return sig
	case <-time.After(30 * time.Second):
		t.Fatal("orchestrator never shut the application down")
		return fx.ShutdownSignal{}
	}
}

func testConfig(t *testing.T, targetsYAML string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fuzz_targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(targetsYAML), 0644))
	return &config.AppConfig{
		TargetsPath:  path,
		ArtifactsDir: filepath.Join(dir, "artifacts"),
		OSSFuzzDir:   "/oss-fuzz",
		MaxParallel:  2,
		SkipBuild:    true,
		GracePeriod:  time.Second,
		LogLevel:     "error",
		ServiceName:  "fuzzdeck-test",
	}
}

const twoTargets = `
targets:
  - name: zlib-compress
    project: zlib
    fuzz_target: compress_fuzzer
  - name: zlib-inflate
    project: zlib
    fuzz_target: inflate_fuzzer
`

func TestRoundAllPassing(t *testing.T) {
	appConfig := testConfig(t, twoTargets)
	sig := runRound(t, appConfig, &scriptSpawner{script: []string{"Done 1000 runs"}})

	assert.Equal(t, result.ExitOK, sig.ExitCode)

	summary, err := result.LoadSummary(filepath.Join(appConfig.ArtifactsDir, "summary.yaml"))
	require.NoError(t, err)
	require.Len(t, summary.Targets, 2)
	for _, target := range summary.Targets {
		assert.Equal(t, types.StatusPassed, target.Status)
	}
}

func TestRoundRunFailure(t *testing.T) {
	appConfig := testConfig(t, twoTargets)
	sig := runRound(t, appConfig, &scriptSpawner{script: []string{"MERGE-INNER: exiting"}, exitCode: 1})

	assert.Equal(t, result.ExitRunFailure, sig.ExitCode)
}

func TestRoundCrashVerdict(t *testing.T) {
	appConfig := testConfig(t, twoTargets)
	sig := runRound(t, appConfig, &scriptSpawner{
		script:   []string{"==1==ERROR: AddressSanitizer: heap-use-after-free"},
		exitCode: 1,
	})

	assert.Equal(t, result.ExitRunFailure, sig.ExitCode)
	summary, err := result.LoadSummary(filepath.Join(appConfig.ArtifactsDir, "summary.yaml"))
	require.NoError(t, err)
	for _, target := range summary.Targets {
		assert.Equal(t, types.StatusCrashed, target.Status)
	}
}

func TestRoundConfigError(t *testing.T) {
	appConfig := testConfig(t, twoTargets)
	appConfig.TargetsPath = filepath.Join(t.TempDir(), "missing.yaml")
	sig := runRound(t, appConfig, &scriptSpawner{})

	assert.Equal(t, result.ExitConfig, sig.ExitCode)
}

func TestRoundMalformedTargets(t *testing.T) {
	appConfig := testConfig(t, `targets: [{name: dup, project: p, fuzz_target: f}, {name: dup, project: p, fuzz_target: f}]`)
	sig := runRound(t, appConfig, &scriptSpawner{})

	assert.Equal(t, result.ExitConfig, sig.ExitCode)
}
