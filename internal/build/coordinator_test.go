package build

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fuzzdeck/config"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/types"
	"fuzzdeck/pkg/telemetry"
)

type fakeBuilder struct {
	mu    sync.Mutex
	calls []Key
	fail  map[Key]bool
	err   map[Key]error
}

func (f *fakeBuilder) Build(ctx context.Context, project, sanitizer string, env map[string]string, sink result.CommandSink) (int, error) {
	key := Key{Project: project, Sanitizer: sanitizer}
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()

	sink.WriteHeader("build " + project)
	sink.WriteLine("compiling " + project)
	if f.err[key] != nil {
		return -1, f.err[key]
	}
	if f.fail[key] {
		return 1, nil
	}
	return 0, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recordingEvents) Publish(ctx context.Context, event types.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingEvents) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestCoordinator(t *testing.T, builder Builder, set *config.TargetSet) (*Coordinator, *result.Aggregator, *recordingEvents) {
	t.Helper()
	logger := zap.NewNop()
	layout := result.NewLayout(
		&config.AppConfig{ArtifactsDir: t.TempDir()},
		result.NewConsoleWriter(&bytes.Buffer{}),
		logger,
	)
	require.NoError(t, layout.Prepare(set.Targets))
	aggregator := result.NewAggregator(logger, nil)
	aggregator.Register(set.Targets)
	events := &recordingEvents{}
	c := NewCoordinator(CoordinatorParams{
		Logger:        logger,
		Builder:       builder,
		Layout:        layout,
		Aggregator:    aggregator,
		Events:        events,
		TracerFactory: telemetry.NewTracerFactory(telemetry.TracerFactoryParams{}),
	})
	return c, aggregator, events
}

func mustParse(t *testing.T, yaml string) *config.TargetSet {
	t.Helper()
	set, err := config.ParseTargets([]byte(yaml))
	require.NoError(t, err)
	return set
}

const threeTargetsTwoPairs = `
targets:
  - name: zlib-compress
    project: zlib
    fuzz_target: compress_fuzzer
  - name: zlib-inflate
    project: zlib
    fuzz_target: inflate_fuzzer
  - name: zlib-msan
    project: zlib
    fuzz_target: compress_fuzzer
    sanitizer: memory
`

func TestBuildAllBuildsEachPairOnce(t *testing.T) {
	builder := &fakeBuilder{}
	set := mustParse(t, threeTargetsTwoPairs)
	c, aggregator, _ := newTestCoordinator(t, builder, set)

	c.BuildAll(context.Background(), set, false)

	assert.Equal(t, []Key{
		{Project: "zlib", Sanitizer: "address"},
		{Project: "zlib", Sanitizer: "memory"},
	}, builder.calls, "two targets sharing a pair trigger one build")
	assert.Equal(t, 2, c.BuildCount())

	for _, name := range []string{"zlib-compress", "zlib-inflate", "zlib-msan"} {
		assert.Equal(t, types.StatusBuilt, aggregator.Status(name))
	}
	assert.True(t, c.Succeeded("zlib", "address"))
	assert.True(t, c.Succeeded("zlib", "memory"))
}

func TestBuildFailureOnlyPoisonsItsOwnPair(t *testing.T) {
	builder := &fakeBuilder{fail: map[Key]bool{{Project: "zlib", Sanitizer: "address"}: true}}
	set := mustParse(t, threeTargetsTwoPairs)
	c, aggregator, events := newTestCoordinator(t, builder, set)

	c.BuildAll(context.Background(), set, false)

	assert.Equal(t, types.StatusBuildFailed, aggregator.Status("zlib-compress"))
	assert.Equal(t, types.StatusBuildFailed, aggregator.Status("zlib-inflate"))
	assert.Equal(t, types.StatusBuilt, aggregator.Status("zlib-msan"),
		"the other sanitizer pair still builds")
	assert.False(t, c.Succeeded("zlib", "address"))
	assert.True(t, c.Succeeded("zlib", "memory"))
	assert.Contains(t, events.kinds(), "build_finished")
}

func TestBuilderErrorIsABuildFailure(t *testing.T) {
	builder := &fakeBuilder{err: map[Key]error{{Project: "zlib", Sanitizer: "address"}: errors.New("helper.py not found")}}
	set := mustParse(t, `
targets:
  - name: zlib-compress
    project: zlib
    fuzz_target: compress_fuzzer
`)
	c, aggregator, _ := newTestCoordinator(t, builder, set)

	c.BuildAll(context.Background(), set, false)
	assert.Equal(t, types.StatusBuildFailed, aggregator.Status("zlib-compress"))
	assert.False(t, c.Succeeded("zlib", "address"))
}

func TestSkipBuildTreatsEverythingAsBuilt(t *testing.T) {
	builder := &fakeBuilder{}
	set := mustParse(t, threeTargetsTwoPairs)
	c, aggregator, _ := newTestCoordinator(t, builder, set)

	c.BuildAll(context.Background(), set, true)

	assert.Empty(t, builder.calls, "skip_build never invokes the collaborator")
	assert.True(t, c.Succeeded("zlib", "address"))
	assert.True(t, c.Succeeded("zlib", "memory"))
	assert.Equal(t, types.StatusBuilt, aggregator.Status("zlib-compress"))
}

func TestBuildAllCancelledContext(t *testing.T) {
	builder := &fakeBuilder{}
	set := mustParse(t, threeTargetsTwoPairs)
	c, aggregator, _ := newTestCoordinator(t, builder, set)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.BuildAll(ctx, set, false)

	assert.Empty(t, builder.calls)
	assert.Equal(t, types.StatusBuildFailed, aggregator.Status("zlib-compress"))
}
