package build

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"fuzzdeck/config"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/types"
	"fuzzdeck/pkg/mq"
	"fuzzdeck/pkg/telemetry"
)

// Builder is the external build collaborator. One call builds one
// (project, sanitizer) pair, streaming its output to the sink, and returns
// the build's exit code.
type Builder interface {
	Build(ctx context.Context, project, sanitizer string, env map[string]string, sink result.CommandSink) (int, error)
}

// Coordinator invokes the build collaborator exactly once per distinct
// (project, sanitizer) pair among the enabled targets and memoizes the
// outcome. Targets referencing a failed pair become BuildFailed without any
// run being dispatched; other pairs are unaffected.
type Coordinator struct {
	logger        *zap.Logger
	builder       Builder
	layout        *result.Layout
	aggregator    *result.Aggregator
	events        mq.Publisher
	tracerFactory *telemetry.TracerFactory

	mu      sync.Mutex
	records map[Key]*Record
}

type CoordinatorParams struct {
	fx.In

	Logger        *zap.Logger
	Builder       Builder
	Layout        *result.Layout
	Aggregator    *result.Aggregator
	Events        mq.Publisher
	TracerFactory *telemetry.TracerFactory
}

func NewCoordinator(p CoordinatorParams) *Coordinator {
	return &Coordinator{
		logger:        p.Logger,
		builder:       p.Builder,
		layout:        p.Layout,
		aggregator:    p.Aggregator,
		events:        p.Events,
		tracerFactory: p.TracerFactory,
		records:       make(map[Key]*Record),
	}
}

type buildGroup struct {
	key     Key
	targets []string          // every target referencing the key, declaration order
	env     map[string]string // environment of the first referencing target
}

// BuildAll builds every distinct pair referenced by the target set, in
// declaration order. With skipBuild all pairs are recorded as Succeeded
// without invoking the collaborator. A failed pair never stops the
// remaining pairs; ctx cancellation does.
func (c *Coordinator) BuildAll(ctx context.Context, set *config.TargetSet, skipBuild bool) {
	groups := groupByKey(set.Targets)

	for _, g := range groups {
		if ctx.Err() != nil {
			c.logger.Warn("build phase cancelled", zap.Error(ctx.Err()))
			for _, name := range g.targets {
				c.aggregator.MarkBuildFailed(ctx, name)
			}
			continue
		}
		c.buildOne(ctx, g, skipBuild)
	}
}

func (c *Coordinator) buildOne(ctx context.Context, g *buildGroup, skipBuild bool) {
	rec, fresh := c.begin(g.key)
	if !fresh {
		// cannot happen while BuildAll is the only caller, kept as a guard
		// against a second coordinator pass racing the first
		return
	}

	for _, name := range g.targets {
		c.aggregator.Transition(ctx, name, types.StatusBuilding)
	}

	if skipBuild {
		c.logger.Info("skipping build, project treated as pre-built",
			zap.String("project", g.key.Project), zap.String("sanitizer", g.key.Sanitizer))
		c.finish(rec, Succeeded, 0)
		for _, name := range g.targets {
			c.aggregator.Transition(ctx, name, types.StatusBuilt)
		}
		return
	}

	c.logger.Info("building project",
		zap.String("project", g.key.Project),
		zap.String("sanitizer", g.key.Sanitizer),
		zap.Strings("targets", g.targets))

	tracer := c.tracerFactory.NewTracer(ctx, "building "+g.key.Project).
		WithAttribute("fuzz.project", g.key.Project).
		WithAttribute("fuzz.sanitizer", g.key.Sanitizer)
	tracer.Start()
	defer tracer.End()

	c.events.Publish(ctx, types.Event{
		Kind: "build_started", Project: g.key.Project, Sanitizer: g.key.Sanitizer,
	})

	sink, err := c.layout.BuildLog(g.key.Project, g.targets)
	if err != nil {
		c.logger.Error("failed to open build logs", zap.Error(err))
		c.failGroup(ctx, g, rec, tracer, -1, err)
		return
	}
	defer sink.Close()

	exitCode, err := c.builder.Build(ctx, g.key.Project, g.key.Sanitizer, g.env, sink)
	if err != nil || exitCode != 0 {
		sink.WriteFailure(exitCode)
		c.failGroup(ctx, g, rec, tracer, exitCode, err)
		return
	}

	tracer.SetStatus(codes.Ok, "build succeeded")
	c.finish(rec, Succeeded, 0)
	for _, name := range g.targets {
		c.aggregator.Transition(ctx, name, types.StatusBuilt)
	}
	c.events.Publish(ctx, types.Event{
		Kind: "build_finished", Project: g.key.Project, Sanitizer: g.key.Sanitizer, Detail: "succeeded",
	})
}

func (c *Coordinator) failGroup(ctx context.Context, g *buildGroup, rec *Record, tracer telemetry.Tracer, exitCode int, err error) {
	c.logger.Error("project build failed",
		zap.String("project", g.key.Project),
		zap.String("sanitizer", g.key.Sanitizer),
		zap.Int("exit_code", exitCode),
		zap.Error(err))
	tracer.SetStatus(codes.Error, "build failed")
	c.finish(rec, Failed, exitCode)
	for _, name := range g.targets {
		c.aggregator.MarkBuildFailed(ctx, name)
	}
	c.events.Publish(ctx, types.Event{
		Kind: "build_finished", Project: g.key.Project, Sanitizer: g.key.Sanitizer, Detail: "failed",
	})
}

// begin claims the build of a key. The lock is what keeps two callers from
// starting the same build concurrently.
func (c *Coordinator) begin(key Key) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[key]; ok {
		return nil, false
	}
	rec := &Record{Key: key, State: Building, StartedAt: time.Now()}
	c.records[key] = rec
	return rec, true
}

func (c *Coordinator) finish(rec *Record, state State, exitCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec.State = state
	rec.ExitCode = exitCode
	rec.FinishedAt = time.Now()
}

// Succeeded reports whether the pair's build completed successfully.
func (c *Coordinator) Succeeded(project, sanitizer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[Key{Project: project, Sanitizer: sanitizer}]
	return ok && rec.State == Succeeded
}

// BuildCount reports how many build attempts were made.
func (c *Coordinator) BuildCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func groupByKey(targets []config.TargetSpec) []*buildGroup {
	var order []*buildGroup
	index := make(map[Key]*buildGroup)
	for _, t := range targets {
		if !t.IsEnabled() {
			continue
		}
		key := Key{Project: t.Project, Sanitizer: t.Sanitizer}
		g, ok := index[key]
		if !ok {
			g = &buildGroup{key: key, env: t.Environment}
			index[key] = g
			order = append(order, g)
		}
		g.targets = append(g.targets, t.Name)
	}
	return order
}
