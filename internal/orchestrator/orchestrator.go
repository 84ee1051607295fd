package orchestrator

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"fuzzdeck/config"
	"fuzzdeck/internal/build"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/sched"
)

// Orchestrator drives one full round: load target declarations, prepare the
// artifact tree, build every distinct (project, sanitizer) pair, run every
// built target through the scheduler, then write the summary and shut the
// application down with the aggregate exit code.
type Orchestrator struct {
	logger      *zap.Logger
	appConfig   *config.AppConfig
	layout      *result.Layout
	coordinator *build.Coordinator
	scheduler   *sched.Scheduler
	aggregator  *result.Aggregator
	shutdowner  fx.Shutdowner

	done chan struct{}
}

type Params struct {
	fx.In

	Lc          fx.Lifecycle
	Logger      *zap.Logger
	AppConfig   *config.AppConfig
	Layout      *result.Layout
	Coordinator *build.Coordinator
	Scheduler   *sched.Scheduler
	Aggregator  *result.Aggregator
	Shutdowner  fx.Shutdowner
}

func New(p Params) *Orchestrator {
	o := &Orchestrator{
		logger:      p.Logger,
		appConfig:   p.AppConfig,
		layout:      p.Layout,
		coordinator: p.Coordinator,
		scheduler:   p.Scheduler,
		aggregator:  p.Aggregator,
		shutdowner:  p.Shutdowner,
		done:        make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go o.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-o.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return o
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)

	code := o.round(ctx)
	if ctx.Err() != nil {
		code = result.ExitInterrupted
	}

	o.logger.Info("round complete", zap.Int("exit_code", code))
	if err := o.shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
		o.logger.Error("shutdown request failed", zap.Error(err))
	}
}

// round runs the build-then-run pipeline and returns the process exit code.
func (o *Orchestrator) round(ctx context.Context) int {
	set, err := config.LoadTargets(o.appConfig.TargetsPath)
	if err != nil {
		o.logger.Error("invalid fuzz target declarations",
			zap.String("path", o.appConfig.TargetsPath),
			zap.Error(err))
		return result.ExitConfig
	}
	o.aggregator.Register(set.Targets)

	if err := o.layout.Prepare(set.Targets); err != nil {
		o.logger.Error("cannot prepare artifact directories",
			zap.String("root", o.layout.Root()),
			zap.Error(err))
		return result.ExitConfig
	}
	defer o.layout.Close()

	o.coordinator.BuildAll(ctx, set, o.appConfig.SkipBuild)
	o.scheduler.RunAll(ctx, o.scheduler.Expand(set))

	summary := o.aggregator.Summary()
	if err := summary.Write(o.layout.SummaryPath()); err != nil {
		o.logger.Error("cannot write summary", zap.Error(err))
	}
	o.report(summary)
	return summary.ExitCode()
}

func (o *Orchestrator) report(s *result.Summary) {
	for _, t := range s.Targets {
		o.logger.Info("target finished",
			zap.String("target", t.Name),
			zap.String("status", string(t.Status)),
			zap.Int("runs", len(t.Binaries)))
	}
}
