package sched

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fuzzdeck/config"
	"fuzzdeck/internal/build"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/runner"
	"fuzzdeck/internal/types"
)

// Scheduler expands built targets into run jobs and drives them through a
// bounded worker pool.
type Scheduler struct {
	logger      *zap.Logger
	maxParallel int
	coordinator *build.Coordinator
	worker      *runner.Worker
	layout      *result.Layout
	aggregator  *result.Aggregator
}

type SchedulerParams struct {
	fx.In

	Logger      *zap.Logger
	AppConfig   *config.AppConfig
	Coordinator *build.Coordinator
	Worker      *runner.Worker
	Layout      *result.Layout
	Aggregator  *result.Aggregator
}

func NewScheduler(p SchedulerParams) *Scheduler {
	return &Scheduler{
		logger:      p.Logger,
		maxParallel: p.AppConfig.MaxParallel,
		coordinator: p.Coordinator,
		worker:      p.Worker,
		layout:      p.Layout,
		aggregator:  p.Aggregator,
	}
}

// Expand turns every enabled target whose build succeeded into its run
// jobs, one per binary variant, preserving declaration order.
func (s *Scheduler) Expand(set *config.TargetSet) []*types.RunJob {
	var jobs []*types.RunJob
	for _, t := range set.Targets {
		if !t.IsEnabled() {
			continue
		}
		if !s.coordinator.Succeeded(t.Project, t.Sanitizer) {
			s.logger.Warn("skipping target whose build failed", zap.String("target", t.Name))
			continue
		}
		for i, binary := range t.Binaries {
			jobs = append(jobs, &types.RunJob{
				ID:          uuid.NewString(),
				TargetName:  t.Name,
				Project:     t.Project,
				FuzzTarget:  t.FuzzTarget,
				Sanitizer:   t.Sanitizer,
				Dictionary:  t.Dictionary,
				Environment: t.Environment,
				Args:        binary.Args,
				BinaryIndex: i,
				MaxRun:      time.Duration(binary.MaxRunSeconds) * time.Second,
				LogPath:     s.layout.RunLogPath(t.Name),
				CrashDir:    s.layout.CrashDir(t.Name),
			})
		}
	}
	return jobs
}

// RunAll executes the jobs with at most maxParallel running at once. Jobs
// are dispatched in order; a cancelled context stops dispatching but lets
// the in-flight jobs wind down through their own shutdown path. Individual
// job failures are absorbed into the aggregate, never returned.
func (s *Scheduler) RunAll(ctx context.Context, jobs []*types.RunJob) {
	if len(jobs) == 0 {
		s.logger.Info("no runnable jobs")
		return
	}

	s.logger.Info("dispatching run jobs",
		zap.Int("jobs", len(jobs)),
		zap.Int("max_parallel", s.maxParallel))

	g := new(errgroup.Group)
	g.SetLimit(s.maxParallel)
	for _, job := range jobs {
		if ctx.Err() != nil {
			s.logger.Warn("dispatch interrupted",
				zap.Int("remaining", remaining(jobs, job)))
			break
		}
		job := job
		g.Go(func() error {
			res := s.worker.Run(ctx, job)
			s.aggregator.Report(ctx, res)
			s.logger.Info("run finished",
				zap.String("target", job.TargetName),
				zap.Int("binary", job.BinaryIndex),
				zap.String("status", string(res.Status())),
				zap.Duration("elapsed", res.Elapsed),
				zap.String("log", filepath.Base(res.LogPath)))
			return nil
		})
	}
	_ = g.Wait()
}

func remaining(jobs []*types.RunJob, current *types.RunJob) int {
	for i, j := range jobs {
		if j == current {
			return len(jobs) - i
		}
	}
	return 0
}
