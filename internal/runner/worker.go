package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fuzzdeck/config"
	"fuzzdeck/internal/crash"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/types"
	"fuzzdeck/pkg/database"
	"fuzzdeck/pkg/mq"
	"fuzzdeck/pkg/telemetry"
	"fuzzdeck/pkg/watchdog"
)

// Worker executes run jobs one at a time. The scheduler calls Run from many
// goroutines; the worker itself holds no per-run state.
type Worker struct {
	logger        *zap.Logger
	ossFuzzDir    string
	grace         time.Duration
	spawner       Spawner
	layout        *result.Layout
	classifier    *crash.Classifier
	collector     *crash.Collector
	watchdog      *watchdog.Factory
	events        mq.Publisher
	tracerFactory *telemetry.TracerFactory
	db            *gorm.DB
}

type WorkerParams struct {
	fx.In
	Logger        *zap.Logger
	AppConfig     *config.AppConfig
	Spawner       Spawner
	Layout        *result.Layout
	Classifier    *crash.Classifier
	Collector     *crash.Collector
	Watchdog      *watchdog.Factory
	Events        mq.Publisher
	TracerFactory *telemetry.TracerFactory
	DB            *gorm.DB `optional:"true"`
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		logger:        p.Logger,
		ossFuzzDir:    p.AppConfig.OSSFuzzDir,
		grace:         p.AppConfig.GracePeriod,
		spawner:       p.Spawner,
		layout:        p.Layout,
		classifier:    p.Classifier,
		collector:     p.Collector,
		watchdog:      p.Watchdog,
		events:        p.Events,
		tracerFactory: p.TracerFactory,
		db:            p.DB,
	}
}

// Run executes one job to completion and returns its terminal outcome.
// Failures to even launch the process come back as a failed result, never
// as a panic or a propagated error; one misbehaving target must not take
// the round down.
func (w *Worker) Run(ctx context.Context, job *types.RunJob) types.RunResult {
	res := types.RunResult{
		TargetName:  job.TargetName,
		BinaryIndex: job.BinaryIndex,
		ExitCode:    -1,
		LogPath:     job.LogPath,
	}

	tracer := w.tracerFactory.NewTracer(ctx, "running "+job.TargetName).
		WithAttribute("fuzz.project", job.Project).
		WithAttribute("fuzz.sanitizer", job.Sanitizer).
		WithAttribute("fuzz.target", job.FuzzTarget)
	tracer.Start()
	defer tracer.End()

	w.events.Publish(ctx, types.Event{
		Kind:      "run_started",
		Target:    job.TargetName,
		Project:   job.Project,
		Sanitizer: job.Sanitizer,
	})

	start := time.Now()
	status := func() types.TargetStatus { return res.Status() }
	defer func() {
		res.Elapsed = time.Since(start)
		w.record(ctx, job, &res)
		w.events.Publish(ctx, types.Event{
			Kind:      "run_finished",
			Target:    job.TargetName,
			Project:   job.Project,
			Sanitizer: job.Sanitizer,
			Detail:    string(status()),
		})
	}()

	sink, err := w.layout.RunLog(job.TargetName)
	if err != nil {
		w.logger.Error("cannot open run log", zap.String("target", job.TargetName), zap.Error(err))
		tracer.SetStatus(codes.Error, "run log unavailable")
		return res
	}

	// scratch directory the engine writes its artifacts into
	workspace := filepath.Join(os.TempDir(), "fuzzdeck", job.ID)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		w.logger.Error("cannot create workspace", zap.String("target", job.TargetName), zap.Error(err))
		tracer.SetStatus(codes.Error, "workspace unavailable")
		return res
	}
	defer os.RemoveAll(workspace)

	var crashed atomic.Bool
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if found, err := w.watchdog.Watch(watchCtx, workspace, IsReproducer); err != nil {
		w.logger.Warn("artifact watchdog unavailable, relying on final sweep", zap.Error(err))
	} else {
		go func() {
			for path := range found {
				w.noteCrash(ctx, job, &crashed, filepath.Base(path))
				w.collector.Collect(types.CrashMessage{ReproducerPath: path, Job: job})
			}
		}()
	}

	command := RunCommand(w.ossFuzzDir, job, workspace)
	w.logger.Info("running fuzz target",
		zap.String("target", job.TargetName),
		zap.Int("binary", job.BinaryIndex),
		zap.String("command", command.String()))
	sink.WriteHeader(command.String())

	proc, err := w.spawner.Spawn(ctx, command)
	if err != nil {
		w.logger.Error("cannot start fuzzer", zap.String("target", job.TargetName), zap.Error(err))
		sink.WriteFailure(res.ExitCode)
		tracer.SetStatus(codes.Error, "spawn failed")
		return res
	}

	done := make(chan struct{})
	exitCode := -1
	go func() {
		defer close(done)
		for line := range proc.Lines() {
			sink.WriteLine(line)
			if sig, ok := w.classifier.Match(line); ok {
				w.noteCrash(ctx, job, &crashed, sig.Kind)
			}
			if rp, ok := crash.ReproducerPath(line); ok {
				w.collector.Collect(types.CrashMessage{
					ReproducerPath: resolveReproducer(workspace, rp),
					Job:            job,
				})
			}
		}
		code, err := proc.Wait()
		if err != nil {
			w.logger.Error("wait failed", zap.String("target", job.TargetName), zap.Error(err))
		}
		exitCode = code
	}()

	// the engine enforces max_total_time itself; the deadline here only
	// catches a wedged process
	deadline := time.NewTimer(job.MaxRun + w.grace)
	defer deadline.Stop()

	select {
	case <-done:
	case <-deadline.C:
		res.TimedOut = true
		w.logger.Warn("run overran its budget, interrupting",
			zap.String("target", job.TargetName),
			zap.Duration("budget", job.MaxRun))
		w.shutdown(proc, done)
	case <-ctx.Done():
		w.shutdown(proc, done)
	}

	res.ExitCode = exitCode
	if res.ExitCode != 0 {
		sink.WriteFailure(res.ExitCode)
	}

	// sweep for artifacts the watchdog may have missed
	if entries, err := os.ReadDir(workspace); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(workspace, entry.Name())
			if IsReproducer(path) {
				w.noteCrash(ctx, job, &crashed, entry.Name())
				w.collector.Collect(types.CrashMessage{ReproducerPath: path, Job: job})
			}
		}
	}
	res.CrashDetected = crashed.Load()

	if res.CrashDetected {
		tracer.SetStatus(codes.Error, "crash detected")
	} else {
		tracer.SetStatus(codes.Ok, string(status()))
	}
	return res
}

// shutdown interrupts the process and escalates to a kill when it ignores
// the signal for a grace period.
func (w *Worker) shutdown(proc Process, done <-chan struct{}) {
	_ = proc.Signal(syscall.SIGINT)
	select {
	case <-done:
	case <-time.After(w.grace):
		_ = proc.Kill()
		<-done
	}
}

// noteCrash flips the crash flag once and announces the first sighting.
func (w *Worker) noteCrash(ctx context.Context, job *types.RunJob, crashed *atomic.Bool, detail string) {
	if !crashed.CompareAndSwap(false, true) {
		return
	}
	w.logger.Warn("crash detected",
		zap.String("target", job.TargetName),
		zap.String("detail", detail))
	w.events.Publish(ctx, types.Event{
		Kind:      "crash_found",
		Target:    job.TargetName,
		Project:   job.Project,
		Sanitizer: job.Sanitizer,
		Detail:    detail,
	})
}

func (w *Worker) record(ctx context.Context, job *types.RunJob, res *types.RunResult) {
	if w.db == nil {
		return
	}
	row := database.NewRunRecord(
		job.TargetName, job.Project, job.Sanitizer, job.BinaryIndex,
		res.ExitCode, res.Elapsed.Milliseconds(),
		res.CrashDetected, res.TimedOut, string(res.Status()),
	)
	if err := database.AddRunRecord(ctx, w.db, row); err != nil {
		w.logger.Error("failed to record run outcome", zap.String("target", job.TargetName), zap.Error(err))
	}
}

// resolveReproducer maps an engine-reported artifact path onto the scratch
// directory when the report is relative or points into a container.
func resolveReproducer(workspace, path string) string {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(workspace, filepath.Base(path))
}
