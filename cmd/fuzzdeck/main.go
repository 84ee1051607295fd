package main

import (
	"context"
	"os"
	"syscall"

	"fuzzdeck/config"
	"fuzzdeck/internal/build"
	"fuzzdeck/internal/crash"
	"fuzzdeck/internal/orchestrator"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/runner"
	"fuzzdeck/internal/sched"
	"fuzzdeck/pkg/database"
	"fuzzdeck/pkg/logger"
	"fuzzdeck/pkg/mq"
	"fuzzdeck/pkg/telemetry"
	"fuzzdeck/pkg/watchdog"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,          // inject config
			database.NewDBConnection,   // inject results store (optional)
			database.NewRedisClient,    // inject redis client (optional)
			logger.NewLogger,           // inject logger
			mq.NewPublisher,            // inject event publisher
			telemetry.NewTelemetry,     // inject telemetry
			telemetry.NewTracerFactory, // inject telemetry tracer factory
			result.NewConsole,          // inject shared console writer
			result.NewLayout,           // inject artifact directory layout
			result.NewAggregator,       // inject status aggregate
			crash.NewClassifier,        // inject crash-signature classifier
			crash.NewCollector,         // inject reproducer collector
			watchdog.NewFactory,        // inject artifact watchdog factory
			runner.NewWorker,           // inject run worker
			sched.NewScheduler,         // inject run scheduler
			build.NewCoordinator,       // inject build coordinator
			fx.Annotate(build.NewOSSFuzzBuilder, fx.As(new(build.Builder))),
			fx.Annotate(runner.NewExecSpawner, fx.As(new(runner.Spawner))),
		),
		fx.Invoke(orchestrator.New),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)

	run(app)
}

// run starts the application, waits for either the orchestrator to finish
// or an OS signal, and exits with the orchestrator's code. Interrupts map
// to 130 the way a shell reports a SIGINT-terminated process.
func run(app *fx.App) {
	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		os.Exit(1)
	}

	sig := <-app.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		os.Exit(1)
	}

	os.Exit(exitCode(sig))
}

func exitCode(sig fx.ShutdownSignal) int {
	if sig.ExitCode != 0 {
		return sig.ExitCode
	}
	switch sig.Signal {
	case os.Interrupt, syscall.SIGTERM:
		return result.ExitInterrupted
	}
	return 0
}
