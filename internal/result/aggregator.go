package result

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fuzzdeck/config"
	"fuzzdeck/internal/types"
)

const statusKeyFormat = "fuzzdeck:status:%s"

// Aggregator collects per-job outcomes and build failures into a final
// status per target. Workers report concurrently; all state is behind one lock.
type Aggregator struct {
	logger      *zap.Logger
	redisClient *redis.Client // optional live status mirror

	mu       sync.Mutex
	order    []string
	statuses map[string]types.TargetStatus
	results  map[string][]types.RunResult
}

func NewAggregator(logger *zap.Logger, redisClient *redis.Client) *Aggregator {
	return &Aggregator{
		logger:      logger,
		redisClient: redisClient,
		statuses:    make(map[string]types.TargetStatus),
		results:     make(map[string][]types.RunResult),
	}
}

// Register seeds the aggregate with every enabled target as pending. Called
// once, before building starts; declaration order is the reporting order.
func (a *Aggregator) Register(targets []config.TargetSpec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range targets {
		if !t.IsEnabled() {
			continue
		}
		a.order = append(a.order, t.Name)
		a.statuses[t.Name] = types.StatusPending
	}
}

// Transition moves a target to a non-terminal lifecycle state
// (building, built, running). Terminal states never regress.
func (a *Aggregator) Transition(ctx context.Context, target string, status types.TargetStatus) {
	a.mu.Lock()
	if a.statuses[target].Terminal() {
		a.mu.Unlock()
		return
	}
	a.statuses[target] = status
	a.mu.Unlock()
	a.mirror(ctx, target, status)
}

// MarkBuildFailed marks a target terminally failed before any run is dispatched.
func (a *Aggregator) MarkBuildFailed(ctx context.Context, target string) {
	a.mu.Lock()
	a.statuses[target] = types.StatusBuildFailed
	a.mu.Unlock()
	a.mirror(ctx, target, types.StatusBuildFailed)
}

// Report records one finished run job. The target's status becomes the
// worst-case aggregate over its binaries seen so far.
func (a *Aggregator) Report(ctx context.Context, res types.RunResult) {
	a.mu.Lock()
	a.results[res.TargetName] = append(a.results[res.TargetName], res)
	current := a.statuses[res.TargetName]
	if current == types.StatusBuildFailed {
		// build failures are terminal, a stray run report cannot improve them
		a.mu.Unlock()
		return
	}
	next := res.Status()
	if current.Terminal() {
		next = types.Worst(current, next)
	}
	a.statuses[res.TargetName] = next
	a.mu.Unlock()
	a.mirror(ctx, res.TargetName, next)
}

// Status returns the current status of a target.
func (a *Aggregator) Status(target string) types.TargetStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statuses[target]
}

// Summary enumerates every target with its final status, in declaration order.
// Targets still in a non-terminal state (an interrupted run) are reported as
// failed rather than silently passing.
func (a *Aggregator) Summary() *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &Summary{}
	for _, name := range a.order {
		status := a.statuses[name]
		if !status.Terminal() {
			status = types.StatusFailed
		}
		ts := TargetSummary{Name: name, Status: status}
		for _, r := range a.results[name] {
			ts.Binaries = append(ts.Binaries, BinarySummary{
				Index:          r.BinaryIndex,
				Status:         r.Status(),
				ExitCode:       r.ExitCode,
				ElapsedSeconds: r.Elapsed.Seconds(),
				CrashDetected:  r.CrashDetected,
				TimedOut:       r.TimedOut,
			})
		}
		s.Targets = append(s.Targets, ts)
	}
	return s
}

func (a *Aggregator) mirror(ctx context.Context, target string, status types.TargetStatus) {
	if a.redisClient == nil {
		return
	}
	key := fmt.Sprintf(statusKeyFormat, target)
	if err := a.redisClient.Set(ctx, key, string(status), 0).Err(); err != nil {
		a.logger.Warn("failed to mirror target status to redis",
			zap.String("target", target), zap.Error(err))
	}
}
