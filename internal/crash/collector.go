package crash

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fuzzdeck/internal/types"
	"fuzzdeck/internal/utils"
	"fuzzdeck/pkg/database"
)

// Collector relocates reproducer files into the owning target's
// crash-capture directory and, when a results database is configured,
// records one crash row per reproducer. The file copy happens inline so a
// worker can tear down its scratch directory as soon as Collect returns;
// database writes go through a channel to a single goroutine.
type Collector struct {
	db     *gorm.DB // nil when no results store is configured
	logger *zap.Logger

	crashChan chan types.CrashMessage
	done      chan struct{}

	mu   sync.Mutex
	seen map[string]bool // job ID + reproducer basename
}

func NewCollector(db *gorm.DB, logger *zap.Logger, lc fx.Lifecycle) *Collector {
	c := &Collector{
		db:        db,
		logger:    logger,
		crashChan: make(chan types.CrashMessage, 256),
		done:      make(chan struct{}),
		seen:      make(map[string]bool),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go c.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(c.crashChan)
			<-c.done // drain everything already reported
			return nil
		},
	})

	return c
}

// Collect captures one reproducer. Safe for concurrent use; the same
// reproducer reported twice for one job is stored once. The file is copied
// before Collect returns, so callers may delete the source afterwards.
func (c *Collector) Collect(msg types.CrashMessage) {
	key := msg.Job.ID + "/" + filepath.Base(msg.ReproducerPath)
	c.mu.Lock()
	if c.seen[key] {
		c.mu.Unlock()
		return
	}
	c.seen[key] = true
	c.mu.Unlock()

	dest, err := c.store(msg)
	if err != nil {
		c.logger.Error("failed to store crash evidence",
			zap.String("target", msg.Job.TargetName),
			zap.String("reproducer", msg.ReproducerPath),
			zap.Error(err))
		return
	}

	if c.db != nil {
		msg.ReproducerPath = dest
		c.crashChan <- msg
	}
}

// store copies the reproducer into the target's crashes/ directory under the
// engine's own identifier. No renaming, no cross-run deduplication.
func (c *Collector) store(msg types.CrashMessage) (string, error) {
	dest := filepath.Join(msg.Job.CrashDir, filepath.Base(msg.ReproducerPath))
	if err := utils.CopyFile(msg.ReproducerPath, dest); err != nil {
		return "", fmt.Errorf("copy reproducer: %w", err)
	}

	c.logger.Info("crash evidence captured",
		zap.String("target", msg.Job.TargetName),
		zap.String("reproducer", dest))
	return dest, nil
}

func (c *Collector) start() {
	defer close(c.done)
	for msg := range c.crashChan {
		row := database.NewCrash(msg.Job.TargetName, msg.Job.Project, msg.Job.Sanitizer, msg.Job.BinaryIndex, msg.ReproducerPath)
		if err := database.AddCrash(context.Background(), c.db, row); err != nil {
			c.logger.Error("failed to record crash row",
				zap.String("target", msg.Job.TargetName),
				zap.Error(err))
		}
	}
}
