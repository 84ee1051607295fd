package watchdog

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FilterFunc decides whether a created file is interesting. Returning false
// drops the event.
type FilterFunc func(path string) bool

// Factory builds directory watchers that report file creation events.
type Factory struct {
	logger *zap.Logger
}

func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{logger: logger}
}

// Watch monitors dir for newly created files until ctx is done. Paths that
// pass the filter are delivered on the returned channel; the channel is
// closed when watching stops.
func (f *Factory) Watch(ctx context.Context, dir string, filter FilterFunc) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	notify := make(chan string, 64)
	go f.run(ctx, watcher, notify, filter)
	return notify, nil
}

func (f *Factory) run(ctx context.Context, watcher *fsnotify.Watcher, notify chan<- string, filter FilterFunc) {
	defer watcher.Close()
	defer close(notify)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if filter != nil && !filter(event.Name) {
				f.logger.Debug("file ignored by filter", zap.String("file", event.Name))
				continue
			}
			select {
			case notify <- event.Name:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}
