package result

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"fuzzdeck/config"
)

const (
	buildLogName = "build.log"
	runLogName   = "run.log"
	crashDirName = "crashes"
	summaryName  = "summary.yaml"
)

// Layout owns the artifact directory tree:
//
//	<root>/<target>/build.log
//	<root>/<target>/run.log
//	<root>/<target>/crashes/
//	<root>/summary.yaml
//
// Directories are created up front, before any build or run activity, and
// creation is idempotent: prior contents are left alone.
type Layout struct {
	root    string
	console *Console
	logger  *zap.Logger

	mu      sync.Mutex
	runLogs map[string]*TargetLog // one open handle per target
}

func NewLayout(appConfig *config.AppConfig, console *Console, logger *zap.Logger) *Layout {
	return &Layout{
		root:    appConfig.ArtifactsDir,
		console: console,
		logger:  logger,
		runLogs: make(map[string]*TargetLog),
	}
}

func (l *Layout) Root() string { return l.root }

// Prepare materializes the per-target directories for every enabled target.
func (l *Layout) Prepare(targets []config.TargetSpec) error {
	for _, t := range targets {
		if !t.IsEnabled() {
			continue
		}
		crashDir := filepath.Join(l.root, t.Name, crashDirName)
		if err := os.MkdirAll(crashDir, 0755); err != nil {
			return fmt.Errorf("create artifact directory for %s: %w", t.Name, err)
		}
	}
	return nil
}

// CrashDir returns the crash-capture directory of a target.
func (l *Layout) CrashDir(target string) string {
	return filepath.Join(l.root, target, crashDirName)
}

// RunLogPath returns the run log path of a target without opening it.
func (l *Layout) RunLogPath(target string) string {
	return filepath.Join(l.root, target, runLogName)
}

// SummaryPath returns the path the final summary is written to.
func (l *Layout) SummaryPath() string {
	return filepath.Join(l.root, summaryName)
}

// RunLog returns the shared run-log sink of a target, opening the file on
// first use. All binary variants of one target share this single handle;
// its internal lock keeps concurrent writers from corrupting the file.
func (l *Layout) RunLog(target string) (*TargetLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tl, ok := l.runLogs[target]; ok {
		return tl, nil
	}
	path := l.RunLogPath(target)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open run log for %s: %w", target, err)
	}
	tl := &TargetLog{label: target, file: f, console: l.console}
	l.runLogs[target] = tl
	return tl, nil
}

// BuildLog opens one build-log writer fanning out to every named target's
// build.log plus the console. The caller must Close it when the build ends.
func (l *Layout) BuildLog(label string, targets []string) (*BuildLog, error) {
	bl := &BuildLog{label: label, console: l.console}
	for _, t := range targets {
		path := filepath.Join(l.root, t, buildLogName)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			bl.Close()
			return nil, fmt.Errorf("open build log for %s: %w", t, err)
		}
		bl.files = append(bl.files, f)
	}
	return bl, nil
}

// Close releases every open run-log handle.
func (l *Layout) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, tl := range l.runLogs {
		if err := tl.Close(); err != nil {
			l.logger.Warn("failed to close run log", zap.String("target", name), zap.Error(err))
		}
		delete(l.runLogs, name)
	}
}

// TargetLog is the single-writer run log of one target, echoed to the console.
type TargetLog struct {
	label   string
	console *Console

	mu   sync.Mutex
	file *os.File
}

func (t *TargetLog) WriteLine(line string) {
	t.mu.Lock()
	t.file.WriteString(line + "\n")
	t.mu.Unlock()
	t.console.WriteLine(t.label, line)
}

// WriteHeader opens a new command section in the log file.
func (t *TargetLog) WriteHeader(command string) {
	t.mu.Lock()
	fmt.Fprintf(t.file, "\n=== Running: %s ===\n", command)
	t.mu.Unlock()
}

// WriteFailure records a nonzero command exit at the end of a section.
func (t *TargetLog) WriteFailure(exitCode int) {
	t.mu.Lock()
	fmt.Fprintf(t.file, "\nCommand failed with exit code %d\n", exitCode)
	t.mu.Unlock()
}

func (t *TargetLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}

// BuildLog fans build output out to the build.log of every target that
// references the project being built, plus the shared console.
type BuildLog struct {
	label   string
	console *Console

	mu    sync.Mutex
	files []*os.File
}

func (b *BuildLog) WriteLine(line string) {
	b.mu.Lock()
	for _, f := range b.files {
		f.WriteString(line + "\n")
	}
	b.mu.Unlock()
	b.console.WriteLine(b.label, line)
}

func (b *BuildLog) WriteHeader(command string) {
	b.mu.Lock()
	for _, f := range b.files {
		fmt.Fprintf(f, "\n=== Running: %s ===\n", command)
	}
	b.mu.Unlock()
}

func (b *BuildLog) WriteFailure(exitCode int) {
	b.mu.Lock()
	for _, f := range b.files {
		fmt.Fprintf(f, "\nCommand failed with exit code %d\n", exitCode)
	}
	b.mu.Unlock()
}

func (b *BuildLog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, f := range b.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.files = nil
	return firstErr
}
