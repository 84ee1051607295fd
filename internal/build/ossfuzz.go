package build

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"fuzzdeck/config"
	"fuzzdeck/internal/result"
	"fuzzdeck/internal/utils"
)

// OSSFuzzBuilder builds projects through the OSS-Fuzz helper script.
type OSSFuzzBuilder struct {
	ossFuzzDir string
	logger     *zap.Logger
}

func NewOSSFuzzBuilder(appConfig *config.AppConfig, logger *zap.Logger) *OSSFuzzBuilder {
	return &OSSFuzzBuilder{ossFuzzDir: appConfig.OSSFuzzDir, logger: logger}
}

func (b *OSSFuzzBuilder) helperPath() string {
	return filepath.Join(b.ossFuzzDir, "infra", "helper.py")
}

// Build runs `helper.py build_fuzzers --sanitizer=<s> <project>` and streams
// its combined stdout/stderr line by line into the sink.
func (b *OSSFuzzBuilder) Build(ctx context.Context, project, sanitizer string, env map[string]string, sink result.CommandSink) (int, error) {
	args := []string{
		b.helperPath(),
		"build_fuzzers",
		fmt.Sprintf("--sanitizer=%s", sanitizer),
		project,
	}

	cmd := exec.CommandContext(ctx, "python3", args...)
	cmd.Env = utils.MergeEnv(os.Environ(), env)

	b.logger.Debug("running build command", zap.String("command", cmd.String()))
	sink.WriteHeader(cmd.String())

	return streamCommand(cmd, sink)
}

// streamCommand starts cmd with stdout and stderr joined into one pipe,
// forwards every line to the sink, and returns the exit code.
func streamCommand(cmd *exec.Cmd, sink result.LineSink) (int, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return -1, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return -1, fmt.Errorf("start build command: %w", err)
	}
	// the child holds its own copy of the write end
	pw.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink.WriteLine(scanner.Text())
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wait for build command: %w", err)
	}
	return 0, nil
}
