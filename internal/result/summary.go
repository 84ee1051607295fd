package result

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fuzzdeck/internal/types"
)

// Process exit codes, in fixed priority order: configuration problems beat
// build failures, build failures beat run failures. The worst observed
// category wins; 0 only when every enabled target passed.
const (
	ExitOK           = 0
	ExitConfig       = 2
	ExitBuildFailure = 3
	ExitRunFailure   = 4
	ExitInterrupted  = 130
)

// Summary is the machine-readable final report. Re-parsing it recovers the
// same per-target status categories that were computed during the run.
type Summary struct {
	Targets []TargetSummary `yaml:"targets"`
}

type TargetSummary struct {
	Name     string             `yaml:"name"`
	Status   types.TargetStatus `yaml:"status"`
	Binaries []BinarySummary    `yaml:"binaries,omitempty"`
}

type BinarySummary struct {
	Index          int                `yaml:"index"`
	Status         types.TargetStatus `yaml:"status"`
	ExitCode       int                `yaml:"exit_code"`
	ElapsedSeconds float64            `yaml:"elapsed_seconds"`
	CrashDetected  bool               `yaml:"crash_detected"`
	TimedOut       bool               `yaml:"timed_out"`
}

// ExitCode maps the worst status category across all targets to the
// process-level exit code.
func (s *Summary) ExitCode() int {
	worst := types.StatusPassed
	for _, t := range s.Targets {
		worst = types.Worst(worst, t.Status)
	}
	switch worst {
	case types.StatusBuildFailed:
		return ExitBuildFailure
	case types.StatusCrashed, types.StatusTimedOut, types.StatusFailed:
		return ExitRunFailure
	default:
		return ExitOK
	}
}

// Write renders the summary as YAML at the given path.
func (s *Summary) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// LoadSummary parses a previously written summary file.
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &s, nil
}
