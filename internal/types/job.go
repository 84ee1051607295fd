package types

import "time"

// RunJob is a small, self-contained run unit: one binary variant of one
// target, with everything a worker needs to execute it.
type RunJob struct {
	ID          string // unique per orchestrator run
	TargetName  string
	Project     string
	FuzzTarget  string
	Sanitizer   string
	Dictionary  string            // optional token dictionary path
	Environment map[string]string // merged over the inherited environment, job wins
	Args        []string          // literal extra fuzzer arguments
	BinaryIndex int               // position in the target's binaries list
	MaxRun      time.Duration     // per-job time budget

	LogPath  string // per-target run.log
	CrashDir string // per-target crashes/ directory
}

// RunResult is the terminal outcome of one RunJob.
type RunResult struct {
	TargetName    string
	BinaryIndex   int
	ExitCode      int
	Elapsed       time.Duration
	CrashDetected bool
	TimedOut      bool
	LogPath       string
}

// Status maps the result onto the per-binary terminal state.
func (r RunResult) Status() TargetStatus {
	switch {
	case r.CrashDetected:
		return StatusCrashed
	case r.TimedOut:
		return StatusTimedOut
	case r.ExitCode != 0:
		return StatusFailed
	default:
		return StatusPassed
	}
}
