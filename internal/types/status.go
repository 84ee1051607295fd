package types

// TargetStatus is the lifecycle state of one fuzz target.
type TargetStatus string

const (
	StatusPending     TargetStatus = "pending"
	StatusBuilding    TargetStatus = "building"
	StatusBuilt       TargetStatus = "built"
	StatusBuildFailed TargetStatus = "build_failed"
	StatusRunning     TargetStatus = "running"
	StatusPassed      TargetStatus = "passed"
	StatusCrashed     TargetStatus = "crashed"
	StatusTimedOut    TargetStatus = "timed_out"
	StatusFailed      TargetStatus = "failed"
)

// Severity is the fixed total order used everywhere a single worst-case
// outcome must be derived from several: build failures outrank crashes,
// crashes outrank timeouts, timeouts outrank plain nonzero exits.
func (s TargetStatus) Severity() int {
	switch s {
	case StatusBuildFailed:
		return 4
	case StatusCrashed:
		return 3
	case StatusTimedOut:
		return 2
	case StatusFailed:
		return 1
	default:
		return 0
	}
}

// Terminal reports whether no further state transition is possible.
func (s TargetStatus) Terminal() bool {
	switch s {
	case StatusBuildFailed, StatusPassed, StatusCrashed, StatusTimedOut, StatusFailed:
		return true
	}
	return false
}

// Worst returns whichever of the two statuses ranks higher in the severity order.
func Worst(a, b TargetStatus) TargetStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}
