package build

import "time"

// State tracks one project build through its lifecycle.
type State int

const (
	NotStarted State = iota
	Building
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Building:
		return "building"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Key identifies one distinct build. Sanitizer selection changes the
// compiled output, so it is part of the dedup key.
type Key struct {
	Project   string
	Sanitizer string
}

// Record is the memoized outcome of one build attempt. At most one attempt
// happens per key per orchestrator run; after completion the record is
// read-only and shared by every target referencing the key.
type Record struct {
	Key        Key
	State      State
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}
