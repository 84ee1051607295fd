package types

// CrashMessage announces one reproducer file found while a job was running.
type CrashMessage struct {
	ReproducerPath string // path reported by the fuzzing engine
	Job            *RunJob
}

// Event is one lifecycle notification published to the optional event bus.
type Event struct {
	Kind      string `json:"kind"` // build_started, build_finished, run_started, run_finished, crash_found
	Target    string `json:"target,omitempty"`
	Project   string `json:"project,omitempty"`
	Sanitizer string `json:"sanitizer,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
