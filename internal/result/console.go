package result

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// LineSink receives one output line at a time.
type LineSink interface {
	WriteLine(line string)
}

// CommandSink is a LineSink that also delimits command sections, mirroring
// the log layout external triage tooling expects.
type CommandSink interface {
	LineSink
	WriteHeader(command string)
	WriteFailure(exitCode int)
}

// Console is the shared console sink. Lines from concurrent jobs may arrive
// in any order, but each line is written whole, never interleaved mid-line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole() *Console {
	return &Console{w: os.Stdout}
}

// NewConsoleWriter is used by tests to capture console output.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{w: w}
}

// WriteLine prints one labeled line.
func (c *Console) WriteLine(label, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%s] %s\n", label, line)
}
