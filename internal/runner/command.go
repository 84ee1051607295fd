package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command is a fully resolved subprocess invocation.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Process is one running subprocess with stdout and stderr joined into a
// single line stream. Lines is closed when the output pipe drains; Wait must
// be called afterwards to reap the process.
type Process interface {
	Lines() <-chan string
	Signal(sig os.Signal) error
	Kill() error
	Wait() (int, error)
}

// Spawner launches commands. Workers depend on this interface so tests can
// substitute scripted processes.
type Spawner interface {
	Spawn(ctx context.Context, command Command) (Process, error)
}

// ExecSpawner runs commands through os/exec. Context cancellation kills the
// process outright; gentler shutdown goes through Process.Signal.
type ExecSpawner struct{}

func NewExecSpawner() *ExecSpawner {
	return &ExecSpawner{}
}

func (s *ExecSpawner) Spawn(ctx context.Context, command Command) (Process, error) {
	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	cmd.Env = command.Env
	cmd.Dir = command.Dir

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, fmt.Errorf("start %s: %w", command.Path, err)
	}
	// the child holds its own copy of the write end
	pw.Close()

	p := &execProcess{cmd: cmd, lines: make(chan string, 64)}
	go func() {
		defer close(p.lines)
		defer pr.Close()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	lines chan string
}

func (p *execProcess) Lines() <-chan string { return p.lines }

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() (int, error) {
	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}
