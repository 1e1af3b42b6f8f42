package rfcomm

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"go.uber.org/atomic"
)

// Process is an owned handle to a background command.
//
// The command runs in its own session so that it outlives the current
// process once the handle is abandoned; it is only terminated by Stop.
type Process struct {
	cmd *exec.Cmd

	done   chan struct{}
	exited atomic.Bool
	err    error

	stop sync.Once
}

// StartProcess starts the command in the background, with its output
// written to out.
func StartProcess(out io.Writer, name string, args ...string) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		p.err = cmd.Wait()
		p.exited.Store(true)
		close(p.done)
	}()

	return p, nil
}

// Pid returns the process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done returns a channel that is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	return p.exited.Load()
}

// Err returns the exit error of the process, once it has exited.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}

	return p.err
}

// Stop kills the process if it is still running, and waits for it to exit.
func (p *Process) Stop() error {
	var err error

	p.stop.Do(func() {
		if !p.Exited() {
			if kerr := p.cmd.Process.Kill(); kerr != nil && !p.Exited() {
				err = kerr
			}
		}

		<-p.done
	})

	return err
}
