package pty

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Fixed terminal geometry for spawned interpreters.
const (
	DefaultRows = 24
	DefaultCols = 80
)

// NativeSpawner spawns processes on a real pseudo-terminal.
type NativeSpawner struct {
	// Env is the child environment; nil inherits os.Environ().
	Env []string
	Dir string
}

func (s NativeSpawner) Spawn(name string, args []string, size Winsize) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, err
	}

	p := &nativeProcess{
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

// nativeProcess reaps its child in a dedicated goroutine so that Exited
// can answer without blocking.
type nativeProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func (p *nativeProcess) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *nativeProcess) Reader() io.Reader     { return p.ptmx }
func (p *nativeProcess) Writer() io.Writer     { return p.ptmx }
func (p *nativeProcess) Done() <-chan struct{} { return p.done }

func (p *nativeProcess) Exited() (ExitStatus, bool, error) {
	select {
	case <-p.done:
	default:
		return ExitStatus{}, false, nil
	}

	if p.waitErr == nil {
		return ExitStatus{Success: true}, true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		// ExitCode is -1 when the child was killed by a signal.
		return ExitStatus{Code: exitErr.ExitCode()}, true, nil
	}
	return ExitStatus{}, false, p.waitErr
}

func (p *nativeProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *nativeProcess) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.ptmx.Close()
	})
	return p.closeErr
}
