package pty

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// fakeProcess is a scripted Process. Output written with emit reaches the
// pump through a pipe; exit closes the pipe like a PTY hangup.
type fakeProcess struct {
	outR *io.PipeReader
	outW *io.PipeWriter

	mu       sync.Mutex
	input    bytes.Buffer
	writeErr error
	exited   bool
	status   ExitStatus
	probeErr error
	killed   bool
	closed   bool

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeProcess() *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{outR: r, outW: w, done: make(chan struct{})}
}

func (p *fakeProcess) emit(s string) { p.outW.Write([]byte(s)) }

func (p *fakeProcess) exit(st ExitStatus) {
	p.mu.Lock()
	p.exited = true
	p.status = st
	p.mu.Unlock()
	p.outW.Close()
	p.doneOnce.Do(func() { close(p.done) })
}

// exitDetached reports the process as reaped while leaving its output
// open, as when a grandchild still holds the terminal.
func (p *fakeProcess) exitDetached(st ExitStatus) {
	p.mu.Lock()
	p.exited = true
	p.status = st
	p.mu.Unlock()
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *fakeProcess) setProbeErr(err error) {
	p.mu.Lock()
	p.probeErr = err
	p.mu.Unlock()
}

func (p *fakeProcess) setWriteErr(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

func (p *fakeProcess) Reader() io.Reader     { return p.outR }
func (p *fakeProcess) Writer() io.Writer     { return fakeWriter{p} }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Exited() (ExitStatus, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.probeErr != nil {
		return ExitStatus{}, false, p.probeErr
	}
	return p.status, p.exited, nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(ExitStatus{Code: -1})
	return nil
}

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.outR.Close()
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) wasClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakeProcess) written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

type fakeWriter struct{ p *fakeProcess }

func (w fakeWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if w.p.writeErr != nil {
		return 0, w.p.writeErr
	}
	return w.p.input.Write(b)
}

// fakeSpawner hands out fresh fake processes and records every call.
// script, when set, runs in its own goroutine right after the spawn.
type fakeSpawner struct {
	mu     sync.Mutex
	err    error
	script func(p *fakeProcess)
	procs  []*fakeProcess
	calls  []spawnCall
}

type spawnCall struct {
	name string
	args []string
	size Winsize
}

func (s *fakeSpawner) Spawn(name string, args []string, size Winsize) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spawnCall{name: name, args: args, size: size})
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess()
	s.procs = append(s.procs, p)
	if s.script != nil {
		go s.script(p)
	}
	return p, nil
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

var errProbe = errors.New("waitid: no child processes")
