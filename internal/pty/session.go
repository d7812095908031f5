package pty

import (
	"fmt"
	"sync"
	"time"
)

// Terminal markers appended to drained output once the process is gone.
const (
	MarkerSuccess  = "\n[Program finished successfully]"
	MarkerFailure  = "\n[Program exited with error]"
	MarkerAbnormal = "\n[Program terminated unexpectedly]"
)

// IsMarker reports whether chunk is one of the synthetic terminal markers.
func IsMarker(chunk string) bool {
	return chunk == MarkerSuccess || chunk == MarkerFailure || chunk == MarkerAbnormal
}

// Session is an interactive process registered with a Manager.
type Session struct {
	ID        string
	CreatedAt time.Time

	proc     Process
	queue    *outputQueue
	pumpDone <-chan struct{}

	writeMu sync.Mutex

	mu         sync.Mutex
	markerSent bool
}

func newSession(id string, proc Process, queue *outputQueue, pumpDone <-chan struct{}) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		proc:      proc,
		queue:     queue,
		pumpDone:  pumpDone,
	}
}

// write sends all of data to the child's terminal input.
func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	w := s.proc.Writer()
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		data = data[n:]
	}
	return nil
}

// drain pops all queued output and, the first time the process is seen
// to be gone, appends a terminal marker. settle bounds how long to wait
// for the pump to flush output that is still in flight after exit.
//
// The marker is latched even if the pump has not reached EOF within
// settle, which happens when a grandchild keeps the terminal open. Output
// it writes later is still returned by subsequent drains, after the
// marker and without a second one.
func (s *Session) drain(settle time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exited, probeErr := s.proc.Exited()
	if exited || probeErr != nil {
		waitPump(s.pumpDone, settle)
	}
	chunks := s.queue.popAll()
	if s.markerSent {
		return chunks, probeErr
	}
	switch {
	case probeErr != nil:
		chunks = append(chunks, MarkerAbnormal)
	case !exited:
		return chunks, nil
	case st.Success:
		chunks = append(chunks, MarkerSuccess)
	default:
		chunks = append(chunks, MarkerFailure)
	}
	s.markerSent = true
	return chunks, probeErr
}

func (s *Session) state() (State, error) {
	_, exited, err := s.proc.Exited()
	if err != nil {
		return StateExited, err
	}
	if exited {
		return StateExited, nil
	}
	return StateRunning, nil
}

// releaseProcess frees the terminal, killing and reaping the child first
// when kill is set and it is still running. Closing the master also
// unblocks a pending write.
func releaseProcess(proc Process, kill bool, wait time.Duration) error {
	if _, exited, _ := proc.Exited(); kill && !exited {
		if err := proc.Kill(); err != nil {
			proc.Close()
			return err
		}
		select {
		case <-proc.Done():
		case <-time.After(wait):
		}
	}
	return proc.Close()
}

func waitPump(done <-chan struct{}, settle time.Duration) {
	select {
	case <-done:
		return
	default:
	}
	t := time.NewTimer(settle)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
}
