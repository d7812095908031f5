package pty

import (
	"context"
	"io"
)

// State is the answer of a liveness query on a session.
type State string

const (
	StateRunning State = "running"
	StateExited  State = "exited"
)

// Outcome is the result of starting a snippet. When Batch is set the
// program already finished and Output holds everything it printed;
// otherwise SessionID names the registered interactive session.
type Outcome struct {
	Batch     bool   `json:"batch"`
	Success   bool   `json:"success,omitempty"`
	Output    string `json:"output,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionManager manages interpreter session lifecycles.
type SessionManager interface {
	Start(ctx context.Context, code string) (Outcome, error)
	Feed(id, text string) error
	Drain(id string) ([]string, error)
	Status(id string) (State, error)
	Close(id string) error
	List() []string
	CloseAll()
}

// Winsize is the terminal geometry a process is spawned with.
type Winsize struct {
	Rows uint16
	Cols uint16
}

// ExitStatus describes how a process finished.
type ExitStatus struct {
	Success bool
	Code    int
}

// Process is a child attached to the slave side of a pseudo-terminal.
type Process interface {
	// Reader returns the master side output stream.
	Reader() io.Reader
	// Writer returns the master side input stream.
	Writer() io.Writer
	// Exited reports whether the process finished, without blocking.
	// A non-nil error means the status could not be determined.
	Exited() (ExitStatus, bool, error)
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	Kill() error
	// Close releases the master side of the terminal.
	Close() error
}

// Spawner starts programs on a fresh pseudo-terminal.
type Spawner interface {
	Spawn(name string, args []string, size Winsize) (Process, error)
}
