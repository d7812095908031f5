package models

import "time"

// Run modes.
const (
	ModeBatch       = "batch"
	ModeInteractive = "interactive"
	ModeExec        = "exec"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusClosed    = "closed"
)

// Run is one submitted snippet. Output is kept for batch and exec runs
// only; interactive transcripts are not stored.
type Run struct {
	ID         string     `json:"id"`
	SessionID  *string    `json:"session_id"`
	Code       string     `json:"code"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Output     string     `json:"output,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

type InterpreterStatus struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
}

type HealthResponse struct {
	Status      string            `json:"status"`
	Interpreter InterpreterStatus `json:"interpreter"`
	Sessions    int               `json:"sessions"`
	Shepherd    bool              `json:"shepherd"`
}
