package pty

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSpawnFailed       = errors.New("spawn failed")
	ErrIO                = errors.New("i/o error")
	ErrStatusCheckFailed = errors.New("status check failed")
)

// SessionError carries the operation and session a failure belongs to.
type SessionError struct {
	Op  string // "start", "feed", "drain", "status", "exec"
	ID  string
	Err error
}

func (e *SessionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func notFound(op, id string) error {
	return &SessionError{Op: op, ID: id, Err: ErrSessionNotFound}
}

// wrapKind tags cause with one of the sentinel kinds so callers can match
// both the kind and the underlying error.
func wrapKind(op, id string, kind, cause error) error {
	return &SessionError{Op: op, ID: id, Err: fmt.Errorf("%w: %w", kind, cause)}
}
