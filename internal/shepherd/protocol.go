package shepherd

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hashicorp/yamux"
	ptymgr "github.com/peterje/runbox/internal/pty"
)

// Commands understood by the shepherd. Every request travels on its own
// yamux stream: one JSON Request in, one JSON Response out.
const (
	cmdPing     = "ping"
	cmdStart    = "start"
	cmdFeed     = "feed"
	cmdDrain    = "drain"
	cmdStatus   = "status"
	cmdClose    = "close"
	cmdList     = "list"
	cmdCloseAll = "close_all"
)

// Error kinds let the client rebuild errors that match the session
// manager's sentinels.
const (
	kindNotFound    = "not_found"
	kindSpawnFailed = "spawn_failed"
	kindIO          = "io"
	kindStatusCheck = "status_check"
	kindCanceled    = "canceled"
	kindDeadline    = "deadline"
)

var kinds = []struct {
	name string
	err  error
}{
	{kindNotFound, ptymgr.ErrSessionNotFound},
	{kindSpawnFailed, ptymgr.ErrSpawnFailed},
	{kindIO, ptymgr.ErrIO},
	{kindStatusCheck, ptymgr.ErrStatusCheckFailed},
	{kindCanceled, context.Canceled},
	{kindDeadline, context.DeadlineExceeded},
}

// Request is a command from client to shepherd.
type Request struct {
	Command   string `json:"command"`
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Response is the shepherd's answer to one Request.
type Response struct {
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	Outcome  *ptymgr.Outcome `json:"outcome,omitempty"`
	Chunks   []string        `json:"chunks,omitempty"`
	State    ptymgr.State    `json:"state,omitempty"`
	Sessions []string        `json:"sessions,omitempty"`
}

func errorResponse(err error) Response {
	resp := Response{Error: err.Error()}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			resp.ErrorKind = k.name
			break
		}
	}
	return resp
}

// remoteError is an error reported by the shepherd. It unwraps to the
// sentinel named by its kind.
type remoteError struct {
	msg  string
	kind error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

func (r Response) err() error {
	if r.Error == "" && r.ErrorKind == "" {
		return nil
	}
	re := &remoteError{msg: r.Error}
	for _, k := range kinds {
		if k.name == r.ErrorKind {
			re.kind = k.err
			break
		}
	}
	return re
}

func yamuxConfig(logOutput io.Writer) *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = logOutput
	cfg.ConnectionWriteTimeout = 5 * time.Second
	return cfg
}
