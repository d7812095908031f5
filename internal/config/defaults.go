package config

import (
	"time"

	ptymgr "github.com/peterje/runbox/internal/pty"
)

const (
	DefaultPort      = 8810
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	// Session policy defaults live with the session manager.
	DefaultInterpreter  = ptymgr.DefaultInterpreter
	DefaultGracePeriod  = ptymgr.DefaultGracePeriod
	DefaultSettlePeriod = ptymgr.DefaultSettle

	// DefaultPollInterval is how often the websocket bridge drains output.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultExecTimeout bounds one-shot executions.
	DefaultExecTimeout = 30 * time.Second
)

// DefaultInterpreterArgs precede the code argument. Callers must clone it.
var DefaultInterpreterArgs = ptymgr.DefaultInterpreterArgs
