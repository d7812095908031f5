package pty

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/peterje/runbox/internal/logging"
	"github.com/sirupsen/logrus"
)

// Policy defaults. GracePeriod decides batch versus interactive: a
// program still running when it elapses becomes a session, so a slow
// batch program is reported as interactive.
const (
	DefaultInterpreter = "python3"
	DefaultGracePeriod = 100 * time.Millisecond
	DefaultSettle      = 50 * time.Millisecond
	DefaultKillWait    = 2 * time.Second
)

// DefaultInterpreterArgs precede the code argument.
var DefaultInterpreterArgs = []string{"-c"}

var discardLogger = logging.Discard()

// Manager is the in-process session registry.
type Manager struct {
	spawner     Spawner
	interpreter string
	args        []string
	grace       time.Duration
	settle      time.Duration
	killOnClose bool
	killWait    time.Duration
	log         *logrus.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

func WithSpawner(s Spawner) Option { return func(m *Manager) { m.spawner = s } }

// WithInterpreter sets the program and the arguments placed before the
// code, e.g. ("python3", "-c") or ("/bin/sh", "-c").
func WithInterpreter(name string, args ...string) Option {
	return func(m *Manager) {
		m.interpreter = name
		m.args = slices.Clone(args)
	}
}

func WithGracePeriod(d time.Duration) Option { return func(m *Manager) { m.grace = d } }

// WithSettle bounds the wait for in-flight output after a process exits.
func WithSettle(d time.Duration) Option { return func(m *Manager) { m.settle = d } }

// WithKillOnClose selects whether Close kills a still-running child
// before releasing its terminal. When off, the child is only detached
// from the master side and is left to the platform's hangup handling.
func WithKillOnClose(kill bool) Option { return func(m *Manager) { m.killOnClose = kill } }

func WithLogger(l *logrus.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		spawner:     NativeSpawner{},
		interpreter: DefaultInterpreter,
		args:        slices.Clone(DefaultInterpreterArgs),
		grace:       DefaultGracePeriod,
		settle:      DefaultSettle,
		killOnClose: true,
		killWait:    DefaultKillWait,
		log:         discardLogger,
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs code and waits the grace period. A program that already
// finished yields a batch outcome with its captured output; one that is
// still running is registered as a session.
func (m *Manager) Start(ctx context.Context, code string) (Outcome, error) {
	id := uuid.New().String()
	args := append(slices.Clone(m.args), code)

	proc, err := m.spawner.Spawn(m.interpreter, args, Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		return Outcome{}, wrapKind("start", id, ErrSpawnFailed, err)
	}

	queue := &outputQueue{}
	pumpDone := startPump(proc.Reader(), queue, m.log, id)

	grace := time.NewTimer(m.grace)
	defer grace.Stop()
	select {
	case <-grace.C:
	case <-ctx.Done():
		releaseProcess(proc, true, m.killWait)
		return Outcome{}, ctx.Err()
	}

	st, exited, err := proc.Exited()
	if err != nil {
		releaseProcess(proc, true, m.killWait)
		return Outcome{}, wrapKind("start", id, ErrStatusCheckFailed, err)
	}

	if exited {
		waitPump(pumpDone, m.settle)
		output := strings.Join(queue.popAll(), "")
		if err := proc.Close(); err != nil {
			m.log.Debugf("pty: close batch terminal: %v", err)
		}
		m.log.Debugf("pty: batch run finished (success=%t, %d bytes)", st.Success, len(output))
		return Outcome{Batch: true, Success: st.Success, Output: output}, nil
	}

	sess := newSession(id, proc, queue, pumpDone)
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Infof("pty: session %s started (%s)", id, m.interpreter)
	return Outcome{SessionID: id}, nil
}

func (m *Manager) get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Feed writes text to the session's terminal. A failed write leaves the
// session registered.
func (m *Manager) Feed(id, text string) error {
	sess := m.get(id)
	if sess == nil {
		return notFound("feed", id)
	}
	if err := sess.write([]byte(text)); err != nil {
		return wrapKind("feed", id, ErrIO, err)
	}
	return nil
}

// Drain returns the output gathered since the previous call, followed by
// a terminal marker the first time the process is observed to be gone.
func (m *Manager) Drain(id string) ([]string, error) {
	sess := m.get(id)
	if sess == nil {
		return nil, notFound("drain", id)
	}
	chunks, err := sess.drain(m.settle)
	if err != nil {
		m.log.Warnf("pty: session %s status check failed: %v", id, err)
	}
	return chunks, nil
}

func (m *Manager) Status(id string) (State, error) {
	sess := m.get(id)
	if sess == nil {
		return "", notFound("status", id)
	}
	st, err := sess.state()
	if err != nil {
		m.log.Warnf("pty: session %s status check failed: %v", id, err)
	}
	return st, nil
}

// Close unregisters the session and releases its terminal. Closing an
// unknown id is not an error.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseProcess(sess.proc, m.killOnClose, m.killWait); err != nil {
		m.log.Warnf("pty: session %s release: %v", id, err)
	}
	m.log.Infof("pty: session %s closed", id)
	return nil
}

// List returns the registered session ids in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) CloseAll() {
	for _, id := range m.List() {
		m.Close(id)
	}
}

var _ SessionManager = (*Manager)(nil)
