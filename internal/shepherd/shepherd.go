package shepherd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/hashicorp/yamux"
	"github.com/peterje/runbox/internal/config"
	"github.com/peterje/runbox/internal/logging"
	ptymgr "github.com/peterje/runbox/internal/pty"
	"github.com/sirupsen/logrus"
)

// Shepherd is the long-lived process that owns interpreter sessions so
// they outlive the HTTP server.
type Shepherd struct {
	manager ptymgr.SessionManager
	log     *logrus.Logger

	mu     sync.Mutex
	muxes  map[*yamux.Session]struct{}
	closed bool
}

func New(manager ptymgr.SessionManager, log *logrus.Logger) *Shepherd {
	if log == nil {
		log = logging.Discard()
	}
	return &Shepherd{
		manager: manager,
		log:     log,
		muxes:   make(map[*yamux.Session]struct{}),
	}
}

// NewManager builds the session manager described by cfg.
func NewManager(cfg *config.Config, log *logrus.Logger) *ptymgr.Manager {
	return ptymgr.NewManager(
		ptymgr.WithInterpreter(cfg.Interpreter, cfg.InterpreterArgs...),
		ptymgr.WithGracePeriod(cfg.GracePeriod),
		ptymgr.WithSettle(cfg.SettlePeriod),
		ptymgr.WithKillOnClose(cfg.KillOnClose),
		ptymgr.WithLogger(log),
	)
}

// SocketPath returns the path to the shepherd's Unix domain socket.
func SocketPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shepherd.sock"), nil
}

// PIDPath returns the path to the shepherd's PID file.
func PIDPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shepherd.pid"), nil
}

// Run starts the shepherd process. It blocks until SIGINT or SIGTERM,
// then closes every session and removes the socket and PID file.
func Run(cfg *config.Config, log *logrus.Logger) error {
	socketPath, err := SocketPath()
	if err != nil {
		return fmt.Errorf("socket path: %w", err)
	}
	pidPath, err := PIDPath()
	if err != nil {
		return fmt.Errorf("pid path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := cleanStaleSocket(socketPath, pidPath, log); err != nil {
		return fmt.Errorf("clean stale socket: %w", err)
	}

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(socketPath)

	mgr := NewManager(cfg, log)
	s := New(mgr, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Infof("shepherd: received %s, shutting down", sig)
		s.Close()
		listener.Close()
	}()

	log.Infof("shepherd: listening on %s (pid %d)", socketPath, os.Getpid())
	err = s.Serve(listener)
	mgr.CloseAll()
	return err
}

// Serve accepts client connections on l until it is closed. Each
// connection carries a yamux session on which the client opens one
// stream per request.
func (s *Shepherd) Serve(l net.Listener) error {
	logOut := s.log.WriterLevel(logrus.DebugLevel)
	defer logOut.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serveConn(conn, logOut)
	}
}

func (s *Shepherd) serveConn(conn net.Conn, logOut io.Writer) {
	mux, err := yamux.Server(conn, yamuxConfig(logOut))
	if err != nil {
		s.log.Warnf("shepherd: yamux server: %v", err)
		conn.Close()
		return
	}
	if !s.track(mux) {
		mux.Close()
		return
	}
	defer s.untrack(mux)
	defer mux.Close()

	s.log.Debug("shepherd: client connected")
	for {
		stream, err := mux.Accept()
		if err != nil {
			s.log.Debugf("shepherd: client disconnected: %v", err)
			return
		}
		go s.handleStream(stream)
	}
}

func (s *Shepherd) track(mux *yamux.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.muxes[mux] = struct{}{}
	return true
}

func (s *Shepherd) untrack(mux *yamux.Session) {
	s.mu.Lock()
	delete(s.muxes, mux)
	s.mu.Unlock()
}

// Close drops every client connection. Sessions are left to the owner of
// the manager.
func (s *Shepherd) Close() {
	s.mu.Lock()
	s.closed = true
	muxes := make([]*yamux.Session, 0, len(s.muxes))
	for mux := range s.muxes {
		muxes = append(muxes, mux)
	}
	s.mu.Unlock()

	for _, mux := range muxes {
		mux.Close()
	}
}

func (s *Shepherd) handleStream(stream net.Conn) {
	defer stream.Close()

	var req Request
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		s.log.Warnf("shepherd: bad request: %v", err)
		return
	}

	// The client closes its stream when it gives up waiting, which ends
	// a pending start.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		io.Copy(io.Discard, stream)
		cancel()
	}()

	resp := s.dispatch(ctx, req)
	if ctx.Err() != nil {
		s.log.Debugf("shepherd: %s abandoned by client", req.Command)
		return
	}
	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		s.log.Debugf("shepherd: write %s response: %v", req.Command, err)
	}
}

func (s *Shepherd) dispatch(ctx context.Context, req Request) Response {
	s.log.Debugf("shepherd: %s %s", req.Command, req.SessionID)

	switch req.Command {
	case cmdPing:
		return Response{}

	case cmdStart:
		out, err := s.manager.Start(ctx, req.Code)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Outcome: &out}

	case cmdFeed:
		if err := s.manager.Feed(req.SessionID, req.Text); err != nil {
			return errorResponse(err)
		}
		return Response{}

	case cmdDrain:
		chunks, err := s.manager.Drain(req.SessionID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Chunks: chunks}

	case cmdStatus:
		state, err := s.manager.Status(req.SessionID)
		if err != nil {
			return errorResponse(err)
		}
		return Response{State: state}

	case cmdClose:
		if err := s.manager.Close(req.SessionID); err != nil {
			return errorResponse(err)
		}
		return Response{}

	case cmdList:
		return Response{Sessions: s.manager.List()}

	case cmdCloseAll:
		s.manager.CloseAll()
		return Response{}
	}
	return Response{Error: fmt.Sprintf("unknown command %q", req.Command)}
}

// cleanStaleSocket removes a stale socket file if the shepherd process is not running.
func cleanStaleSocket(socketPath, pidPath string, log *logrus.Logger) error {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil
	}

	// Try to connect to see if it's alive
	conn, err := net.Dial("unix", socketPath)
	if err == nil {
		conn.Close()
		return fmt.Errorf("shepherd already running (socket active)")
	}

	// Socket exists but can't connect, check the PID file
	pidData, err := os.ReadFile(pidPath)
	if err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
		if err == nil && pid != os.Getpid() {
			proc, err := os.FindProcess(pid)
			if err == nil {
				if err := proc.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("shepherd already running (pid %d)", pid)
				}
			}
		}
	}

	log.Infof("shepherd: removing stale socket %s", socketPath)
	os.Remove(socketPath)
	os.Remove(pidPath)
	return nil
}
