package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterje/runbox/internal/api"
	"github.com/peterje/runbox/internal/logging"
	ptymgr "github.com/peterje/runbox/internal/pty"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 50 * time.Millisecond
	writeWait           = 5 * time.Second
)

// The zero CheckOrigin rejects handshakes whose Origin host differs from
// the request host.
var upgrader = websocket.Upgrader{}

// Handler bridges a websocket to an interactive session. Client messages
// are fed to the session as input; drained output is sent back as text
// messages until the terminal marker, after which the socket is closed.
type Handler struct {
	manager ptymgr.SessionManager
	runs    api.RunFinisher
	poll    time.Duration
	log     *logrus.Logger
}

func NewHandler(manager ptymgr.SessionManager, runs api.RunFinisher, poll time.Duration, log *logrus.Logger) *Handler {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Handler{manager: manager, runs: runs, poll: poll, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	if _, err := h.manager.Status(sessionID); err != nil {
		h.log.Debugf("ws: session %s: %v", sessionID, err)
		http.Error(w, err.Error(), api.StatusFor(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("ws: upgrade failed for %s: %v", sessionID, err)
		return
	}

	h.log.Infof("ws: client connected to session %s", sessionID)

	// WebSocket -> session input
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				h.log.Debugf("ws: read from client: %v", err)
				return
			}
			if err := h.manager.Feed(sessionID, string(msg)); err != nil {
				h.log.Warnf("ws: feed session %s: %v", sessionID, err)
			}
		}
	}()

	// Session output -> WebSocket
	reason := h.pump(conn, sessionID, done)
	if reason != "" {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	}
	conn.Close()
	<-done
	h.log.Infof("ws: handler finished for session %s", sessionID)
}

// pump drains the session every poll interval until the program ends,
// the session goes away or the client disconnects. It returns the close
// reason to send, or "" when the client is already gone.
func (h *Handler) pump(conn *websocket.Conn, sessionID string, done <-chan struct{}) string {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.log.Infof("ws: client disconnected from session %s", sessionID)
			return ""
		case <-ticker.C:
		}

		chunks, err := h.manager.Drain(sessionID)
		if errors.Is(err, ptymgr.ErrSessionNotFound) {
			return "session closed"
		}
		if err != nil {
			h.log.Warnf("ws: drain session %s: %v", sessionID, err)
			return "drain failed"
		}

		for _, chunk := range chunks {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
				h.log.Debugf("ws: write to client: %v", err)
				return ""
			}
		}
		if hasMarker(chunks) {
			if h.runs != nil {
				api.RecordFinish(h.runs, h.log, sessionID, chunks)
			}
			return "session ended"
		}
	}
}

func hasMarker(chunks []string) bool {
	for _, c := range chunks {
		if ptymgr.IsMarker(c) {
			return true
		}
	}
	return false
}
