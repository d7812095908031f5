package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	ptymgr "github.com/peterje/runbox/internal/pty"
)

// echoManager hosts a single session that echoes fed input back as
// output and ends when it receives "quit".
type echoManager struct {
	mu      sync.Mutex
	id      string
	pending []string
	closed  bool
}

func (m *echoManager) Start(context.Context, string) (ptymgr.Outcome, error) {
	return ptymgr.Outcome{SessionID: m.id}, nil
}

func (m *echoManager) check(op, id string) error {
	if id != m.id || m.closed {
		return &ptymgr.SessionError{Op: op, ID: id, Err: ptymgr.ErrSessionNotFound}
	}
	return nil
}

func (m *echoManager) Feed(id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("feed", id); err != nil {
		return err
	}
	if text == "quit" {
		m.pending = append(m.pending, "bye", ptymgr.MarkerSuccess)
		return nil
	}
	m.pending = append(m.pending, "echo:"+text)
	return nil
}

func (m *echoManager) Drain(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("drain", id); err != nil {
		return nil, err
	}
	out := m.pending
	m.pending = nil
	return out, nil
}

func (m *echoManager) Status(id string) (ptymgr.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("status", id); err != nil {
		return "", err
	}
	return ptymgr.StateRunning, nil
}

func (m *echoManager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *echoManager) List() []string { return []string{m.id} }
func (m *echoManager) CloseAll()      { m.Close(m.id) }

type recordingFinisher struct {
	mu       sync.Mutex
	finished map[string]string
}

func (f *recordingFinisher) FinishSession(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = status
	return nil
}

func newTestServer(t *testing.T, mgr ptymgr.SessionManager, runs *recordingFinisher) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var h *Handler
	if runs != nil {
		h = NewHandler(mgr, runs, 10*time.Millisecond, nil)
	} else {
		h = NewHandler(mgr, nil, 10*time.Millisecond, nil)
	}
	mux.Handle("GET /ws/session/{id}", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", typ)
	}
	return string(msg)
}

func TestBridge_EchoUntilMarker(t *testing.T) {
	mgr := &echoManager{id: "s1"}
	runs := &recordingFinisher{finished: map[string]string{}}
	conn := dial(t, newTestServer(t, mgr, runs), "s1")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if got := readText(t, conn); got != "echo:hello" {
		t.Errorf("got %q", got)
	}

	conn.WriteMessage(websocket.BinaryMessage, []byte("quit"))
	if got := readText(t, conn); got != "bye" {
		t.Errorf("got %q", got)
	}
	if got := readText(t, conn); got != ptymgr.MarkerSuccess {
		t.Errorf("got %q, want marker", got)
	}

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("err = %v, want normal close", err)
	}

	runs.mu.Lock()
	defer runs.mu.Unlock()
	if runs.finished["s1"] != "succeeded" {
		t.Errorf("finished = %v", runs.finished)
	}
}

func TestBridge_SessionClosedElsewhere(t *testing.T) {
	mgr := &echoManager{id: "s1"}
	conn := dial(t, newTestServer(t, mgr, nil), "s1")

	mgr.Close("s1")
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("err = %v, want normal close", err)
	}
}

func TestBridge_UnknownSession(t *testing.T) {
	srv := newTestServer(t, &echoManager{id: "s1"}, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("resp = %v, want 404", resp)
	}
}

func TestBridge_RejectsCrossOriginHandshake(t *testing.T) {
	srv := newTestServer(t, &echoManager{id: "s1"}, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/s1"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("cross-origin handshake succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v, want 403", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	if err != nil {
		t.Fatalf("same-origin handshake: %v", err)
	}
	conn.Close()
}
