package shepherd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/peterje/runbox/internal/logging"
	ptymgr "github.com/peterje/runbox/internal/pty"
	"github.com/sirupsen/logrus"
)

const (
	dialTimeout    = time.Second
	requestTimeout = 30 * time.Second
)

// Client connects to the shepherd and implements ptymgr.SessionManager.
type Client struct {
	mux *yamux.Session
	log *logrus.Logger
}

// NewClient connects to the shepherd at the given socket path.
func NewClient(socketPath string, log *logrus.Logger) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to shepherd: %w", err)
	}
	return newClient(conn, log)
}

func newClient(conn net.Conn, log *logrus.Logger) (*Client, error) {
	if log == nil {
		log = logging.Discard()
	}
	mux, err := yamux.Client(conn, yamuxConfig(io.Discard))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("yamux client: %w", err)
	}
	return &Client{mux: mux, log: log}, nil
}

// Disconnect closes the connection to the shepherd. Sessions keep running.
func (c *Client) Disconnect() error {
	return c.mux.Close()
}

// Ping checks if the shepherd is responsive.
func (c *Client) Ping() error {
	_, err := c.call(context.Background(), Request{Command: cmdPing})
	return err
}

// ListSessions returns all active session IDs in the shepherd.
func (c *Client) ListSessions() ([]string, error) {
	resp, err := c.call(context.Background(), Request{Command: cmdList})
	if err != nil {
		return nil, err
	}
	if resp.Sessions == nil {
		return []string{}, nil
	}
	return resp.Sessions, nil
}

// call sends req on a fresh stream and waits for the answer. Closing the
// stream when ctx ends tells the shepherd to abandon the request.
func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	stream, err := c.mux.Open()
	if err != nil {
		return Response{}, fmt.Errorf("shepherd: open stream: %w", err)
	}
	defer stream.Close()

	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	var resp Response
	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return Response{}, c.transportErr(ctx, req, err)
	}
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return Response{}, c.transportErr(ctx, req, err)
	}
	// A shepherd answering an abandoned request reports its own
	// cancellation; the caller's ctx error takes precedence.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, ctxErr
	}
	return resp, resp.err()
}

func (c *Client) transportErr(ctx context.Context, req Request, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.log.Warnf("shepherd: %s request failed: %v", req.Command, err)
	return fmt.Errorf("shepherd: %s: %w", req.Command, err)
}

// Start implements ptymgr.SessionManager.
func (c *Client) Start(ctx context.Context, code string) (ptymgr.Outcome, error) {
	resp, err := c.call(ctx, Request{Command: cmdStart, Code: code})
	if err != nil {
		return ptymgr.Outcome{}, err
	}
	if resp.Outcome == nil {
		return ptymgr.Outcome{}, fmt.Errorf("shepherd: start: empty outcome")
	}
	return *resp.Outcome, nil
}

// Feed implements ptymgr.SessionManager.
func (c *Client) Feed(id, text string) error {
	_, err := c.call(context.Background(), Request{Command: cmdFeed, SessionID: id, Text: text})
	return err
}

// Drain implements ptymgr.SessionManager.
func (c *Client) Drain(id string) ([]string, error) {
	resp, err := c.call(context.Background(), Request{Command: cmdDrain, SessionID: id})
	if err != nil {
		return nil, err
	}
	if resp.Chunks == nil {
		return []string{}, nil
	}
	return resp.Chunks, nil
}

// Status implements ptymgr.SessionManager.
func (c *Client) Status(id string) (ptymgr.State, error) {
	resp, err := c.call(context.Background(), Request{Command: cmdStatus, SessionID: id})
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

// Close implements ptymgr.SessionManager.
func (c *Client) Close(id string) error {
	_, err := c.call(context.Background(), Request{Command: cmdClose, SessionID: id})
	return err
}

// List implements ptymgr.SessionManager. A failed request yields no ids.
func (c *Client) List() []string {
	ids, err := c.ListSessions()
	if err != nil {
		return []string{}
	}
	return ids
}

// CloseAll implements ptymgr.SessionManager.
func (c *Client) CloseAll() {
	if _, err := c.call(context.Background(), Request{Command: cmdCloseAll}); err != nil {
		c.log.Warnf("shepherd: close all: %v", err)
	}
}

var _ ptymgr.SessionManager = (*Client)(nil)
