package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/peterje/runbox/internal/logging"
	"github.com/peterje/runbox/internal/models"
	ptymgr "github.com/peterje/runbox/internal/pty"
	"github.com/sirupsen/logrus"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// Executor runs code to completion without a terminal.
type Executor interface {
	Execute(ctx context.Context, code string) (ptymgr.ExecResult, error)
}

type RunsHandler struct {
	exec    Executor
	timeout time.Duration
	store   RunStore
	log     *logrus.Logger
}

func NewRunsHandler(exec Executor, timeout time.Duration, store RunStore, log *logrus.Logger) *RunsHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &RunsHandler{exec: exec, timeout: timeout, store: store, log: log}
}

type execResponse struct {
	RunID string `json:"run_id"`
	ptymgr.ExecResult
}

func (h *RunsHandler) HandleExec(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if !decodeBody(w, r, &body) {
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	started := time.Now()
	res, err := h.exec.Execute(ctx, body.Code)
	if errors.Is(err, context.DeadlineExceeded) {
		WriteError(w, http.StatusGatewayTimeout, "execution timed out after "+h.timeout.String())
		return
	}
	if err != nil {
		h.log.Errorf("api: exec: %v", err)
		writeErr(w, err)
		return
	}

	finished := time.Now()
	run := models.Run{
		ID:         uuid.New().String(),
		Code:       body.Code,
		Mode:       models.ModeExec,
		Status:     models.StatusFailed,
		Output:     res.Stdout + res.Stderr,
		CreatedAt:  started,
		FinishedAt: &finished,
	}
	if res.Success {
		run.Status = models.StatusSucceeded
	}
	if err := h.store.InsertRun(run); err != nil {
		h.log.Warnf("api: record run %s: %v", run.ID, err)
	}

	WriteJSON(w, http.StatusOK, execResponse{RunID: run.ID, ExecResult: res})
}

func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.store.ListRuns(limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}
