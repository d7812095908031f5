package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/peterje/runbox/internal/logging"
	"github.com/peterje/runbox/internal/models"
	ptymgr "github.com/peterje/runbox/internal/pty"
	"github.com/sirupsen/logrus"
)

// RunFinisher records how an interactive run ended.
type RunFinisher interface {
	FinishSession(sessionID, status string) error
}

// RunStore records runs started through the API.
type RunStore interface {
	RunFinisher
	InsertRun(run models.Run) error
	CloseSession(sessionID string) error
	ListRuns(limit int) ([]models.Run, error)
}

type SessionsHandler struct {
	manager ptymgr.SessionManager
	store   RunStore
	log     *logrus.Logger
}

func NewSessionsHandler(manager ptymgr.SessionManager, store RunStore, log *logrus.Logger) *SessionsHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &SessionsHandler{manager: manager, store: store, log: log}
}

type runRequest struct {
	Code string `json:"code"`
}

type batchResponse struct {
	Mode    string `json:"mode"`
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

type sessionResponse struct {
	Mode      string `json:"mode"`
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
}

type outputResponse struct {
	Chunks   []string `json:"chunks"`
	Finished bool     `json:"finished"`
}

type statusResponse struct {
	ID    string       `json:"id"`
	State ptymgr.State `json:"state"`
}

func (h *SessionsHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if !decodeBody(w, r, &body) {
		return
	}

	out, err := h.manager.Start(r.Context(), body.Code)
	if err != nil {
		h.log.Errorf("api: start: %v", err)
		writeErr(w, err)
		return
	}

	now := time.Now()
	run := models.Run{
		ID:        uuid.New().String(),
		Code:      body.Code,
		CreatedAt: now,
	}
	if out.Batch {
		run.Mode = models.ModeBatch
		run.Status = models.StatusFailed
		if out.Success {
			run.Status = models.StatusSucceeded
		}
		run.Output = out.Output
		run.FinishedAt = &now
	} else {
		run.Mode = models.ModeInteractive
		run.Status = models.StatusRunning
		run.SessionID = &out.SessionID
	}
	if err := h.store.InsertRun(run); err != nil {
		h.log.Warnf("api: record run %s: %v", run.ID, err)
	}

	if out.Batch {
		WriteJSON(w, http.StatusOK, batchResponse{
			Mode:    models.ModeBatch,
			RunID:   run.ID,
			Success: out.Success,
			Output:  out.Output,
		})
		return
	}
	WriteJSON(w, http.StatusCreated, sessionResponse{
		Mode:      models.ModeInteractive,
		RunID:     run.ID,
		SessionID: out.SessionID,
	})
}

func (h *SessionsHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.manager.Feed(id, body.Text); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) HandleOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chunks, err := h.manager.Drain(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := outputResponse{Chunks: chunks}
	if resp.Chunks == nil {
		resp.Chunks = []string{}
	}
	resp.Finished = RecordFinish(h.store, h.log, id, chunks)
	WriteJSON(w, http.StatusOK, resp)
}

// RecordFinish finishes the run behind session id when chunks carry a
// terminal marker, and reports whether they did.
func RecordFinish(store RunFinisher, log *logrus.Logger, id string, chunks []string) bool {
	status, ok := finishStatus(chunks)
	if !ok {
		return false
	}
	if err := store.FinishSession(id, status); err != nil {
		log.Warnf("api: finish run for session %s: %v", id, err)
	}
	return true
}

func finishStatus(chunks []string) (string, bool) {
	for _, c := range chunks {
		switch c {
		case ptymgr.MarkerSuccess:
			return models.StatusSucceeded, true
		case ptymgr.MarkerFailure, ptymgr.MarkerAbnormal:
			return models.StatusFailed, true
		}
	}
	return "", false
}

func (h *SessionsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := h.manager.Status(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse{ID: id, State: state})
}

func (h *SessionsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.manager.Close(id); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.store.CloseSession(id); err != nil {
		h.log.Warnf("api: close run for session %s: %v", id, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	ids := h.manager.List()
	if ids == nil {
		ids = []string{}
	}
	WriteJSON(w, http.StatusOK, ids)
}
