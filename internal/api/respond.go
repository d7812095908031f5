package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	ptymgr "github.com/peterje/runbox/internal/pty"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps a session manager error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ptymgr.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ptymgr.ErrSpawnFailed):
		return http.StatusBadGateway
	case errors.Is(err, ptymgr.ErrIO):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}

// decodeBody only accepts application/json so that browsers cannot post
// code cross-site without a CORS preflight.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
