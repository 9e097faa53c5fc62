package handler

import (
	"encoding/json"
	"net/http"

	"keyracer/internal/errs"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps the error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case errs.KindConflict:
		writeError(w, http.StatusConflict, err.Error())
	case errs.KindTransientStore:
		writeError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
