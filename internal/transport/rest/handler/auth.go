package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"keyracer/internal/model"
	"keyracer/internal/service"
)

// AuthHandler handles guest identity endpoints
type AuthHandler struct {
	authSvc *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Guest handles POST /v1/auth/guest
func (h *AuthHandler) Guest(w http.ResponseWriter, r *http.Request) {
	var req model.GuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || len(username) > 32 {
		writeError(w, http.StatusBadRequest, "username must be 1-32 characters")
		return
	}

	resp, err := h.authSvc.IssueGuest(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}
