package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"keyracer/internal/service"
	"keyracer/internal/transport/rest/middleware"
)

// RaceHandler handles race room endpoints
type RaceHandler struct {
	raceSvc *service.RaceService
	authSvc *service.AuthService
}

// NewRaceHandler creates a new race handler
func NewRaceHandler(raceSvc *service.RaceService, authSvc *service.AuthService) *RaceHandler {
	return &RaceHandler{raceSvc: raceSvc, authSvc: authSvc}
}

// CreateRaceRequest is the request body for creating a room
type CreateRaceRequest struct {
	Language string `json:"language"`
}

// JoinResponse is returned on race creation or join
type JoinResponse struct {
	RoomID  string      `json:"roomId"`
	Token   string      `json:"token"`
	Session interface{} `json:"session"`
}

// Create handles POST /v1/races
func (h *RaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	username := middleware.GetUsername(r.Context())

	var req CreateRaceRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	roomID := "race_" + uuid.New().String()[:8]

	snap, err := h.raceSvc.Join(r.Context(), roomID, userID, username, req.Language)
	if err != nil {
		writeAppError(w, err)
		return
	}

	token, err := h.authSvc.IssueRaceToken(userID, username, roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, JoinResponse{RoomID: roomID, Token: token, Session: snap})
}

// Join handles POST /v1/races/{roomId}/join
func (h *RaceHandler) Join(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	userID := middleware.GetUserID(r.Context())
	username := middleware.GetUsername(r.Context())

	snap, err := h.raceSvc.Join(r.Context(), roomID, userID, username, "")
	if err != nil {
		writeAppError(w, err)
		return
	}

	token, err := h.authSvc.IssueRaceToken(userID, username, roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, JoinResponse{RoomID: roomID, Token: token, Session: snap})
}

// Snapshot handles GET /v1/races/{roomId} (full resync)
func (h *RaceHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	snap, ok := h.raceSvc.Snapshot(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "race not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": snap,
		"version": snap.Version,
	})
}
