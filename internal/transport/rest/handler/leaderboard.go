package handler

import (
	"net/http"
	"strconv"

	"keyracer/internal/model"
	"keyracer/internal/service"
	"keyracer/internal/transport/rest/middleware"
)

// LeaderboardHandler handles leaderboard query endpoints
type LeaderboardHandler struct {
	lbSvc *service.LeaderboardService
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(lbSvc *service.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{lbSvc: lbSvc}
}

// Get handles GET /v1/leaderboard?board=wpm|rating&timeframe=&language=&limit=&offset=
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	if q.Get("board") == "rating" {
		page, err := h.lbSvc.RatingBoard(r.Context(), limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	page, err := h.lbSvc.WPMBoard(r.Context(), model.LeaderboardQuery{
		Timeframe: model.Timeframe(q.Get("timeframe")),
		Language:  q.Get("language"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// AroundMe handles GET /v1/leaderboard/me?board=&timeframe=&language=&radius=
func (h *LeaderboardHandler) AroundMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	q := r.URL.Query()
	radius, _ := strconv.Atoi(q.Get("radius"))

	var (
		entries []model.LeaderboardEntry
		err     error
	)
	if q.Get("board") == "rating" {
		entries, err = h.lbSvc.RatingAround(r.Context(), userID, radius)
	} else {
		entries, err = h.lbSvc.WPMAround(r.Context(), userID, model.LeaderboardQuery{
			Timeframe: model.Timeframe(q.Get("timeframe")),
			Language:  q.Get("language"),
		}, radius)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
