package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"keyracer/internal/service"
	"keyracer/internal/transport/rest/handler"
	"keyracer/internal/transport/rest/middleware"
	"keyracer/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService        *service.AuthService
	RaceService        *service.RaceService
	LeaderboardService *service.LeaderboardService
	WSHub              *ws.Hub
	SendBuffer         int
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	authHandler := handler.NewAuthHandler(c.AuthService)
	raceHandler := handler.NewRaceHandler(c.RaceService, c.AuthService)
	lbHandler := handler.NewLeaderboardHandler(c.LeaderboardService)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.RaceService, c.SendBuffer)

	authMW := middleware.NewAuthMiddleware(c.AuthService)

	r.Use(corsMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/guest", authHandler.Guest).Methods("POST", "OPTIONS")
	v1.HandleFunc("/races/{roomId}", raceHandler.Snapshot).Methods("GET", "OPTIONS")
	v1.HandleFunc("/leaderboard", lbHandler.Get).Methods("GET", "OPTIONS")

	// WebSocket routes (token in query param)
	v1.HandleFunc("/ws/races/{roomId}", wsHandler.RaceWS).Methods("GET")
	v1.HandleFunc("/ws/leaderboard", wsHandler.LeaderboardWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// User routes (require guest auth)
	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(authMW.RequireUser)

	userRoutes.HandleFunc("/races", raceHandler.Create).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/races/{roomId}/join", raceHandler.Join).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/leaderboard/me", lbHandler.AroundMe).Methods("GET", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
