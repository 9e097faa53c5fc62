package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"keyracer/internal/cache"
	"keyracer/internal/config"
	"keyracer/internal/errs"
	"keyracer/internal/repository"
	"keyracer/internal/scheduler"
	"keyracer/internal/service"
	"keyracer/internal/telemetry"
	"keyracer/internal/transport/rest"
	"keyracer/internal/transport/ws"
)

// App owns every long-lived component and their lifecycle. Nothing
// here is process-global: tests build isolated instances with fake
// collaborators and tear them down with Shutdown.
type App struct {
	Cfg     *config.Config
	Cache   *cache.RaceCache
	Races   *service.RaceService
	Boards  *service.LeaderboardService
	Auth    *service.AuthService
	Hub     *ws.Hub
	Sweeper *scheduler.Sweeper
	Metrics *telemetry.Collector

	srv *http.Server
}

// New wires the application from its external collaborators: the
// durable store repositories and the redis rating board.
func New(
	cfg *config.Config,
	resultRepo repository.ResultRepo,
	ratingRepo repository.RatingRepo,
	lbRepo repository.LeaderboardRepo,
	lbCache cache.LeaderboardCache,
) *App {
	metrics := telemetry.NewCollector(time.Minute)
	raceCache := cache.NewRaceCache(resultRepo, metrics)
	hub := ws.NewHub(cfg.HubBuffer, metrics)

	authSvc := service.NewAuthService(cfg.JWTSecret)
	raceSvc := service.NewRaceService(raceCache, ratingRepo, lbCache, service.NewPassageService(), cfg, metrics)
	raceSvc.SetBroadcaster(hub)
	lbSvc := service.NewLeaderboardService(lbRepo, lbCache)

	sweeper := scheduler.NewSweeper(raceCache, raceSvc, cfg, metrics)

	router := rest.NewRouter(&rest.Container{
		AuthService:        authSvc,
		RaceService:        raceSvc,
		LeaderboardService: lbSvc,
		WSHub:              hub,
		SendBuffer:         cfg.SendBuffer,
	})

	return &App{
		Cfg:     cfg,
		Cache:   raceCache,
		Races:   raceSvc,
		Boards:  lbSvc,
		Auth:    authSvc,
		Hub:     hub,
		Sweeper: sweeper,
		Metrics: metrics,
		srv: &http.Server{
			Addr:    ":" + cfg.HTTPPort,
			Handler: router,
		},
	}
}

// Start launches the sweeper and the HTTP server.
func (a *App) Start() {
	a.Sweeper.Start()
	go func() {
		log.Info().Str("port", a.Cfg.HTTPPort).Msg("server starting")
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen and serve")
		}
	}()
}

// Shutdown drains the system in a fixed order, best-effort, bounded
// by ctx. Steps never block each other: a failed step is logged and
// the sequence continues. Returns an error when dirty entries remain
// when the deadline hits; their loss is explicit, never silent.
func (a *App) Shutdown(ctx context.Context) error {
	// 1. Stop accepting new inbound connections and mutations.
	a.Cache.SetDraining(true)
	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
	}

	// 2. Notify subscribers and close all websocket connections.
	hubTimeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < hubTimeout {
			hubTimeout = remain
		}
	}
	a.Hub.Shutdown(hubTimeout)

	// 3. Flush every dirty cache entry, retrying with backoff up to
	// the remaining time budget.
	remaining := a.flushWithRetry(ctx)

	// 4. Stop the cleanup scheduler.
	a.Sweeper.Stop()

	// 5. Stop the telemetry collector.
	a.Metrics.Stop()

	if remaining > 0 {
		log.Error().Int("dirty", remaining).Msg("shutdown deadline reached with unflushed sessions, data lost")
		return &errs.Error{
			Kind:    errs.KindShutdownTimeout,
			Op:      "app.shutdown",
			Message: fmt.Sprintf("%d dirty entries unflushed", remaining),
		}
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func (a *App) flushWithRetry(ctx context.Context) int {
	backoff := 250 * time.Millisecond
	remaining := a.Cache.FlushAll(ctx)
	for remaining > 0 {
		if a.Metrics != nil {
			a.Metrics.FlushRetries.Add(1)
		}
		select {
		case <-ctx.Done():
			return remaining
		case <-time.After(backoff):
		}
		if backoff < 4*time.Second {
			backoff *= 2
		}
		remaining = a.Cache.FlushAll(ctx)
	}
	return 0
}
