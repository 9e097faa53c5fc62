// Package scheduler hosts the background sweeper that reclaims
// abandoned race sessions from the cache.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"keyracer/internal/cache"
	"keyracer/internal/config"
	"keyracer/internal/model"
	"keyracer/internal/service"
	"keyracer/internal/telemetry"
)

// Sweeper walks the race cache on a fixed interval: stale rooms are
// abandoned, overdue races are force-finished, and terminal entries
// are flushed and evicted. Every mutation goes through the same
// per-entry lock as live traffic, so a sweep never races a client.
type Sweeper struct {
	cache   *cache.RaceCache
	races   *service.RaceService
	cfg     *config.Config
	metrics *telemetry.Collector

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper; call Start to begin ticking.
func NewSweeper(raceCache *cache.RaceCache, races *service.RaceService, cfg *config.Config, metrics *telemetry.Collector) *Sweeper {
	return &Sweeper{
		cache:    raceCache,
		races:    races,
		cfg:      cfg,
		metrics:  metrics,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.ticker = time.NewTicker(s.cfg.SweepInterval)
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.Sweep(time.Now())
			case <-s.stopChan:
				return
			}
		}
	}()
	log.Info().Dur("interval", s.cfg.SweepInterval).Msg("cleanup sweeper started")
}

// Stop cancels the sweep timer. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopChan)
		log.Info().Msg("cleanup sweeper stopped")
	})
}

// Sweep runs one pass over the cache. Exported so shutdown and tests
// can drive it directly.
func (s *Sweeper) Sweep(now time.Time) {
	if s.metrics != nil {
		s.metrics.SweepsRun.Add(1)
	}

	for _, roomID := range s.cache.Rooms() {
		info, ok := s.cache.Info(roomID)
		if !ok {
			continue
		}

		terminal := info.Status == model.RaceFinished || info.Status == model.RaceAbandoned

		switch {
		case terminal:
			// Fall through to flush/evict below.
		case info.Status == model.RaceActive && info.DeadlineAt != nil && !now.Before(*info.DeadlineAt):
			if err := s.races.TimeoutRace(roomID, now); err != nil {
				log.Warn().Str("room", roomID).Err(err).Msg("deadline timeout failed")
				continue
			}
		case now.Sub(info.LastActivityAt) > s.cfg.StalenessWindow,
			info.Participants == 0 && now.Sub(info.LastActivityAt) > s.cfg.SweepInterval:
			if err := s.races.AbandonRace(roomID); err != nil {
				log.Warn().Str("room", roomID).Err(err).Msg("abandon failed")
				continue
			}
			log.Info().Str("room", roomID).Msg("stale session abandoned")
		default:
			// Live and healthy; checkpoint if dirty so a crash loses
			// at most one sweep interval of progress.
			if info.Dirty && info.Status == model.RaceActive {
				s.flush(roomID)
			}
			continue
		}

		if s.flush(roomID) {
			if info, ok := s.cache.Info(roomID); ok && (info.Status == model.RaceFinished || info.Status == model.RaceAbandoned) {
				if s.cache.Evict(roomID) {
					log.Debug().Str("room", roomID).Msg("session evicted")
				}
			}
		}
	}
}

func (s *Sweeper) flush(roomID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.Flush(ctx, roomID); err != nil {
		log.Warn().Str("room", roomID).Err(err).Msg("flush failed, will retry next sweep")
		return false
	}
	return true
}
