package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"keyracer/internal/cache"
	"keyracer/internal/config"
	"keyracer/internal/model"
	"keyracer/internal/rating"
	"keyracer/internal/repository"
	"keyracer/internal/telemetry"
)

// RaceService drives race sessions through their lifecycle. It is
// the only code that mutates the race cache; everything it does to a
// session happens inside a Mutate callback.
type RaceService struct {
	cache      *cache.RaceCache
	ratingRepo repository.RatingRepo
	lbCache    cache.LeaderboardCache
	passages   *PassageService
	cfg        *config.Config
	metrics    *telemetry.Collector

	broadcaster Broadcaster
}

// NewRaceService creates a race service.
func NewRaceService(
	raceCache *cache.RaceCache,
	ratingRepo repository.RatingRepo,
	lbCache cache.LeaderboardCache,
	passages *PassageService,
	cfg *config.Config,
	metrics *telemetry.Collector,
) *RaceService {
	s := &RaceService{
		cache:      raceCache,
		ratingRepo: ratingRepo,
		lbCache:    lbCache,
		passages:   passages,
		cfg:        cfg,
		metrics:    metrics,
	}
	raceCache.SetOnCommit(s.onCommit)
	return s
}

// SetBroadcaster injects the ws hub (wired late to avoid a cycle).
func (s *RaceService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// onCommit runs under the entry lock on every accepted mutation, so
// room snapshots reach the hub in strict version order.
func (s *RaceService) onCommit(snapshot *model.RaceSession) {
	if s.broadcaster != nil {
		s.broadcaster.PublishRoom(snapshot)
	}
}

// Join adds a user to a room, creating the session on first join.
// Once enough racers are in, the countdown starts and activation is
// scheduled after the configured delay.
func (s *RaceService) Join(ctx context.Context, roomID, userID, username, language string) (*model.RaceSession, error) {
	_, _, err := s.cache.GetOrCreate(roomID, func() *model.RaceSession {
		text, lang := s.passages.Pick(language)
		return model.NewRaceSession(roomID, text, lang)
	})
	if err != nil {
		return nil, err
	}

	snap, _, err := s.cache.Mutate(roomID, func(race *model.RaceSession) error {
		return race.Join(userID, username)
	})
	if err != nil {
		return nil, err
	}

	if snap.Status == model.RaceForming && len(snap.Participants) >= s.cfg.MinParticipants {
		s.startCountdown(roomID)
	}
	return snap, nil
}

// Leave removes a racer before the start, or marks them disconnected
// once the race runs; abandoned rooms are reclaimed by the sweeper.
func (s *RaceService) Leave(ctx context.Context, roomID, userID string) error {
	_, _, err := s.cache.Mutate(roomID, func(race *model.RaceSession) error {
		return race.Leave(userID)
	})
	return err
}

// Heartbeat keeps a quiet room alive for the staleness sweep.
func (s *RaceService) Heartbeat(roomID string) bool {
	return s.cache.Heartbeat(roomID)
}

// Progress records a typing update. Reaching the end of the passage
// finishes the participant; finishing the last participant (or the
// deadline) finishes the race.
func (s *RaceService) Progress(ctx context.Context, roomID, userID string, charsTyped, typingErrors int) (*model.RaceSession, error) {
	var raceFinished bool
	snap, _, err := s.cache.Mutate(roomID, func(race *model.RaceSession) error {
		if err := race.ReportProgress(userID, charsTyped, typingErrors); err != nil {
			return err
		}
		if charsTyped == len(race.Text) {
			done, err := race.FinishParticipant(userID, time.Now())
			if err != nil {
				return err
			}
			raceFinished = done
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raceFinished {
		s.finishRace(snap)
	}
	return snap, nil
}

// TimeoutRace forces Active -> Finished at the deadline. Called by
// the cleanup scheduler.
func (s *RaceService) TimeoutRace(roomID string, now time.Time) error {
	snap, _, err := s.cache.Mutate(roomID, func(race *model.RaceSession) error {
		return race.CompleteByDeadline(now)
	})
	if err != nil {
		return err
	}
	s.finishRace(snap)
	return nil
}

// AbandonRace moves a stale room to Abandoned. Called by the cleanup
// scheduler; no rating computation happens for abandoned sessions.
func (s *RaceService) AbandonRace(roomID string) error {
	_, _, err := s.cache.Mutate(roomID, func(race *model.RaceSession) error {
		return race.Abandon()
	})
	if err == nil && s.metrics != nil {
		s.metrics.SessionsAbandoned.Add(1)
	}
	return err
}

// Snapshot returns the room state for client resync.
func (s *RaceService) Snapshot(roomID string) (*model.RaceSession, bool) {
	return s.cache.Snapshot(roomID)
}

func (s *RaceService) startCountdown(roomID string) {
	_, _, err := s.cache.Mutate(roomID, func(race *model.RaceSession) error {
		return race.StartCountdown(s.cfg.MinParticipants)
	})
	if err != nil {
		// Another join already started it, or the room moved on.
		return
	}
	time.AfterFunc(s.cfg.CountdownDelay, func() { s.activate(roomID) })
}

func (s *RaceService) activate(roomID string) {
	_, _, err := s.cache.Mutate(roomID, func(race *model.RaceSession) error {
		return race.Activate(s.cfg.MaxRaceDuration)
	})
	if err != nil {
		log.Warn().Str("room", roomID).Err(err).Msg("activate skipped")
	}
}

// finishRace runs the post-finish pipeline: rating deltas are computed
// synchronously from the snapshot, then persistence and fan-out run in
// the background so the mutation path never blocks on the store.
func (s *RaceService) finishRace(snap *model.RaceSession) {
	if s.metrics != nil {
		s.metrics.SessionsFinished.Add(1)
	}
	ranking := snap.FinalRanking()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records := s.loadRatings(ctx, ranking)
		current := make(map[string]float64, len(records))
		for id, rec := range records {
			current[id] = rec.Rating
		}

		deltas := rating.ComputeDeltas(ranking, current, s.cfg.RatingKFactor)
		s.applyRatings(ctx, ranking, records, deltas)

		if s.broadcaster != nil {
			s.broadcaster.PublishRaceFinished(snap.RoomID, snap.Version, ranking, deltas)
		}
		s.publishRatingBoard(ctx)

		// Schedule the terminal flush; on failure the entry stays dirty
		// and the sweeper retries it.
		if err := s.cache.Flush(ctx, snap.RoomID); err != nil {
			log.Warn().Str("room", snap.RoomID).Err(err).Msg("terminal flush failed, sweeper will retry")
		}
	}()
}

func (s *RaceService) loadRatings(ctx context.Context, ranking []model.RankedParticipant) map[string]*model.RatingRecord {
	records := make(map[string]*model.RatingRecord, len(ranking))
	for _, row := range ranking {
		rec, err := s.ratingRepo.LoadRating(ctx, row.UserID)
		if err != nil {
			log.Warn().Str("user", row.UserID).Err(err).Msg("load rating failed")
		}
		if rec == nil {
			rec = &model.RatingRecord{
				UserID:     row.UserID,
				Username:   row.Username,
				Rating:     model.DefaultRating,
				Tier:       rating.TierFor(model.DefaultRating),
				PeakRating: model.DefaultRating,
			}
		}
		records[row.UserID] = rec
	}
	return records
}

func (s *RaceService) applyRatings(ctx context.Context, ranking []model.RankedParticipant, records map[string]*model.RatingRecord, deltas map[string]float64) {
	for _, row := range ranking {
		rec := records[row.UserID]
		rating.Apply(rec, deltas[row.UserID], row.Rank == 1)
		rec.UpdatedAt = time.Now()

		if err := s.ratingRepo.SaveRating(ctx, rec); err != nil {
			log.Warn().Str("user", row.UserID).Err(err).Msg("save rating failed")
			continue
		}
		if s.lbCache != nil {
			if err := s.lbCache.UpdateRating(ctx, rec); err != nil {
				log.Warn().Str("user", row.UserID).Err(err).Msg("leaderboard cache update failed")
			}
		}
	}
}

func (s *RaceService) publishRatingBoard(ctx context.Context) {
	if s.broadcaster == nil || s.lbCache == nil {
		return
	}
	top, err := s.lbCache.GetTop(ctx, s.cfg.LeaderboardTopN, 0)
	if err != nil {
		log.Warn().Err(err).Msg("rating board read failed")
		return
	}
	s.broadcaster.PublishLeaderboard(top)
}
