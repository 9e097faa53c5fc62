package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyracer/internal/cache"
	"keyracer/internal/config"
	"keyracer/internal/model"
	"keyracer/internal/service"
)

type fakeStore struct {
	mu       sync.Mutex
	terminal []*model.RaceSession
	checked  int
}

func (f *fakeStore) SaveSessionResult(ctx context.Context, s *model.RaceSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal = append(f.terminal, s)
	return nil
}

func (f *fakeStore) SaveCheckpoint(ctx context.Context, s *model.RaceSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked++
	return nil
}

type fakeRatingRepo struct{}

func (fakeRatingRepo) LoadRating(ctx context.Context, userID string) (*model.RatingRecord, error) {
	return nil, nil
}
func (fakeRatingRepo) SaveRating(ctx context.Context, rec *model.RatingRecord) error { return nil }

func sweeperConfig() *config.Config {
	return &config.Config{
		MinParticipants: 2,
		CountdownDelay:  5 * time.Millisecond,
		MaxRaceDuration: time.Minute,
		SweepInterval:   10 * time.Millisecond,
		StalenessWindow: 100 * time.Millisecond,
		RatingKFactor:   32,
	}
}

func newSweeper(t *testing.T) (*Sweeper, *cache.RaceCache, *service.RaceService, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	cfg := sweeperConfig()
	raceCache := cache.NewRaceCache(store, nil)
	svc := service.NewRaceService(raceCache, fakeRatingRepo{}, nil, service.NewPassageService(), cfg, nil)
	return NewSweeper(raceCache, svc, cfg, nil), raceCache, svc, store
}

func TestStaleFormingSessionSweptAndEvicted(t *testing.T) {
	sweeper, raceCache, svc, store := newSweeper(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, "r1", "a", "alice", "en")
	require.NoError(t, err)
	require.Equal(t, 1, raceCache.Len())

	// Not stale yet: nothing happens.
	sweeper.Sweep(time.Now())
	snap, ok := svc.Snapshot("r1")
	require.True(t, ok)
	assert.Equal(t, model.RaceForming, snap.Status)

	// Past the staleness window the session is abandoned, flushed
	// and evicted in the same pass.
	sweeper.Sweep(time.Now().Add(time.Second))
	assert.Equal(t, 0, raceCache.Len())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.terminal, 1)
	assert.Equal(t, model.RaceAbandoned, store.terminal[0].Status)
}

func TestEmptyRoomSweptAfterIdleInterval(t *testing.T) {
	sweeper, raceCache, _, _ := newSweeper(t)

	_, _, err := raceCache.GetOrCreate("r1", func() *model.RaceSession {
		return model.NewRaceSession("r1", "text", "en")
	})
	require.NoError(t, err)

	sweeper.Sweep(time.Now().Add(50 * time.Millisecond))
	assert.Equal(t, 0, raceCache.Len(), "zero-participant room is reclaimed quickly")
}

func TestOverdueActiveRaceForcedToFinish(t *testing.T) {
	sweeper, raceCache, svc, store := newSweeper(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, "r1", "a", "alice", "en")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "r1", "b", "bob", "en")
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := svc.Snapshot("r1"); ok && snap.Status == model.RaceActive {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	snap, _ := svc.Snapshot("r1")
	require.Equal(t, model.RaceActive, snap.Status)

	_, err = svc.Progress(ctx, "r1", "b", 10, 0)
	require.NoError(t, err)

	sweeper.Sweep(snap.DeadlineAt.Add(time.Second))

	// The finish pipeline runs in the background; wait for the
	// terminal write, then the next sweep evicts the clean entry.
	waitDeadline := time.Now().Add(time.Second)
	for time.Now().Before(waitDeadline) {
		store.mu.Lock()
		n := len(store.terminal)
		store.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	store.mu.Lock()
	require.NotEmpty(t, store.terminal)
	assert.Equal(t, model.RaceFinished, store.terminal[0].Status)
	ranking := store.terminal[0].FinalRanking()
	assert.Equal(t, "b", ranking[0].UserID)
	store.mu.Unlock()

	sweeper.Sweep(snap.DeadlineAt.Add(2 * time.Second))
	assert.Equal(t, 0, raceCache.Len())
}

func TestHealthyActiveSessionCheckpointed(t *testing.T) {
	sweeper, raceCache, svc, store := newSweeper(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, "r1", "a", "alice", "en")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "r1", "b", "bob", "en")
	require.NoError(t, err)

	waitDeadline := time.Now().Add(time.Second)
	for time.Now().Before(waitDeadline) {
		if snap, ok := svc.Snapshot("r1"); ok && snap.Status == model.RaceActive {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	_, err = svc.Progress(ctx, "r1", "a", 5, 0)
	require.NoError(t, err)

	sweeper.Sweep(time.Now())

	store.mu.Lock()
	checked := store.checked
	store.mu.Unlock()
	assert.Equal(t, 1, checked, "dirty active session gets a crash checkpoint")
	assert.Equal(t, 1, raceCache.Len(), "live session stays cached")

	info, ok := raceCache.Info("r1")
	require.True(t, ok)
	assert.False(t, info.Dirty)
}

func TestStartStop(t *testing.T) {
	sweeper, _, _, _ := newSweeper(t)
	sweeper.Start()
	time.Sleep(25 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop() // idempotent
}
