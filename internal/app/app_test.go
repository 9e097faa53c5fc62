package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyracer/internal/config"
	"keyracer/internal/errs"
	"keyracer/internal/model"
)

type memResultRepo struct {
	mu       sync.Mutex
	saved    map[string]*model.RaceSession
	failures int
}

func newMemResultRepo() *memResultRepo {
	return &memResultRepo{saved: make(map[string]*model.RaceSession)}
}

func (r *memResultRepo) SaveSessionResult(ctx context.Context, s *model.RaceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("store unavailable")
	}
	r.saved[s.RoomID] = s
	return nil
}

func (r *memResultRepo) SaveCheckpoint(ctx context.Context, s *model.RaceSession) error {
	return r.SaveSessionResult(ctx, s)
}

func (r *memResultRepo) GetSessionResult(ctx context.Context, roomID string) (*model.RaceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.saved[roomID]
	if !ok {
		return nil, errs.NotFound("repo.session", "no such session")
	}
	return s, nil
}

func (r *memResultRepo) GetUserResults(ctx context.Context, userID string, limit int) ([]model.RaceResult, error) {
	return nil, nil
}

func (r *memResultRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type memRatingRepo struct{}

func (memRatingRepo) LoadRating(ctx context.Context, userID string) (*model.RatingRecord, error) {
	return nil, nil
}
func (memRatingRepo) SaveRating(ctx context.Context, rec *model.RatingRecord) error { return nil }

type memLeaderboardRepo struct{}

func (memLeaderboardRepo) QueryLeaderboard(ctx context.Context, q model.LeaderboardQuery) (*model.LeaderboardPage, error) {
	return &model.LeaderboardPage{}, nil
}
func (memLeaderboardRepo) AroundUser(ctx context.Context, userID string, q model.LeaderboardQuery, radius int) ([]model.LeaderboardEntry, error) {
	return nil, nil
}

type memLeaderboardCache struct{}

func (memLeaderboardCache) UpdateRating(ctx context.Context, rec *model.RatingRecord) error { return nil }
func (memLeaderboardCache) GetTop(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	return nil, nil
}
func (memLeaderboardCache) GetAround(ctx context.Context, userID string, radius int) ([]model.LeaderboardEntry, error) {
	return nil, nil
}
func (memLeaderboardCache) GetRank(ctx context.Context, userID string) (int64, error) { return 0, nil }
func (memLeaderboardCache) Count(ctx context.Context) (int64, error)                  { return 0, nil }

func testApp(t *testing.T, repo *memResultRepo) *App {
	t.Helper()
	cfg := &config.Config{
		HTTPPort:        "0",
		JWTSecret:       "test-secret",
		MinParticipants: 2,
		CountdownDelay:  5 * time.Millisecond,
		MaxRaceDuration: time.Minute,
		SweepInterval:   time.Hour,
		StalenessWindow: time.Hour,
		RatingKFactor:   32,
		ShutdownTimeout: 5 * time.Second,
		HubBuffer:       64,
		SendBuffer:      16,
		LeaderboardTopN: 10,
	}
	return New(cfg, repo, memRatingRepo{}, memLeaderboardRepo{}, memLeaderboardCache{})
}

func TestShutdownFlushesDirtySessions(t *testing.T) {
	repo := newMemResultRepo()
	a := testApp(t, repo)
	a.Sweeper.Start()

	ctx := context.Background()
	for _, room := range []string{"r1", "r2", "r3"} {
		_, err := a.Races.Join(ctx, room, "u1", "alice", "en")
		require.NoError(t, err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))

	assert.Equal(t, 3, repo.savedCount(), "every dirty session reaches the store")

	// Joining after shutdown is refused.
	_, err := a.Races.Join(ctx, "r4", "u1", "alice", "en")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestShutdownRetriesTransientStoreFailures(t *testing.T) {
	repo := newMemResultRepo()
	repo.mu.Lock()
	repo.failures = 2
	repo.mu.Unlock()

	a := testApp(t, repo)
	ctx := context.Background()
	_, err := a.Races.Join(ctx, "r1", "u1", "alice", "en")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))
	assert.Equal(t, 1, repo.savedCount())
}

func TestShutdownReportsUnflushedSessions(t *testing.T) {
	repo := newMemResultRepo()
	repo.mu.Lock()
	repo.failures = 1000 // never recovers inside the deadline
	repo.mu.Unlock()

	a := testApp(t, repo)
	ctx := context.Background()
	_, err := a.Races.Join(ctx, "r1", "u1", "alice", "en")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 600*time.Millisecond)
	defer cancel()
	err = a.Shutdown(shutdownCtx)
	require.Error(t, err)
	assert.Equal(t, errs.KindShutdownTimeout, errs.KindOf(err))
}

func TestShutdownIdempotentComponents(t *testing.T) {
	a := testApp(t, newMemResultRepo())
	a.Sweeper.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	// Stopping already-stopped components must not panic.
	a.Sweeper.Stop()
	a.Hub.Shutdown(100 * time.Millisecond)
}
