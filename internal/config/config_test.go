package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 2, cfg.MinParticipants)
	assert.Equal(t, 5*time.Second, cfg.CountdownDelay)
	assert.Equal(t, 3*time.Minute, cfg.MaxRaceDuration)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.StalenessWindow)
	assert.Equal(t, 32.0, cfg.RatingKFactor)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 256, cfg.HubBuffer)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, 10, cfg.LeaderboardTopN)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RACE_MIN_PARTICIPANTS", "4")
	t.Setenv("LEADERBOARD_TOP_N", "25")
	t.Setenv("SWEEP_INTERVAL", "5s")
	t.Setenv("RATING_K_FACTOR", "24")

	cfg := Load()
	assert.Equal(t, 4, cfg.MinParticipants)
	assert.Equal(t, 25, cfg.LeaderboardTopN)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 24.0, cfg.RatingKFactor)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("HUB_BUFFER", "lots")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 256, cfg.HubBuffer)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}
