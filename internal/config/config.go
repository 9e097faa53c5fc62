package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime tunables. Every value can be overridden
// through the environment so deployments never patch constants.
type Config struct {
	MongoURI  string
	MongoDB   string
	RedisAddr string
	HTTPPort  string
	JWTSecret string

	// Race lifecycle
	MinParticipants int
	CountdownDelay  time.Duration
	MaxRaceDuration time.Duration

	// Cleanup scheduler
	SweepInterval   time.Duration
	StalenessWindow time.Duration

	// Rating
	RatingKFactor float64

	// Shutdown
	ShutdownTimeout time.Duration

	// Broadcast hub
	HubBuffer  int
	SendBuffer int

	// Size of the rating board pushed to leaderboard watchers.
	LeaderboardTopN int
}

// Load reads configuration from the environment with sane defaults.
func Load() *Config {
	return &Config{
		MongoURI:  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getEnv("MONGO_DB", "keyracer"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPPort:  getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),

		MinParticipants: getEnvInt("RACE_MIN_PARTICIPANTS", 2),
		CountdownDelay:  getEnvDuration("RACE_COUNTDOWN_DELAY", 5*time.Second),
		MaxRaceDuration: getEnvDuration("RACE_MAX_DURATION", 3*time.Minute),

		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 15*time.Second),
		StalenessWindow: getEnvDuration("STALENESS_WINDOW", 2*time.Minute),

		RatingKFactor: getEnvFloat("RATING_K_FACTOR", 32),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		HubBuffer:  getEnvInt("HUB_BUFFER", 256),
		SendBuffer: getEnvInt("SEND_BUFFER", 64),

		LeaderboardTopN: getEnvInt("LEADERBOARD_TOP_N", 10),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
