package service

import "keyracer/internal/model"

// Broadcaster is the fan-out surface for live updates (avoids an
// import cycle with the ws package). Delivery is best-effort; slow
// subscribers are the hub's problem, never the mutation path's.
type Broadcaster interface {
	// PublishRoom hands the hub a committed session snapshot. Called
	// from the cache commit hook, so it must not block.
	PublishRoom(snapshot *model.RaceSession)

	// PublishRaceFinished pushes the final ranking and rating deltas
	// to a room's subscribers.
	PublishRaceFinished(roomID string, version uint64, ranking []model.RankedParticipant, deltas map[string]float64)

	// PublishLeaderboard pushes rating-board rows to the global channel.
	PublishLeaderboard(entries []model.LeaderboardEntry)
}
