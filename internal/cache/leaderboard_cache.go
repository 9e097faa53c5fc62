package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"keyracer/internal/model"
)

// LeaderboardCache keeps the all-time rating board in a Redis ZSET so
// top-K and rank lookups never touch the durable store.
type LeaderboardCache interface {
	UpdateRating(ctx context.Context, rec *model.RatingRecord) error
	GetTop(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error)
	GetAround(ctx context.Context, userID string, radius int) ([]model.LeaderboardEntry, error)
	GetRank(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type leaderboardCache struct {
	client *redis.Client
}

// NewLeaderboardCache creates a Redis-backed rating board.
func NewLeaderboardCache(client *redis.Client) LeaderboardCache {
	return &leaderboardCache{client: client}
}

func (c *leaderboardCache) key() string { return "lb:rating" }

func (c *leaderboardCache) memberKey(userID string) string {
	return fmt.Sprintf("lb:member:%s", userID)
}

type memberMeta struct {
	Username string     `json:"username"`
	Tier     model.Tier `json:"tier"`
}

func (c *leaderboardCache) UpdateRating(ctx context.Context, rec *model.RatingRecord) error {
	if err := c.client.ZAdd(ctx, c.key(), redis.Z{
		Score:  rec.Rating,
		Member: rec.UserID,
	}).Err(); err != nil {
		return err
	}
	meta, _ := json.Marshal(memberMeta{Username: rec.Username, Tier: rec.Tier})
	return c.client.Set(ctx, c.memberKey(rec.UserID), meta, 0).Err()
}

func (c *leaderboardCache) GetTop(ctx context.Context, limit, offset int) ([]model.LeaderboardEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, c.key(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}
	return c.hydrate(ctx, results, offset)
}

func (c *leaderboardCache) GetAround(ctx context.Context, userID string, radius int) ([]model.LeaderboardEntry, error) {
	rank, err := c.client.ZRevRank(ctx, c.key(), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	start := rank - int64(radius)
	if start < 0 {
		start = 0
	}
	results, err := c.client.ZRevRangeWithScores(ctx, c.key(), start, rank+int64(radius)).Result()
	if err != nil {
		return nil, err
	}
	return c.hydrate(ctx, results, int(start))
}

func (c *leaderboardCache) GetRank(ctx context.Context, userID string) (int64, error) {
	rank, err := c.client.ZRevRank(ctx, c.key(), userID).Result()
	if err == redis.Nil {
		return -1, nil
	}
	return rank + 1, err // 1-indexed
}

func (c *leaderboardCache) Count(ctx context.Context) (int64, error) {
	return c.client.ZCard(ctx, c.key()).Result()
}

func (c *leaderboardCache) hydrate(ctx context.Context, results []redis.Z, offset int) ([]model.LeaderboardEntry, error) {
	entries := make([]model.LeaderboardEntry, len(results))
	for i, z := range results {
		userID := z.Member.(string)
		entries[i] = model.LeaderboardEntry{
			Rank:   offset + i + 1,
			UserID: userID,
			Value:  z.Score,
		}
		data, err := c.client.Get(ctx, c.memberKey(userID)).Result()
		if err == nil {
			var meta memberMeta
			if json.Unmarshal([]byte(data), &meta) == nil {
				entries[i].Username = meta.Username
				entries[i].Tier = meta.Tier
			}
		}
	}
	return entries, nil
}
