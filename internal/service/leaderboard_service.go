package service

import (
	"context"

	"keyracer/internal/cache"
	"keyracer/internal/errs"
	"keyracer/internal/model"
	"keyracer/internal/repository"
)

const maxPageSize = 100

// LeaderboardService answers board queries: timeframe WPM boards from
// the durable store, the all-time rating board from the redis ZSET.
type LeaderboardService struct {
	repo    repository.LeaderboardRepo
	ratings cache.LeaderboardCache
}

// NewLeaderboardService creates a leaderboard service.
func NewLeaderboardService(repo repository.LeaderboardRepo, ratings cache.LeaderboardCache) *LeaderboardService {
	return &LeaderboardService{repo: repo, ratings: ratings}
}

// WPMBoard returns one page of the best-WPM board for a timeframe.
func (s *LeaderboardService) WPMBoard(ctx context.Context, q model.LeaderboardQuery) (*model.LeaderboardPage, error) {
	if err := normalize(&q); err != nil {
		return nil, err
	}
	return s.repo.QueryLeaderboard(ctx, q)
}

// WPMAround returns the board window surrounding a user's rank.
func (s *LeaderboardService) WPMAround(ctx context.Context, userID string, q model.LeaderboardQuery, radius int) ([]model.LeaderboardEntry, error) {
	if err := normalize(&q); err != nil {
		return nil, err
	}
	if radius <= 0 {
		radius = 3
	}
	return s.repo.AroundUser(ctx, userID, q, radius)
}

// RatingBoard returns one page of the all-time rating board.
func (s *LeaderboardService) RatingBoard(ctx context.Context, limit, offset int) (*model.LeaderboardPage, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.ratings.GetTop(ctx, limit, offset)
	if err != nil {
		return nil, errs.TransientStore("leaderboard.rating", err)
	}
	total, err := s.ratings.Count(ctx)
	if err != nil {
		return nil, errs.TransientStore("leaderboard.rating", err)
	}
	return &model.LeaderboardPage{
		Entries: entries,
		Total:   total,
		HasMore: int64(offset+len(entries)) < total,
	}, nil
}

// RatingAround returns the rating-board window around a user.
func (s *LeaderboardService) RatingAround(ctx context.Context, userID string, radius int) ([]model.LeaderboardEntry, error) {
	if radius <= 0 {
		radius = 3
	}
	entries, err := s.ratings.GetAround(ctx, userID, radius)
	if err != nil {
		return nil, errs.TransientStore("leaderboard.rating", err)
	}
	return entries, nil
}

func normalize(q *model.LeaderboardQuery) error {
	if q.Timeframe == "" {
		q.Timeframe = model.TimeframeAll
	}
	if !q.Timeframe.Valid() {
		return errs.Validation("leaderboard.query", "unknown timeframe")
	}
	if q.Limit <= 0 || q.Limit > maxPageSize {
		q.Limit = 25
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return nil
}
