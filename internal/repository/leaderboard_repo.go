package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"keyracer/internal/model"
)

// LeaderboardRepo answers timeframe-scoped top-K queries over the
// race_results collection. Assumes a compound index on
// (language, wpm desc, racedAt) so the match+sort stays a range scan.
type LeaderboardRepo interface {
	QueryLeaderboard(ctx context.Context, q model.LeaderboardQuery) (*model.LeaderboardPage, error)
	AroundUser(ctx context.Context, userID string, q model.LeaderboardQuery, radius int) ([]model.LeaderboardEntry, error)
}

type leaderboardRepo struct {
	results *mongo.Collection
}

// NewLeaderboardRepo creates a mongo-backed leaderboard query layer.
func NewLeaderboardRepo(db *mongo.Database) LeaderboardRepo {
	return &leaderboardRepo{results: db.Collection("race_results")}
}

func (r *leaderboardRepo) matchStage(q model.LeaderboardQuery, now time.Time) bson.M {
	match := bson.M{"finished": true}
	if q.Language != "" {
		match["language"] = q.Language
	}
	if since := q.Timeframe.Since(now); !since.IsZero() {
		match["racedAt"] = bson.M{"$gte": since}
	}
	return match
}

// bestPerUser groups results down to each user's best WPM inside the
// filtered window.
func (r *leaderboardRepo) bestPerUser(q model.LeaderboardQuery, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: r.matchStage(q, now)}},
		{{Key: "$sort", Value: bson.D{{Key: "wpm", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":      "$userId",
			"username": bson.M{"$first": "$username"},
			"wpm":      bson.M{"$max": "$wpm"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "wpm", Value: -1}, {Key: "_id", Value: 1}}}},
	}
}

type boardRow struct {
	UserID   string  `bson:"_id"`
	Username string  `bson:"username"`
	WPM      float64 `bson:"wpm"`
}

func (r *leaderboardRepo) QueryLeaderboard(ctx context.Context, q model.LeaderboardQuery) (*model.LeaderboardPage, error) {
	now := time.Now()
	pipeline := append(r.bestPerUser(q, now),
		bson.D{{Key: "$facet", Value: bson.M{
			"page": mongo.Pipeline{
				{{Key: "$skip", Value: q.Offset}},
				{{Key: "$limit", Value: q.Limit}},
			},
			"total": mongo.Pipeline{
				{{Key: "$count", Value: "n"}},
			},
		}}},
	)

	cur, err := r.results.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []struct {
		Page  []boardRow `bson:"page"`
		Total []struct {
			N int64 `bson:"n"`
		} `bson:"total"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}

	page := &model.LeaderboardPage{Entries: []model.LeaderboardEntry{}}
	if len(out) == 0 {
		return page, nil
	}
	for i, row := range out[0].Page {
		page.Entries = append(page.Entries, model.LeaderboardEntry{
			Rank:     q.Offset + i + 1,
			UserID:   row.UserID,
			Username: row.Username,
			Value:    row.WPM,
		})
	}
	if len(out[0].Total) > 0 {
		page.Total = out[0].Total[0].N
	}
	page.HasMore = int64(q.Offset+len(page.Entries)) < page.Total
	return page, nil
}

// rankedBoard extends bestPerUser with a server-computed rank, so
// locating one racer never pulls the whole board over the wire.
func (r *leaderboardRepo) rankedBoard(q model.LeaderboardQuery, now time.Time) mongo.Pipeline {
	return append(r.bestPerUser(q, now),
		bson.D{{Key: "$setWindowFields", Value: bson.M{
			"sortBy": bson.D{{Key: "wpm", Value: -1}, {Key: "_id", Value: 1}},
			"output": bson.M{"rank": bson.M{"$rank": bson.M{}}},
		}}},
	)
}

type rankedRow struct {
	UserID   string  `bson:"_id"`
	Username string  `bson:"username"`
	WPM      float64 `bson:"wpm"`
	Rank     int64   `bson:"rank"`
}

func (r *leaderboardRepo) AroundUser(ctx context.Context, userID string, q model.LeaderboardQuery, radius int) ([]model.LeaderboardEntry, error) {
	now := time.Now()

	// The user's rank on the filtered board.
	cur, err := r.results.Aggregate(ctx, append(r.rankedBoard(q, now),
		bson.D{{Key: "$match", Value: bson.M{"_id": userID}}},
	))
	if err != nil {
		return nil, err
	}
	var me []rankedRow
	if err := cur.All(ctx, &me); err != nil {
		return nil, err
	}
	if len(me) == 0 {
		return nil, nil
	}

	lo := me[0].Rank - int64(radius)
	if lo < 1 {
		lo = 1
	}
	hi := me[0].Rank + int64(radius)

	// The neighbour window, selected by rank on the server.
	cur, err = r.results.Aggregate(ctx, append(r.rankedBoard(q, now),
		bson.D{{Key: "$match", Value: bson.M{"rank": bson.M{"$gte": lo, "$lte": hi}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "rank", Value: 1}}}},
	))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []rankedRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, model.LeaderboardEntry{
			Rank:     int(row.Rank),
			UserID:   row.UserID,
			Username: row.Username,
			Value:    row.WPM,
		})
	}
	return entries, nil
}
