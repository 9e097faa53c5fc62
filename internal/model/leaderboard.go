package model

import "time"

type Timeframe string

const (
	TimeframeAll     Timeframe = "all"
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
)

// Valid reports whether t is a known timeframe.
func (t Timeframe) Valid() bool {
	switch t {
	case TimeframeAll, TimeframeDaily, TimeframeWeekly, TimeframeMonthly:
		return true
	}
	return false
}

// Since returns the lower time bound for the timeframe, or the zero
// time for the all-time board.
func (t Timeframe) Since(now time.Time) time.Time {
	switch t {
	case TimeframeDaily:
		return now.AddDate(0, 0, -1)
	case TimeframeWeekly:
		return now.AddDate(0, 0, -7)
	case TimeframeMonthly:
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

// RaceResult is one persisted per-user race outcome, the source row
// for timeframe leaderboards.
type RaceResult struct {
	RoomID     string    `json:"roomId" bson:"roomId"`
	UserID     string    `json:"userId" bson:"userId"`
	Username   string    `json:"username" bson:"username"`
	Language   string    `json:"language" bson:"language"`
	Rank       int       `json:"rank" bson:"rank"`
	WPM        float64   `json:"wpm" bson:"wpm"`
	Accuracy   float64   `json:"accuracy" bson:"accuracy"`
	CharsTyped int       `json:"charsTyped" bson:"charsTyped"`
	Finished   bool      `json:"finished" bson:"finished"`
	RacedAt    time.Time `json:"racedAt" bson:"racedAt"`
}

// LeaderboardEntry is a read-only projection row.
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Value    float64 `json:"value"`
	Tier     Tier    `json:"tier,omitempty"`
}

// LeaderboardQuery are the filter parameters of a leaderboard request.
type LeaderboardQuery struct {
	Timeframe Timeframe
	Language  string
	Limit     int
	Offset    int
}

// LeaderboardPage is an ordered slice of a board plus pagination meta.
type LeaderboardPage struct {
	Entries []LeaderboardEntry `json:"entries"`
	Total   int64              `json:"total"`
	HasMore bool               `json:"hasMore"`
}
