package model

import "time"

type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

// RatingRecord is a user's persistent skill score.
type RatingRecord struct {
	UserID     string    `json:"userId" bson:"userId"`
	Username   string    `json:"username" bson:"username"`
	Rating     float64   `json:"rating" bson:"rating"`
	Tier       Tier      `json:"tier" bson:"tier"`
	Wins       int       `json:"wins" bson:"wins"`
	Losses     int       `json:"losses" bson:"losses"`
	PeakRating float64   `json:"peakRating" bson:"peakRating"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DefaultRating is the score assigned to users with no race history.
const DefaultRating = 1200
