// Package rating turns finished-race rankings into ELO-style rating
// deltas. Everything here is pure computation: no cache, no store.
package rating

import (
	"math"

	"keyracer/internal/model"
)

// ComputeDeltas runs a pairwise expected-score comparison between
// every pair of ranked participants and aggregates per-user deltas,
// scaled by k and normalized by field size so a big race does not
// swing ratings harder than a duel. Non-finishers are rated too: they
// rank behind every finisher, so a deadline race with one finisher
// still moves ratings instead of degenerating to a no-op. Unknown
// users race at the default rating. Deterministic for a given ranking
// and rating map.
func ComputeDeltas(ranking []model.RankedParticipant, ratings map[string]float64, k float64) map[string]float64 {
	deltas := make(map[string]float64, len(ranking))
	if len(ranking) < 2 {
		for _, p := range ranking {
			deltas[p.UserID] = 0
		}
		return deltas
	}

	ratingOf := func(userID string) float64 {
		if r, ok := ratings[userID]; ok {
			return r
		}
		return model.DefaultRating
	}

	norm := float64(len(ranking) - 1)
	for i := 0; i < len(ranking); i++ {
		for j := i + 1; j < len(ranking); j++ {
			a, b := ranking[i], ranking[j]
			expectedA := expectedScore(ratingOf(a.UserID), ratingOf(b.UserID))

			// Ranking rows are ordered, so a beat b.
			deltas[a.UserID] += k * (1 - expectedA) / norm
			deltas[b.UserID] += k * (0 - (1 - expectedA)) / norm
		}
	}
	return deltas
}

// expectedScore is the classic ELO expectation of a against b.
func expectedScore(ratingA, ratingB float64) float64 {
	return 1 / (1 + math.Pow(10, (ratingB-ratingA)/400))
}

// Apply folds a delta into a rating record, updating tier, peak and
// the win/loss tally (winner = rank 1).
func Apply(rec *model.RatingRecord, delta float64, won bool) {
	rec.Rating += delta
	if rec.Rating < 0 {
		rec.Rating = 0
	}
	if rec.Rating > rec.PeakRating {
		rec.PeakRating = rec.Rating
	}
	if won {
		rec.Wins++
	} else {
		rec.Losses++
	}
	rec.Tier = TierFor(rec.Rating)
}
