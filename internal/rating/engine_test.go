package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyracer/internal/model"
)

func ranking(userIDs ...string) []model.RankedParticipant {
	rows := make([]model.RankedParticipant, len(userIDs))
	for i, id := range userIDs {
		rows[i] = model.RankedParticipant{Rank: i + 1, UserID: id}
	}
	return rows
}

func TestComputeDeltasZeroSum(t *testing.T) {
	ratings := map[string]float64{"a": 1300, "b": 1200, "c": 1100}
	deltas := ComputeDeltas(ranking("b", "a", "c"), ratings, 32)

	sum := 0.0
	for _, d := range deltas {
		sum += d
	}
	assert.InDelta(t, 0, sum, 1e-9, "pairwise exchange must conserve rating")
}

func TestComputeDeltasUpsetPaysMore(t *testing.T) {
	even := ComputeDeltas(ranking("a", "b"), map[string]float64{"a": 1200, "b": 1200}, 32)
	upset := ComputeDeltas(ranking("a", "b"), map[string]float64{"a": 1000, "b": 1500}, 32)

	assert.InDelta(t, 16, even["a"], 0.001, "even match win is worth half of K")
	assert.Greater(t, upset["a"], even["a"], "beating a stronger player pays more")
	assert.Less(t, upset["b"], even["b"], "losing as the favorite costs more")
}

func TestComputeDeltasDeterministic(t *testing.T) {
	ratings := map[string]float64{"a": 1250, "b": 1400, "c": 990, "d": 1610}
	first := ComputeDeltas(ranking("c", "a", "d", "b"), ratings, 24)
	second := ComputeDeltas(ranking("c", "a", "d", "b"), ratings, 24)
	assert.Equal(t, first, second)
}

func TestComputeDeltasUnknownUsersGetDefault(t *testing.T) {
	deltas := ComputeDeltas(ranking("x", "y"), map[string]float64{}, 32)
	assert.InDelta(t, 16, deltas["x"], 0.001)
	assert.InDelta(t, -16, deltas["y"], 0.001)
}

func TestComputeDeltasRatesNonFinishers(t *testing.T) {
	// One finisher, two racers timed out behind them. Everyone is in
	// the exchange, and the field stays zero-sum.
	rows := []model.RankedParticipant{
		{Rank: 1, UserID: "a", Finished: true},
		{Rank: 2, UserID: "b"},
		{Rank: 3, UserID: "c"},
	}
	deltas := ComputeDeltas(rows, map[string]float64{"a": 1200, "b": 1200, "c": 1200}, 32)

	require.Len(t, deltas, 3)
	assert.Greater(t, deltas["a"], 0.0)
	assert.Less(t, deltas["c"], 0.0, "a timed-out racer still pays for the loss")

	sum := 0.0
	for _, d := range deltas {
		sum += d
	}
	assert.InDelta(t, 0, sum, 1e-9)
}

func TestComputeDeltasDegenerateFields(t *testing.T) {
	assert.Empty(t, ComputeDeltas(nil, nil, 32))

	solo := ComputeDeltas(ranking("a"), nil, 32)
	require.Len(t, solo, 1)
	assert.Zero(t, solo["a"], "a solo race moves no rating")
}

func TestApply(t *testing.T) {
	rec := &model.RatingRecord{UserID: "a", Rating: 1590, PeakRating: 1600}

	Apply(rec, 15, true)
	assert.InDelta(t, 1605, rec.Rating, 0.001)
	assert.InDelta(t, 1605, rec.PeakRating, 0.001)
	assert.Equal(t, 1, rec.Wins)
	assert.Equal(t, model.TierPlatinum, rec.Tier)

	Apply(rec, -30, false)
	assert.Equal(t, 1, rec.Losses)
	assert.InDelta(t, 1605, rec.PeakRating, 0.001, "peak survives a loss")
	assert.Equal(t, model.TierSilver, TierFor(1200))

	t.Run("rating floors at zero", func(t *testing.T) {
		low := &model.RatingRecord{Rating: 5}
		Apply(low, -50, false)
		assert.Equal(t, 0.0, low.Rating)
	})
}

func TestTierThresholds(t *testing.T) {
	tests := []struct {
		rating float64
		want   model.Tier
	}{
		{0, model.TierBronze},
		{1199.9, model.TierBronze},
		{1200, model.TierSilver},
		{1399.9, model.TierSilver},
		{1400, model.TierGold},
		{1599.9, model.TierGold},
		{1600, model.TierPlatinum},
		{1799.9, model.TierPlatinum},
		{1800, model.TierDiamond},
		{2500, model.TierDiamond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.rating), "rating %.1f", tt.rating)
	}
}
