package rating

import "keyracer/internal/model"

// Tier boundaries. A rating maps to the highest tier whose floor it
// clears; bronze has no floor.
const (
	SilverFloor   = 1200
	GoldFloor     = 1400
	PlatinumFloor = 1600
	DiamondFloor  = 1800
)

// TierFor maps a rating to its skill bracket.
func TierFor(rating float64) model.Tier {
	switch {
	case rating >= DiamondFloor:
		return model.TierDiamond
	case rating >= PlatinumFloor:
		return model.TierPlatinum
	case rating >= GoldFloor:
		return model.TierGold
	case rating >= SilverFloor:
		return model.TierSilver
	default:
		return model.TierBronze
	}
}
