package model

import "math"

// Tier bounds how many concurrently active rules an account may hold.
// It is derived from the account's external token holdings.
type Tier uint8

const (
	TierStarter Tier = iota
	TierBronze
	TierSilver
	TierGold
)

// Holdings thresholds in base units (1e9 base units per whole token).
var (
	bronzeThreshold = NewAmount(100_000_000_000)   // 100 tokens
	silverThreshold = NewAmount(500_000_000_000)   // 500 tokens
	goldThreshold   = NewAmount(1_000_000_000_000) // 1000 tokens
)

// MaxRules returns the maximum number of concurrently active rules for the
// tier. Gold is effectively unbounded.
func (t Tier) MaxRules() uint32 {
	switch t {
	case TierBronze:
		return 5
	case TierSilver:
		return 10
	case TierGold:
		return math.MaxUint32
	default:
		return 2
	}
}

func (t Tier) String() string {
	switch t {
	case TierStarter:
		return "starter"
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return "unknown"
	}
}

// TierForHoldings maps external token holdings to a tier via fixed
// thresholds.
func TierForHoldings(h Amount) Tier {
	switch {
	case h.Cmp(goldThreshold) >= 0:
		return TierGold
	case h.Cmp(silverThreshold) >= 0:
		return TierSilver
	case h.Cmp(bronzeThreshold) >= 0:
		return TierBronze
	default:
		return TierStarter
	}
}
