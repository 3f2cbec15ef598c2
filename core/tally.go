package core

import (
	"math/big"
)

type Tally struct {
	For     *big.Int
	Against *big.Int
	Abstain *big.Int
	Total   *big.Int

	Quorum        *big.Int
	QuorumKnown   bool
	QuorumReached bool

	// QuorumProgress is total participation against quorum, capped at 100
	QuorumProgress float64

	ForPercent     float64
	AgainstPercent float64
	AbstainPercent float64
}

var hundred = big.NewInt(100)

// ComputeTally derives quorum and per-option percentages from raw tallies.
// A nil quorum is unknown, a zero quorum is already satisfied.
func ComputeTally(forVotes, againstVotes, abstainVotes, quorum *big.Int) Tally {
	t := Tally{
		For:     orZero(forVotes),
		Against: orZero(againstVotes),
		Abstain: orZero(abstainVotes),
	}
	t.Total = new(big.Int).Add(t.For, t.Against)
	t.Total.Add(t.Total, t.Abstain)

	denom := t.Total
	if denom.Sign() == 0 {
		denom = big.NewInt(1)
	}
	t.ForPercent = percent(t.For, denom)
	t.AgainstPercent = percent(t.Against, denom)
	t.AbstainPercent = percent(t.Abstain, denom)

	if quorum == nil {
		return t
	}
	t.Quorum = new(big.Int).Set(quorum)
	t.QuorumKnown = true

	counted := new(big.Int).Add(t.For, t.Abstain)
	t.QuorumReached = counted.Cmp(quorum) >= 0

	if quorum.Sign() == 0 {
		t.QuorumProgress = 100
		return t
	}
	t.QuorumProgress = min(100, percent(t.Total, quorum))
	return t
}

func percent(num, denom *big.Int) float64 {
	r := new(big.Rat).SetFrac(new(big.Int).Mul(num, hundred), denom)
	f, _ := r.Float64()
	return f
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
