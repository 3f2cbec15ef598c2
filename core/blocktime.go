package core

import (
	"time"
)

// DefaultBlockTime is the block interval assumed when projecting future blocks.
const DefaultBlockTime = 2 * time.Second

// BlockTime is the wall-clock time of a block. Estimated values are
// projections for blocks not produced yet; exact values come from headers.
type BlockTime struct {
	Block     uint64
	Timestamp uint64
	Estimated bool
	Known     bool
}

// NeedsExact reports whether target has already been produced, in which case
// only its header timestamp may be used.
func NeedsExact(target uint64, now Reading) bool {
	return now.Valid && target <= now.Block
}

// ResolveBlockTime projects target forward from now when it lies in the future
// and otherwise takes its timestamp from exact. The two sources are never
// mixed: a past block without an exact timestamp stays unknown.
func ResolveBlockTime(target uint64, now Reading, exact map[uint64]uint64, blockTime time.Duration) BlockTime {
	bt := BlockTime{Block: target}
	if !now.Valid {
		return bt
	}

	if target > now.Block {
		if blockTime <= 0 {
			blockTime = DefaultBlockTime
		}
		ahead := time.Duration(target-now.Block) * blockTime
		bt.Timestamp = now.Timestamp + uint64(ahead/time.Second)
		bt.Estimated = true
		bt.Known = true
		return bt
	}

	if ts, ok := exact[target]; ok {
		bt.Timestamp = ts
		bt.Known = true
	}
	return bt
}
