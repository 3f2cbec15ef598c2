package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveBlockTime(t *testing.T) {
	now := Reading{Timestamp: 1_000, Block: 500, Valid: true}
	exact := map[uint64]uint64{400: 800, 500: 1_000}

	assert.Equal(t, BlockTime{Block: 510, Timestamp: 1_020, Estimated: true, Known: true},
		ResolveBlockTime(510, now, exact, 2*time.Second))
	assert.Equal(t, BlockTime{Block: 510, Timestamp: 1_020, Estimated: true, Known: true},
		ResolveBlockTime(510, now, exact, 0))

	// the current block is already produced and must use its header
	assert.Equal(t, BlockTime{Block: 500, Timestamp: 1_000, Known: true}, ResolveBlockTime(500, now, exact, time.Second))
	assert.Equal(t, BlockTime{Block: 400, Timestamp: 800, Known: true}, ResolveBlockTime(400, now, exact, time.Second))
	assert.Equal(t, BlockTime{Block: 300}, ResolveBlockTime(300, now, exact, time.Second))
	assert.Equal(t, BlockTime{Block: 510}, ResolveBlockTime(510, Reading{}, exact, time.Second))
}

func TestResolveBlockTimeSubSecond(t *testing.T) {
	now := Reading{Timestamp: 1_000, Block: 10, Valid: true}
	bt := ResolveBlockTime(14, now, nil, 500*time.Millisecond)

	assert.Equal(t, uint64(1_002), bt.Timestamp)
}

func TestNeedsExact(t *testing.T) {
	now := Reading{Block: 10, Valid: true}
	assert.True(t, NeedsExact(10, now))
	assert.True(t, NeedsExact(9, now))
	assert.False(t, NeedsExact(11, now))
	assert.False(t, NeedsExact(1, Reading{}))
}
