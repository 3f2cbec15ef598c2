package core

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(kind EventKind, id int64, block uint64, index uint) Event {
	return Event{
		Kind:        kind,
		ProposalID:  big.NewInt(id),
		BlockNumber: block,
		LogIndex:    index,
		TxHash:      common.BigToHash(big.NewInt(int64(block)*1000 + int64(index))),
	}
}

func TestCorrelateOrdering(t *testing.T) {
	created := []Event{ev(EventProposalCreated, 1, 10, 3)}
	votes := []Event{ev(EventVoteCast, 1, 12, 0), ev(EventVoteCast, 1, 10, 5), ev(EventVoteCast, 1, 11, 1)}
	queued := []Event{ev(EventProposalQueued, 1, 20, 0)}

	got := Correlate(votes, queued, created)
	require.Len(t, got, 5)

	want := [][2]uint64{{10, 3}, {10, 5}, {11, 1}, {12, 0}, {20, 0}}
	for i, w := range want {
		assert.Equal(t, w[0], got[i].BlockNumber)
		assert.Equal(t, uint(w[1]), got[i].LogIndex)
	}
}

func TestCorrelateDeterministic(t *testing.T) {
	var all []Event
	for b := uint64(1); b <= 20; b++ {
		for i := uint(0); i < 3; i++ {
			all = append(all, ev(EventVoteCast, 1, b, i))
		}
	}
	want := Correlate(all)

	r := rand.New(rand.NewSource(7))
	for n := 0; n < 10; n++ {
		shuffled := append([]Event(nil), all...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, Correlate(shuffled[:30], shuffled[30:]))
	}
}

func TestCorrelateDropsDuplicateLogs(t *testing.T) {
	e := ev(EventVoteCast, 1, 5, 2)
	got := Correlate([]Event{e}, []Event{e, ev(EventVoteCast, 1, 5, 3)})

	assert.Len(t, got, 2)
}

func TestFindCreation(t *testing.T) {
	events := Correlate([]Event{
		ev(EventProposalCreated, 7, 10, 0),
		ev(EventProposalCreated, 8, 11, 0),
		ev(EventVoteCast, 8, 12, 0),
		ev(EventBountyCreated, 8, 9, 0),
	})

	created, ok := FindCreation(events, KindGovernance, big.NewInt(8))
	require.True(t, ok)
	assert.Equal(t, uint64(11), created.BlockNumber)

	created, ok = FindCreation(events, KindBounty, big.NewInt(8))
	require.True(t, ok)
	assert.Equal(t, EventBountyCreated, created.Kind)

	_, ok = FindCreation(events, KindGovernance, big.NewInt(9))
	assert.False(t, ok)

	assert.Len(t, History(events, big.NewInt(8)), 3)
}

func TestApplyCreation(t *testing.T) {
	p := GovernanceProposal{ID: big.NewInt(1), State: StateActive}
	ApplyCreation(&p, ProposalCreatedData{
		Proposer:    alice,
		Targets:     []common.Address{alice},
		Values:      []*big.Int{big.NewInt(0)},
		Signatures:  []string{""},
		Calldatas:   [][]byte{{0x01}},
		Description: "# Fund the bridge audit",
	})

	assert.Equal(t, "# Fund the bridge audit", p.Description)
	assert.Equal(t, alice, p.Proposer)
	assert.Equal(t, StateActive, p.State)
}
