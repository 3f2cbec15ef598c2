package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernorReaderProposal(t *testing.T) {
	m := newMock()
	m.SetHead(150, 3000)
	m.SetQuorum(tokens(4))
	id := big.NewInt(77)
	m.SetGovernance(id, MockGovernance{
		State:    core.StateActive,
		Snapshot: 100,
		Deadline: 200,
		Proposer: alice,
		For:      tokens(3),
		Against:  tokens(1),
	})

	p, err := NewGovernorReader(m, testContracts.Governor).Proposal(context.Background(), id)
	require.Nil(t, err)
	assert.Equal(t, core.StateActive, p.State)
	assert.EqualValues(t, 100, p.SnapshotBlock)
	assert.EqualValues(t, 200, p.DeadlineBlock)
	assert.Equal(t, alice, p.Proposer)
	assert.Equal(t, 0, p.ForVotes.Cmp(tokens(3)))
	assert.Equal(t, 0, p.AgainstVotes.Cmp(tokens(1)))
	assert.Equal(t, 0, p.AbstainVotes.Sign())
	require.NotNil(t, p.Quorum)
	assert.Equal(t, 0, p.Quorum.Cmp(tokens(4)))
}

func TestGovernorReaderFutureSnapshot(t *testing.T) {
	m := newMock()
	m.SetHead(50, 1000)
	id := big.NewInt(1)
	m.SetGovernance(id, MockGovernance{State: core.StatePending, Snapshot: 100, Deadline: 200})

	p, err := NewGovernorReader(m, testContracts.Governor).Proposal(context.Background(), id)
	require.Nil(t, err)
	assert.Equal(t, core.StatePending, p.State)
	assert.Nil(t, p.Quorum)
}

func TestGovernorReaderNotFound(t *testing.T) {
	m := newMock()
	m.SetHead(50, 1000)

	_, err := NewGovernorReader(m, testContracts.Governor).Proposal(context.Background(), big.NewInt(9))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGovernorReaderVotes(t *testing.T) {
	m := newMock()
	m.SetHead(150, 3000)
	id := big.NewInt(5)
	m.SetGovernance(id, MockGovernance{State: core.StateActive, Snapshot: 100, Deadline: 200})
	m.SetVoted(id, alice)
	m.SetVotes(bob, tokens(2))

	r := NewGovernorReader(m, testContracts.Governor)
	voted, err := r.HasVoted(context.Background(), id, alice)
	require.Nil(t, err)
	assert.True(t, voted)

	voted, err = r.HasVoted(context.Background(), id, bob)
	require.Nil(t, err)
	assert.False(t, voted)

	weight, err := r.VotesAt(context.Background(), bob, 100)
	require.Nil(t, err)
	assert.Equal(t, 0, weight.Cmp(tokens(2)))

	// not final yet
	weight, err = r.VotesAt(context.Background(), bob, 150)
	require.Nil(t, err)
	assert.Equal(t, 0, weight.Sign())
}

func TestGovernorReaderEta(t *testing.T) {
	m := newMock()
	id := big.NewInt(5)
	m.SetGovernance(id, MockGovernance{State: core.StateQueued, Snapshot: 1, Deadline: 2, Eta: 86400})

	eta, err := NewGovernorReader(m, testContracts.Governor).ProposalEta(context.Background(), id)
	require.Nil(t, err)
	assert.EqualValues(t, 86400, eta)
}
