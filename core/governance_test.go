package core

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func govInput(state GovernanceState) GovernanceInput {
	return GovernanceInput{
		Proposal: GovernanceProposal{
			ID:            big.NewInt(42),
			State:         state,
			SnapshotBlock: 100,
			DeadlineBlock: 200,
			ForVotes:      big.NewInt(600),
			AgainstVotes:  big.NewInt(100),
			AbstainVotes:  big.NewInt(50),
			Quorum:        big.NewInt(500),
		},
		Caller:      ConnectedCaller(alice),
		Now:         Reading{Timestamp: 10_000, Block: 150, Valid: true},
		VotingPower: big.NewInt(1),
	}
}

func TestScenarioCTally(t *testing.T) {
	res := ResolveGovernance(govInput(StateActive))

	assert.True(t, res.Tally.QuorumKnown)
	assert.True(t, res.Tally.QuorumReached)
	assert.Equal(t, float64(100), res.Tally.QuorumProgress)
	assert.InDelta(t, 80.0, res.Tally.ForPercent, 1e-9)
	assert.InDelta(t, 13.333, res.Tally.AgainstPercent, 1e-3)
	assert.Equal(t, big.NewInt(750), res.Tally.Total)
}

func TestCastVote(t *testing.T) {
	tests := []struct {
		name  string
		setup func(in *GovernanceInput)
		want  Verdict
	}{
		{"active", func(in *GovernanceInput) {}, Allowed},
		{"pending", func(in *GovernanceInput) { in.Proposal.State = StatePending }, Deny(ReasonWindowNotOpen)},
		{"defeated", func(in *GovernanceInput) { in.Proposal.State = StateDefeated }, Deny(ReasonWindowClosed)},
		{"canceled", func(in *GovernanceInput) { in.Proposal.State = StateCanceled }, Deny(ReasonInvalidState)},
		{"voted", func(in *GovernanceInput) { in.HasVoted = true }, Deny(ReasonAlreadyVoted)},
		{"no power", func(in *GovernanceInput) { in.VotingPower = new(big.Int) }, Deny(ReasonNoVotingPower)},
		{"nil power", func(in *GovernanceInput) { in.VotingPower = nil }, Deny(ReasonNoVotingPower)},
		{"disconnected", func(in *GovernanceInput) { in.Caller = Disconnected }, Deny(ReasonNotConnected)},
		{"degraded", func(in *GovernanceInput) { in.Degraded = true }, Deny(ReasonUnreachable)},
		{"degraded and voted", func(in *GovernanceInput) { in.Degraded = true; in.HasVoted = true }, Deny(ReasonAlreadyVoted)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := govInput(StateActive)
			tt.setup(&in)
			assert.Equal(t, tt.want, ResolveGovernance(in).Actions[ActionCastVote])
		})
	}
}

func TestEvaluateCastVoteSupport(t *testing.T) {
	in := govInput(StateActive)
	assert.Equal(t, Allowed, EvaluateCastVote(in, SupportAbstain))
	assert.Equal(t, Deny(ReasonInvalidState), EvaluateCastVote(in, Support(3)))

	in.HasVoted = true
	assert.Equal(t, Deny(ReasonAlreadyVoted), EvaluateCastVote(in, SupportFor))
}

func TestQueueAndExecute(t *testing.T) {
	for s := StatePending; s <= StateExecuted; s++ {
		res := ResolveGovernance(govInput(s))
		assert.Equal(t, s == StateSucceeded, res.Actions.Allowed(ActionQueue), s.String())
		assert.Equal(t, s == StateQueued, res.Actions.Allowed(ActionExecute), s.String())
		assert.True(t, res.Actions.Allowed(ActionDelegate), s.String())
	}

	in := govInput(StateQueued)
	in.Caller = Disconnected
	res := ResolveGovernance(in)
	assert.Equal(t, Deny(ReasonNotConnected), res.Actions[ActionExecute])
	assert.Equal(t, Deny(ReasonNotConnected), res.Actions[ActionDelegate])

	in = govInput(StateQueued)
	in.Degraded = true
	res = ResolveGovernance(in)
	assert.Equal(t, Deny(ReasonUnreachable), res.Actions[ActionExecute])
	assert.Equal(t, Deny(ReasonInvalidState), res.Actions[ActionQueue])
	assert.True(t, res.Actions.Allowed(ActionDelegate))
}

func TestCheckDelegate(t *testing.T) {
	c := ConnectedCaller(alice)
	assert.Equal(t, Allowed, CheckDelegate(c, alice.Hex()))
	assert.Equal(t, Deny(ReasonInvalidAddress), CheckDelegate(c, "0x1234"))
	assert.Equal(t, Deny(ReasonNotConnected), CheckDelegate(Disconnected, "0x1234"))
}

func TestGovernanceVoteTimes(t *testing.T) {
	in := govInput(StateActive)
	in.ExactBlockTimes = map[uint64]uint64{100: 9_900}

	res := ResolveGovernance(in)
	assert.Equal(t, BlockTime{Block: 100, Timestamp: 9_900, Known: true}, res.VoteStart)
	assert.Equal(t, BlockTime{Block: 200, Timestamp: 10_100, Estimated: true, Known: true}, res.VoteEnd)

	in.ExactBlockTimes = nil
	res = ResolveGovernance(in)
	assert.False(t, res.VoteStart.Known)
	assert.False(t, res.VoteStart.Estimated)
}

func TestGovernancePhase(t *testing.T) {
	res := ResolveGovernance(govInput(StateQueued))
	s, ok := res.Phase.Governance()
	require.True(t, ok)
	assert.Equal(t, StateQueued, s)

	_, ok = res.Phase.Bounty()
	assert.False(t, ok)
	assert.Equal(t, "governance/Queued", res.Phase.String())
}
