package core

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = common.HexToAddress("0x110000000000000000000000000000000000ffff")

func tokens(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return unit.Mul(unit, big.NewInt(n))
}

func at(ts uint64) Reading {
	return Reading{Timestamp: ts, Block: ts / 2, Valid: true}
}

func escrowInput(p BountyProposal, now Reading) EscrowInput {
	return EscrowInput{
		Proposal:     p,
		Caller:       ConnectedCaller(alice),
		Now:          now,
		Allowance:    tokens(10_000),
		RequiredBond: DefaultRequiredBond(),
	}
}

func TestDefaultRequiredBond(t *testing.T) {
	assert.Equal(t, tokens(10_000), DefaultRequiredBond())
}

func TestFinalizeVotingBoundary(t *testing.T) {
	p := BountyProposal{Status: StatusVoting, StartTime: 100, EndTime: 1000, TopicCount: 3}

	res := ResolveEscrow(escrowInput(p, at(1000)))
	assert.Equal(t, Deny(ReasonWindowClosed), res.Actions[ActionFinalizeVoting])

	res = ResolveEscrow(escrowInput(p, at(1001)))
	assert.True(t, res.Actions.Allowed(ActionFinalizeVoting))
}

func TestChallengeInsufficientBond(t *testing.T) {
	p := BountyProposal{Status: StatusSubmitted, SubmitDeadline: 900, ChallengeWindowEnd: 2000}
	in := escrowInput(p, at(1500))
	in.Allowance = tokens(9_999)

	res := ResolveEscrow(in)
	assert.Equal(t, Deny(ReasonInsufficientBond), res.Actions[ActionChallenge])
	assert.Equal(t, Deny(ReasonWindowNotOpen), res.Actions[ActionFinalize])

	// once the window has closed the time reason wins over the bond reason
	in.Now = at(2000)
	res = ResolveEscrow(in)
	assert.Equal(t, Deny(ReasonWindowClosed), res.Actions[ActionChallenge])
}

func TestChallengeExactBond(t *testing.T) {
	p := BountyProposal{Status: StatusSubmitted, ChallengeWindowEnd: 2000}
	in := escrowInput(p, at(1500))
	in.Allowance = tokens(10_000)

	res := ResolveEscrow(in)
	assert.True(t, res.Actions.Allowed(ActionChallenge))
}

func TestChallengeAndFinalizeAreExclusive(t *testing.T) {
	p := BountyProposal{Status: StatusSubmitted, ChallengeWindowEnd: 2000}
	for ts := uint64(1990); ts <= 2010; ts++ {
		res := ResolveEscrow(escrowInput(p, at(ts)))
		challenge := res.Actions.Allowed(ActionChallenge)
		finalize := res.Actions.Allowed(ActionFinalize)
		assert.NotEqual(t, challenge, finalize, "ts=%d", ts)
	}

	res := ResolveEscrow(escrowInput(p, at(2000)))
	assert.Equal(t, Deny(ReasonWindowClosed), res.Actions[ActionChallenge])
	assert.Equal(t, Allowed, res.Actions[ActionFinalize])
}

func TestSubmitAndExpireAreComplementary(t *testing.T) {
	p := BountyProposal{Status: StatusAccepted, SubmitDeadline: 5000}
	for ts := uint64(4990); ts <= 5010; ts++ {
		res := ResolveEscrow(escrowInput(p, at(ts)))
		submit := res.Actions.Allowed(ActionSubmitDelivery)
		expire := res.Actions.Allowed(ActionExpire)
		assert.False(t, submit && expire, "ts=%d", ts)
		assert.Equal(t, ts <= 5000, submit, "ts=%d", ts)
	}
}

func TestEscrowActionSetPerStatus(t *testing.T) {
	allowedIn := map[BountyStatus][]Action{
		StatusCreated:     nil,
		StatusVoting:      {ActionFinalizeVoting},
		StatusVotingEnded: {ActionConfirmWinner},
		StatusAccepted:    {ActionExpire},
		StatusSubmitted:   {ActionFinalize},
		StatusDisputed:    {ActionResolveDispute},
		StatusCompleted:   nil,
		StatusDenied:      nil,
		StatusExpired:     nil,
	}

	for status, want := range allowedIn {
		p := BountyProposal{
			Status:             status,
			EndTime:            10,
			SubmitDeadline:     10,
			ChallengeWindowEnd: 10,
		}
		in := escrowInput(p, at(100))
		in.Caller.Admin = true

		res := ResolveEscrow(in)
		require.Len(t, res.Actions, len(EscrowActions))
		s, ok := res.Phase.Bounty()
		require.True(t, ok)
		assert.Equal(t, status, s)

		var got []Action
		for _, a := range EscrowActions {
			if res.Actions.Allowed(a) {
				got = append(got, a)
			} else {
				assert.NotEqual(t, ReasonNone, res.Actions[a].Reason)
			}
		}
		assert.ElementsMatch(t, want, got, status.String())
	}
}

func TestNotConnectedDeniesEverything(t *testing.T) {
	p := BountyProposal{Status: StatusDisputed}
	in := escrowInput(p, Reading{})
	in.Caller = Disconnected

	res := ResolveEscrow(in)
	for _, a := range EscrowActions {
		assert.Equal(t, Deny(ReasonNotConnected), res.Actions[a], a)
	}
}

func TestNetworkMismatch(t *testing.T) {
	p := BountyProposal{Status: StatusVotingEnded}
	in := escrowInput(p, at(1))
	in.Caller.NetworkOK = false

	res := ResolveEscrow(in)
	assert.Equal(t, Deny(ReasonNetworkMismatch), res.Actions[ActionConfirmWinner])
}

func TestResolveDisputeNeedsAdmin(t *testing.T) {
	p := BountyProposal{Status: StatusDisputed, Challenger: alice}
	in := escrowInput(p, at(1))

	res := ResolveEscrow(in)
	assert.Equal(t, Deny(ReasonNotAdmin), res.Actions[ActionResolveDispute])

	in.Caller.Admin = true
	res = ResolveEscrow(in)
	assert.True(t, res.Actions.Allowed(ActionResolveDispute))
	assert.True(t, p.HasChallenger())
}

func TestNoTimeSourceFailsClosed(t *testing.T) {
	p := BountyProposal{Status: StatusAccepted, SubmitDeadline: 5000}
	res := ResolveEscrow(escrowInput(p, Reading{}))

	assert.Equal(t, Deny(ReasonNoTimeSource), res.Actions[ActionSubmitDelivery])
	assert.Equal(t, Deny(ReasonNoTimeSource), res.Actions[ActionExpire])
	require.NotNil(t, res.Deadline)
	assert.False(t, res.Deadline.Known)

	// state only actions stay available without a clock
	p.Status = StatusVotingEnded
	res = ResolveEscrow(escrowInput(p, Reading{}))
	assert.True(t, res.Actions.Allowed(ActionConfirmWinner))
}

func TestDegradedDeniesTimeGatedActions(t *testing.T) {
	p := BountyProposal{Status: StatusSubmitted, ChallengeWindowEnd: 2000}
	in := escrowInput(p, at(1500))
	in.Degraded = true

	res := ResolveEscrow(in)
	assert.Equal(t, Deny(ReasonUnreachable), res.Actions[ActionChallenge])
	assert.Equal(t, Deny(ReasonUnreachable), res.Actions[ActionFinalize])
}

func TestPhaseDeadline(t *testing.T) {
	p := BountyProposal{Status: StatusSubmitted, ChallengeWindowEnd: 2000}

	res := ResolveEscrow(escrowInput(p, at(1500)))
	require.NotNil(t, res.Deadline)
	assert.Equal(t, Deadline{At: 2000, Remaining: 500, Known: true}, *res.Deadline)

	res = ResolveEscrow(escrowInput(p, at(2500)))
	assert.Equal(t, uint64(0), res.Deadline.Remaining)

	p.Status = StatusCompleted
	res = ResolveEscrow(escrowInput(p, at(2500)))
	assert.Nil(t, res.Deadline)
}

func TestEvaluateStake(t *testing.T) {
	p := BountyProposal{Status: StatusVoting, StartTime: 100, EndTime: 1000, TopicCount: 2}

	tests := []struct {
		name    string
		now     Reading
		topic   uint64
		amount  *big.Int
		allowed *big.Int
		want    Verdict
	}{
		{"before start", at(99), 0, tokens(1), tokens(5), Deny(ReasonWindowNotOpen)},
		{"at start", at(100), 0, tokens(1), tokens(5), Allowed},
		{"at end", at(1000), 1, tokens(5), tokens(5), Allowed},
		{"after end", at(1001), 0, tokens(1), tokens(5), Deny(ReasonWindowClosed)},
		{"unknown topic", at(500), 2, tokens(1), tokens(5), Deny(ReasonInvalidState)},
		{"zero amount", at(500), 0, new(big.Int), tokens(5), Deny(ReasonInvalidAmount)},
		{"nil amount", at(500), 0, nil, tokens(5), Deny(ReasonInvalidAmount)},
		{"above allowance", at(500), 0, tokens(6), tokens(5), Deny(ReasonLowAllowance)},
		{"no clock", Reading{}, 0, tokens(1), tokens(5), Deny(ReasonNoTimeSource)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := escrowInput(p, tt.now)
			in.Allowance = tt.allowed
			assert.Equal(t, tt.want, EvaluateStake(in, tt.topic, tt.amount))
		})
	}
}

func TestCovers(t *testing.T) {
	assert.True(t, covers(nil, nil))
	assert.True(t, covers(nil, new(big.Int)))
	assert.False(t, covers(nil, big.NewInt(1)))
	assert.True(t, covers(big.NewInt(2), big.NewInt(2)))
	assert.False(t, covers(big.NewInt(1), big.NewInt(2)))
}
