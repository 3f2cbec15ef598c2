package core

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type GovernanceInput struct {
	Proposal GovernanceProposal
	Caller   Caller
	Now      Reading

	// VotingPower is the caller's weight at the proposal's snapshot block
	VotingPower *big.Int
	HasVoted    bool

	// ExactBlockTimes holds header timestamps of already produced blocks
	ExactBlockTimes map[uint64]uint64
	BlockTime       time.Duration

	// Degraded marks Proposal as the last good snapshot after a failed refresh
	Degraded bool
}

type GovernanceResolution struct {
	Phase    Phase
	Timeline Timeline
	Tally    Tally

	VoteStart BlockTime
	VoteEnd   BlockTime

	Actions ActionMap
}

// ResolveGovernance derives the timeline, tally and action verdicts of a
// governance proposal. The proposal state is authoritative here: the ledger
// already folds block height into it, so no action is gated on local time.
// A degraded snapshot may carry a state the ledger has left, so lifecycle
// actions are denied until a refresh succeeds.
func ResolveGovernance(in GovernanceInput) GovernanceResolution {
	p := in.Proposal
	who := callerChecks(in.Caller)
	fresh := []Check{Require(!in.Degraded, ReasonUnreachable)}

	actions := ActionMap{
		ActionCastVote: Evaluate(concat(who, []Check{
			{Pass: func() bool { return p.State == StateActive }, Reason: castVoteStateReason(p.State)},
			Require(!in.HasVoted, ReasonAlreadyVoted),
		}, fresh, []Check{
			Require(in.VotingPower != nil && in.VotingPower.Sign() > 0, ReasonNoVotingPower),
		})...),

		ActionDelegate: EvaluateHousekeeping(in.Caller),

		ActionQueue: Evaluate(concat(who, []Check{
			Require(p.State == StateSucceeded, ReasonInvalidState),
		}, fresh)...),

		ActionExecute: Evaluate(concat(who, []Check{
			Require(p.State == StateQueued, ReasonInvalidState),
		}, fresh)...),
	}

	return GovernanceResolution{
		Phase:     GovernancePhase(p.State),
		Timeline:  BuildTimeline(p.State),
		Tally:     ComputeTally(p.ForVotes, p.AgainstVotes, p.AbstainVotes, p.Quorum),
		VoteStart: ResolveBlockTime(p.SnapshotBlock, in.Now, in.ExactBlockTimes, in.BlockTime),
		VoteEnd:   ResolveBlockTime(p.DeadlineBlock, in.Now, in.ExactBlockTimes, in.BlockTime),
		Actions:   actions,
	}
}

func castVoteStateReason(s GovernanceState) DenyReason {
	switch s {
	case StatePending:
		return ReasonWindowNotOpen
	case StateCanceled:
		return ReasonInvalidState
	default:
		return ReasonWindowClosed
	}
}

// EvaluateCastVote gates a vote with a concrete support option.
func EvaluateCastVote(in GovernanceInput, support Support) Verdict {
	v := ResolveGovernance(in).Actions[ActionCastVote]
	if !v.Allowed {
		return v
	}
	return Evaluate(Require(support.Valid(), ReasonInvalidState))
}

// CheckDelegate gates a delegation to the raw, user supplied target address.
func CheckDelegate(c Caller, target string) Verdict {
	return Evaluate(concat(callerChecks(c), []Check{
		Require(common.IsHexAddress(target), ReasonInvalidAddress),
	})...)
}
