package core

import (
	"math/big"
)

const tokenDecimals = 18

// DefaultRequiredBond returns the challenge bond of 10 000 whole tokens.
func DefaultRequiredBond() *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)
	return unit.Mul(unit, big.NewInt(10_000))
}

type EscrowInput struct {
	Proposal     BountyProposal
	Caller       Caller
	Now          Reading
	Allowance    *big.Int
	RequiredBond *big.Int

	// Degraded marks Proposal as the last good snapshot after a failed refresh
	Degraded bool
}

type Deadline struct {
	At        uint64
	Remaining uint64
	Known     bool
}

type EscrowResolution struct {
	Phase   Phase
	Actions ActionMap

	// Deadline is nil when the phase has no deadline
	Deadline *Deadline
}

// ResolveEscrow derives the phase of a bounty and the verdict of every
// escrow action for the given caller at the given chain time.
func ResolveEscrow(in EscrowInput) EscrowResolution {
	p := in.Proposal
	who := callerChecks(in.Caller)
	status := func(s BountyStatus) []Check {
		return []Check{Require(p.Status == s, ReasonInvalidState)}
	}
	clock := func(window func(ts uint64) bool, reason DenyReason) []Check {
		return timeChecks(in.Degraded, in.Now, window, reason)
	}

	actions := ActionMap{
		// voting ends at EndTime inclusive, so finalization needs a strictly later instant
		ActionFinalizeVoting: Evaluate(concat(who, status(StatusVoting),
			clock(func(ts uint64) bool { return ts > p.EndTime }, ReasonWindowClosed))...),

		ActionConfirmWinner: Evaluate(concat(who, status(StatusVotingEnded))...),

		ActionSubmitDelivery: Evaluate(concat(who, status(StatusAccepted),
			clock(func(ts uint64) bool { return ts <= p.SubmitDeadline }, ReasonWindowClosed))...),

		ActionExpire: Evaluate(concat(who, status(StatusAccepted),
			clock(func(ts uint64) bool { return ts > p.SubmitDeadline }, ReasonWindowNotOpen))...),

		ActionChallenge: Evaluate(concat(who, status(StatusSubmitted),
			clock(func(ts uint64) bool { return ts < p.ChallengeWindowEnd }, ReasonWindowClosed),
			[]Check{{Pass: func() bool { return covers(in.Allowance, in.RequiredBond) }, Reason: ReasonInsufficientBond}})...),

		ActionFinalize: Evaluate(concat(who, status(StatusSubmitted),
			clock(func(ts uint64) bool { return ts >= p.ChallengeWindowEnd }, ReasonWindowNotOpen))...),

		ActionResolveDispute: Evaluate(concat(who, status(StatusDisputed),
			[]Check{Require(in.Caller.Admin, ReasonNotAdmin)})...),
	}

	return EscrowResolution{
		Phase:    BountyPhase(p.Status),
		Actions:  actions,
		Deadline: phaseDeadline(p, in.Now, in.Degraded),
	}
}

// EvaluateStake gates a stake of amount on topicID. It is cheap enough to run
// on every edit of the amount.
func EvaluateStake(in EscrowInput, topicID uint64, amount *big.Int) Verdict {
	p := in.Proposal
	return Evaluate(concat(callerChecks(in.Caller),
		[]Check{
			Require(p.Status == StatusVoting, ReasonInvalidState),
			Require(topicID < p.TopicCount, ReasonInvalidState),
			Require(!in.Degraded, ReasonUnreachable),
			Require(in.Now.Valid, ReasonNoTimeSource),
			{Pass: func() bool { return in.Now.Timestamp >= p.StartTime }, Reason: ReasonWindowNotOpen},
			{Pass: func() bool { return in.Now.Timestamp <= p.EndTime }, Reason: ReasonWindowClosed},
			Require(amount != nil && amount.Sign() > 0, ReasonInvalidAmount),
			{Pass: func() bool { return covers(in.Allowance, amount) }, Reason: ReasonLowAllowance},
		})...)
}

// EvaluateHousekeeping gates actions that only need a usable wallet, such as
// token approvals and vote delegation.
func EvaluateHousekeeping(c Caller) Verdict {
	return Evaluate(callerChecks(c)...)
}

func covers(have, need *big.Int) bool {
	if need == nil {
		return true
	}
	if have == nil {
		return need.Sign() <= 0
	}
	return have.Cmp(need) >= 0
}

func phaseDeadline(p BountyProposal, now Reading, degraded bool) *Deadline {
	var at uint64
	switch p.Status {
	case StatusVoting:
		at = p.EndTime
	case StatusAccepted:
		at = p.SubmitDeadline
	case StatusSubmitted:
		at = p.ChallengeWindowEnd
	default:
		return nil
	}

	d := &Deadline{At: at}
	if now.Valid && !degraded {
		d.Known = true
		if now.Timestamp < at {
			d.Remaining = at - now.Timestamp
		}
	}
	return d
}
