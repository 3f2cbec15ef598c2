package core

import (
	"fmt"

	"github.com/pkg/errors"
)

type DenyReason string

const (
	ReasonNone             DenyReason = ""
	ReasonNotConnected     DenyReason = "NotConnected"
	ReasonNetworkMismatch  DenyReason = "NetworkMismatch"
	ReasonInvalidAddress   DenyReason = "InvalidAddress"
	ReasonInvalidState     DenyReason = "InvalidState"
	ReasonNotAdmin         DenyReason = "NotAdmin"
	ReasonUnreachable      DenyReason = "Unreachable"
	ReasonNoTimeSource     DenyReason = "NoTimeSource"
	ReasonWindowNotOpen    DenyReason = "WindowNotYetOpen"
	ReasonWindowClosed     DenyReason = "WindowClosed"
	ReasonAlreadyVoted     DenyReason = "AlreadyVoted"
	ReasonNoVotingPower    DenyReason = "NoVotingPower"
	ReasonInvalidAmount    DenyReason = "InvalidAmount"
	ReasonLowAllowance     DenyReason = "InsufficientAllowance"
	ReasonInsufficientBond DenyReason = "InsufficientBond"
)

type Action string

const (
	ActionFinalizeVoting Action = "finalizeVoting"
	ActionConfirmWinner  Action = "confirmWinner"
	ActionSubmitDelivery Action = "submitDelivery"
	ActionExpire         Action = "expireIfNoSubmission"
	ActionChallenge      Action = "challengeDelivery"
	ActionFinalize       Action = "finalizeDelivery"
	ActionResolveDispute Action = "resolveDispute"
	ActionStake          Action = "stake"
	ActionApprove        Action = "approve"
	ActionCastVote       Action = "castVote"
	ActionDelegate       Action = "delegate"
	ActionQueue          Action = "queue"
	ActionExecute        Action = "execute"
)

// EscrowActions is the fixed action set reported for every bounty snapshot.
var EscrowActions = []Action{
	ActionSubmitDelivery,
	ActionChallenge,
	ActionFinalize,
	ActionExpire,
	ActionFinalizeVoting,
	ActionConfirmWinner,
	ActionResolveDispute,
}

// GovernanceActions is the fixed action set reported for every governance snapshot.
var GovernanceActions = []Action{
	ActionCastVote,
	ActionDelegate,
	ActionQueue,
	ActionExecute,
}

type Verdict struct {
	Allowed bool
	Reason  DenyReason
}

var Allowed = Verdict{Allowed: true}

func Deny(reason DenyReason) Verdict {
	return Verdict{Reason: reason}
}

func (v Verdict) String() string {
	if v.Allowed {
		return "allowed"
	}
	return "denied: " + string(v.Reason)
}

// Check pairs a predicate with the reason reported when it does not hold.
// Predicates are only run while every earlier check has passed, so a later
// predicate may rely on what the earlier ones established.
type Check struct {
	Pass   func() bool
	Reason DenyReason
}

// Require wraps an already computed condition.
func Require(cond bool, reason DenyReason) Check {
	return Check{Pass: func() bool { return cond }, Reason: reason}
}

// Evaluate runs checks in order and reports the first failing reason.
func Evaluate(checks ...Check) Verdict {
	for _, c := range checks {
		if !c.Pass() {
			return Deny(c.Reason)
		}
	}
	return Allowed
}

// callerChecks are the identity checks every action starts with.
func callerChecks(c Caller) []Check {
	return []Check{
		Require(c.Connected, ReasonNotConnected),
		Require(c.NetworkOK, ReasonNetworkMismatch),
	}
}

// timeChecks guard a time-gated predicate. A degraded session and a missing
// clock both deny rather than assume eligibility.
func timeChecks(degraded bool, now Reading, window func(ts uint64) bool, reason DenyReason) []Check {
	return []Check{
		Require(!degraded, ReasonUnreachable),
		Require(now.Valid, ReasonNoTimeSource),
		{Pass: func() bool { return window(now.Timestamp) }, Reason: reason},
	}
}

func concat(groups ...[]Check) []Check {
	var out []Check
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// GateError is returned when an intent is refused before it is submitted.
type GateError struct {
	Action Action
	Reason DenyReason
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Action, e.Reason)
}

// IsGateError checks whether err is a pre-flight denial and returns it.
func IsGateError(err error) (*GateError, bool) {
	var g *GateError
	if errors.As(err, &g) {
		return g, true
	}
	return nil, false
}

// ActionMap holds the verdict of every candidate action.
type ActionMap map[Action]Verdict

// Err converts a denial into a GateError. Actions missing from the map are
// structurally inapplicable.
func (m ActionMap) Err(a Action) error {
	v, ok := m[a]
	if !ok {
		return &GateError{Action: a, Reason: ReasonInvalidState}
	}
	if v.Allowed {
		return nil
	}
	return &GateError{Action: a, Reason: v.Reason}
}

func (m ActionMap) Allowed(a Action) bool {
	return m[a].Allowed
}
