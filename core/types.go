package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type ProposalKind uint8

const (
	// KindBounty is a topic-voting bounty held in escrow until delivery is settled
	KindBounty ProposalKind = iota + 1

	// KindGovernance is a governor proposal voted with delegated token weight
	KindGovernance
)

func (k ProposalKind) String() string {
	switch k {
	case KindBounty:
		return "bounty"
	case KindGovernance:
		return "governance"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type BountyStatus uint8

const (
	StatusCreated BountyStatus = iota
	StatusVoting
	StatusVotingEnded
	StatusAccepted
	StatusSubmitted
	StatusDisputed
	StatusCompleted
	StatusDenied
	StatusExpired
)

var bountyStatusNames = [...]string{
	"Created", "Voting", "VotingEnded", "Accepted", "Submitted", "Disputed", "Completed", "Denied", "Expired",
}

func (s BountyStatus) Valid() bool {
	return int(s) < len(bountyStatusNames)
}

func (s BountyStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("BountyStatus(%d)", uint8(s))
	}
	return bountyStatusNames[s]
}

type GovernanceState uint8

const (
	StatePending GovernanceState = iota
	StateActive
	StateCanceled
	StateDefeated
	StateSucceeded
	StateQueued
	StateExpired
	StateExecuted
)

var governanceStateNames = [...]string{
	"Pending", "Active", "Canceled", "Defeated", "Succeeded", "Queued", "Expired", "Executed",
}

func (s GovernanceState) Valid() bool {
	return int(s) < len(governanceStateNames)
}

func (s GovernanceState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("GovernanceState(%d)", uint8(s))
	}
	return governanceStateNames[s]
}

// Phase is the canonical lifecycle position of either proposal kind. Only the
// field matching Kind carries meaning, so a bounty Accepted can never be read
// as a governance Succeeded.
type Phase struct {
	Kind       ProposalKind
	bounty     BountyStatus
	governance GovernanceState
}

func BountyPhase(s BountyStatus) Phase {
	return Phase{Kind: KindBounty, bounty: s}
}

func GovernancePhase(s GovernanceState) Phase {
	return Phase{Kind: KindGovernance, governance: s}
}

func (p Phase) Bounty() (BountyStatus, bool) {
	return p.bounty, p.Kind == KindBounty
}

func (p Phase) Governance() (GovernanceState, bool) {
	return p.governance, p.Kind == KindGovernance
}

func (p Phase) String() string {
	switch p.Kind {
	case KindBounty:
		return p.Kind.String() + "/" + p.bounty.String()
	case KindGovernance:
		return p.Kind.String() + "/" + p.governance.String()
	default:
		return "unknown"
	}
}

// BountyProposal is an immutable snapshot of an escrowed bounty. Zero
// timestamps mean the field has not been set by the ledger yet.
type BountyProposal struct {
	ID                 uint64
	Status             BountyStatus
	StartTime          uint64
	EndTime            uint64
	TopicCount         uint64
	WinnerTopicID      *big.Int // nil until voting is finalized
	SubmitDeadline     uint64
	ChallengeWindowEnd uint64
	RemainingPool      *big.Int
	Challenger         common.Address
}

func (p *BountyProposal) HasChallenger() bool {
	return p.Challenger != (common.Address{})
}

type Topic struct {
	ID    uint64
	Owner common.Address
}

type VoteStake struct {
	Voter   common.Address
	TopicID uint64
	Amount  *big.Int
}

type Challenge struct {
	ProposalID   uint64
	Challenger   common.Address
	ReasonHash   common.Hash
	EvidenceHash common.Hash
}

type GovernanceProposal struct {
	ID         *big.Int
	Proposer   common.Address
	Targets    []common.Address
	Values     []*big.Int
	Signatures []string
	Calldatas  [][]byte

	// Description is taken from the creation event, the live snapshot does not carry it
	Description string

	State         GovernanceState
	SnapshotBlock uint64
	DeadlineBlock uint64

	ForVotes     *big.Int
	AgainstVotes *big.Int
	AbstainVotes *big.Int

	// Quorum is nil when it could not be read at SnapshotBlock yet
	Quorum *big.Int
}

// Support is the ballot option of a governance vote.
type Support uint8

const (
	SupportAgainst Support = iota
	SupportFor
	SupportAbstain
)

func (s Support) Valid() bool {
	return s <= SupportAbstain
}

func (s Support) String() string {
	switch s {
	case SupportAgainst:
		return "against"
	case SupportFor:
		return "for"
	case SupportAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("support(%d)", uint8(s))
	}
}

// Reading is one observation of authoritative chain time. The zero value
// means no time source was available.
type Reading struct {
	Timestamp uint64
	Block     uint64
	Valid     bool
}

type Caller struct {
	Address   common.Address
	Connected bool

	// NetworkOK is false when the connected chain is not the configured one
	NetworkOK bool
	Admin     bool
}

// Disconnected is the caller used when no wallet is attached.
var Disconnected = Caller{}

// ConnectedCaller returns a caller on the expected network.
func ConnectedCaller(addr common.Address) Caller {
	return Caller{Address: addr, Connected: true, NetworkOK: true}
}
