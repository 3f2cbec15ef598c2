package core

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind string

const (
	EventBountyCreated     EventKind = "BountyCreated"
	EventStaked            EventKind = "Staked"
	EventVotingFinalized   EventKind = "VotingFinalized"
	EventWinnerConfirmed   EventKind = "WinnerConfirmed"
	EventDeliverySubmitted EventKind = "DeliverySubmitted"
	EventChallenged        EventKind = "DeliveryChallenged"
	EventDisputeResolved   EventKind = "DisputeResolved"
	EventDeliveryFinalized EventKind = "DeliveryFinalized"
	EventBountyExpired     EventKind = "BountyExpired"

	EventProposalCreated  EventKind = "ProposalCreated"
	EventVoteCast         EventKind = "VoteCast"
	EventProposalQueued   EventKind = "ProposalQueued"
	EventProposalExecuted EventKind = "ProposalExecuted"
	EventProposalCanceled EventKind = "ProposalCanceled"
)

// Event is one decoded ledger log attached to a proposal. Data holds the
// kind specific payload, nil for kinds that carry nothing beyond the id.
type Event struct {
	Kind        EventKind
	ProposalID  *big.Int
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	Data        any
}

type BountyCreatedData struct {
	StartTime  uint64
	EndTime    uint64
	TopicCount uint64
	Pool       *big.Int
}

type StakedData struct {
	Stake VoteStake
}

type VotingFinalizedData struct {
	WinnerTopicID *big.Int
}

type WinnerConfirmedData struct {
	SubmitDeadline uint64
}

type DeliverySubmittedData struct {
	ContentHash        common.Hash
	ChallengeWindowEnd uint64
}

type ChallengedData struct {
	Challenge Challenge
}

type DisputeResolvedData struct {
	Approved bool
}

type ProposalCreatedData struct {
	Proposer    common.Address
	Targets     []common.Address
	Values      []*big.Int
	Signatures  []string
	Calldatas   [][]byte
	VoteStart   uint64
	VoteEnd     uint64
	Description string
}

type VoteCastData struct {
	Voter   common.Address
	Support Support
	Weight  *big.Int
	Reason  string
}

type ProposalQueuedData struct {
	Eta uint64
}

func (e Event) before(o Event) bool {
	if e.BlockNumber != o.BlockNumber {
		return e.BlockNumber < o.BlockNumber
	}
	if e.LogIndex != o.LogIndex {
		return e.LogIndex < o.LogIndex
	}
	return bytes.Compare(e.TxHash[:], o.TxHash[:]) < 0
}

func (e Event) sameLog(o Event) bool {
	return e.BlockNumber == o.BlockNumber && e.LogIndex == o.LogIndex && e.TxHash == o.TxHash
}

// Correlate merges event streams into one sequence ordered by block number
// and log index. A log delivered by more than one stream appears once.
func Correlate(streams ...[]Event) []Event {
	var merged []Event
	for _, s := range streams {
		merged = append(merged, s...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].before(merged[j])
	})

	out := merged[:0]
	for _, e := range merged {
		if n := len(out); n > 0 && out[n-1].sameLog(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// History keeps the events of a single proposal.
func History(events []Event, id *big.Int) []Event {
	var out []Event
	for _, e := range events {
		if e.ProposalID != nil && id != nil && e.ProposalID.Cmp(id) == 0 {
			out = append(out, e)
		}
	}
	return out
}

// FindCreation locates the creation event of a proposal. The id is matched
// after retrieval because it is not an indexed field at the source.
func FindCreation(events []Event, kind ProposalKind, id *big.Int) (Event, bool) {
	want := EventProposalCreated
	if kind == KindBounty {
		want = EventBountyCreated
	}
	for _, e := range History(events, id) {
		if e.Kind == want {
			return e, true
		}
	}
	return Event{}, false
}

// ApplyCreation fills the fields a governance snapshot only gets from its
// creation event.
func ApplyCreation(p *GovernanceProposal, created ProposalCreatedData) {
	p.Proposer = created.Proposer
	p.Targets = created.Targets
	p.Values = created.Values
	p.Signatures = created.Signatures
	p.Calldatas = created.Calldatas
	p.Description = created.Description
}
