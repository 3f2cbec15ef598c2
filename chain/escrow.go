package chain

import (
	"context"
	"math/big"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// EscrowReader reads bounty snapshots from the escrow contract.
type EscrowReader struct {
	c contract
}

func NewEscrowReader(client Client, address common.Address) *EscrowReader {
	return &EscrowReader{c: contract{address: address, abi: EscrowABI, client: client}}
}

func (r *EscrowReader) Address() common.Address {
	return r.c.address
}

func (r *EscrowReader) ProposalCount(ctx context.Context) (uint64, error) {
	n, err := r.c.bigInt(ctx, "proposalCount")
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, errors.Wrap(ErrMalformedSnapshot, "proposal count overflows")
	}
	return n.Uint64(), nil
}

// rawBounty mirrors the getProposal outputs field by field.
type rawBounty struct {
	Status             uint8
	StartTime          uint64
	EndTime            uint64
	TopicCount         *big.Int
	WinnerTopicId      *big.Int
	SubmitDeadline     uint64
	ChallengeWindowEnd uint64
	RemainingPool      *big.Int
	Challenger         common.Address
}

// Proposal reads the bounty with the given id. Ids at or beyond the
// proposal count do not exist.
func (r *EscrowReader) Proposal(ctx context.Context, id uint64) (core.BountyProposal, error) {
	count, err := r.ProposalCount(ctx)
	if err != nil {
		return core.BountyProposal{}, err
	}
	if id >= count {
		return core.BountyProposal{}, errors.Wrapf(ErrNotFound, "bounty %d", id)
	}

	var raw rawBounty
	if err := r.c.callInto(ctx, &raw, "getProposal", new(big.Int).SetUint64(id)); err != nil {
		return core.BountyProposal{}, err
	}
	return decodeBounty(id, raw)
}

func decodeBounty(id uint64, raw rawBounty) (core.BountyProposal, error) {
	status := core.BountyStatus(raw.Status)
	if !status.Valid() {
		return core.BountyProposal{}, errors.Wrapf(ErrMalformedSnapshot, "bounty %d: status %d", id, raw.Status)
	}
	if raw.TopicCount == nil || !raw.TopicCount.IsUint64() {
		return core.BountyProposal{}, errors.Wrapf(ErrMalformedSnapshot, "bounty %d: topic count", id)
	}

	p := core.BountyProposal{
		ID:                 id,
		Status:             status,
		StartTime:          raw.StartTime,
		EndTime:            raw.EndTime,
		TopicCount:         raw.TopicCount.Uint64(),
		SubmitDeadline:     raw.SubmitDeadline,
		ChallengeWindowEnd: raw.ChallengeWindowEnd,
		RemainingPool:      raw.RemainingPool,
		Challenger:         raw.Challenger,
	}
	if p.RemainingPool == nil {
		p.RemainingPool = new(big.Int)
	}
	if status >= core.StatusVotingEnded && raw.WinnerTopicId != nil {
		p.WinnerTopicID = raw.WinnerTopicId
	}

	switch status {
	case core.StatusAccepted:
		if p.SubmitDeadline == 0 {
			return core.BountyProposal{}, errors.Wrapf(ErrMalformedSnapshot, "bounty %d: accepted without submit deadline", id)
		}
	case core.StatusSubmitted, core.StatusDisputed:
		if p.SubmitDeadline == 0 || p.ChallengeWindowEnd == 0 {
			return core.BountyProposal{}, errors.Wrapf(ErrMalformedSnapshot, "bounty %d: %s without deadlines", id, status)
		}
	}
	if p.EndTime < p.StartTime {
		return core.BountyProposal{}, errors.Wrapf(ErrMalformedSnapshot, "bounty %d: voting ends before it starts", id)
	}
	return p, nil
}

// Owner returns the escrow admin.
func (r *EscrowReader) Owner(ctx context.Context) (common.Address, error) {
	return r.c.addr(ctx, "owner")
}

func (r *EscrowReader) TopicOwner(ctx context.Context, proposalID, topicID uint64) (common.Address, error) {
	return r.c.addr(ctx, "topicOwner", new(big.Int).SetUint64(proposalID), new(big.Int).SetUint64(topicID))
}
