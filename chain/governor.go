package chain

import (
	"context"
	"math/big"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// GovernorReader reads governance snapshots from the governor contract.
type GovernorReader struct {
	c contract
}

func NewGovernorReader(client Client, address common.Address) *GovernorReader {
	return &GovernorReader{c: contract{address: address, abi: GovernorABI, client: client}}
}

func (r *GovernorReader) Address() common.Address {
	return r.c.address
}

type rawVotes struct {
	AgainstVotes *big.Int
	ForVotes     *big.Int
	AbstainVotes *big.Int
}

// Proposal reads the live state of a governance proposal. Description and
// targets are not part of the live state, see core.ApplyCreation.
func (r *GovernorReader) Proposal(ctx context.Context, id *big.Int) (core.GovernanceProposal, error) {
	snapshot, err := r.c.bigInt(ctx, "proposalSnapshot", id)
	if err != nil {
		return core.GovernanceProposal{}, notFoundOnRevert(err, id)
	}
	if snapshot.Sign() == 0 {
		return core.GovernanceProposal{}, errors.Wrapf(ErrNotFound, "governance %s", id)
	}
	if !snapshot.IsUint64() {
		return core.GovernanceProposal{}, errors.Wrapf(ErrMalformedSnapshot, "governance %s: snapshot block", id)
	}

	p := core.GovernanceProposal{ID: new(big.Int).Set(id), SnapshotBlock: snapshot.Uint64()}

	var (
		state uint8
		votes rawVotes
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := r.c.call(gctx, "state", id)
		if err != nil {
			return notFoundOnRevert(err, id)
		}
		v, ok := first(out).(uint8)
		if !ok {
			return errors.Wrap(ErrMalformedSnapshot, "state: unexpected output")
		}
		state = v
		return nil
	})
	g.Go(func() error {
		deadline, err := r.c.bigInt(gctx, "proposalDeadline", id)
		if err != nil {
			return err
		}
		if !deadline.IsUint64() {
			return errors.Wrap(ErrMalformedSnapshot, "deadline block overflows")
		}
		p.DeadlineBlock = deadline.Uint64()
		return nil
	})
	g.Go(func() error {
		proposer, err := r.c.addr(gctx, "proposalProposer", id)
		if err != nil {
			return err
		}
		p.Proposer = proposer
		return nil
	})
	g.Go(func() error {
		return r.c.callInto(gctx, &votes, "proposalVotes", id)
	})
	g.Go(func() error {
		quorum, err := r.c.bigInt(gctx, "quorum", snapshot)
		if err != nil {
			// quorum of a snapshot in the future cannot be looked up yet
			if errors.Is(err, errCallReverted) {
				return nil
			}
			return err
		}
		p.Quorum = quorum
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.GovernanceProposal{}, err
	}

	p.State = core.GovernanceState(state)
	if !p.State.Valid() {
		return core.GovernanceProposal{}, errors.Wrapf(ErrMalformedSnapshot, "governance %s: state %d", id, state)
	}
	p.ForVotes = orZero(votes.ForVotes)
	p.AgainstVotes = orZero(votes.AgainstVotes)
	p.AbstainVotes = orZero(votes.AbstainVotes)
	return p, nil
}

func (r *GovernorReader) HasVoted(ctx context.Context, id *big.Int, account common.Address) (bool, error) {
	return r.c.boolean(ctx, "hasVoted", id, account)
}

// VotesAt returns the voting weight of account at block. Weight at a block
// that is not final yet reads as zero.
func (r *GovernorReader) VotesAt(ctx context.Context, account common.Address, block uint64) (*big.Int, error) {
	v, err := r.c.bigInt(ctx, "getVotes", account, new(big.Int).SetUint64(block))
	if err != nil {
		if errors.Is(err, errCallReverted) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return v, nil
}

// ProposalEta is the earliest execution time of a queued proposal, zero
// when it is not queued.
func (r *GovernorReader) ProposalEta(ctx context.Context, id *big.Int) (uint64, error) {
	eta, err := r.c.bigInt(ctx, "proposalEta", id)
	if err != nil {
		return 0, err
	}
	if !eta.IsUint64() {
		return 0, errors.Wrap(ErrMalformedSnapshot, "eta overflows")
	}
	return eta.Uint64(), nil
}

func notFoundOnRevert(err error, id *big.Int) error {
	if errors.Is(err, errCallReverted) {
		return errors.Wrapf(ErrNotFound, "governance %s: %s", id, err)
	}
	return err
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
