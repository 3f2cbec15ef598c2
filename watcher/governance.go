package watcher

import (
	"context"
	"math/big"
	"sync"

	"github.com/axiomesh/bounty-guardian/chain"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/axiomesh/bounty-guardian/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrNoCreation = errors.New("proposal creation event not found")

var governorEvents = []core.EventKind{
	core.EventProposalCreated,
	core.EventVoteCast,
	core.EventProposalQueued,
	core.EventProposalExecuted,
	core.EventProposalCanceled,
}

type GovernanceBatch struct {
	Proposal    core.GovernanceProposal
	HasVoted    bool
	VotingPower *big.Int
	// Eta is zero unless the proposal is queued
	Eta uint64

	// ExactBlockTimes holds header timestamps of the vote start and end
	// blocks that were already produced when the batch was read
	ExactBlockTimes map[uint64]uint64

	Created        *store.GovernanceRecord
	History        []core.Event
	HistoryPartial bool
}

type GovernanceView struct {
	ID         *big.Int
	Generation uint64
	Batch      *GovernanceBatch
	Caller     core.Caller
	Now        core.Reading
	Degraded   bool
	Err        error
	Resolution core.GovernanceResolution
}

type GovernanceRequest struct {
	Action  core.Action
	Support core.Support
	// Delegatee is the raw delegation target as entered
	Delegatee string
}

// GovernanceSession follows one governance proposal on behalf of one caller.
type GovernanceSession struct {
	session
	env    *Env
	logger logrus.FieldLogger

	id      *big.Int
	caller  common.Address
	batch   *GovernanceBatch
	lastErr error
}

func NewGovernanceSession(env *Env, id *big.Int, caller common.Address) *GovernanceSession {
	env.metrics()
	return &GovernanceSession{
		env:    env,
		logger: env.Logger.WithField("module", "governance_session"),
		id:     new(big.Int).Set(id),
		caller: caller,
	}
}

func (s *GovernanceSession) ID() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.id)
}

func (s *GovernanceSession) SetProposal(id *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.Cmp(s.id) == 0 {
		return
	}
	s.id = new(big.Int).Set(id)
	s.gen++
	s.batch = nil
	s.lastErr = nil
}

func (s *GovernanceSession) SetCaller(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if addr == s.caller {
		return
	}
	s.caller = addr
	s.gen++
	s.batch = nil
	s.lastErr = nil
}

func (s *GovernanceSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	gen, id, caller := s.gen, new(big.Int).Set(s.id), s.caller
	ctx, done := s.track(ctx)
	s.mu.Unlock()
	defer done()

	batch, err := s.fetch(ctx, id, caller)

	s.mu.Lock()
	defer s.mu.Unlock()
	fields := logrus.Fields{"proposal": id, "generation": gen}
	if gen != s.gen {
		s.logger.WithFields(fields).Debug("drop superseded refresh")
		s.env.Metrics.refreshes.WithLabelValues("governance", "stale").Inc()
		return ErrSuperseded
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("refresh governance proposal failed")
		s.env.Metrics.refreshes.WithLabelValues("governance", "failed").Inc()
		s.lastErr = err
		return err
	}
	if batch.HistoryPartial {
		s.logger.WithFields(fields).Warn("governance history is incomplete")
	}
	s.env.Metrics.refreshes.WithLabelValues("governance", "ok").Inc()
	s.batch = batch
	s.lastErr = nil
	return nil
}

func (s *GovernanceSession) fetch(ctx context.Context, id *big.Int, caller common.Address) (*GovernanceBatch, error) {
	env := s.env
	p, err := env.Governor.Proposal(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &GovernanceBatch{
		Proposal:        p,
		VotingPower:     new(big.Int),
		ExactBlockTimes: make(map[uint64]uint64),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if caller != (common.Address{}) {
		g.Go(func() error {
			voted, err := env.Governor.HasVoted(gctx, id, caller)
			if err != nil {
				return err
			}
			b.HasVoted = voted
			return nil
		})
		g.Go(func() error {
			power, err := env.Governor.VotesAt(gctx, caller, p.SnapshotBlock)
			if err != nil {
				return err
			}
			b.VotingPower = power
			return nil
		})
	}
	if p.State == core.StateQueued {
		g.Go(func() error {
			eta, err := env.Governor.ProposalEta(gctx, id)
			if err != nil {
				return err
			}
			b.Eta = eta
			return nil
		})
	}
	now := env.Clock.Now()
	for _, block := range []uint64{p.SnapshotBlock, p.DeadlineBlock} {
		if !core.NeedsExact(block, now) {
			continue
		}
		block := block
		g.Go(func() error {
			ts, err := env.Clock.BlockTimestamp(gctx, block)
			if err != nil {
				// stays unknown, an estimate is never put in its place
				s.logger.WithField("block", block).WithError(err).Warn("read block timestamp")
				return nil
			}
			mu.Lock()
			b.ExactBlockTimes[block] = ts
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		return s.fetchHistory(gctx, id, b)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if b.Created != nil {
		core.ApplyCreation(&b.Proposal, b.Created.Created)
	}
	return b, nil
}

func (s *GovernanceSession) fetchHistory(ctx context.Context, id *big.Int, b *GovernanceBatch) error {
	env := s.env
	from := env.DeployBlock
	if env.Store != nil {
		rec, ok, err := env.Store.GovernanceCreation(id)
		if err != nil {
			s.logger.WithError(err).Warn("read cached governance creation")
		} else if ok {
			b.Created = &rec
			from = rec.Block
		}
	}

	// the governor does not index proposal ids, so the whole range is read
	// and filtered here
	res, err := env.Events.Fetch(ctx, chain.EventFilter{
		Address:   env.Contracts.Governor,
		Kinds:     governorEvents,
		FromBlock: from,
	})
	if err != nil {
		return err
	}
	b.History = core.History(res.Events, id)
	b.HistoryPartial = res.Partial()

	if b.Created == nil {
		if e, ok := core.FindCreation(b.History, core.KindGovernance, id); ok {
			if data, ok := e.Data.(core.ProposalCreatedData); ok {
				rec := store.GovernanceRecord{Block: e.BlockNumber, Created: data}
				b.Created = &rec
				if env.Store != nil {
					if err := env.Store.PutGovernanceCreation(id, rec); err != nil {
						s.logger.WithError(err).Warn("cache governance creation")
					}
				}
			}
		}
	}
	return nil
}

func (s *GovernanceSession) View() (GovernanceView, error) {
	s.mu.Lock()
	v := GovernanceView{ID: new(big.Int).Set(s.id), Generation: s.gen, Batch: s.batch, Err: s.lastErr}
	caller := s.caller
	s.mu.Unlock()

	if v.Batch == nil {
		if v.Err != nil {
			return v, v.Err
		}
		return v, ErrNotLoaded
	}

	v.Degraded = v.Err != nil
	v.Now = s.env.Clock.Now()
	v.Caller = s.env.caller(caller, false)
	v.Resolution = core.ResolveGovernance(s.input(v))
	return v, nil
}

func (s *GovernanceSession) input(v GovernanceView) core.GovernanceInput {
	return core.GovernanceInput{
		Proposal:        v.Batch.Proposal,
		Caller:          v.Caller,
		Now:             v.Now,
		VotingPower:     v.Batch.VotingPower,
		HasVoted:        v.Batch.HasVoted,
		ExactBlockTimes: v.Batch.ExactBlockTimes,
		BlockTime:       s.env.BlockTime,
		Degraded:        v.Degraded,
	}
}

func (s *GovernanceSession) verdict(v GovernanceView, req GovernanceRequest) error {
	var vd core.Verdict
	switch req.Action {
	case core.ActionCastVote:
		vd = core.EvaluateCastVote(s.input(v), req.Support)
	case core.ActionDelegate:
		vd = core.CheckDelegate(v.Caller, req.Delegatee)
	default:
		return v.Resolution.Actions.Err(req.Action)
	}
	if !vd.Allowed {
		return &core.GateError{Action: req.Action, Reason: vd.Reason}
	}
	return nil
}

func (s *GovernanceSession) intent(v GovernanceView, req GovernanceRequest) (chain.Intent, error) {
	c := s.env.Contracts
	switch req.Action {
	case core.ActionCastVote:
		return c.Intent(req.Action, v.ID, uint8(req.Support))
	case core.ActionDelegate:
		return c.Intent(req.Action, common.HexToAddress(req.Delegatee))
	default:
		if v.Batch.Created == nil {
			return chain.Intent{}, errors.Wrapf(ErrNoCreation, "governance %s", v.ID)
		}
		return c.GovernanceIntent(req.Action, v.Batch.Proposal)
	}
}

// Preflight gates req against the latest batch. Governance states move with
// the chain head, so a denial on a time window polls the head and reloads
// the batch once before it stands.
func (s *GovernanceSession) Preflight(ctx context.Context, req GovernanceRequest) (GovernanceView, error) {
	v, err := s.View()
	if err != nil {
		return v, err
	}
	err = s.verdict(v, req)
	if timeGated(err) {
		s.env.Clock.Refresh(ctx)
		if rerr := s.Refresh(ctx); rerr != nil && !errors.Is(rerr, ErrSuperseded) {
			s.logger.WithField("proposal", v.ID).WithError(rerr).Warn("reload before denial failed")
		}
		if v, err = s.View(); err != nil {
			return v, err
		}
		err = s.verdict(v, req)
	}
	return v, err
}

// Execute gates req through Preflight, sends it when allowed and then
// refreshes the chain time and the whole batch whatever the outcome.
func (s *GovernanceSession) Execute(ctx context.Context, req GovernanceRequest) (*types.Receipt, error) {
	v, err := s.Preflight(ctx, req)
	if err != nil {
		if _, ok := core.IsGateError(err); ok {
			return nil, denied(s.env, req.Action, err)
		}
		return nil, err
	}
	in, err := s.intent(v, req)
	if err != nil {
		return nil, err
	}

	receipt, sendErr := send(ctx, s.env, in)
	if errors.Is(sendErr, ErrReadOnly) {
		return nil, sendErr
	}
	s.env.Clock.Refresh(ctx)
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		s.logger.WithFields(logrus.Fields{
			"proposal": v.ID,
			"action":   req.Action,
		}).WithError(err).Error("refresh after intent failed")
	}
	return receipt, sendErr
}

func (s *GovernanceSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown()
}
