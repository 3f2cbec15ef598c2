package watcher

import (
	"context"
	"math/big"

	"github.com/axiomesh/bounty-guardian/chain"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/axiomesh/bounty-guardian/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EscrowBatch is everything one refresh of a bounty reads. It is replaced as
// a whole, never field by field.
type EscrowBatch struct {
	Proposal    core.BountyProposal
	Owner       common.Address
	Allowance   *big.Int
	WinnerOwner common.Address

	Created        *store.BountyRecord
	History        []core.Event
	HistoryPartial bool
}

type EscrowView struct {
	ID         uint64
	Generation uint64
	Batch      *EscrowBatch
	Caller     core.Caller
	Now        core.Reading
	// Degraded is set when the last refresh failed and Batch is older
	Degraded   bool
	Err        error
	Resolution core.EscrowResolution
}

// EscrowRequest names an escrow action and the arguments it needs.
type EscrowRequest struct {
	Action core.Action

	TopicID uint64
	// Amount is the stake or, for approve, the allowance granted to the escrow
	Amount *big.Int

	ContentHash  common.Hash
	ReasonHash   common.Hash
	EvidenceHash common.Hash
	Approve      bool
}

// EscrowSession follows one bounty on behalf of one caller.
type EscrowSession struct {
	session
	env    *Env
	logger logrus.FieldLogger

	id      uint64
	caller  common.Address
	batch   *EscrowBatch
	lastErr error
}

func NewEscrowSession(env *Env, id uint64, caller common.Address) *EscrowSession {
	env.metrics()
	return &EscrowSession{
		env:    env,
		logger: env.Logger.WithField("module", "escrow_session"),
		id:     id,
		caller: caller,
	}
}

func (s *EscrowSession) ID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetProposal switches the session to another bounty. Refreshes already in
// flight for the previous one are dropped on arrival.
func (s *EscrowSession) SetProposal(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.id {
		return
	}
	s.id = id
	s.gen++
	s.batch = nil
	s.lastErr = nil
}

// SetCaller switches the caller. The caller dependent reads are refreshed by
// the next Refresh.
func (s *EscrowSession) SetCaller(addr common.Address) {
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

// Refresh reads a complete batch and installs it if the session still looks
// at the same proposal and caller.
func (s *EscrowSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	gen, id, caller := s.gen, s.id, s.caller
	ctx, done := s.track(ctx)
	s.mu.Unlock()
	defer done()

	batch, err := s.fetch(ctx, id, caller)

	s.mu.Lock()
	defer s.mu.Unlock()
	fields := logrus.Fields{"proposal": id, "generation": gen}
	if gen != s.gen {
		s.logger.WithFields(fields).Debug("drop superseded refresh")
		s.env.Metrics.refreshes.WithLabelValues("bounty", "stale").Inc()
		return ErrSuperseded
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("refresh bounty failed")
		s.env.Metrics.refreshes.WithLabelValues("bounty", "failed").Inc()
		s.lastErr = err
		return err
	}
	if batch.HistoryPartial {
		s.logger.WithFields(fields).Warn("bounty history is incomplete")
	}
	s.env.Metrics.refreshes.WithLabelValues("bounty", "ok").Inc()
	s.batch = batch
	s.lastErr = nil
	return nil
}

func (s *EscrowSession) fetch(ctx context.Context, id uint64, caller common.Address) (*EscrowBatch, error) {
	env := s.env
	b := &EscrowBatch{Allowance: new(big.Int)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := env.Escrow.Proposal(gctx, id)
		if err != nil {
			return err
		}
		b.Proposal = p
		if p.WinnerTopicID != nil && p.WinnerTopicID.IsUint64() {
			owner, err := env.Escrow.TopicOwner(gctx, id, p.WinnerTopicID.Uint64())
			if err != nil {
				return err
			}
			b.WinnerOwner = owner
		}
		return nil
	})
	g.Go(func() error {
		owner, err := env.Escrow.Owner(gctx)
		if err != nil {
			return err
		}
		b.Owner = owner
		return nil
	})
	if caller != (common.Address{}) {
		g.Go(func() error {
			allowance, err := env.Token.Allowance(gctx, caller, env.Contracts.Escrow)
			if err != nil {
				return err
			}
			b.Allowance = allowance
			return nil
		})
	}
	g.Go(func() error {
		return s.fetchHistory(gctx, id, b)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *EscrowSession) fetchHistory(ctx context.Context, id uint64, b *EscrowBatch) error {
	env := s.env
	from := env.DeployBlock
	if env.Store != nil {
		rec, ok, err := env.Store.BountyCreation(id)
		if err != nil {
			s.logger.WithError(err).Warn("read cached bounty creation")
		} else if ok {
			b.Created = &rec
			from = rec.Block
		}
	}

	bid := new(big.Int).SetUint64(id)
	res, err := env.Events.Fetch(ctx, chain.EventFilter{
		Address:   env.Contracts.Escrow,
		Topics:    [][]common.Hash{chain.ProposalTopic(bid)},
		FromBlock: from,
	})
	if err != nil {
		return err
	}
	b.History = core.History(res.Events, bid)
	b.HistoryPartial = res.Partial()

	if b.Created == nil {
		if e, ok := core.FindCreation(b.History, core.KindBounty, bid); ok {
			if data, ok := e.Data.(core.BountyCreatedData); ok {
				rec := store.BountyRecord{Block: e.BlockNumber, Created: data}
				b.Created = &rec
				if env.Store != nil {
					if err := env.Store.PutBountyCreation(id, rec); err != nil {
						s.logger.WithError(err).Warn("cache bounty creation")
					}
				}
			}
		}
	}
	return nil
}

// View resolves the latest batch against the current chain time.
func (s *EscrowSession) View() (EscrowView, error) {
	s.mu.Lock()
	v := EscrowView{ID: s.id, Generation: s.gen, Batch: s.batch, Err: s.lastErr}
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
	v.Caller = s.env.caller(caller, caller == v.Batch.Owner)
	v.Resolution = core.ResolveEscrow(s.input(v))
	return v, nil
}

func (s *EscrowSession) input(v EscrowView) core.EscrowInput {
	return core.EscrowInput{
		Proposal:     v.Batch.Proposal,
		Caller:       v.Caller,
		Now:          v.Now,
		Allowance:    v.Batch.Allowance,
		RequiredBond: s.env.RequiredBond,
		Degraded:     v.Degraded,
	}
}

// EvaluateStake gates a stake against the latest batch without any I/O.
func (s *EscrowSession) EvaluateStake(topicID uint64, amount *big.Int) core.Verdict {
	v, err := s.View()
	if err != nil {
		return core.Deny(core.ReasonUnreachable)
	}
	return core.EvaluateStake(s.input(v), topicID, amount)
}

func (s *EscrowSession) verdict(v EscrowView, req EscrowRequest) error {
	switch req.Action {
	case core.ActionStake:
		if vd := core.EvaluateStake(s.input(v), req.TopicID, req.Amount); !vd.Allowed {
			return &core.GateError{Action: req.Action, Reason: vd.Reason}
		}
		return nil
	case core.ActionApprove:
		vd := core.EvaluateHousekeeping(v.Caller)
		if vd.Allowed && (req.Amount == nil || req.Amount.Sign() < 0) {
			vd = core.Deny(core.ReasonInvalidAmount)
		}
		if !vd.Allowed {
			return &core.GateError{Action: req.Action, Reason: vd.Reason}
		}
		return nil
	default:
		return v.Resolution.Actions.Err(req.Action)
	}
}

func (s *EscrowSession) intent(id uint64, req EscrowRequest) (chain.Intent, error) {
	c := s.env.Contracts
	bid := new(big.Int).SetUint64(id)
	switch req.Action {
	case core.ActionStake:
		return c.Intent(req.Action, bid, new(big.Int).SetUint64(req.TopicID), req.Amount)
	case core.ActionApprove:
		return c.Intent(req.Action, c.Escrow, req.Amount)
	case core.ActionSubmitDelivery:
		return c.Intent(req.Action, bid, [32]byte(req.ContentHash))
	case core.ActionChallenge:
		return c.Intent(req.Action, bid, [32]byte(req.ReasonHash), [32]byte(req.EvidenceHash))
	case core.ActionResolveDispute:
		return c.Intent(req.Action, bid, req.Approve)
	default:
		return c.Intent(req.Action, bid)
	}
}

// Preflight gates req against the latest batch. A denial on a time window
// polls the chain head once more before it stands. Denials are returned as
// *core.GateError.
func (s *EscrowSession) Preflight(ctx context.Context, req EscrowRequest) (EscrowView, error) {
	v, err := s.View()
	if err != nil {
		return v, err
	}
	err = s.verdict(v, req)
	if timeGated(err) {
		s.env.Clock.Refresh(ctx)
		if v, err = s.View(); err != nil {
			return v, err
		}
		err = s.verdict(v, req)
	}
	return v, err
}

// Execute gates req through Preflight, sends it when allowed and then
// refreshes the chain time and the whole batch whatever the outcome. A
// denial is returned as *core.GateError and nothing is sent.
func (s *EscrowSession) Execute(ctx context.Context, req EscrowRequest) (*types.Receipt, error) {
	v, err := s.Preflight(ctx, req)
	if err != nil {
		if _, ok := core.IsGateError(err); ok {
			return nil, denied(s.env, req.Action, err)
		}
		return nil, err
	}
	in, err := s.intent(v.ID, req)
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

// Close stops the session. Refreshes in flight are canceled and dropped.
func (s *EscrowSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown()
}
