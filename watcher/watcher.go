package watcher

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/bounty-guardian/chain"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/axiomesh/bounty-guardian/repo"
	"github.com/axiomesh/bounty-guardian/store"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	LogChanMaxSize = 1000

	escrowCursor   = "escrow"
	governorCursor = "governor"
)

type Option func(*Watcher)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithRegistry registers the metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(w *Watcher) {
		w.registry = reg
	}
}

// WithSender lets the watcher's sessions submit intents.
func WithSender(sender IntentSender) Option {
	return func(w *Watcher) {
		w.sender = sender
	}
}

// Watcher keeps one session per configured proposal current: it replays
// missed contract logs, follows new ones and re-evaluates every session on
// a fixed interval.
type Watcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *repo.Config
	client chain.Client

	logger   logrus.FieldLogger
	registry *prometheus.Registry
	sender   IntentSender

	store *store.Store
	env   *Env

	bounties   map[uint64]*EscrowSession
	governance map[string]*GovernanceSession

	// last reported verdict per kind/proposal/action
	verdicts map[string]string

	logChan chan types.Log
	logSub  ethereum.Subscription
	server  *http.Server
	wg      sync.WaitGroup

	resubscribeBackoff backoff.Algorithm
}

func New(ctx context.Context, config *repo.Config, client chain.Client, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		config:     config,
		client:     client,
		bounties:   make(map[uint64]*EscrowSession),
		governance: make(map[string]*GovernanceSession),
		verdicts:   make(map[string]string),
		logChan:    make(chan types.Log, LogChanMaxSize),

		resubscribeBackoff: backoff.Fibonacci(5 * time.Second),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		logger := log.New()
		logger.SetLevel(log.ParseLevel(config.Log.Level))
		w.logger = logger
	}
	if w.registry == nil {
		w.registry = prometheus.NewRegistry()
		w.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	caller := common.Address{}
	if config.Watch.Caller != "" {
		caller = common.HexToAddress(config.Watch.Caller)
	}
	govIDs, err := config.GovernanceIDs()
	if err != nil {
		w.cancel()
		return nil, err
	}

	st, err := store.Open(config.StorePath())
	if err != nil {
		w.cancel()
		return nil, err
	}
	env, err := NewEnv(w.ctx, config, client, st, w.logger, w.registry)
	if err != nil {
		w.cancel()
		_ = st.Close()
		return nil, err
	}
	env.Sender = w.sender
	w.store = st
	w.env = env

	for _, id := range config.Watch.Bounties {
		w.bounties[id] = NewEscrowSession(env, id, caller)
	}
	for _, id := range govIDs {
		w.governance[id.String()] = NewGovernanceSession(env, id, caller)
	}
	return w, nil
}

func (w *Watcher) Env() *Env {
	return w.env
}

func (w *Watcher) Bounty(id uint64) (*EscrowSession, bool) {
	s, ok := w.bounties[id]
	return s, ok
}

func (w *Watcher) Governance(id string) (*GovernanceSession, bool) {
	s, ok := w.governance[id]
	return s, ok
}

func (w *Watcher) Start() error {
	w.env.Oracle.Start(w.ctx)

	if err := w.catchUp(false); err != nil {
		return err
	}
	w.refreshAll()
	if err := w.subscribeLog(); err != nil {
		return errors.Wrap(err, "subscribe contract logs")
	}
	w.evaluate()

	if w.config.Metrics.Enable {
		w.serveMetrics()
	}

	w.wg.Add(1)
	go w.listenEvents()

	return nil
}

func (w *Watcher) refreshAll() {
	for _, s := range w.bounties {
		_ = s.Refresh(w.ctx)
	}
	for _, s := range w.governance {
		_ = s.Refresh(w.ctx)
	}
}

// catchUp replays the logs emitted since the stored cursors. With refresh
// set the sessions they touch are refreshed.
func (w *Watcher) catchUp(refresh bool) error {
	head := w.env.Clock.Now()
	if !head.Valid {
		w.logger.Warn("chain head unknown, skip history catch up")
		return nil
	}

	for _, c := range []struct {
		name    string
		address common.Address
	}{
		{escrowCursor, w.env.Contracts.Escrow},
		{governorCursor, w.env.Contracts.Governor},
	} {
		from := w.env.DeployBlock
		if next, ok := w.store.Cursor(c.name); ok && next > from {
			from = next
		}
		if from > head.Block {
			continue
		}

		res, err := w.env.Events.Fetch(w.ctx, chain.EventFilter{
			Address:   c.address,
			FromBlock: from,
			ToBlock:   head.Block,
		})
		if err != nil {
			return err
		}
		w.logger.WithFields(logrus.Fields{
			"contract": c.name,
			"from":     from,
			"to":       head.Block,
			"events":   len(res.Events),
		}).Info("caught up contract history")

		touched := make(map[string]bool)
		for _, e := range res.Events {
			if !refresh || e.ProposalID == nil || touched[e.ProposalID.String()] {
				continue
			}
			touched[e.ProposalID.String()] = true
			w.refreshFor(c.address, e)
		}
		// failed chunks are scanned again on the next catch up
		if !res.Partial() {
			w.store.SetCursor(c.name, head.Block+1)
		}
	}
	return nil
}

func (w *Watcher) subscribeLog() error {
	sub, err := w.client.SubscribeFilterLogs(w.ctx, ethereum.FilterQuery{
		Addresses: []common.Address{w.env.Contracts.Escrow, w.env.Contracts.Governor},
	}, w.logChan)
	if err != nil {
		return err
	}
	w.logSub = sub
	return nil
}

func (w *Watcher) listenEvents() {
	defer w.wg.Done()
	w.logger.Info("listen events")

	interval := w.config.Watch.Interval
	if interval <= 0 {
		interval = repo.DefaultConfig("").Watch.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("context done")
			return
		case l := <-w.logChan:
			w.handleLog(l)
		case err := <-w.logSub.Err():
			if w.ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).Warn("log subscription dropped")
			w.logSub.Unsubscribe()
			w.logSub = closedSubscription{}
			if err := w.resubscribe(); err != nil {
				if w.ctx.Err() != nil {
					return
				}
				w.logger.WithError(err).Error("resubscribe failed, watching on the ticker only")
			}
		case <-ticker.C:
			w.refreshAll()
			w.evaluate()
		}
	}
}

func (w *Watcher) handleLog(l types.Log) {
	w.logger.WithFields(logrus.Fields{
		"address": l.Address,
		"block":   l.BlockNumber,
		"index":   l.Index,
	}).Debug("subscribe log")

	e, ok, err := chain.DecodeLog(l)
	if err != nil {
		w.logger.WithError(err).Warn("decode contract log")
	}
	if ok && e.ProposalID != nil {
		w.refreshFor(l.Address, e)
		w.evaluate()
	}
	if l.Removed {
		w.logger.WithFields(logrus.Fields{
			"address": l.Address,
			"block":   l.BlockNumber,
		}).Warn("contract log removed by a reorg")
		return
	}

	// the block may carry more logs, so it is scanned again after a restart
	switch l.Address {
	case w.env.Contracts.Escrow:
		w.store.SetCursor(escrowCursor, l.BlockNumber)
	case w.env.Contracts.Governor:
		w.store.SetCursor(governorCursor, l.BlockNumber)
	}
}

func (w *Watcher) refreshFor(address common.Address, e core.Event) {
	switch address {
	case w.env.Contracts.Escrow:
		if !e.ProposalID.IsUint64() {
			return
		}
		if s, ok := w.bounties[e.ProposalID.Uint64()]; ok {
			_ = s.Refresh(w.ctx)
		}
	case w.env.Contracts.Governor:
		if s, ok := w.governance[e.ProposalID.String()]; ok {
			_ = s.Refresh(w.ctx)
		}
	}
}

// resubscribe closes the gap left by the dropped subscription and follows
// the logs again. w.logSub is only replaced by a live subscription.
func (w *Watcher) resubscribe() error {
	action := func(attempt uint) error {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		w.env.Oracle.Refresh(w.ctx)
		if err := w.catchUp(true); err != nil {
			return err
		}
		return w.subscribeLog()
	}

	return retry.Retry(action, strategy.Limit(5), w.waitBackoff(w.resubscribeBackoff))
}

// waitBackoff sleeps like strategy.Backoff but gives up as soon as the
// watcher stops.
func (w *Watcher) waitBackoff(algorithm backoff.Algorithm) strategy.Strategy {
	return func(attempt uint) bool {
		d := algorithm(attempt)
		if d <= 0 {
			return w.ctx.Err() == nil
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-w.ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}
}

// evaluate resolves every session and reports eligibility changes.
func (w *Watcher) evaluate() {
	for id, s := range w.bounties {
		v, err := s.View()
		if err != nil {
			continue
		}
		w.report(core.KindBounty, strconv.FormatUint(id, 10), v.Resolution.Actions)
	}
	for id, s := range w.governance {
		v, err := s.View()
		if err != nil {
			continue
		}
		w.report(core.KindGovernance, id, v.Resolution.Actions)
	}
}

func (w *Watcher) report(kind core.ProposalKind, id string, actions core.ActionMap) {
	for action, verdict := range actions {
		allowed := 0.0
		if verdict.Allowed {
			allowed = 1
		}
		w.env.Metrics.eligible.WithLabelValues(kind.String(), id, string(action)).Set(allowed)

		key := kind.String() + "/" + id + "/" + string(action)
		now := verdict.String()
		if prev, ok := w.verdicts[key]; ok && prev == now {
			continue
		}
		w.verdicts[key] = now
		w.logger.WithFields(logrus.Fields{
			"kind":     kind,
			"proposal": id,
			"action":   action,
			"verdict":  now,
		}).Info("eligibility changed")
	}
}

func (w *Watcher) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{}))
	w.server = &http.Server{
		Addr:              w.config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	w.logger.WithField("listen", w.config.Metrics.Listen).Info("serving prometheus metrics")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.WithError(err).Error("metrics server stopped")
		}
	}()
}

// Stop cancels every background task, closes the sessions and releases the
// store. It is safe to call once after a successful Start or New.
func (w *Watcher) Stop() error {
	w.cancel()
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.WithError(err).Warn("shutdown metrics server")
		}
	}
	w.wg.Wait()
	if w.logSub != nil {
		w.logSub.Unsubscribe()
	}

	for _, s := range w.bounties {
		s.Close()
	}
	for _, s := range w.governance {
		s.Close()
	}
	w.env.Oracle.Stop()

	return w.store.Close()
}

// closedSubscription stands in once resubscribing gave up.
type closedSubscription struct{}

func (closedSubscription) Unsubscribe() {}

func (closedSubscription) Err() <-chan error {
	return nil
}
