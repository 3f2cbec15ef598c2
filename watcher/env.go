package watcher

import (
	"context"
	"math/big"
	"time"

	"github.com/axiomesh/bounty-guardian/chain"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/axiomesh/bounty-guardian/repo"
	"github.com/axiomesh/bounty-guardian/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Clock is the chain time source sessions resolve against.
type Clock interface {
	Now() core.Reading
	// Refresh polls the chain head now instead of waiting for the next tick.
	Refresh(ctx context.Context) core.Reading
	BlockTimestamp(ctx context.Context, block uint64) (uint64, error)
}

// IntentSender submits an intent and waits for its confirmation.
type IntentSender interface {
	Send(ctx context.Context, in chain.Intent) (*types.Receipt, error)
}

// Env holds what every session shares: readers, the time source, the cache
// and the settings that do not depend on the watched proposal.
type Env struct {
	Contracts chain.Contracts
	Escrow    *chain.EscrowReader
	Governor  *chain.GovernorReader
	Token     *chain.TokenReader
	Events    *chain.EventFetcher
	Clock     Clock

	// Oracle is set when the env owns its clock, see NewEnv
	Oracle *chain.Oracle
	// Store is optional, without it creation events are fetched every refresh
	Store *store.Store
	// Sender is nil for read-only sessions
	Sender IntentSender

	RequiredBond *big.Int
	BlockTime    time.Duration
	DeployBlock  uint64
	NetworkOK    bool

	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// NewEnv wires the collaborators described by cfg on top of client. The
// returned env owns an oracle that is not started yet.
func NewEnv(ctx context.Context, cfg *repo.Config, client chain.Client, st *store.Store, logger logrus.FieldLogger, reg prometheus.Registerer) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bond, err := cfg.RequiredBondAmount()
	if err != nil {
		return nil, err
	}

	networkOK := true
	if cfg.ChainID != 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrapf(chain.ErrUnreachable, "chain id: %s", err)
		}
		networkOK = id.IsUint64() && id.Uint64() == cfg.ChainID
		if !networkOK {
			logger.WithFields(logrus.Fields{
				"expected": cfg.ChainID,
				"actual":   id,
			}).Warn("connected to an unexpected network, every action will be denied")
		}
	}

	contracts := chain.Contracts{
		Escrow:   common.HexToAddress(cfg.Contracts.Escrow),
		Governor: common.HexToAddress(cfg.Contracts.Governor),
		Token:    common.HexToAddress(cfg.Contracts.Token),
	}
	chainMetrics := chain.NewMetrics(reg)
	oracle := chain.NewOracle(client, cfg.Oracle.PollInterval, logger, chainMetrics)

	return &Env{
		Contracts: contracts,
		Escrow:    chain.NewEscrowReader(client, contracts.Escrow),
		Governor:  chain.NewGovernorReader(client, contracts.Governor),
		Token:     chain.NewTokenReader(client, contracts.Token),
		Events: chain.NewEventFetcher(client, chain.FetcherConfig{
			ChunkSize:    cfg.Events.ChunkSize,
			Concurrency:  cfg.Events.Concurrency,
			Attempts:     cfg.Events.Retries,
			RetryBackoff: cfg.Events.RetryBackoff,
		}, logger, chainMetrics),
		Clock:        oracle,
		Oracle:       oracle,
		Store:        st,
		RequiredBond: bond,
		BlockTime:    cfg.Oracle.BlockTime,
		DeployBlock:  cfg.Events.DeployBlock,
		NetworkOK:    networkOK,
		Logger:       logger,
		Metrics:      NewMetrics(reg),
	}, nil
}

func (e *Env) caller(addr common.Address, admin bool) core.Caller {
	if addr == (common.Address{}) {
		return core.Disconnected
	}
	return core.Caller{Address: addr, Connected: true, NetworkOK: e.NetworkOK, Admin: admin}
}

func (e *Env) metrics() *Metrics {
	if e.Metrics == nil {
		e.Metrics = NewMetrics(nil)
	}
	return e.Metrics
}
