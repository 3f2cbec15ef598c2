package chain

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize   = 10000
	DefaultConcurrency = 4
	DefaultAttempts    = 3
)

type FetcherConfig struct {
	ChunkSize    uint64
	Concurrency  int
	Attempts     uint
	RetryBackoff time.Duration
}

type EventFilter struct {
	Address common.Address
	Kinds   []core.EventKind

	// Topics constrains indexed arguments after the event signature
	Topics [][]common.Hash

	FromBlock uint64
	// ToBlock 0 means the latest block
	ToBlock uint64
}

type BlockRange struct {
	From uint64
	To   uint64
}

// FetchResult carries every event that could be retrieved. Failed lists the
// chunks that contributed nothing because they could not be fetched.
type FetchResult struct {
	Events []core.Event
	Failed []BlockRange
}

func (r FetchResult) Partial() bool {
	return len(r.Failed) > 0
}

// ProposalTopic filters on an indexed proposal id.
func ProposalTopic(id *big.Int) []common.Hash {
	return []common.Hash{common.BigToHash(id)}
}

// AddressTopic filters on an indexed address argument.
func AddressTopic(addrs ...common.Address) []common.Hash {
	out := make([]common.Hash, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, common.BytesToHash(a.Bytes()))
	}
	return out
}

type EventFetcher struct {
	client  Client
	cfg     FetcherConfig
	logger  logrus.FieldLogger
	metrics *Metrics
}

func NewEventFetcher(client Client, cfg FetcherConfig, logger logrus.FieldLogger, metrics *Metrics) *EventFetcher {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &EventFetcher{
		client:  client,
		cfg:     cfg,
		logger:  logger.WithField("module", "events"),
		metrics: metrics,
	}
}

// Fetch retrieves and decodes the logs matching f. The range is split into
// chunks fetched in parallel; a chunk that keeps failing is logged and
// treated as empty. Only cancellation of ctx fails the whole fetch.
func (f *EventFetcher) Fetch(ctx context.Context, filter EventFilter) (FetchResult, error) {
	to := filter.ToBlock
	if to == 0 {
		header, err := f.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return FetchResult{}, errors.Wrapf(ErrUnreachable, "latest header: %s", err)
		}
		to = header.Number.Uint64()
	}
	if filter.FromBlock > to {
		return FetchResult{}, nil
	}

	topics, err := queryTopics(filter)
	if err != nil {
		return FetchResult{}, err
	}

	var ranges []BlockRange
	for from := filter.FromBlock; from <= to; from += f.cfg.ChunkSize {
		end := from + f.cfg.ChunkSize - 1
		if end > to || end < from {
			end = to
		}
		ranges = append(ranges, BlockRange{From: from, To: end})
		if end == to {
			break
		}
	}

	var (
		chunks = make([][]core.Event, len(ranges))
		mu     sync.Mutex
		failed []BlockRange
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, rng := range ranges {
		i, rng := i, rng
		g.Go(func() error {
			logs, err := f.fetchChunk(gctx, filter.Address, topics, rng)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.logger.WithFields(logrus.Fields{
					"address": filter.Address.Hex(),
					"from":    rng.From,
					"to":      rng.To,
				}).WithError(err).Warn("fetch event chunk failed, treating as empty")
				f.metrics.chunkFetches.WithLabelValues("failed").Inc()

				mu.Lock()
				failed = append(failed, rng)
				mu.Unlock()
				return nil
			}
			f.metrics.chunkFetches.WithLabelValues("ok").Inc()
			chunks[i] = f.decodeLogs(logs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return FetchResult{}, err
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].From < failed[j].From })
	return FetchResult{Events: core.Correlate(chunks...), Failed: failed}, nil
}

func (f *EventFetcher) fetchChunk(ctx context.Context, address common.Address, topics [][]common.Hash, rng BlockRange) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(rng.From),
		ToBlock:   new(big.Int).SetUint64(rng.To),
		Addresses: []common.Address{address},
		Topics:    topics,
	}

	var logs []types.Log
	action := func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		logs, err = f.client.FilterLogs(ctx, q)
		return err
	}
	err := retry.Retry(action, strategy.Limit(f.cfg.Attempts), strategy.Backoff(backoff.Fibonacci(f.cfg.RetryBackoff)))
	return logs, err
}

func (f *EventFetcher) decodeLogs(logs []types.Log) []core.Event {
	out := make([]core.Event, 0, len(logs))
	for _, l := range logs {
		e, ok, err := DecodeLog(l)
		if err != nil {
			f.logger.WithFields(logrus.Fields{
				"block": l.BlockNumber,
				"index": l.Index,
			}).WithError(err).Warn("decode log failed")
			continue
		}
		if !ok {
			continue
		}
		f.metrics.eventsDecoded.Inc()
		out = append(out, e)
	}
	return out
}

func queryTopics(filter EventFilter) ([][]common.Hash, error) {
	var sigs []common.Hash
	for _, k := range filter.Kinds {
		id, ok := eventIDs[k]
		if !ok {
			return nil, errors.Errorf("unknown event kind %s", k)
		}
		sigs = append(sigs, id)
	}
	if len(sigs) == 0 && len(filter.Topics) == 0 {
		return nil, nil
	}
	return append([][]common.Hash{sigs}, filter.Topics...), nil
}

type eventDecoder struct {
	abi   abi.ABI
	event abi.Event
}

var (
	decoders = map[common.Hash]eventDecoder{}
	eventIDs = map[core.EventKind]common.Hash{}
)

func init() {
	for _, a := range []abi.ABI{EscrowABI, GovernorABI} {
		for _, ev := range a.Events {
			decoders[ev.ID] = eventDecoder{abi: a, event: ev}
			eventIDs[core.EventKind(ev.Name)] = ev.ID
		}
	}
}

// EventID returns the signature topic of an event kind.
func EventID(kind core.EventKind) (common.Hash, bool) {
	id, ok := eventIDs[kind]
	return id, ok
}

// DecodeLog turns a contract log into a typed event. Logs of unknown events
// are reported with ok false.
func DecodeLog(l types.Log) (core.Event, bool, error) {
	if len(l.Topics) == 0 {
		return core.Event{}, false, nil
	}
	d, ok := decoders[l.Topics[0]]
	if !ok {
		return core.Event{}, false, nil
	}

	fields := map[string]any{}
	if len(d.event.Inputs.NonIndexed()) > 0 {
		if err := d.abi.UnpackIntoMap(fields, d.event.Name, l.Data); err != nil {
			return core.Event{}, false, errors.Wrapf(err, "unpack %s", d.event.Name)
		}
	}
	var indexed abi.Arguments
	for _, in := range d.event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return core.Event{}, false, errors.Wrapf(err, "topics %s", d.event.Name)
	}

	e := core.Event{
		Kind:        core.EventKind(d.event.Name),
		ProposalID:  bigField(fields, "proposalId"),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
	}
	if e.ProposalID == nil {
		return core.Event{}, false, errors.Errorf("%s without proposal id", d.event.Name)
	}
	e.Data = eventData(e.Kind, e.ProposalID, fields)
	return e, true, nil
}

func eventData(kind core.EventKind, id *big.Int, m map[string]any) any {
	switch kind {
	case core.EventBountyCreated:
		return core.BountyCreatedData{
			StartTime:  u64Field(m, "startTime"),
			EndTime:    u64Field(m, "endTime"),
			TopicCount: bigField(m, "topicCount").Uint64(),
			Pool:       bigField(m, "pool"),
		}
	case core.EventStaked:
		return core.StakedData{Stake: core.VoteStake{
			Voter:   addrField(m, "voter"),
			TopicID: bigField(m, "topicId").Uint64(),
			Amount:  bigField(m, "amount"),
		}}
	case core.EventVotingFinalized:
		return core.VotingFinalizedData{WinnerTopicID: bigField(m, "winnerTopicId")}
	case core.EventWinnerConfirmed:
		return core.WinnerConfirmedData{SubmitDeadline: u64Field(m, "submitDeadline")}
	case core.EventDeliverySubmitted:
		return core.DeliverySubmittedData{
			ContentHash:        hashField(m, "contentHash"),
			ChallengeWindowEnd: u64Field(m, "challengeWindowEnd"),
		}
	case core.EventChallenged:
		return core.ChallengedData{Challenge: core.Challenge{
			ProposalID:   id.Uint64(),
			Challenger:   addrField(m, "challenger"),
			ReasonHash:   hashField(m, "reasonHash"),
			EvidenceHash: hashField(m, "evidenceHash"),
		}}
	case core.EventDisputeResolved:
		approved, _ := m["approved"].(bool)
		return core.DisputeResolvedData{Approved: approved}
	case core.EventProposalCreated:
		targets, _ := m["targets"].([]common.Address)
		values, _ := m["values"].([]*big.Int)
		signatures, _ := m["signatures"].([]string)
		calldatas, _ := m["calldatas"].([][]byte)
		description, _ := m["description"].(string)
		return core.ProposalCreatedData{
			Proposer:    addrField(m, "proposer"),
			Targets:     targets,
			Values:      values,
			Signatures:  signatures,
			Calldatas:   calldatas,
			VoteStart:   bigField(m, "voteStart").Uint64(),
			VoteEnd:     bigField(m, "voteEnd").Uint64(),
			Description: description,
		}
	case core.EventVoteCast:
		support, _ := m["support"].(uint8)
		reason, _ := m["reason"].(string)
		return core.VoteCastData{
			Voter:   addrField(m, "voter"),
			Support: core.Support(support),
			Weight:  bigField(m, "weight"),
			Reason:  reason,
		}
	case core.EventProposalQueued:
		return core.ProposalQueuedData{Eta: bigField(m, "eta").Uint64()}
	default:
		return nil
	}
}

func bigField(m map[string]any, key string) *big.Int {
	v, _ := m[key].(*big.Int)
	return v
}

func u64Field(m map[string]any, key string) uint64 {
	v, _ := m[key].(uint64)
	return v
}

func addrField(m map[string]any, key string) common.Address {
	v, _ := m[key].(common.Address)
	return v
}

func hashField(m map[string]any, key string) common.Hash {
	v, _ := m[key].([32]byte)
	return common.Hash(v)
}
