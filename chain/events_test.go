package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emitEscrow(t *testing.T, m *MockClient, event string, block uint64, values ...any) {
	_, err := m.Emit(testContracts.Escrow, EscrowABI, event, block, values...)
	require.Nil(t, err)
}

func emitGovernor(t *testing.T, m *MockClient, event string, block uint64, values ...any) {
	_, err := m.Emit(testContracts.Governor, GovernorABI, event, block, values...)
	require.Nil(t, err)
}

func TestDecodeEscrowEvents(t *testing.T) {
	m := newMock()
	m.SetHead(100, 1000)
	id := big.NewInt(3)
	emitEscrow(t, m, "BountyCreated", 10, id, uint64(100), uint64(200), big.NewInt(4), tokens(30))
	emitEscrow(t, m, "Staked", 12, id, alice, big.NewInt(2), tokens(5))
	emitEscrow(t, m, "DeliveryChallenged", 40, id, bob, [32]byte{1}, [32]byte{2})
	emitEscrow(t, m, "DeliveryFinalized", 41, id)

	logger, _ := test.NewNullLogger()
	f := NewEventFetcher(m, FetcherConfig{}, logger, nil)
	res, err := f.Fetch(context.Background(), EventFilter{Address: testContracts.Escrow})
	require.Nil(t, err)
	assert.False(t, res.Partial())
	require.Len(t, res.Events, 4)

	created := res.Events[0]
	assert.Equal(t, core.EventBountyCreated, created.Kind)
	assert.Equal(t, 0, created.ProposalID.Cmp(id))
	assert.Equal(t, core.BountyCreatedData{StartTime: 100, EndTime: 200, TopicCount: 4, Pool: tokens(30)}, created.Data)

	staked, ok := res.Events[1].Data.(core.StakedData)
	require.True(t, ok)
	assert.Equal(t, alice, staked.Stake.Voter)
	assert.EqualValues(t, 2, staked.Stake.TopicID)
	assert.Equal(t, 0, staked.Stake.Amount.Cmp(tokens(5)))

	challenged, ok := res.Events[2].Data.(core.ChallengedData)
	require.True(t, ok)
	assert.Equal(t, bob, challenged.Challenge.Challenger)
	assert.EqualValues(t, 3, challenged.Challenge.ProposalID)
	assert.Equal(t, common.Hash{1}, challenged.Challenge.ReasonHash)
	assert.Equal(t, common.Hash{2}, challenged.Challenge.EvidenceHash)

	assert.Equal(t, core.EventKind("DeliveryFinalized"), res.Events[3].Kind)
	assert.Nil(t, res.Events[3].Data)
}

func TestDecodeGovernorEvents(t *testing.T) {
	m := newMock()
	m.SetHead(100, 1000)
	id := big.NewInt(0xabc)
	targets := []common.Address{bob}
	emitGovernor(t, m, "ProposalCreated", 20, id, alice, targets, []*big.Int{big.NewInt(0)},
		[]string{""}, [][]byte{{0xde, 0xad}}, big.NewInt(21), big.NewInt(60), "raise the cap")
	emitGovernor(t, m, "VoteCast", 30, alice, id, uint8(core.SupportFor), tokens(2), "yes")
	emitGovernor(t, m, "ProposalQueued", 70, id, big.NewInt(99999))

	logger, _ := test.NewNullLogger()
	f := NewEventFetcher(m, FetcherConfig{}, logger, nil)
	res, err := f.Fetch(context.Background(), EventFilter{
		Address: testContracts.Governor,
		Kinds:   []core.EventKind{core.EventProposalCreated, core.EventVoteCast},
	})
	require.Nil(t, err)
	require.Len(t, res.Events, 2)

	created, ok := res.Events[0].Data.(core.ProposalCreatedData)
	require.True(t, ok)
	assert.Equal(t, alice, created.Proposer)
	assert.Equal(t, targets, created.Targets)
	assert.Equal(t, [][]byte{{0xde, 0xad}}, created.Calldatas)
	assert.EqualValues(t, 21, created.VoteStart)
	assert.EqualValues(t, 60, created.VoteEnd)
	assert.Equal(t, "raise the cap", created.Description)

	vote, ok := res.Events[1].Data.(core.VoteCastData)
	require.True(t, ok)
	assert.Equal(t, core.SupportFor, vote.Support)
	assert.Equal(t, "yes", vote.Reason)
	assert.Equal(t, 0, vote.Weight.Cmp(tokens(2)))
}

func TestFetchTopicFilter(t *testing.T) {
	m := newMock()
	m.SetHead(100, 1000)
	emitEscrow(t, m, "Staked", 5, big.NewInt(1), alice, big.NewInt(0), tokens(1))
	emitEscrow(t, m, "Staked", 6, big.NewInt(2), alice, big.NewInt(0), tokens(1))
	emitEscrow(t, m, "Staked", 7, big.NewInt(2), bob, big.NewInt(1), tokens(1))

	logger, _ := test.NewNullLogger()
	f := NewEventFetcher(m, FetcherConfig{}, logger, nil)
	res, err := f.Fetch(context.Background(), EventFilter{
		Address: testContracts.Escrow,
		Kinds:   []core.EventKind{core.EventStaked},
		Topics:  [][]common.Hash{ProposalTopic(big.NewInt(2)), AddressTopic(bob)},
	})
	require.Nil(t, err)
	require.Len(t, res.Events, 1)
	assert.EqualValues(t, 7, res.Events[0].BlockNumber)
}

func TestFetchChunkedPartialFailure(t *testing.T) {
	m := newMock()
	m.SetHead(100, 1000)
	id := big.NewInt(1)
	for block := uint64(5); block <= 95; block += 10 {
		emitEscrow(t, m, "Staked", block, id, alice, big.NewInt(0), tokens(1))
	}
	m.FailRange(30, 39)

	logger, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	f := NewEventFetcher(m, FetcherConfig{ChunkSize: 10, Concurrency: 3, Attempts: 2}, logger, metrics)

	res, err := f.Fetch(context.Background(), EventFilter{Address: testContracts.Escrow, ToBlock: 99})
	require.Nil(t, err)
	assert.True(t, res.Partial())
	assert.Equal(t, []BlockRange{{From: 30, To: 39}}, res.Failed)
	require.Len(t, res.Events, 9)
	for _, e := range res.Events {
		assert.NotEqualValues(t, 35, e.BlockNumber)
	}
	for i := 1; i < len(res.Events); i++ {
		assert.Less(t, res.Events[i-1].BlockNumber, res.Events[i].BlockNumber)
	}

	// 10 chunks, the failing one retried
	assert.GreaterOrEqual(t, m.FilterCalls(), 11)
	assert.Equal(t, float64(9), testutil.ToFloat64(metrics.chunkFetches.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.chunkFetches.WithLabelValues("failed")))
	assert.Equal(t, float64(9), testutil.ToFloat64(metrics.eventsDecoded))

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.EqualValues(t, 30, hook.LastEntry().Data["from"])
}

func TestFetchFailedRangesInBlockOrder(t *testing.T) {
	m := newMock()
	m.SetHead(100, 1000)
	m.FailRange(80, 89)
	m.FailRange(10, 19)
	m.FailRange(50, 59)

	logger, _ := test.NewNullLogger()
	f := NewEventFetcher(m, FetcherConfig{ChunkSize: 10, Concurrency: 8, Attempts: 1}, logger, nil)
	res, err := f.Fetch(context.Background(), EventFilter{Address: testContracts.Escrow, ToBlock: 99})
	require.Nil(t, err)
	assert.Equal(t, []BlockRange{{From: 10, To: 19}, {From: 50, To: 59}, {From: 80, To: 89}}, res.Failed)
}

func TestFetchLatestAndEmptyRange(t *testing.T) {
	m := newMock()
	m.SetHead(20, 1000)
	emitEscrow(t, m, "BountyExpired", 20, big.NewInt(1))

	logger, _ := test.NewNullLogger()
	f := NewEventFetcher(m, FetcherConfig{ChunkSize: 7}, logger, nil)
	res, err := f.Fetch(context.Background(), EventFilter{Address: testContracts.Escrow})
	require.Nil(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, core.EventBountyExpired, res.Events[0].Kind)

	res, err = f.Fetch(context.Background(), EventFilter{Address: testContracts.Escrow, FromBlock: 30, ToBlock: 25})
	require.Nil(t, err)
	assert.Empty(t, res.Events)
}

func TestFetchUnreachableHead(t *testing.T) {
	m := newMock()
	m.SetUnreachable(true)

	logger, _ := test.NewNullLogger()
	_, err := NewEventFetcher(m, FetcherConfig{}, logger, nil).Fetch(context.Background(), EventFilter{Address: testContracts.Escrow})
	assert.NotNil(t, err)
}

func TestFetchCanceled(t *testing.T) {
	m := newMock()
	m.SetHead(100, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger, _ := test.NewNullLogger()
	_, err := NewEventFetcher(m, FetcherConfig{ChunkSize: 10}, logger, nil).Fetch(ctx, EventFilter{Address: testContracts.Escrow, ToBlock: 100})
	assert.ErrorIs(t, err, context.Canceled)
}
