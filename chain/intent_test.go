package chain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func newSubmitter(t *testing.T, m *MockClient, timeout time.Duration) (*Submitter, *Metrics) {
	logger, _ := test.NewNullLogger()
	metrics := NewMetrics(prometheus.NewRegistry())
	s, err := NewSubmitter(m, testKey, big.NewInt(1337), timeout, logger, metrics)
	require.Nil(t, err)
	return s, metrics
}

func TestSubmitterFrom(t *testing.T) {
	m := newMock()
	s, _ := newSubmitter(t, m, time.Second)

	key, err := crypto.HexToECDSA(testKey)
	require.Nil(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.From())

	logger, _ := test.NewNullLogger()
	_, err = NewSubmitter(m, "0xnothex", big.NewInt(1), time.Second, logger, nil)
	assert.NotNil(t, err)
}

func TestSubmitterSend(t *testing.T) {
	m := newMock()
	m.SetHead(10, 1000)
	var seen []MockTx
	m.OnTransaction(func(tx MockTx) error {
		seen = append(seen, tx)
		return nil
	})
	s, metrics := newSubmitter(t, m, time.Second)

	in, err := testContracts.Intent(core.ActionSubmitDelivery, big.NewInt(4), [32]byte{9})
	require.Nil(t, err)
	receipt, err := s.Send(context.Background(), in)
	require.Nil(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	require.Len(t, seen, 1)
	assert.Equal(t, s.From(), seen[0].From)
	assert.Equal(t, testContracts.Escrow, seen[0].To)
	assert.Equal(t, "submitDelivery", seen[0].Method)
	assert.Equal(t, 0, seen[0].Args[0].(*big.Int).Cmp(big.NewInt(4)))
	assert.Equal(t, [32]byte{9}, seen[0].Args[1])
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.intents.WithLabelValues("submitDelivery", "confirmed")))
}

func TestSubmitterRevertedBeforeSend(t *testing.T) {
	m := newMock()
	m.SetHead(10, 1000)
	m.RevertEstimates("voting still open")
	s, metrics := newSubmitter(t, m, time.Second)

	in, err := testContracts.Intent(core.ActionFinalizeVoting, big.NewInt(1))
	require.Nil(t, err)
	_, err = s.Send(context.Background(), in)
	require.True(t, errors.Is(err, ErrReverted))

	ie, ok := IsIntentError(err)
	require.True(t, ok)
	assert.Equal(t, core.ActionFinalizeVoting, ie.Action)
	assert.Contains(t, ie.Message, "voting still open")
	assert.Empty(t, m.Sent())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.intents.WithLabelValues("finalizeVoting", "reverted")))
}

func TestSubmitterRevertedReceipt(t *testing.T) {
	m := newMock()
	m.SetHead(10, 1000)
	m.OnTransaction(func(MockTx) error {
		return errors.New("out of gas")
	})
	s, _ := newSubmitter(t, m, time.Second)

	in, err := testContracts.Intent(core.ActionConfirmWinner, big.NewInt(1))
	require.Nil(t, err)
	_, err = s.Send(context.Background(), in)
	require.True(t, errors.Is(err, ErrReverted))

	ie, ok := IsIntentError(err)
	require.True(t, ok)
	assert.NotEqual(t, common.Hash{}, ie.TxHash)
	assert.Len(t, m.Sent(), 1)
}

func TestSubmitterTimeout(t *testing.T) {
	m := newMock()
	m.SetHead(10, 1000)
	m.DropReceipts(true)
	s, metrics := newSubmitter(t, m, 50*time.Millisecond)

	in, err := testContracts.Intent(core.ActionExpire, big.NewInt(1))
	require.Nil(t, err)
	_, err = s.Send(context.Background(), in)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.intents.WithLabelValues("expireIfNoSubmission", "timeout")))
}

func TestSubmitterUnreachable(t *testing.T) {
	m := newMock()
	m.SetHead(10, 1000)
	s, _ := newSubmitter(t, m, time.Second)
	m.SetUnreachable(true)

	in, err := testContracts.Intent(core.ActionStake, big.NewInt(1), big.NewInt(0), tokens(1))
	require.Nil(t, err)
	_, err = s.Send(context.Background(), in)
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestIntentRouting(t *testing.T) {
	tests := []struct {
		action core.Action
		args   []any
		to     common.Address
	}{
		{core.ActionResolveDispute, []any{big.NewInt(1), true}, testContracts.Escrow},
		{core.ActionChallenge, []any{big.NewInt(1), [32]byte{}, [32]byte{}}, testContracts.Escrow},
		{core.ActionCastVote, []any{big.NewInt(1), uint8(core.SupportFor)}, testContracts.Governor},
		{core.ActionApprove, []any{testContracts.Escrow, tokens(1)}, testContracts.Token},
		{core.ActionDelegate, []any{alice}, testContracts.Token},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			in, err := testContracts.Intent(tt.action, tt.args...)
			require.Nil(t, err)
			assert.Equal(t, tt.to, in.To)
		})
	}

	_, err := testContracts.Intent(core.ActionFinalizeVoting, "one")
	assert.NotNil(t, err)
	_, err = testContracts.Intent(core.Action("selfdestruct"))
	assert.NotNil(t, err)
}

func TestGovernanceIntent(t *testing.T) {
	p := core.GovernanceProposal{
		ID:          big.NewInt(1),
		Targets:     []common.Address{bob},
		Values:      []*big.Int{big.NewInt(0)},
		Calldatas:   [][]byte{{1, 2}},
		Description: "raise the cap",
	}
	in, err := testContracts.GovernanceIntent(core.ActionQueue, p)
	require.Nil(t, err)
	assert.Equal(t, testContracts.Governor, in.To)
	assert.Equal(t, [32]byte(crypto.Keccak256Hash([]byte("raise the cap"))), in.Args[3])

	_, err = testContracts.GovernanceIntent(core.ActionCastVote, p)
	assert.NotNil(t, err)
}
