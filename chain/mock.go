package chain

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	_ Client  = (*MockClient)(nil)
	_ Backend = (*MockClient)(nil)
)

// MockTx is a transaction the mock ledger received.
type MockTx struct {
	From   common.Address
	To     common.Address
	Method string
	Args   []any
	Hash   common.Hash
}

type MockGovernance struct {
	State    core.GovernanceState
	Snapshot uint64
	Deadline uint64
	Proposer common.Address
	For      *big.Int
	Against  *big.Int
	Abstain  *big.Int
	Eta      uint64
}

type mockRevert struct {
	reason string
}

func (e *mockRevert) Error() string {
	if e.reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.reason
}

func (e *mockRevert) ErrorCode() int {
	return 3
}

// MockClient is an in-memory ledger holding one escrow, one governor and one
// token contract. Calls are ABI-decoded and answers ABI-encoded, so readers
// are exercised exactly as against a node.
type MockClient struct {
	mu sync.Mutex

	chainID   *big.Int
	contracts Contracts

	head    uint64
	headers map[uint64]*types.Header

	unreachable bool
	failRanges  []BlockRange
	filterCalls int

	bounties    map[uint64]rawBounty
	owner       common.Address
	topicOwners map[[2]uint64]common.Address

	governance map[string]MockGovernance
	voted      map[string]bool
	quorum     *big.Int
	votes      map[common.Address]*big.Int

	allowances map[[2]common.Address]*big.Int
	balances   map[common.Address]*big.Int
	delegates  map[common.Address]common.Address

	logs     []types.Log
	logIndex map[uint64]uint
	subs     map[*mockSubscription]struct{}

	nonces         map[common.Address]uint64
	receipts       map[common.Hash]*types.Receipt
	sent           []MockTx
	revertEstimate string
	dropReceipts   bool
	onTx           func(MockTx) error
}

func NewMockClient(chainID int64, contracts Contracts) *MockClient {
	m := &MockClient{
		chainID:     big.NewInt(chainID),
		contracts:   contracts,
		headers:     make(map[uint64]*types.Header),
		bounties:    make(map[uint64]rawBounty),
		topicOwners: make(map[[2]uint64]common.Address),
		governance:  make(map[string]MockGovernance),
		voted:       make(map[string]bool),
		quorum:      new(big.Int),
		votes:       make(map[common.Address]*big.Int),
		allowances:  make(map[[2]common.Address]*big.Int),
		balances:    make(map[common.Address]*big.Int),
		delegates:   make(map[common.Address]common.Address),
		logIndex:    make(map[uint64]uint),
		subs:        make(map[*mockSubscription]struct{}),
		nonces:      make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*types.Receipt),
	}
	m.headers[0] = &types.Header{Number: new(big.Int), Time: 0}
	return m
}

func (m *MockClient) Contracts() Contracts {
	return m.contracts
}

// SetHead moves the chain head to block with the given timestamp.
func (m *MockClient) SetHead(block, timestamp uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = block
	m.headers[block] = &types.Header{Number: new(big.Int).SetUint64(block), Time: timestamp}
}

// SetHeader records the timestamp of a block that is not the head.
func (m *MockClient) SetHeader(block, timestamp uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[block] = &types.Header{Number: new(big.Int).SetUint64(block), Time: timestamp}
}

// SetUnreachable makes every request fail with a transport error.
func (m *MockClient) SetUnreachable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = v
}

// FailRange makes log queries touching [from, to] fail.
func (m *MockClient) FailRange(from, to uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRanges = append(m.failRanges, BlockRange{From: from, To: to})
}

func (m *MockClient) FilterCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterCalls
}

func (m *MockClient) SetBounty(p core.BountyProposal) {
	raw := rawBounty{
		Status:             uint8(p.Status),
		StartTime:          p.StartTime,
		EndTime:            p.EndTime,
		TopicCount:         new(big.Int).SetUint64(p.TopicCount),
		WinnerTopicId:      orZero(p.WinnerTopicID),
		SubmitDeadline:     p.SubmitDeadline,
		ChallengeWindowEnd: p.ChallengeWindowEnd,
		RemainingPool:      orZero(p.RemainingPool),
		Challenger:         p.Challenger,
	}
	m.setRawBounty(p.ID, raw)
}

func (m *MockClient) setRawBounty(id uint64, raw rawBounty) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounties[id] = raw
}

func (m *MockClient) SetOwner(owner common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owner = owner
}

func (m *MockClient) SetTopicOwner(proposalID, topicID uint64, owner common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topicOwners[[2]uint64{proposalID, topicID}] = owner
}

func (m *MockClient) SetGovernance(id *big.Int, g MockGovernance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.governance[id.String()] = g
}

func (m *MockClient) SetVoted(id *big.Int, voter common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voted[id.String()+voter.Hex()] = true
}

// SetQuorum sets the quorum of every past block. Quorum lookups at or after
// the head revert like a governor does.
func (m *MockClient) SetQuorum(q *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quorum = q
}

func (m *MockClient) SetVotes(account common.Address, weight *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[account] = weight
}

func (m *MockClient) SetAllowance(owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[[2]common.Address{owner, spender}] = amount
}

func (m *MockClient) SetBalance(account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = amount
}

// RevertEstimates makes gas estimation revert with reason, so intents are
// refused before they are sent. An empty reason clears it.
func (m *MockClient) RevertEstimates(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revertEstimate = reason
}

// DropReceipts keeps sent transactions unmined.
func (m *MockClient) DropReceipts(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropReceipts = v
}

// OnTransaction installs a hook run for every sent transaction. A hook error
// mines the transaction with a failed status.
func (m *MockClient) OnTransaction(fn func(MockTx) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTx = fn
}

func (m *MockClient) Sent() []MockTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockTx(nil), m.sent...)
}

// Emit appends a log of the named event at block and pushes it to matching
// subscribers. Values follow the event inputs in declaration order.
func (m *MockClient) Emit(address common.Address, contractABI abi.ABI, event string, block uint64, values ...any) (types.Log, error) {
	ev, ok := contractABI.Events[event]
	if !ok {
		return types.Log{}, errors.Errorf("unknown event %s", event)
	}
	if len(values) != len(ev.Inputs) {
		return types.Log{}, errors.Errorf("%s takes %d values, got %d", event, len(ev.Inputs), len(values))
	}

	var indexed, plain []any
	for i, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, values[i])
		} else {
			plain = append(plain, values[i])
		}
	}
	data, err := ev.Inputs.NonIndexed().Pack(plain...)
	if err != nil {
		return types.Log{}, errors.Wrapf(err, "pack %s", event)
	}
	topics := []common.Hash{ev.ID}
	if len(indexed) > 0 {
		rest, err := abi.MakeTopics(wrapEach(indexed)...)
		if err != nil {
			return types.Log{}, errors.Wrapf(err, "topics %s", event)
		}
		for _, t := range rest {
			topics = append(topics, t[0])
		}
	}

	m.mu.Lock()
	index := m.logIndex[block]
	m.logIndex[block] = index + 1
	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], block)
	binary.BigEndian.PutUint64(seed[8:], uint64(index))
	l := types.Log{
		Address:     address,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		TxHash:      crypto.Keccak256Hash(seed[:]),
		Index:       index,
	}
	m.logs = append(m.logs, l)
	var targets []*mockSubscription
	for s := range m.subs {
		if matches(s.query, l) {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- l:
		case <-s.quit:
		}
	}
	return l, nil
}

func wrapEach(vs []any) [][]any {
	out := make([][]any, 0, len(vs))
	for _, v := range vs {
		out = append(out, []any{v})
	}
	return out
}

func (m *MockClient) ChainID(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return nil, errors.New("dial tcp: connection refused")
	}
	return new(big.Int).Set(m.chainID), nil
}

func (m *MockClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return nil, errors.New("dial tcp: connection refused")
	}
	n := m.head
	if number != nil {
		n = number.Uint64()
	}
	h, ok := m.headers[n]
	if !ok || n > m.head {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(h), nil
}

func (m *MockClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filterCalls++
	if m.unreachable {
		return nil, errors.New("dial tcp: connection refused")
	}

	from, to := uint64(0), m.head
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}
	for _, r := range m.failRanges {
		if from <= r.To && r.From <= to {
			return nil, errors.Errorf("query [%d, %d] timed out", from, to)
		}
	}

	var out []types.Log
	for _, l := range m.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if matches(q, l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Topics) > len(l.Topics) {
		return false
	}
	for i, set := range q.Topics {
		if len(set) == 0 {
			continue
		}
		found := false
		for _, t := range set {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type mockSubscription struct {
	m     *MockClient
	query ethereum.FilterQuery
	ch    chan<- types.Log
	quit  chan struct{}
	errc  chan error
	once  sync.Once
}

func (s *mockSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs, s)
		s.m.mu.Unlock()
		close(s.quit)
		close(s.errc)
	})
}

func (s *mockSubscription) Err() <-chan error {
	return s.errc
}

// DropSubscriptions fails every live subscription with err, the way a node
// drops them when its connection breaks. Later logs are not pushed to them.
func (m *MockClient) DropSubscriptions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs {
		delete(m.subs, s)
		select {
		case s.errc <- err:
		default:
		}
	}
}

// Subscriptions returns the number of live log subscriptions.
func (m *MockClient) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Retract removes l from the ledger and pushes it again flagged as removed,
// as a node does when a reorg drops the block holding it.
func (m *MockClient) Retract(l types.Log) {
	m.mu.Lock()
	kept := m.logs[:0]
	for _, have := range m.logs {
		if have.BlockNumber == l.BlockNumber && have.Index == l.Index && have.TxHash == l.TxHash {
			continue
		}
		kept = append(kept, have)
	}
	m.logs = kept
	l.Removed = true
	var targets []*mockSubscription
	for s := range m.subs {
		if matches(s.query, l) {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- l:
		case <-s.quit:
		}
	}
}

func (m *MockClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return nil, errors.New("dial tcp: connection refused")
	}
	s := &mockSubscription{m: m, query: q, ch: ch, quit: make(chan struct{}), errc: make(chan error, 1)}
	m.subs[s] = struct{}{}
	return s, nil
}

func (m *MockClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return nil, errors.New("dial tcp: connection refused")
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, nil
	}

	var (
		parsed abi.ABI
		answer func(string, []any) ([]any, error)
	)
	switch *call.To {
	case m.contracts.Escrow:
		parsed, answer = EscrowABI, m.escrowCall
	case m.contracts.Governor:
		parsed, answer = GovernorABI, m.governorCall
	case m.contracts.Token:
		parsed, answer = TokenABI, m.tokenCall
	default:
		// no code at the address
		return nil, nil
	}

	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, &mockRevert{}
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, &mockRevert{reason: "bad calldata"}
	}
	out, err := answer(method.Name, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (m *MockClient) escrowCall(method string, args []any) ([]any, error) {
	switch method {
	case "proposalCount":
		var n uint64
		for id := range m.bounties {
			if id+1 > n {
				n = id + 1
			}
		}
		return []any{new(big.Int).SetUint64(n)}, nil
	case "getProposal":
		id := args[0].(*big.Int).Uint64()
		raw, ok := m.bounties[id]
		if !ok {
			return nil, &mockRevert{reason: "invalid proposal"}
		}
		return []any{
			raw.Status, raw.StartTime, raw.EndTime, orZero(raw.TopicCount), orZero(raw.WinnerTopicId),
			raw.SubmitDeadline, raw.ChallengeWindowEnd, orZero(raw.RemainingPool), raw.Challenger,
		}, nil
	case "topicOwner":
		key := [2]uint64{args[0].(*big.Int).Uint64(), args[1].(*big.Int).Uint64()}
		return []any{m.topicOwners[key]}, nil
	case "owner":
		return []any{m.owner}, nil
	default:
		return nil, &mockRevert{reason: "not a view"}
	}
}

func (m *MockClient) governorCall(method string, args []any) ([]any, error) {
	switch method {
	case "quorum":
		if args[0].(*big.Int).Uint64() >= m.head {
			return nil, &mockRevert{reason: "future lookup"}
		}
		return []any{orZero(m.quorum)}, nil
	case "getVotes":
		if args[1].(*big.Int).Uint64() >= m.head {
			return nil, &mockRevert{reason: "future lookup"}
		}
		return []any{orZero(m.votes[args[0].(common.Address)])}, nil
	}

	id := args[0].(*big.Int)
	g, ok := m.governance[id.String()]
	switch method {
	case "proposalSnapshot":
		return []any{new(big.Int).SetUint64(g.Snapshot)}, nil
	case "proposalDeadline":
		return []any{new(big.Int).SetUint64(g.Deadline)}, nil
	case "proposalProposer":
		return []any{g.Proposer}, nil
	case "proposalEta":
		return []any{new(big.Int).SetUint64(g.Eta)}, nil
	case "proposalVotes":
		return []any{orZero(g.Against), orZero(g.For), orZero(g.Abstain)}, nil
	case "hasVoted":
		return []any{m.voted[id.String()+args[1].(common.Address).Hex()]}, nil
	case "state":
		if !ok {
			return nil, &mockRevert{reason: "unknown proposal id"}
		}
		return []any{uint8(g.State)}, nil
	default:
		return nil, &mockRevert{reason: "not a view"}
	}
}

func (m *MockClient) tokenCall(method string, args []any) ([]any, error) {
	switch method {
	case "allowance":
		key := [2]common.Address{args[0].(common.Address), args[1].(common.Address)}
		return []any{orZero(m.allowances[key])}, nil
	case "balanceOf":
		return []any{orZero(m.balances[args[0].(common.Address)])}, nil
	case "delegates":
		return []any{m.delegates[args[0].(common.Address)]}, nil
	default:
		return nil, &mockRevert{reason: "not a view"}
	}
}

func (m *MockClient) isContract(a common.Address) bool {
	return a == m.contracts.Escrow || a == m.contracts.Governor || a == m.contracts.Token
}

func (m *MockClient) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return m.PendingCodeAt(ctx, contract)
}

func (m *MockClient) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return nil, errors.New("dial tcp: connection refused")
	}
	if m.isContract(account) {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (m *MockClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account], nil
}

func (m *MockClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *MockClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *MockClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable {
		return 0, errors.New("dial tcp: connection refused")
	}
	if m.revertEstimate != "" {
		return 0, &mockRevert{reason: m.revertEstimate}
	}
	return 100_000, nil
}

func (m *MockClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	if m.unreachable {
		m.mu.Unlock()
		return errors.New("dial tcp: connection refused")
	}
	from, err := types.Sender(types.LatestSignerForChainID(m.chainID), tx)
	if err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "invalid sender")
	}
	mtx := MockTx{From: from, Hash: tx.Hash()}
	if to := tx.To(); to != nil {
		mtx.To = *to
		mtx.Method, mtx.Args = m.decodeTx(*to, tx.Data())
	}
	m.nonces[from]++
	m.sent = append(m.sent, mtx)
	hook, drop, head := m.onTx, m.dropReceipts, m.head
	m.mu.Unlock()

	status := types.ReceiptStatusSuccessful
	if hook != nil {
		if err := hook(mtx); err != nil {
			status = types.ReceiptStatusFailed
		}
	}
	if drop {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(head),
		GasUsed:     tx.Gas(),
	}
	return nil
}

func (m *MockClient) decodeTx(to common.Address, data []byte) (string, []any) {
	var parsed abi.ABI
	switch to {
	case m.contracts.Escrow:
		parsed = EscrowABI
	case m.contracts.Governor:
		parsed = GovernorABI
	case m.contracts.Token:
		parsed = TokenABI
	default:
		return "", nil
	}
	if len(data) < 4 {
		return "", nil
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return "", nil
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return method.Name, nil
	}
	return method.Name, args
}

func (m *MockClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
