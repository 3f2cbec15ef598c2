package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultConfirmTimeout = 2 * time.Minute

// Backend is what the submitter needs to send a transaction and wait for
// its receipt. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Contracts holds the addresses intents are routed to.
type Contracts struct {
	Escrow   common.Address
	Governor common.Address
	Token    common.Address
}

// Intent is a state-changing call waiting to be signed and sent. Every action
// is named after the contract method it invokes.
type Intent struct {
	Action core.Action
	To     common.Address
	Args   []any
	Value  *big.Int

	abi abi.ABI
}

func (c Contracts) route(action core.Action) (common.Address, abi.ABI, error) {
	switch action {
	case core.ActionFinalizeVoting, core.ActionConfirmWinner, core.ActionSubmitDelivery,
		core.ActionExpire, core.ActionChallenge, core.ActionFinalize,
		core.ActionResolveDispute, core.ActionStake:
		return c.Escrow, EscrowABI, nil
	case core.ActionCastVote, core.ActionQueue, core.ActionExecute:
		return c.Governor, GovernorABI, nil
	case core.ActionApprove, core.ActionDelegate:
		return c.Token, TokenABI, nil
	default:
		return common.Address{}, abi.ABI{}, errors.Errorf("unknown action %s", action)
	}
}

// Intent builds an intent for action. The arguments are checked against the
// contract method so a malformed intent never reaches the node.
func (c Contracts) Intent(action core.Action, args ...any) (Intent, error) {
	to, parsed, err := c.route(action)
	if err != nil {
		return Intent{}, err
	}
	if _, err := parsed.Pack(string(action), args...); err != nil {
		return Intent{}, errors.Wrapf(err, "pack %s", action)
	}
	return Intent{Action: action, To: to, Args: args, abi: parsed}, nil
}

// DescriptionHash is the hash the governor identifies a proposal body by.
func DescriptionHash(description string) common.Hash {
	return crypto.Keccak256Hash([]byte(description))
}

// GovernanceIntent builds the queue or execute intent of a governance
// proposal from its creation payload.
func (c Contracts) GovernanceIntent(action core.Action, p core.GovernanceProposal) (Intent, error) {
	if action != core.ActionQueue && action != core.ActionExecute {
		return Intent{}, errors.Errorf("%s is not a proposal lifecycle action", action)
	}
	values := p.Values
	if values == nil {
		values = []*big.Int{}
	}
	return c.Intent(action, p.Targets, values, p.Calldatas, [32]byte(DescriptionHash(p.Description)))
}

// Submitter signs intents with a local key and sends them.
type Submitter struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	timeout time.Duration
	logger  logrus.FieldLogger
	metrics *Metrics
}

func NewSubmitter(backend Backend, keyHex string, chainID *big.Int, timeout time.Duration, logger logrus.FieldLogger, metrics *Metrics) (*Submitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Submitter{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		timeout: timeout,
		logger:  logger.WithField("module", "intent"),
		metrics: metrics,
	}, nil
}

// From is the address intents are sent from.
func (s *Submitter) From() common.Address {
	return s.from
}

// Submit signs and sends the intent. A node refusing the transaction up
// front is reported as Reverted, a transport failure as Unreachable.
func (s *Submitter) Submit(ctx context.Context, in Intent) (*types.Transaction, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "build transactor")
	}
	opts.Context = ctx
	opts.Value = in.Value

	bound := bind.NewBoundContract(in.To, in.abi, s.backend, s.backend, s.backend)
	tx, err := bound.Transact(opts, string(in.Action), in.Args...)
	if err != nil {
		kind := ErrUnreachable
		if isRevert(err) {
			kind = ErrReverted
		}
		s.metrics.intents.WithLabelValues(string(in.Action), outcome(kind)).Inc()
		return nil, &IntentError{Kind: kind, Action: in.Action, Message: err.Error()}
	}

	s.logger.WithFields(logrus.Fields{
		"action": in.Action,
		"to":     in.To.Hex(),
		"tx":     tx.Hash().Hex(),
	}).Info("intent submitted")
	return tx, nil
}

// Await waits for tx to be mined. A receipt with failed status is Reverted,
// running out of time is Timeout.
func (s *Submitter) Await(ctx context.Context, action core.Action, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, s.backend, tx)
	if err != nil {
		kind := ErrUnreachable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrTimeout
		}
		s.metrics.intents.WithLabelValues(string(action), outcome(kind)).Inc()
		return nil, &IntentError{Kind: kind, Action: action, TxHash: tx.Hash(), Message: err.Error()}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.metrics.intents.WithLabelValues(string(action), outcome(ErrReverted)).Inc()
		return receipt, &IntentError{Kind: ErrReverted, Action: action, TxHash: tx.Hash(), Message: "execution reverted"}
	}

	s.metrics.intents.WithLabelValues(string(action), "confirmed").Inc()
	s.logger.WithFields(logrus.Fields{
		"action": action,
		"tx":     tx.Hash().Hex(),
		"block":  receipt.BlockNumber,
	}).Info("intent confirmed")
	return receipt, nil
}

// Send submits the intent and waits for its confirmation.
func (s *Submitter) Send(ctx context.Context, in Intent) (*types.Receipt, error) {
	tx, err := s.Submit(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.Await(ctx, in.Action, tx)
}

func outcome(kind error) string {
	switch {
	case errors.Is(kind, ErrReverted):
		return "reverted"
	case errors.Is(kind, ErrTimeout):
		return "timeout"
	case errors.Is(kind, ErrRejected):
		return "rejected"
	default:
		return "unreachable"
	}
}
