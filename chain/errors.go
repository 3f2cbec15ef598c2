package chain

import (
	"fmt"
	"strings"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("proposal not found")
	ErrUnreachable       = errors.New("ledger unreachable")
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	ErrRejected = errors.New("intent rejected")
	ErrReverted = errors.New("intent reverted")
	ErrTimeout  = errors.New("confirmation timed out")

	errCallReverted = errors.New("call reverted")
)

// IntentError reports a failed intent together with the message the
// collaborator returned, unchanged.
type IntentError struct {
	Kind    error
	Action  core.Action
	TxHash  common.Hash
	Message string
}

func (e *IntentError) Error() string {
	if e.TxHash == (common.Hash{}) {
		return fmt.Sprintf("%s: %s: %s", e.Action, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (tx %s): %s: %s", e.Action, e.TxHash.Hex(), e.Kind, e.Message)
}

func (e *IntentError) Unwrap() error {
	return e.Kind
}

// IsIntentError checks whether err is a post-submission failure and returns it.
func IsIntentError(err error) (*IntentError, bool) {
	var ie *IntentError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// isRevert tells an execution revert, reported by a reachable node, apart
// from transport failures.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// classify maps a raw call error onto the reader error taxonomy.
func classify(err error, method string) error {
	if isRevert(err) {
		return errors.Wrapf(errCallReverted, "%s: %s", method, err)
	}
	return errors.Wrapf(ErrUnreachable, "%s: %s", method, err)
}
