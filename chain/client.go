package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Client is the part of a JSON-RPC node the guardian reads from.
type Client interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	ChainID(ctx context.Context) (*big.Int, error)
}

type contract struct {
	address common.Address
	abi     abi.ABI
	client  Client
}

func (c *contract) raw(ctx context.Context, method string, args ...any) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}

	res, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, classify(err, method)
	}
	return res, nil
}

func (c *contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	res, err := c.raw(ctx, method, args...)
	if err != nil {
		return nil, err
	}

	out, err := c.abi.Unpack(method, res)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedSnapshot, "unpack %s: %s", method, err)
	}
	return out, nil
}

func (c *contract) callInto(ctx context.Context, v any, method string, args ...any) error {
	res, err := c.raw(ctx, method, args...)
	if err != nil {
		return err
	}

	if err := c.abi.UnpackIntoInterface(v, method, res); err != nil {
		return errors.Wrapf(ErrMalformedSnapshot, "unpack %s: %s", method, err)
	}
	return nil
}

func (c *contract) bigInt(ctx context.Context, method string, args ...any) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := first(out).(*big.Int)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedSnapshot, "%s: unexpected output", method)
	}
	return v, nil
}

func (c *contract) addr(ctx context.Context, method string, args ...any) (common.Address, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := first(out).(common.Address)
	if !ok {
		return common.Address{}, errors.Wrapf(ErrMalformedSnapshot, "%s: unexpected output", method)
	}
	return v, nil
}

func (c *contract) boolean(ctx context.Context, method string, args ...any) (bool, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := first(out).(bool)
	if !ok {
		return false, errors.Wrapf(ErrMalformedSnapshot, "%s: unexpected output", method)
	}
	return v, nil
}

func first(out []any) any {
	if len(out) == 0 {
		return nil
	}
	return out[0]
}
