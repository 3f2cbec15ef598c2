package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenReader reads the staking and voting token.
type TokenReader struct {
	c contract
}

func NewTokenReader(client Client, address common.Address) *TokenReader {
	return &TokenReader{c: contract{address: address, abi: TokenABI, client: client}}
}

func (r *TokenReader) Address() common.Address {
	return r.c.address
}

func (r *TokenReader) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return r.c.bigInt(ctx, "allowance", owner, spender)
}

func (r *TokenReader) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return r.c.bigInt(ctx, "balanceOf", account)
}

func (r *TokenReader) Delegates(ctx context.Context, account common.Address) (common.Address, error) {
	return r.c.addr(ctx, "delegates", account)
}
