package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Token is a minimal ERC-20 binding.
type Token struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewToken binds the token at address to backend.
func NewToken(address common.Address, backend bind.ContractBackend) (*Token, error) {
	if address == (common.Address{}) {
		return nil, errors.New("代币合约地址不能为空")
	}
	return &Token{
		address:  address,
		contract: bind.NewBoundContract(address, tokenABI, backend, backend, backend),
	}, nil
}

// Address returns the token contract address.
func (t *Token) Address() common.Address {
	return t.address
}

// Approve submits approve(spender, amount). It returns once the transaction
// is signed and sent, not when it is mined.
func (t *Token) Approve(opts *bind.TransactOpts, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	if opts == nil {
		return nil, errors.New("未提供交易签名器")
	}
	return t.contract.Transact(opts, "approve", spender, amount)
}

// Allowance reads the amount spender may still move on behalf of owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("查询授权额度失败: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("授权额度返回为空")
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}
