package contracts

import (
	"errors"
	"fmt"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TaskCompleted is a decoded completion log.
type TaskCompleted struct {
	TaskID      *big.Int
	Output      string
	BlockNumber uint64
	TxHash      common.Hash
	Removed     bool
}

// Escrow binds the task escrow contract.
type Escrow struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewEscrow binds the escrow at address to backend.
func NewEscrow(address common.Address, backend bind.ContractBackend) (*Escrow, error) {
	if address == (common.Address{}) {
		return nil, errors.New("托管合约地址不能为空")
	}
	return &Escrow{
		address:  address,
		contract: bind.NewBoundContract(address, escrowABI, backend, backend, backend),
	}, nil
}

// Address returns the escrow contract address.
func (e *Escrow) Address() common.Address {
	return e.address
}

// CreateTask submits createTask(worker, amount).
func (e *Escrow) CreateTask(opts *bind.TransactOpts, worker common.Address, amount *big.Int) (*types.Transaction, error) {
	if opts == nil {
		return nil, errors.New("未提供交易签名器")
	}
	return e.contract.Transact(opts, "createTask", worker, amount)
}

// TaskIDFromReceipt extracts the task id from the TaskCreated log emitted by
// this escrow, if the receipt carries one.
func (e *Escrow) TaskIDFromReceipt(receipt *types.Receipt) (*big.Int, bool) {
	if receipt == nil {
		return nil, false
	}
	created := escrowABI.Events["TaskCreated"].ID
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != e.address || len(lg.Topics) < 2 {
			continue
		}
		if lg.Topics[0] == created {
			return new(big.Int).SetBytes(lg.Topics[1].Bytes()), true
		}
	}
	return nil, false
}

// CompletedQuery filters every TaskCompleted log of this escrow regardless of
// task, employer or worker.
func (e *Escrow) CompletedQuery() gethcore.FilterQuery {
	return gethcore.FilterQuery{
		Addresses: []common.Address{e.address},
		Topics:    [][]common.Hash{{escrowABI.Events["TaskCompleted"].ID}},
	}
}

// DecodeTaskCompleted decodes a TaskCompleted log.
func (e *Escrow) DecodeTaskCompleted(lg types.Log) (TaskCompleted, error) {
	event := escrowABI.Events["TaskCompleted"]
	if len(lg.Topics) < 2 || lg.Topics[0] != event.ID {
		return TaskCompleted{}, errors.New("日志不是 TaskCompleted 事件")
	}
	values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return TaskCompleted{}, fmt.Errorf("解析 TaskCompleted 数据失败: %w", err)
	}
	if len(values) != 1 {
		return TaskCompleted{}, fmt.Errorf("TaskCompleted 字段数量异常: %d", len(values))
	}
	output, ok := values[0].(string)
	if !ok {
		return TaskCompleted{}, errors.New("TaskCompleted 输出字段类型异常")
	}
	return TaskCompleted{
		TaskID:      new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		Output:      output,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		Removed:     lg.Removed,
	}, nil
}
