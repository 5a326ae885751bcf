package contracts

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	tokenAddr  = common.HexToAddress("0x4030B20dCFBF4Dd4EE040F2cFC7B773c7e3344Fa")
	escrowAddr = common.HexToAddress("0xab9270a58bEAC035245059fC7f686DE63e67bC73")
	aliceAddr  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// callBackend answers eth_call with a canned result.
type callBackend struct {
	bind.ContractBackend
	result []byte
	calls  []gethcore.CallMsg
}

func (c *callBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls = append(c.calls, msg)
	return c.result, nil
}

func offlineOpts(t *testing.T) *bind.TransactOpts {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(11155111))
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}
	opts.Nonce = big.NewInt(0)
	opts.GasLimit = 100_000
	opts.GasPrice = big.NewInt(1)
	opts.NoSend = true
	return opts
}

func TestTokenApproveEncodesCall(t *testing.T) {
	token, err := NewToken(tokenAddr, &callBackend{})
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	wage := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	tx, err := token.Approve(offlineOpts(t), escrowAddr, wage)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if tx.To() == nil || *tx.To() != tokenAddr {
		t.Fatalf("approve must target the token, got %v", tx.To())
	}
	want, err := tokenABI.Pack("approve", escrowAddr, wage)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !bytes.Equal(tx.Data(), want) {
		t.Fatalf("unexpected calldata %x", tx.Data())
	}
}

func TestTokenAllowance(t *testing.T) {
	result, err := tokenABI.Methods["allowance"].Outputs.Pack(big.NewInt(5))
	if err != nil {
		t.Fatalf("pack result: %v", err)
	}
	backend := &callBackend{result: result}
	token, err := NewToken(tokenAddr, backend)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	got, err := token.Allowance(context.Background(), aliceAddr, escrowAddr)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if got.Int64() != 5 {
		t.Fatalf("unexpected allowance %s", got)
	}
	if len(backend.calls) != 1 || *backend.calls[0].To != tokenAddr {
		t.Fatalf("unexpected calls %+v", backend.calls)
	}
}

func TestEscrowCreateTaskEncodesWorker(t *testing.T) {
	escrow, err := NewEscrow(escrowAddr, &callBackend{})
	if err != nil {
		t.Fatalf("new escrow: %v", err)
	}
	tx, err := escrow.CreateTask(offlineOpts(t), aliceAddr, big.NewInt(12))
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	args, err := escrowABI.Methods["createTask"].Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != aliceAddr || args[1].(*big.Int).Int64() != 12 {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestTaskIDFromReceipt(t *testing.T) {
	escrow, _ := NewEscrow(escrowAddr, nil)
	created := escrowABI.Events["TaskCreated"].ID
	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: tokenAddr, Topics: []common.Hash{created, common.BigToHash(big.NewInt(99))}},
		{Address: escrowAddr, Topics: []common.Hash{created, common.BigToHash(big.NewInt(7)), common.BytesToHash(aliceAddr.Bytes()), common.BytesToHash(aliceAddr.Bytes())}},
	}}
	id, ok := escrow.TaskIDFromReceipt(receipt)
	if !ok || id.Int64() != 7 {
		t.Fatalf("expected task 7, got %v %v", id, ok)
	}
	if _, ok := escrow.TaskIDFromReceipt(&types.Receipt{}); ok {
		t.Fatal("empty receipt must not yield a task id")
	}
}

func TestDecodeTaskCompleted(t *testing.T) {
	escrow, _ := NewEscrow(escrowAddr, nil)
	event := escrowABI.Events["TaskCompleted"]
	data, err := event.Inputs.NonIndexed().Pack("chart ready https://img.example/7.png")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	lg := types.Log{
		Address:     escrowAddr,
		Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(7))},
		Data:        data,
		BlockNumber: 12,
	}
	decoded, err := escrow.DecodeTaskCompleted(lg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TaskID.Int64() != 7 || decoded.Output != "chart ready https://img.example/7.png" || decoded.BlockNumber != 12 {
		t.Fatalf("unexpected decode %+v", decoded)
	}

	lg.Topics = []common.Hash{escrowABI.Events["TaskCreated"].ID, common.BigToHash(big.NewInt(7))}
	if _, err := escrow.DecodeTaskCompleted(lg); err == nil {
		t.Fatal("expected foreign event to be rejected")
	}
}

func TestCompletedQuery(t *testing.T) {
	escrow, _ := NewEscrow(escrowAddr, nil)
	q := escrow.CompletedQuery()
	if len(q.Addresses) != 1 || q.Addresses[0] != escrowAddr {
		t.Fatalf("unexpected addresses %v", q.Addresses)
	}
	if len(q.Topics) != 1 || q.Topics[0][0] != escrowABI.Events["TaskCompleted"].ID {
		t.Fatalf("unexpected topics %v", q.Topics)
	}
}

func TestNewRejectsZeroAddress(t *testing.T) {
	if _, err := NewToken(common.Address{}, nil); err == nil {
		t.Fatal("expected token zero address error")
	}
	if _, err := NewEscrow(common.Address{}, nil); err == nil {
		t.Fatal("expected escrow zero address error")
	}
}
