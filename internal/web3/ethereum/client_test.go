package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// fakeBackend embeds Backend so only the methods under test need bodies.
type fakeBackend struct {
	Backend

	chainIDCalls int
	receipts     map[common.Hash]*coretypes.Receipt
	pending      int
	subscribed   []gethcore.FilterQuery
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	f.chainIDCalls++
	return big.NewInt(11155111), nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 42, nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if f.pending > 0 {
		f.pending--
		return nil, gethcore.NotFound
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, errors.New("unexpected hash")
	}
	return receipt, nil
}

func (f *fakeBackend) SubscribeFilterLogs(_ context.Context, q gethcore.FilterQuery, _ chan<- coretypes.Log) (gethcore.Subscription, error) {
	f.subscribed = append(f.subscribed, q)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func TestClientSnapshotCachesChainID(t *testing.T) {
	backend := &fakeBackend{}
	client := NewClientWithBackend("local", backend)
	t.Cleanup(client.Close)

	ctx := context.Background()
	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0xaa36a7" || snapshot.BlockNumber != "0x2a" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if _, err := client.ChainID(ctx); err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if backend.chainIDCalls != 1 {
		t.Fatalf("expected chain id to be cached, got %d calls", backend.chainIDCalls)
	}
}

func TestClientWaitMinedReturnsReceipt(t *testing.T) {
	tx := coretypes.NewTx(&coretypes.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})
	backend := &fakeBackend{
		receipts: map[common.Hash]*coretypes.Receipt{
			tx.Hash(): {Status: coretypes.ReceiptStatusSuccessful, TxHash: tx.Hash()},
		},
	}
	client := NewClientWithBackend("local", backend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	receipt, err := client.WaitMined(ctx, tx)
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if receipt.TxHash != tx.Hash() {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestClientWaitMinedHonoursContext(t *testing.T) {
	tx := coretypes.NewTx(&coretypes.LegacyTx{Nonce: 2, Gas: 21000, GasPrice: big.NewInt(1)})
	backend := &fakeBackend{pending: 1 << 20}
	client := NewClientWithBackend("local", backend)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.WaitMined(ctx, tx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClientSubscribeFilterLogs(t *testing.T) {
	backend := &fakeBackend{}
	client := NewClientWithBackend("local", backend)

	query := gethcore.FilterQuery{Addresses: []common.Address{common.HexToAddress("0xab9270a58bEAC035245059fC7f686DE63e67bC73")}}
	sub, err := client.SubscribeFilterLogs(context.Background(), query, make(chan coretypes.Log))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub.Unsubscribe()
	if len(backend.subscribed) != 1 || backend.subscribed[0].Addresses[0] != query.Addresses[0] {
		t.Fatalf("unexpected subscriptions %+v", backend.subscribed)
	}

	client.Close()
	if _, err := client.SubscribeFilterLogs(context.Background(), query, make(chan coretypes.Log)); err == nil {
		t.Fatal("expected closed client to refuse subscriptions")
	}
}
