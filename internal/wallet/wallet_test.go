package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"MNEE-Nexus/internal/config"
	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/web3"
)

type fakeProvider struct {
	closed bool
}

func (f *fakeProvider) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{}, nil
}
func (f *fakeProvider) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }
func (f *fakeProvider) Backend() bind.ContractBackend             { return nil }
func (f *fakeProvider) SubscribeFilterLogs(context.Context, gethcore.FilterQuery, chan<- types.Log) (gethcore.Subscription, error) {
	return nil, errors.New("unsupported")
}
func (f *fakeProvider) WaitMined(context.Context, *types.Transaction) (*types.Receipt, error) {
	return nil, errors.New("unsupported")
}
func (f *fakeProvider) Close() { f.closed = true }

func countingDialer(count *int32, provider web3.Client) Dialer {
	return func(context.Context) (web3.Client, error) {
		atomic.AddInt32(count, 1)
		return provider, nil
	}
}

func envOf(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestReadProviderDialsOnce(t *testing.T) {
	var dials int32
	provider := &fakeProvider{}
	conn := NewConnector(config.WalletConfig{}, countingDialer(&dials, provider))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := conn.ReadProvider(context.Background())
			if err != nil || got != provider {
				t.Errorf("unexpected provider %v err %v", got, err)
			}
		}()
	}
	wg.Wait()
	if dials != 1 {
		t.Fatalf("expected a single dial, got %d", dials)
	}

	conn.Close()
	if !provider.closed {
		t.Fatal("expected provider to be closed")
	}
}

func TestSignerFromPrivateKeyEnv(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	env := map[string]string{"NEXUS_PRIVATE_KEY": "0x" + hex.EncodeToString(crypto.FromECDSA(key))}

	var dials int32
	conn := NewConnector(config.WalletConfig{PrivateKeyEnv: "NEXUS_PRIVATE_KEY", GasLimit: 250_000},
		countingDialer(&dials, &fakeProvider{}), WithEnvLookup(envOf(env)))

	signer, err := conn.Signer(context.Background())
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if signer.Address != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected signer address %s", signer.Address.Hex())
	}
	ctx := context.WithValue(context.Background(), struct{}{}, "hire")
	opts := signer.TransactOpts(ctx)
	if opts.GasLimit != 250_000 || opts.Context != ctx {
		t.Fatalf("unexpected transact opts %+v", opts)
	}
}

func TestSignerReReadsSourcePerCall(t *testing.T) {
	first, _ := crypto.GenerateKey()
	second, _ := crypto.GenerateKey()
	env := map[string]string{"KEY": hex.EncodeToString(crypto.FromECDSA(first))}

	var dials int32
	conn := NewConnector(config.WalletConfig{PrivateKeyEnv: "KEY"},
		countingDialer(&dials, &fakeProvider{}), WithEnvLookup(envOf(env)))

	a, err := conn.Signer(context.Background())
	if err != nil {
		t.Fatalf("first signer: %v", err)
	}
	env["KEY"] = hex.EncodeToString(crypto.FromECDSA(second))
	b, err := conn.Signer(context.Background())
	if err != nil {
		t.Fatalf("second signer: %v", err)
	}
	if a.Address == b.Address {
		t.Fatal("expected the account switch to be picked up")
	}
	if dials != 1 {
		t.Fatalf("read provider should be dialed once, got %d", dials)
	}
}

func TestSignerUnavailable(t *testing.T) {
	var dials int32
	conn := NewConnector(config.WalletConfig{PrivateKeyEnv: "MISSING"},
		countingDialer(&dials, &fakeProvider{}), WithEnvLookup(envOf(nil)))

	_, err := conn.Signer(context.Background())
	if xerrors.CodeOf(err) != CodeWalletUnavailable {
		t.Fatalf("expected WALLET_UNAVAILABLE, got %v", err)
	}
	if dials != 0 {
		t.Fatal("no provider should be dialed without a wallet")
	}

	conn = NewConnector(config.WalletConfig{}, countingDialer(&dials, &fakeProvider{}))
	if _, err := conn.Signer(context.Background()); xerrors.CodeOf(err) != CodeWalletUnavailable {
		t.Fatalf("expected WALLET_UNAVAILABLE without sources, got %v", err)
	}
}

func TestSignerFromKeystore(t *testing.T) {
	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	key, _ := crypto.GenerateKey()
	account, err := ks.ImportECDSA(key, "hunter2")
	if err != nil {
		t.Fatalf("import key: %v", err)
	}

	var dials int32
	conn := NewConnector(config.WalletConfig{KeystorePath: account.URL.Path, PasswordEnv: "PASS"},
		countingDialer(&dials, &fakeProvider{}), WithEnvLookup(envOf(map[string]string{"PASS": "hunter2"})))
	signer, err := conn.Signer(context.Background())
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if signer.Address != account.Address {
		t.Fatalf("unexpected address %s", signer.Address.Hex())
	}

	conn = NewConnector(config.WalletConfig{KeystorePath: account.URL.Path, PasswordEnv: "PASS"},
		countingDialer(&dials, &fakeProvider{}), WithEnvLookup(envOf(map[string]string{"PASS": "wrong"})))
	if _, err := conn.Signer(context.Background()); xerrors.CodeOf(err) != CodeWalletUnavailable {
		t.Fatalf("expected wrong password to be unavailable, got %v", err)
	}
}
