package provider

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"MNEE-Nexus/internal/config"
	"MNEE-Nexus/internal/web3"
	"MNEE-Nexus/internal/web3/ethereum"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
)

type stubClient struct {
	name   string
	closed bool
}

func (s *stubClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Notes: s.name}, nil
}
func (s *stubClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (s *stubClient) Backend() bind.ContractBackend             { return nil }
func (s *stubClient) SubscribeFilterLogs(context.Context, gethcore.FilterQuery, chan<- types.Log) (gethcore.Subscription, error) {
	return nil, errors.New("not supported")
}
func (s *stubClient) WaitMined(context.Context, *types.Transaction) (*types.Receipt, error) {
	return nil, errors.New("not supported")
}
func (s *stubClient) Close() { s.closed = true }

func stubDialer(dialed map[string]*stubClient) Dialer {
	return func(_ context.Context, cfg ethereum.Config) (web3.Client, error) {
		client := &stubClient{name: cfg.Name}
		dialed[cfg.Name] = client
		return client, nil
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	dialed := map[string]*stubClient{}
	reg, err := NewRegistryWithDialer(context.Background(), config.Web3Config{
		RPCURL:        "http://127.0.0.1:8545",
		TokenAddress:  "0x4030B20dCFBF4Dd4EE040F2cFC7B773c7e3344Fa",
		EscrowAddress: "0xab9270a58bEAC035245059fC7f686DE63e67bC73",
	}, stubDialer(dialed))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.DefaultClient(); err != nil {
		t.Fatalf("default client: %v", err)
	}
	dep := reg.DefaultDeployment()
	if dep.Chain != "default" || dep.EscrowAddress != "0xab9270a58bEAC035245059fC7f686DE63e67bC73" {
		t.Fatalf("unexpected deployment %+v", dep)
	}
	reg.Close()
	if !dialed["default"].closed {
		t.Fatal("expected client to be closed")
	}
}

func TestRegistryUsesChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	content := `chains:
  sepolia:
    rpc_url: https://rpc.sepolia.example
    escrow_address: "0x0000000000000000000000000000000000000abc"
  local:
    rpc_url: http://127.0.0.1:8545
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chain config: %v", err)
	}

	dialed := map[string]*stubClient{}
	reg, err := NewRegistryWithDialer(context.Background(), config.Web3Config{
		ChainConfig:   path,
		DefaultChain:  "sepolia",
		TokenAddress:  "0x4030B20dCFBF4Dd4EE040F2cFC7B773c7e3344Fa",
		EscrowAddress: "0xab9270a58bEAC035245059fC7f686DE63e67bC73",
	}, stubDialer(dialed))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if got := reg.Chains(); len(got) != 2 {
		t.Fatalf("unexpected chains %v", got)
	}
	dep := reg.DefaultDeployment()
	if dep.EscrowAddress != "0x0000000000000000000000000000000000000abc" {
		t.Fatalf("per-chain escrow should win, got %s", dep.EscrowAddress)
	}
	if dep.TokenAddress != "0x4030B20dCFBF4Dd4EE040F2cFC7B773c7e3344Fa" {
		t.Fatalf("token should fall back to global config, got %s", dep.TokenAddress)
	}
}

func TestRegistryRejectsUnknownDefault(t *testing.T) {
	dialed := map[string]*stubClient{}
	_, err := NewRegistryWithDialer(context.Background(), config.Web3Config{
		RPCURL:       "http://127.0.0.1:8545",
		DefaultChain: "mainnet",
	}, stubDialer(dialed))
	if err == nil {
		t.Fatal("expected unknown default chain to fail")
	}
	if !dialed["default"].closed {
		t.Fatal("expected dialed clients to be released on failure")
	}
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{}, stubDialer(map[string]*stubClient{})); err == nil {
		t.Fatal("expected error without any endpoint")
	}
}
