package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.json")
	content := `{
  "web3": {
    "rpc_url": "http://127.0.0.1:8545",
    "token_address": "0x4030B20dCFBF4Dd4EE040F2cFC7B773c7e3344Fa",
    "escrow_address": "0xab9270a58bEAC035245059fC7f686DE63e67bC73",
    "chain_config": "chain.yaml"
  },
  "registry": {"path": "agents.yaml"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Storage.AttemptStore.Driver != "memory" {
		t.Fatalf("unexpected driver %q", cfg.Storage.AttemptStore.Driver)
	}
	if cfg.Wallet.PrivateKeyEnv != "NEXUS_PRIVATE_KEY" {
		t.Fatalf("unexpected private key env %q", cfg.Wallet.PrivateKeyEnv)
	}
	if cfg.Web3.TokenSymbol != "MNEE" {
		t.Fatalf("unexpected token symbol %q", cfg.Web3.TokenSymbol)
	}
	if cfg.Registry.Path != filepath.Join(dir, "agents.yaml") {
		t.Fatalf("registry path not resolved: %q", cfg.Registry.Path)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chain.yaml") {
		t.Fatalf("chain config not resolved: %q", cfg.Web3.ChainConfig)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %q", cfg.Runtime.DataDir)
	}
	if cfg.Alerting.Enabled || cfg.Alerting.TimeoutSeconds != 5 {
		t.Fatalf("unexpected alerting defaults %+v", cfg.Alerting)
	}
}

func TestLoadRejectsMissingContracts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.json")
	if err := os.WriteFile(path, []byte(`{"web3": {"rpc_url": "http://localhost:8545"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing contract addresses")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.json")
	content := `{
  "web3": {"rpc_url": "http://localhost:8545", "token_address": "0x01", "escrow_address": "0x02"},
  "storage": {"attempt_store": {"driver": "sqlite"}}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLoadAllowsPerChainContracts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.json")
	if err := os.WriteFile(path, []byte(`{"web3": {"chain_config": "chain.yaml"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("chain config should carry contract addresses: %v", err)
	}
}
