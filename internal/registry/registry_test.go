package registry

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/web3"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"alice":  "Alice",
		"Alice":  "Alice",
		"dAVE":   "DAVE",
		" carol": "Carol",
		"":       "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultWages(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	want := map[string]string{"alice": "10", "carol": "11", "dave": "12", "Bob": "10"}
	for id, amount := range want {
		if got := web3.FormatUnits(reg.Wage(id), web3.TokenDecimals); got != amount {
			t.Fatalf("wage for %s: got %s want %s", id, got, amount)
		}
	}
}

func TestResolveWorker(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	addr, err := reg.ResolveWorker("carol")
	if err != nil {
		t.Fatalf("resolve carol: %v", err)
	}
	if addr != common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC") {
		t.Fatalf("unexpected carol address %s", addr.Hex())
	}

	_, err = reg.ResolveWorker("Drone_3")
	if err == nil {
		t.Fatal("expected unknown agent error")
	}
	if !stdErrors.Is(err, xerrors.New(CodeUnknownAgent, "")) {
		t.Fatalf("expected UNKNOWN_AGENT, got %v", err)
	}

	// "dAVE" normalizes to "DAVE", which is not "Dave".
	if _, err := reg.ResolveWorker("dAVE"); xerrors.CodeOf(err) != CodeUnknownAgent {
		t.Fatalf("expected only the first letter to be normalized, got %v", err)
	}
}

func TestResolveReturnsCopies(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	agent, err := reg.Resolve("alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	agent.Wage.SetInt64(1)

	again, _ := reg.Resolve("alice")
	if web3.FormatUnits(again.Wage, web3.TokenDecimals) != "10" {
		t.Fatal("registry wage must not be mutable through returned identities")
	}
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
	}{
		{name: "empty id", entries: []Entry{{ID: "", Address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}}},
		{name: "bad address", entries: []Entry{{ID: "x", Address: "0x1234"}}},
		{name: "zero address", entries: []Entry{{ID: "x", Address: "0x0000000000000000000000000000000000000000"}}},
		{name: "duplicate", entries: []Entry{
			{ID: "alice", Address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
			{ID: "Alice", Address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.entries, DefaultWage, nil); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := `agents:
  - id: erin
    address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
    role: SCOUT
wages:
  default: "5"
  overrides:
    erin: "7.5"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	agent, err := reg.Resolve("Erin")
	if err != nil {
		t.Fatalf("resolve erin: %v", err)
	}
	if agent.Role != "SCOUT" || web3.FormatUnits(agent.Wage, web3.TokenDecimals) != "7.5" {
		t.Fatalf("unexpected agent %+v", agent)
	}
	if len(reg.Agents()) != 1 {
		t.Fatalf("expected exactly one agent, got %d", len(reg.Agents()))
	}
}
