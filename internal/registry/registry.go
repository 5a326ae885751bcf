// Package registry maps logical agent identities to their on-chain worker
// address and wage.
package registry

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/web3"
)

// CodeUnknownAgent is returned when an identity has no registry entry.
const CodeUnknownAgent xerrors.Code = "UNKNOWN_AGENT"

func init() {
	xerrors.Register(CodeUnknownAgent, xerrors.Attributes{
		Message:  "unknown agent",
		Severity: xerrors.SeverityInfo,
	})
}

// AgentIdentity is an immutable agent definition.
type AgentIdentity struct {
	ID        string         `json:"id"`
	Color     string         `json:"color,omitempty"`
	Role      string         `json:"role,omitempty"`
	Specialty string         `json:"specialty,omitempty"`
	Worker    common.Address `json:"worker"`
	Wage      *big.Int       `json:"wage"`
}

// WageTable holds the default wage and per-agent overrides in minor units.
type WageTable struct {
	Default   *big.Int
	Overrides map[string]*big.Int
}

// Lookup returns the override for id or the default wage.
func (w WageTable) Lookup(id string) *big.Int {
	if wage, ok := w.Overrides[id]; ok && wage != nil {
		return new(big.Int).Set(wage)
	}
	if w.Default == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(w.Default)
}

// Registry is a read-only address book. It is safe for concurrent use
// because it is never mutated after construction.
type Registry struct {
	agents map[string]AgentIdentity
	wages  WageTable
}

// Normalize capitalizes the first letter of id and leaves the rest unchanged,
// matching how the dashboard labels agents.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(id)
	return string(unicode.ToUpper(r)) + id[size:]
}

// Entry describes one agent before it is validated.
type Entry struct {
	ID        string `yaml:"id"`
	Address   string `yaml:"address"`
	Color     string `yaml:"color"`
	Role      string `yaml:"role"`
	Specialty string `yaml:"specialty"`
}

// New validates entries and builds a registry. Wages are decimal token
// amounts.
func New(entries []Entry, defaultWage string, overrides map[string]string) (*Registry, error) {
	def, err := web3.ParseUnits(defaultWage, web3.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("解析默认工资失败: %w", err)
	}
	table := WageTable{Default: def, Overrides: make(map[string]*big.Int, len(overrides))}
	for id, amount := range overrides {
		wage, err := web3.ParseUnits(amount, web3.TokenDecimals)
		if err != nil {
			return nil, fmt.Errorf("解析 %s 的工资失败: %w", id, err)
		}
		table.Overrides[Normalize(id)] = wage
	}

	agents := make(map[string]AgentIdentity, len(entries))
	for _, entry := range entries {
		id := Normalize(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("智能体 ID 不能为空")
		}
		if _, dup := agents[id]; dup {
			return nil, fmt.Errorf("智能体 %s 重复定义", id)
		}
		if !common.IsHexAddress(entry.Address) {
			return nil, fmt.Errorf("智能体 %s 的地址无效: %q", id, entry.Address)
		}
		worker := common.HexToAddress(entry.Address)
		if worker == (common.Address{}) {
			return nil, fmt.Errorf("智能体 %s 的地址不能为零地址", id)
		}
		agents[id] = AgentIdentity{
			ID:        id,
			Color:     entry.Color,
			Role:      entry.Role,
			Specialty: entry.Specialty,
			Worker:    worker,
			Wage:      table.Lookup(id),
		}
	}
	return &Registry{agents: agents, wages: table}, nil
}

// Resolve returns the identity registered under id after normalization.
func (r *Registry) Resolve(id string) (AgentIdentity, error) {
	normalized := Normalize(id)
	if r != nil {
		if agent, ok := r.agents[normalized]; ok {
			agent.Wage = new(big.Int).Set(agent.Wage)
			return agent, nil
		}
	}
	return AgentIdentity{}, xerrors.New(CodeUnknownAgent,
		fmt.Sprintf("Address for '%s' not found", normalized),
		xerrors.WithMetadata("agent_id", normalized))
}

// ResolveWorker returns the worker address registered for id.
func (r *Registry) ResolveWorker(id string) (common.Address, error) {
	agent, err := r.Resolve(id)
	if err != nil {
		return common.Address{}, err
	}
	return agent.Worker, nil
}

// Wage returns the fixed wage for id in minor units.
func (r *Registry) Wage(id string) *big.Int {
	if r == nil {
		return new(big.Int)
	}
	return r.wages.Lookup(Normalize(id))
}

// Agents lists the registered identities ordered by id.
func (r *Registry) Agents() []AgentIdentity {
	if r == nil {
		return nil
	}
	list := make([]AgentIdentity, 0, len(r.agents))
	for _, agent := range r.agents {
		agent.Wage = new(big.Int).Set(agent.Wage)
		list = append(list, agent)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// fileLayout models the YAML address book.
type fileLayout struct {
	Agents []Entry `yaml:"agents"`
	Wages  struct {
		Default   string            `yaml:"default"`
		Overrides map[string]string `yaml:"overrides"`
	} `yaml:"wages"`
}

// Load reads an address book from path. An empty path yields the built-in
// defaults.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取智能体地址簿失败: %w", err)
	}
	var layout fileLayout
	if err := yaml.Unmarshal(content, &layout); err != nil {
		return nil, fmt.Errorf("解析智能体地址簿失败: %w", err)
	}
	if layout.Wages.Default == "" {
		layout.Wages.Default = DefaultWage
	}
	return New(layout.Agents, layout.Wages.Default, layout.Wages.Overrides)
}
