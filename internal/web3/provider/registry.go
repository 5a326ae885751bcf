package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"MNEE-Nexus/internal/config"
	"MNEE-Nexus/internal/web3"
	"MNEE-Nexus/internal/web3/ethereum"
)

// Deployment names the contracts the daemon talks to on one chain.
type Deployment struct {
	Chain         string
	TokenAddress  string
	EscrowAddress string
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
	deployments  map[string]Deployment
}

// Dialer constructs a client for a chain definition. Tests replace it to
// avoid network access.
type Dialer func(ctx context.Context, cfg ethereum.Config) (web3.Client, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.Client, error) {
	return ethereum.NewClient(ctx, cfg)
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	return NewRegistryWithDialer(ctx, cfg, dialEthereum)
}

// NewRegistryWithDialer is NewRegistry with a custom dialer.
func NewRegistryWithDialer(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		clients:     make(map[string]web3.Client),
		deployments: make(map[string]Deployment),
	}
	for _, name := range defs.Names() {
		chain := defs.Chains[name]
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			reg.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		client, err := dial(ctx, ethereum.Config{
			Name:   name,
			RPCURL: chain.RPCURL,
			WSURL:  chain.WSURL,
			Notes:  chain.Description,
		})
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		reg.clients[name] = client
		reg.deployments[name] = Deployment{
			Chain:         name,
			TokenAddress:  firstNonEmpty(chain.TokenAddress, cfg.TokenAddress),
			EscrowAddress: firstNonEmpty(chain.EscrowAddress, cfg.EscrowAddress),
		}
	}

	defaultChain := cfg.DefaultChain
	if len(reg.clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := dial(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL, WSURL: cfg.WSURL})
		if err != nil {
			return nil, err
		}
		reg.clients["default"] = client
		reg.deployments["default"] = Deployment{
			Chain:         "default",
			TokenAddress:  cfg.TokenAddress,
			EscrowAddress: cfg.EscrowAddress,
		}
		if defaultChain == "" {
			defaultChain = "default"
		}
	}

	if len(reg.clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		defaultChain = reg.Chains()[0]
	}
	if _, ok := reg.clients[defaultChain]; !ok {
		reg.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	reg.defaultChain = defaultChain
	return reg, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultDeployment returns the contract addresses for the default chain.
func (r *Registry) DefaultDeployment() Deployment {
	if r == nil {
		return Deployment{}
	}
	return r.deployments[r.defaultChain]
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
