// Package wallet supplies the chain handles used by the hiring daemon: a read
// provider dialed once per session and a signer acquired for every hire.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"MNEE-Nexus/internal/config"
	xerrors "MNEE-Nexus/internal/errors"
	"MNEE-Nexus/internal/web3"
)

// CodeWalletUnavailable marks a hire that could not acquire a signer.
const CodeWalletUnavailable xerrors.Code = "WALLET_UNAVAILABLE"

func init() {
	xerrors.Register(CodeWalletUnavailable, xerrors.Attributes{
		Message:  "wallet unavailable",
		Severity: xerrors.SeverityWarning,
	})
}

// Dialer opens the read provider.
type Dialer func(ctx context.Context) (web3.Client, error)

// Signer is an account able to authorize transactions.
type Signer struct {
	Address common.Address
	opts    *bind.TransactOpts
}

// NewSigner wraps existing transact options.
func NewSigner(opts *bind.TransactOpts) *Signer {
	return &Signer{Address: opts.From, opts: opts}
}

// TransactOpts returns a copy of the signer's options bound to ctx.
func (s *Signer) TransactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *s.opts
	opts.Context = ctx
	return &opts
}

// Connector hands out the read provider and per-hire signers.
type Connector struct {
	cfg  config.WalletConfig
	dial Dialer

	mu       sync.Mutex
	provider web3.Client

	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

// Option customises a Connector.
type Option func(*Connector)

// WithEnvLookup replaces os.LookupEnv, mainly for tests.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(c *Connector) {
		if fn != nil {
			c.lookupEnv = fn
		}
	}
}

// NewConnector builds a connector for the configured wallet sources.
func NewConnector(cfg config.WalletConfig, dial Dialer, opts ...Option) *Connector {
	c := &Connector{
		cfg:       cfg,
		dial:      dial,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ReadProvider returns the session's read handle, dialing it on first use.
// Every successful call returns the same handle.
func (c *Connector) ReadProvider(ctx context.Context) (web3.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.provider != nil {
		return c.provider, nil
	}
	if c.dial == nil {
		return nil, errors.New("未配置链连接")
	}
	provider, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("连接链节点失败: %w", err)
	}
	c.provider = provider
	return provider, nil
}

// Signer re-reads the wallet source and returns a signer bound to the read
// provider's chain id. A missing or unusable source yields
// WALLET_UNAVAILABLE.
func (c *Connector) Signer(ctx context.Context) (*Signer, error) {
	key, err := c.loadKey()
	if err != nil {
		return nil, xerrors.Wrap(CodeWalletUnavailable, err, "No wallet available")
	}
	provider, err := c.ReadProvider(ctx)
	if err != nil {
		return nil, xerrors.Wrap(CodeWalletUnavailable, err, "No wallet available")
	}
	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(CodeWalletUnavailable, err, "No wallet available")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, xerrors.Wrap(CodeWalletUnavailable, err, "No wallet available")
	}
	if c.cfg.GasLimit > 0 {
		opts.GasLimit = c.cfg.GasLimit
	}
	return NewSigner(opts), nil
}

// Close releases the read provider.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider != nil {
		c.provider.Close()
		c.provider = nil
	}
}

func (c *Connector) loadKey() (*ecdsa.PrivateKey, error) {
	if path := strings.TrimSpace(c.cfg.KeystorePath); path != "" {
		content, err := c.readFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取 keystore 失败: %w", err)
		}
		password, _ := c.lookupEnv(c.cfg.PasswordEnv)
		key, err := keystore.DecryptKey(content, password)
		if err != nil {
			return nil, fmt.Errorf("解密 keystore 失败: %w", err)
		}
		return key.PrivateKey, nil
	}

	if name := strings.TrimSpace(c.cfg.PrivateKeyEnv); name != "" {
		raw, ok := c.lookupEnv(name)
		raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if !ok || raw == "" {
			return nil, fmt.Errorf("环境变量 %s 未设置私钥", name)
		}
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		return key, nil
	}
	return nil, errors.New("未配置钱包来源")
}
