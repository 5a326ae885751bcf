package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"MNEE-Nexus/internal/auth"
	"MNEE-Nexus/pkg/logger"
)

// Config 描述了 nexusd 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     auth.Config    `json:"auth"`
	Web3     Web3Config     `json:"web3"`
	Wallet   WalletConfig   `json:"wallet"`
	Registry RegistryConfig `json:"registry"`
	Notify   NotifyConfig   `json:"notify"`
	Storage  StorageConfig  `json:"storage"`
	Logging  logger.Config  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// Web3Config 包含访问区块链节点与合约所需的信息。
type Web3Config struct {
	RPCURL        string `json:"rpc_url"`
	WSURL         string `json:"ws_url"`
	ChainConfig   string `json:"chain_config"`
	DefaultChain  string `json:"default_chain"`
	TokenAddress  string `json:"token_address"`
	EscrowAddress string `json:"escrow_address"`
	TokenSymbol   string `json:"token_symbol"`
	// ResubscribeSeconds 是事件订阅断开后重连的最大退避时间。
	ResubscribeSeconds int `json:"resubscribe_seconds"`
}

// WalletConfig 描述签名钱包的来源：加密 keystore 文件或环境变量中的私钥。
type WalletConfig struct {
	KeystorePath  string `json:"keystore_path"`
	PasswordEnv   string `json:"password_env"`
	PrivateKeyEnv string `json:"private_key_env"`
	GasLimit      uint64 `json:"gas_limit"`
}

// RegistryConfig 指向智能体地址簿 YAML 文件，为空时使用内置默认值。
type RegistryConfig struct {
	Path string `json:"path"`
}

// NotifyConfig 配置通知的外部广播渠道。
type NotifyConfig struct {
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 发布订阅广播。
type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Channel    string `json:"channel"`
	HistoryKey string `json:"history_key"`
	HistoryLen int64  `json:"history_len"`
}

// RabbitMQConfig 描述 RabbitMQ fanout 广播。
type RabbitMQConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// StorageConfig 描述雇佣记录的持久化方式。
type StorageConfig struct {
	AttemptStore AttemptStoreConfig `json:"attempt_store"`
}

// AttemptStoreConfig 支持 memory（本地 JSON 日志）与 mysql 两种驱动。
type AttemptStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// AlertingConfig 控制失败雇佣的告警渠道。启用后告警总会写入审计日志，
// 配置了 webhook 时同时推送到 Slack。
type AlertingConfig struct {
	Enabled         bool   `json:"enabled"`
	SlackWebhookURL string `json:"slack_webhook_url"`
	SlackChannel    string `json:"slack_channel"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查启动所必需的字段。
func (c *Config) Validate() error {
	// 使用 chain_config 时合约地址可以在各链定义中给出。
	if strings.TrimSpace(c.Web3.ChainConfig) == "" {
		if strings.TrimSpace(c.Web3.RPCURL) == "" {
			return errors.New("web3.rpc_url 与 web3.chain_config 不能同时为空")
		}
		if strings.TrimSpace(c.Web3.EscrowAddress) == "" {
			return errors.New("web3.escrow_address 不能为空")
		}
		if strings.TrimSpace(c.Web3.TokenAddress) == "" {
			return errors.New("web3.token_address 不能为空")
		}
	}
	switch c.Storage.AttemptStore.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.AttemptStore.Driver)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Web3.TokenSymbol == "" {
		c.Web3.TokenSymbol = "MNEE"
	}
	if c.Web3.ResubscribeSeconds <= 0 {
		c.Web3.ResubscribeSeconds = 30
	}
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)

	if c.Wallet.PrivateKeyEnv == "" && c.Wallet.KeystorePath == "" {
		c.Wallet.PrivateKeyEnv = "NEXUS_PRIVATE_KEY"
	}
	if c.Wallet.KeystorePath != "" && c.Wallet.PasswordEnv == "" {
		c.Wallet.PasswordEnv = "NEXUS_KEYSTORE_PASSWORD"
	}
	c.Wallet.KeystorePath = resolvePath(baseDir, c.Wallet.KeystorePath)

	c.Registry.Path = resolvePath(baseDir, c.Registry.Path)

	if c.Notify.Redis.Channel == "" {
		c.Notify.Redis.Channel = "nexus:feed"
	}
	if c.Notify.RabbitMQ.Exchange == "" {
		c.Notify.RabbitMQ.Exchange = "nexus.feed"
	}

	if c.Storage.AttemptStore.Driver == "" {
		c.Storage.AttemptStore.Driver = "memory"
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
