package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/go-sql-driver/mysql"

	"MNEE-Nexus/internal/api"
	"MNEE-Nexus/internal/auth"
	"MNEE-Nexus/internal/config"
	"MNEE-Nexus/internal/hiring"
	"MNEE-Nexus/internal/notify"
	"MNEE-Nexus/internal/observability/alerting"
	"MNEE-Nexus/internal/observability/metrics"
	"MNEE-Nexus/internal/registry"
	"MNEE-Nexus/internal/storage/mysql"
	"MNEE-Nexus/internal/subscriber"
	"MNEE-Nexus/internal/wallet"
	"MNEE-Nexus/internal/web3"
	"MNEE-Nexus/internal/web3/contracts"
	"MNEE-Nexus/internal/web3/provider"
	"MNEE-Nexus/pkg/logger"
)

// main 是 nexusd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("nexusd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("NEXUS_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "nexus.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	lg := logger.Named("nexusd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	agents, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return err
	}

	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chains.Close()

	client, err := chains.DefaultClient()
	if err != nil {
		return err
	}
	if snapshot, err := client.FetchChainSnapshot(ctx); err != nil {
		lg.Warn("读取链信息失败", slog.Any("error", err))
	} else {
		lg.Info("已连接区块链", slog.String("chain_id", snapshot.ChainID), slog.String("block", snapshot.BlockNumber))
	}

	token, escrow, err := bindContracts(chains.DefaultDeployment(), client)
	if err != nil {
		return err
	}

	// 链客户端由注册表统一关闭，钱包只复用默认客户端。
	connector := wallet.NewConnector(cfg.Wallet, func(context.Context) (web3.Client, error) {
		return chains.DefaultClient()
	})

	publishers, err := buildPublishers(ctx, cfg.Notify)
	if err != nil {
		return err
	}
	feed := notify.NewFeed(notify.WithPublishers(publishers...))
	defer func() {
		if err := feed.Close(); err != nil {
			lg.Warn("关闭通知流失败", slog.Any("error", err))
		}
	}()

	journal, err := mysql.Open(ctx, cfg.Storage.AttemptStore.Driver, mysql.Config{
		DSN:             cfg.Storage.AttemptStore.DSN,
		MaxOpenConns:    cfg.Storage.AttemptStore.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.AttemptStore.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Storage.AttemptStore.ConnMaxLifetimeSeconds) * time.Second,
	}, cfg.Runtime.DataDir)
	if err != nil {
		return err
	}
	defer journal.Close()

	recorder := metrics.Default()

	orchestrator, err := hiring.New(hiring.Dependencies{
		Registry:  agents,
		Wallet:    connector,
		Token:     token,
		Escrow:    escrow,
		Confirmer: client,
		Sink:      feed,
	},
		hiring.WithTokenSymbol(cfg.Web3.TokenSymbol),
		hiring.WithJournal(journal),
		hiring.WithMetrics(recorder),
	)
	if err != nil {
		return err
	}
	defer orchestrator.Wait()

	completions := subscriber.New(client, escrow, feed,
		subscriber.WithBackoff(time.Duration(cfg.Web3.ResubscribeSeconds)*time.Second),
		subscriber.WithObserver(recorder),
	)
	completions.Start(ctx)
	defer completions.Stop()

	if cfg.Alerting.Enabled {
		dispatcher := buildAlerting(cfg.Alerting)
		go alerting.Watch(ctx, feed, dispatcher)
		lg.Info("告警已启用", slog.Int("channels", dispatcher.Len()))
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务退出", slog.Any("error", err))
			}
		}()
	}

	guard, err := auth.NewService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("初始化认证失败: %w", err)
	}
	server := api.NewServer(cfg.Server.Address, orchestrator, feed, agents,
		api.WithAuth(guard.Middleware(auth.MiddlewareConfig{RequiredPermissions: auth.DefaultPermissions()})),
		api.WithJournal(journal),
		api.WithAllowance(token, connector, escrow.Address(), cfg.Web3.TokenSymbol),
		api.WithMetrics(recorder.Handler(), recorder),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("nexusd 正在退出")
	return nil
}

func bindContracts(dep provider.Deployment, client web3.Client) (*contracts.Token, *contracts.Escrow, error) {
	if !common.IsHexAddress(dep.TokenAddress) {
		return nil, nil, fmt.Errorf("链 %s 的代币地址无效: %q", dep.Chain, dep.TokenAddress)
	}
	if !common.IsHexAddress(dep.EscrowAddress) {
		return nil, nil, fmt.Errorf("链 %s 的托管合约地址无效: %q", dep.Chain, dep.EscrowAddress)
	}
	token, err := contracts.NewToken(common.HexToAddress(dep.TokenAddress), client.Backend())
	if err != nil {
		return nil, nil, err
	}
	escrow, err := contracts.NewEscrow(common.HexToAddress(dep.EscrowAddress), client.Backend())
	if err != nil {
		return nil, nil, err
	}
	return token, escrow, nil
}

func buildAlerting(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.SlackWebhookURL != "" {
		sender := alerting.NewWebhookSender(cfg.SlackWebhookURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
		notifiers = append(notifiers, &alerting.SlackNotifier{Sender: sender, ChannelID: cfg.SlackChannel})
	}
	return alerting.NewFanout(notifiers...)
}

func buildPublishers(ctx context.Context, cfg config.NotifyConfig) ([]notify.Publisher, error) {
	var publishers []notify.Publisher
	if cfg.Redis.Enabled {
		pub, err := notify.NewRedisPublisher(ctx, notify.RedisConfig{
			Address:    cfg.Redis.Address,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Channel:    cfg.Redis.Channel,
			HistoryKey: cfg.Redis.HistoryKey,
			HistoryLen: cfg.Redis.HistoryLen,
		})
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, pub)
	}
	if cfg.RabbitMQ.Enabled {
		pub, err := notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		})
		if err != nil {
			for _, p := range publishers {
				_ = p.Close()
			}
			return nil, err
		}
		publishers = append(publishers, pub)
	}
	return publishers, nil
}
