package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"

	"FlowWallet-Chain/internal/api"
	"FlowWallet-Chain/internal/auth"
	"FlowWallet-Chain/internal/config"
	"FlowWallet-Chain/internal/custodial"
	"FlowWallet-Chain/internal/observability/alerting"
	"FlowWallet-Chain/internal/observability/metrics"
	"FlowWallet-Chain/internal/operations"
	"FlowWallet-Chain/internal/security"
	storagemysql "FlowWallet-Chain/internal/storage/mysql"
	storageredis "FlowWallet-Chain/internal/storage/redis"
	"FlowWallet-Chain/internal/storage/walletapi"
	"FlowWallet-Chain/internal/task"
	"FlowWallet-Chain/internal/wallet"
	"FlowWallet-Chain/internal/web3"
	"FlowWallet-Chain/internal/web3/provider"
	"FlowWallet-Chain/pkg/logger"
)

// main 是 walletd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("walletd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(loggerConfig(cfg.Logging)); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainsPath)
	if err != nil {
		return err
	}
	chains, err := provider.NewRegistry(defs)
	if err != nil {
		return err
	}
	defer chains.Close()

	var redisClient *goredis.Client
	if cfg.TaskQueue.Driver == task.QueueRedis || cfg.Runtime.Lock.Driver == "redis" {
		redisClient, err = storageredis.NewClient(ctx, storageredis.Config{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	resolver, err := buildResolver(cfg, chains, redisClient)
	if err != nil {
		return err
	}

	opsCfg, err := operationsConfig(cfg.Operations)
	if err != nil {
		return err
	}
	ops, err := operations.NewService(opsCfg, resolver, chains)
	if err != nil {
		return err
	}
	router := operations.NewRouter(ops)

	taskStore, err := buildTaskStore(ctx, cfg.Storage.TaskStore)
	if err != nil {
		return err
	}
	taskQueue, err := buildTaskQueue(cfg.TaskQueue, redisClient)
	if err != nil {
		_ = taskStore.Close()
		return err
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries, task.WithTopicFilter(router.Supports))
	defer func() {
		if err := taskService.Close(); err != nil {
			logger.L().Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	processor := task.NewProcessor(router, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithTaskTimeout(cfg.Runtime.TaskTimeout()),
		task.WithAlertDispatcher(buildAlerter(cfg.Observability.Alerting)),
		task.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if addr := cfg.Observability.Metrics.Address; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	authService, err := auth.NewService(authConfig(cfg.Server.Auth))
	if err != nil {
		return err
	}

	logger.L().Info("walletd 启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("task_store", cfg.Storage.TaskStore.Driver),
		slog.String("task_queue", cfg.TaskQueue.Driver),
		slog.String("lock", cfg.Runtime.Lock.Driver),
		slog.Any("topics", router.Topics()),
	)

	server := api.NewServer(cfg.Server.Address, taskService, api.WithChains(chains), api.WithAuth(authService))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		},
	}
}

func buildResolver(cfg *config.Config, chains *provider.Registry, redisClient *goredis.Client) (*wallet.Resolver, error) {
	cipher, err := security.NewKeyCipher(cfg.Security.KeyCipher)
	if err != nil {
		return nil, err
	}
	store, err := walletapi.NewClient(walletapi.Config{
		BaseURL: cfg.Storage.WalletAPI.BaseURL,
		SysKey:  cfg.Storage.WalletAPI.SysKey,
		Timeout: cfg.Storage.WalletAPI.Timeout(),
	}, nil)
	if err != nil {
		return nil, err
	}

	opts := []wallet.ResolverOption{wallet.WithNativeGasLimit(cfg.Operations.NativeGasLimit)}
	if cfg.Custodial.BaseURL != "" {
		client, err := custodial.NewClient(custodial.Config{
			BaseURL:       cfg.Custodial.BaseURL,
			AccessKey:     cfg.Custodial.AccessKey,
			BackendWallet: cfg.Custodial.BackendWallet,
			Timeout:       cfg.Custodial.Timeout(),
		}, nil)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wallet.WithCustodial(client))
	}
	if cfg.Runtime.Lock.Driver == "redis" {
		opts = append(opts, wallet.WithLocker(storageredis.NewLocker(redisClient, storageredis.WithLockTTL(cfg.Runtime.Lock.TTL()))))
	}
	return wallet.NewResolver(store, chains, cipher, opts...)
}

func operationsConfig(cfg config.OperationsConfig) (operations.Config, error) {
	out := operations.Config{
		DefaultChainID:        cfg.DefaultChainID,
		TreasuryKey:           cfg.TreasuryKey,
		ServiceKey:            cfg.ServiceKey,
		TreasuryTokenDecimals: cfg.TreasuryTokenDecimals,
		GasPriceMultiplier:    cfg.GasPriceMultiplier,
		GasBuffer:             cfg.GasBuffer,
	}
	if cfg.GenerationMode != "" {
		mode, ok := wallet.ParseMode(cfg.GenerationMode)
		if !ok {
			return operations.Config{}, fmt.Errorf("未知的钱包生成模式: %s", cfg.GenerationMode)
		}
		out.GenerationMode = mode
	}
	if len(cfg.TreasuryTokens) > 0 {
		// 配置只覆盖列出的链，其余沿用默认代币。
		tokens := operations.DefaultConfig().TreasuryTokens
		for key, addr := range cfg.TreasuryTokens {
			chainID, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
			if err != nil {
				return operations.Config{}, fmt.Errorf("treasury_tokens 键 %q 不是合法的 chain id", key)
			}
			if !common.IsHexAddress(addr) {
				return operations.Config{}, fmt.Errorf("treasury_tokens[%s] 不是合法地址: %s", key, addr)
			}
			tokens[chainID] = common.HexToAddress(addr)
		}
		out.TreasuryTokens = tokens
	}
	return out, nil
}

func buildTaskStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, storagemysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.ConnMaxIdleTime(),
		})
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func buildTaskQueue(cfg config.TaskQueueConfig, redisClient *goredis.Client) (task.Queue, error) {
	switch cfg.Driver {
	case "", task.QueueMemory:
		return task.NewMemoryQueue(cfg.Capacity), nil
	case task.QueueRedis:
		if redisClient == nil {
			return nil, errors.New("redis 队列缺少 Redis 连接")
		}
		return task.NewRedisQueueWithClient(redisClient, cfg.Redis.Queue, time.Duration(cfg.Redis.BlockWaitSeconds)*time.Second), nil
	case task.QueueRabbitMQ:
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

// buildAlerter 组装告警渠道，日志渠道始终启用。
func buildAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Webhook.URL,
			Client: &http.Client{Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second},
		})
	}
	if cfg.Email.Enabled {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender: &alerting.SMTPSender{
				Addr:     cfg.Email.SMTPAddr,
				Host:     cfg.Email.Host(),
				Username: cfg.Email.Username,
				Password: cfg.Email.Password,
				From:     cfg.Email.From,
			},
			To:            cfg.Email.To,
			SubjectPrefix: cfg.Email.SubjectPrefix,
		})
	}
	return alerting.NewFanout(notifiers...)
}

func authConfig(cfg config.AuthConfig) auth.Config {
	keys := make([]auth.KeyConfig, 0, len(cfg.Keys))
	for _, key := range cfg.Keys {
		keys = append(keys, auth.KeyConfig{
			Name:        key.Name,
			Key:         key.Key,
			Permissions: key.Permissions,
			Disabled:    key.Disabled,
		})
	}
	return auth.Config{Mode: auth.Mode(cfg.Mode), Keys: keys}
}
