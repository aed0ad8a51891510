package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// 可以覆盖配置文件中密钥的环境变量。
const (
	EnvConfigPath         = "WALLETD_CONFIG"
	EnvKeyCipher          = "WALLETD_KEY_CIPHER"
	EnvTreasuryKey        = "WALLETD_TREASURY_KEY"
	EnvServiceKey         = "WALLETD_SERVICE_KEY"
	EnvStorageSysKey      = "WALLETD_STORAGE_SYS_KEY"
	EnvCustodialAccessKey = "WALLETD_CUSTODIAL_ACCESS_KEY"
)

// DefaultPath 是未设置 WALLETD_CONFIG 时读取的配置文件。
var DefaultPath = filepath.Join("configs", "walletd.json")

// Config 描述了 walletd 在启动阶段需要加载的全部配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	TaskQueue     TaskQueueConfig     `json:"task_queue"`
	Web3          Web3Config          `json:"web3"`
	Custodial     CustodialConfig     `json:"custodial"`
	Security      SecurityConfig      `json:"security"`
	Operations    OperationsConfig    `json:"operations"`
	Runtime       RuntimeConfig       `json:"runtime"`
	Observability ObservabilityConfig `json:"observability"`
}

// ServerConfig 控制 API 服务的监听地址与认证。
type ServerConfig struct {
	Address string     `json:"address"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig 配置 Bearer API key。mode 为空且配置了 keys 时自动启用。
type AuthConfig struct {
	Mode string         `json:"mode"`
	Keys []APIKeyConfig `json:"keys"`
}

// APIKeyConfig 描述一个可用的 API key。
type APIKeyConfig struct {
	Name        string   `json:"name"`
	Key         string   `json:"key"`
	KeyEnv      string   `json:"key_env"`
	Permissions []string `json:"permissions"`
	Disabled    bool     `json:"disabled"`
}

// LoggingConfig 对应 pkg/logger.Config。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// StorageConfig 统一描述任务库、Redis 与钱包存储服务的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
	Redis     RedisConfig     `json:"redis"`
	WalletAPI WalletAPIConfig `json:"wallet_api"`
}

// TaskStoreConfig 选择任务状态的存储实现。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
	Retries                int    `json:"retries"`
}

// ConnMaxLifetime 返回连接最大存活时间。
func (c TaskStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最大空闲时间。
func (c TaskStoreConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second
}

// RedisConfig 为 Redis 队列与分布式签名锁共用。地址为空表示不使用 Redis。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// WalletAPIConfig 描述钱包存储服务。
type WalletAPIConfig struct {
	BaseURL        string `json:"base_url"`
	SysKey         string `json:"sys_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 HTTP 请求超时。
func (c WalletAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TaskQueueConfig 选择任务队列实现。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Capacity int            `json:"capacity"`
	Workers  int            `json:"workers"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 配置基于 Redis list 的队列，连接复用 storage.redis。
type RedisQueue struct {
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 配置 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 指向链路由表。
type Web3Config struct {
	ChainsPath string `json:"chains_path"`
}

// CustodialConfig 描述托管钱包服务。base_url 为空时不启用托管钱包。
type CustodialConfig struct {
	BaseURL        string `json:"base_url"`
	AccessKey      string `json:"access_key"`
	BackendWallet  string `json:"backend_wallet"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 HTTP 请求超时。
func (c CustodialConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SecurityConfig 保存私钥加密所需的主密钥（base64 编码的 32 字节）。
type SecurityConfig struct {
	KeyCipher string `json:"key_cipher"`
}

// OperationsConfig 对应 operations.Config。
type OperationsConfig struct {
	DefaultChainID        uint64            `json:"default_chain_id"`
	GenerationMode        string            `json:"generation_mode"`
	TreasuryKey           string            `json:"treasury_key"`
	ServiceKey            string            `json:"service_key"`
	TreasuryTokens        map[string]string `json:"treasury_tokens"`
	TreasuryTokenDecimals uint8             `json:"treasury_token_decimals"`
	GasPriceMultiplier    float64           `json:"gas_price_multiplier"`
	GasBuffer             uint64            `json:"gas_buffer"`
	NativeGasLimit        uint64            `json:"native_gas_limit"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	TaskTimeoutSeconds int        `json:"task_timeout_seconds"`
	Lock               LockConfig `json:"lock"`
}

// TaskTimeout 返回单个任务的执行上限。
func (c RuntimeConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// LockConfig 选择按地址加锁的实现：memory 仅限单进程，redis 可跨副本。
type LockConfig struct {
	Driver     string `json:"driver"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL 返回 Redis 锁的过期时间。
func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ObservabilityConfig 配置指标与告警。
type ObservabilityConfig struct {
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
}

// MetricsConfig 中 address 非空时额外在独立端口暴露 /metrics。
type MetricsConfig struct {
	Address string `json:"address"`
}

// AlertingConfig 配置告警渠道，日志渠道始终启用。
type AlertingConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Email   EmailConfig   `json:"email"`
}

// WebhookConfig 配置机器人回调地址。
type WebhookConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// EmailConfig 配置 SMTP 告警。
type EmailConfig struct {
	Enabled       bool     `json:"enabled"`
	SMTPAddr      string   `json:"smtp_addr"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	SubjectPrefix string   `json:"subject_prefix"`
}

// Host 返回 SMTP 地址中的主机部分，供 PlainAuth 使用。
func (c EmailConfig) Host() string {
	host := c.SMTPAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

// PathFromEnv 返回 WALLETD_CONFIG 或默认路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件，随后应用默认值与环境变量覆盖。
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
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}
	if c.Storage.WalletAPI.TimeoutSeconds <= 0 {
		c.Storage.WalletAPI.TimeoutSeconds = 15
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Capacity <= 0 {
		c.TaskQueue.Capacity = 1024
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}

	if c.Web3.ChainsPath != "" && !filepath.IsAbs(c.Web3.ChainsPath) {
		c.Web3.ChainsPath = filepath.Join(baseDir, c.Web3.ChainsPath)
	}
	if c.Custodial.TimeoutSeconds <= 0 {
		c.Custodial.TimeoutSeconds = 30
	}

	// 托管钱包最多轮询约两分钟再等待回执，任务超时需覆盖完整的确认窗口。
	if c.Runtime.TaskTimeoutSeconds <= 0 {
		c.Runtime.TaskTimeoutSeconds = 600
	}
	if c.Runtime.Lock.Driver == "" {
		c.Runtime.Lock.Driver = "memory"
	}
	if c.Runtime.Lock.TTLSeconds <= 0 {
		c.Runtime.Lock.TTLSeconds = 300
	}

	if c.Observability.Alerting.Webhook.TimeoutSeconds <= 0 {
		c.Observability.Alerting.Webhook.TimeoutSeconds = 5
	}
	if c.Observability.Alerting.Email.SubjectPrefix == "" {
		c.Observability.Alerting.Email.SubjectPrefix = "[walletd]"
	}
}

// applyEnv 用环境变量覆盖密钥类配置。
func (c *Config) applyEnv(getenv func(string) string) {
	override := func(target *string, key string) {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			*target = value
		}
	}
	override(&c.Security.KeyCipher, EnvKeyCipher)
	override(&c.Operations.TreasuryKey, EnvTreasuryKey)
	override(&c.Operations.ServiceKey, EnvServiceKey)
	override(&c.Storage.WalletAPI.SysKey, EnvStorageSysKey)
	override(&c.Custodial.AccessKey, EnvCustodialAccessKey)

	for i := range c.Server.Auth.Keys {
		if env := c.Server.Auth.Keys[i].KeyEnv; env != "" {
			override(&c.Server.Auth.Keys[i].Key, env)
		}
	}
}

// Validate 检查启动所必需的配置。
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Security.KeyCipher) == "" {
		errs = append(errs, fmt.Errorf("security.key_cipher 未配置（可通过 %s 设置）", EnvKeyCipher))
	}
	if strings.TrimSpace(c.Storage.WalletAPI.BaseURL) == "" {
		errs = append(errs, errors.New("storage.wallet_api.base_url 未配置"))
	}
	switch c.Storage.TaskStore.Driver {
	case "memory":
	case "mysql":
		if c.Storage.TaskStore.DSN == "" {
			errs = append(errs, errors.New("storage.task_store.dsn 未配置"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的任务存储驱动: %s", c.Storage.TaskStore.Driver))
	}
	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if c.Storage.Redis.Address == "" {
			errs = append(errs, errors.New("redis 队列需要配置 storage.redis.address"))
		}
	case "rabbitmq":
		if c.TaskQueue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("task_queue.rabbitmq.url 未配置"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver))
	}
	switch c.Runtime.Lock.Driver {
	case "memory":
	case "redis":
		if c.Storage.Redis.Address == "" {
			errs = append(errs, errors.New("redis 锁需要配置 storage.redis.address"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的锁驱动: %s", c.Runtime.Lock.Driver))
	}
	return errors.Join(errs...)
}
