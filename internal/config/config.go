// Package config defines the bot configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by SPREDD_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Bot      BotConfig      `toml:"bot"`
	Telegram TelegramConfig `toml:"telegram"`
	Discord  DiscordConfig  `toml:"discord"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds RPC endpoints, contract addresses and the resilience
// knobs of the call executor.
type ChainConfig struct {
	RPCURLs          []string `toml:"rpc_urls"`
	ChainID          int64    `toml:"chain_id"`
	FactoryAddress   string   `toml:"factory_address"`
	TokenAddress     string   `toml:"token_address"`
	MaxInflight      int      `toml:"max_inflight"`
	MaxAttempts      int      `toml:"max_attempts"`
	BackoffUnit      duration `toml:"backoff_unit"`
	GasBufferPercent int      `toml:"gas_buffer_percent"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
	ReceiptPoll      duration `toml:"receipt_poll"`
}

// WalletConfig holds the master password sealing custodial wallet keys.
type WalletConfig struct {
	MasterPassword string `toml:"master_password"`
	KDFIterations  int    `toml:"kdf_iterations"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the commit
// lock and rate limiter run in memory.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds object storage parameters for market images. When
// disabled the wizard's image step accepts only "skip".
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
	MaxImageBytes  int64  `toml:"max_image_bytes"`
}

// BotConfig tunes the conversation layer.
type BotConfig struct {
	Transport          string   `toml:"transport"`
	SessionTTL         duration `toml:"session_ttl"`
	SweepInterval      duration `toml:"sweep_interval"`
	RefCacheLimit      int      `toml:"ref_cache_limit"`
	AckTimeout         duration `toml:"ack_timeout"`
	HandlerTimeout     duration `toml:"handler_timeout"`
	QueueSize          int      `toml:"queue_size"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	ListLimit          int      `toml:"list_limit"`
	CommitLockTTL      duration `toml:"commit_lock_ttl"`
	Tags               []string `toml:"tags"`
}

// TelegramConfig holds the Telegram bot credentials.
type TelegramConfig struct {
	Token       string   `toml:"token"`
	APIBase     string   `toml:"api_base"`
	PollTimeout duration `toml:"poll_timeout"`
}

// DiscordConfig holds the Discord bot credentials.
type DiscordConfig struct {
	Token string `toml:"token"`
}

// NotifyConfig configures operator alerts.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so it can be decoded from TOML strings such
// as "30s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with production defaults.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:          8453,
			MaxInflight:      3,
			MaxAttempts:      2,
			BackoffUnit:      duration{time.Second},
			GasBufferPercent: 20,
			ReceiptTimeout:   duration{2 * time.Minute},
			ReceiptPoll:      duration{2 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "spredd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "spredd:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Bot: BotConfig{
			Transport:          "telegram",
			SessionTTL:         duration{time.Hour},
			SweepInterval:      duration{5 * time.Minute},
			RefCacheLimit:      500,
			AckTimeout:         duration{5 * time.Second},
			HandlerTimeout:     duration{30 * time.Second},
			QueueSize:          32,
			RateLimitPerMinute: 30,
			ListLimit:          10,
			CommitLockTTL:      duration{3 * time.Minute},
		},
		Telegram: TelegramConfig{
			APIBase:     "https://api.telegram.org",
			PollTimeout: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "commit_failed"},
		},
		Mode:     "bot",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"bot":     true,
	"migrate": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTransports = map[string]bool{
	"telegram": true,
	"discord":  true,
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: bot, migrate)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			add("database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			add("database: port must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.Database == "" {
			add("database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		add("database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		add("database: pool_min_conns must be between 0 and pool_max_conns")
	}

	if mode == "bot" {
		c.validateBot(add)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateBot(add func(string, ...any)) {
	if len(c.Chain.RPCURLs) == 0 {
		add("chain: rpc_urls must list at least one endpoint")
	}
	for _, u := range c.Chain.RPCURLs {
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			add("chain: invalid rpc url %q", u)
		}
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.FactoryAddress) {
		add("chain: factory_address must be a hex address")
	}
	if !common.IsHexAddress(c.Chain.TokenAddress) {
		add("chain: token_address must be a hex address")
	}
	if c.Chain.MaxInflight < 1 {
		add("chain: max_inflight must be >= 1")
	}
	if c.Chain.MaxAttempts < 1 {
		add("chain: max_attempts must be >= 1")
	}
	if c.Chain.GasBufferPercent < 0 {
		add("chain: gas_buffer_percent must be >= 0")
	}

	if c.Wallet.MasterPassword == "" {
		add("wallet: master_password is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty when enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when enabled")
		}
		if c.S3.PublicBaseURL == "" {
			add("s3: public_base_url must not be empty when enabled")
		}
	}

	transport := strings.ToLower(c.Bot.Transport)
	if !validTransports[transport] {
		add("bot: unknown transport %q (valid: telegram, discord)", c.Bot.Transport)
	}
	if transport == "telegram" && c.Telegram.Token == "" {
		add("telegram: token is required for the telegram transport")
	}
	if transport == "discord" && c.Discord.Token == "" {
		add("discord: token is required for the discord transport")
	}
	if c.Bot.SessionTTL.Duration <= 0 {
		add("bot: session_ttl must be > 0")
	}
	if c.Bot.SweepInterval.Duration <= 0 {
		add("bot: sweep_interval must be > 0")
	}
	if c.Bot.RefCacheLimit < 1 {
		add("bot: ref_cache_limit must be >= 1")
	}
	if c.Bot.HandlerTimeout.Duration <= 0 || c.Bot.AckTimeout.Duration <= 0 {
		add("bot: ack_timeout and handler_timeout must be > 0")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}
}
