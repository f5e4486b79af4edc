package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the defaults, loads .env, and applies
// SPREDD_* environment overrides. A missing file is not an error, so a
// deployment can be configured from the environment alone. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStringSlice(&cfg.Chain.RPCURLs, "SPREDD_CHAIN_RPC_URLS")
	setInt64(&cfg.Chain.ChainID, "SPREDD_CHAIN_ID")
	setStr(&cfg.Chain.FactoryAddress, "SPREDD_CHAIN_FACTORY_ADDRESS")
	setStr(&cfg.Chain.TokenAddress, "SPREDD_CHAIN_TOKEN_ADDRESS")
	setInt(&cfg.Chain.MaxInflight, "SPREDD_CHAIN_MAX_INFLIGHT")
	setInt(&cfg.Chain.MaxAttempts, "SPREDD_CHAIN_MAX_ATTEMPTS")
	setDuration(&cfg.Chain.BackoffUnit, "SPREDD_CHAIN_BACKOFF_UNIT")

	setStr(&cfg.Wallet.MasterPassword, "SPREDD_WALLET_MASTER_PASSWORD")

	setStr(&cfg.Database.DSN, "SPREDD_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Database.Host, "SPREDD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SPREDD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SPREDD_DATABASE_NAME")
	setStr(&cfg.Database.User, "SPREDD_DATABASE_USER")
	setStr(&cfg.Database.Password, "SPREDD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SPREDD_DATABASE_SSL_MODE")
	setBool(&cfg.Database.RunMigrations, "SPREDD_DATABASE_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "SPREDD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SPREDD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SPREDD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SPREDD_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SPREDD_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "SPREDD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SPREDD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SPREDD_S3_REGION")
	setStr(&cfg.S3.Bucket, "SPREDD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SPREDD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SPREDD_S3_SECRET_KEY")
	setStr(&cfg.S3.PublicBaseURL, "SPREDD_S3_PUBLIC_BASE_URL")

	setStr(&cfg.Bot.Transport, "SPREDD_BOT_TRANSPORT")
	setDuration(&cfg.Bot.SessionTTL, "SPREDD_BOT_SESSION_TTL")
	setInt(&cfg.Bot.RefCacheLimit, "SPREDD_BOT_REF_CACHE_LIMIT")
	setInt(&cfg.Bot.RateLimitPerMinute, "SPREDD_BOT_RATE_LIMIT_PER_MINUTE")

	setStr(&cfg.Telegram.Token, "SPREDD_TELEGRAM_TOKEN")
	setStr(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Discord.Token, "SPREDD_DISCORD_TOKEN")

	setStr(&cfg.Notify.TelegramToken, "SPREDD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SPREDD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SPREDD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SPREDD_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "SPREDD_MODE")
	setStr(&cfg.LogLevel, "SPREDD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
