package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validBotConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURLs = []string{"https://mainnet.base.org"}
	cfg.Chain.FactoryAddress = "0x00000000000000000000000000000000000000f1"
	cfg.Chain.TokenAddress = "0x00000000000000000000000000000000000000a1"
	cfg.Wallet.MasterPassword = "hunter2"
	cfg.Telegram.Token = "123:abc"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Chain.MaxInflight != 3 {
		t.Errorf("MaxInflight = %d, want 3", cfg.Chain.MaxInflight)
	}
	if cfg.Bot.SessionTTL.Duration != time.Hour {
		t.Errorf("SessionTTL = %s, want 1h", cfg.Bot.SessionTTL)
	}
	if cfg.Bot.SweepInterval.Duration != 5*time.Minute {
		t.Errorf("SweepInterval = %s, want 5m", cfg.Bot.SweepInterval)
	}
	if cfg.Bot.RefCacheLimit != 500 {
		t.Errorf("RefCacheLimit = %d, want 500", cfg.Bot.RefCacheLimit)
	}
	if cfg.Mode != "bot" {
		t.Errorf("Mode = %q, want bot", cfg.Mode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad mode", mutate: func(c *Config) { c.Mode = "trade" }, wantErr: "unknown mode"},
		{name: "no rpc", mutate: func(c *Config) { c.Chain.RPCURLs = nil }, wantErr: "rpc_urls"},
		{name: "bad rpc", mutate: func(c *Config) { c.Chain.RPCURLs = []string{"not a url"} }, wantErr: "invalid rpc url"},
		{name: "bad factory", mutate: func(c *Config) { c.Chain.FactoryAddress = "0x12" }, wantErr: "factory_address"},
		{name: "no password", mutate: func(c *Config) { c.Wallet.MasterPassword = "" }, wantErr: "master_password"},
		{name: "no telegram token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram: token"},
		{name: "discord without token", mutate: func(c *Config) { c.Bot.Transport = "discord" }, wantErr: "discord: token"},
		{name: "bad transport", mutate: func(c *Config) { c.Bot.Transport = "irc" }, wantErr: "unknown transport"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.S3.Enabled = true; c.S3.PublicBaseURL = "https://cdn" }, wantErr: "s3: bucket"},
		{name: "half notify", mutate: func(c *Config) { c.Notify.TelegramToken = "x" }, wantErr: "telegram_chat_id"},
		{name: "migrate skips bot checks", mutate: func(c *Config) {
			c.Mode = "migrate"
			c.Chain.RPCURLs = nil
			c.Wallet.MasterPassword = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBotConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validBotConfig()
	cfg.Chain.RPCURLs = nil
	cfg.Wallet.MasterPassword = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	if got := strings.Count(err.Error(), "\n  - "); got != 2 {
		t.Fatalf("reported %d problems, want 2:\n%v", got, err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "bot"
log_level = "debug"

[chain]
rpc_urls = ["https://a.example", "https://b.example"]
backoff_unit = "250ms"

[bot]
session_ttl = "30m"
ref_cache_limit = 50
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("SPREDD_BOT_REF_CACHE_LIMIT", "75")
	t.Setenv("SPREDD_CHAIN_RPC_URLS", " https://c.example , ,https://d.example")
	t.Setenv("SPREDD_CHAIN_MAX_INFLIGHT", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Chain.BackoffUnit.Duration != 250*time.Millisecond {
		t.Errorf("BackoffUnit = %s", cfg.Chain.BackoffUnit)
	}
	if cfg.Bot.SessionTTL.Duration != 30*time.Minute {
		t.Errorf("SessionTTL = %s", cfg.Bot.SessionTTL)
	}
	if cfg.Bot.RefCacheLimit != 75 {
		t.Errorf("RefCacheLimit = %d, want env override 75", cfg.Bot.RefCacheLimit)
	}
	if got := strings.Join(cfg.Chain.RPCURLs, ","); got != "https://c.example,https://d.example" {
		t.Errorf("RPCURLs = %q", got)
	}
	if cfg.Chain.MaxInflight != 3 {
		t.Errorf("MaxInflight = %d, unparsable env must be ignored", cfg.Chain.MaxInflight)
	}
	if cfg.Bot.SweepInterval.Duration != 5*time.Minute {
		t.Errorf("SweepInterval = %s, want default kept", cfg.Bot.SweepInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bot.RefCacheLimit != 500 {
		t.Fatalf("RefCacheLimit = %d", cfg.Bot.RefCacheLimit)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("mode = "), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() = nil error for malformed TOML")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validBotConfig()
	cfg.Chain.RPCURLs = []string{"https://base-mainnet.g.alchemy.com/v2/SECRETKEY", "https://mainnet.base.org"}
	cfg.Database.Password = "pw"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/1/x"

	out := RedactedConfig(&cfg)
	if out.Wallet.MasterPassword != "***" || out.Database.Password != "***" || out.Telegram.Token != "***" {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.Notify.DiscordWebhookURL != "***" {
		t.Fatalf("webhook = %q", out.Notify.DiscordWebhookURL)
	}
	if out.Database.Host != cfg.Database.Host {
		t.Fatal("non-secret field changed")
	}
	if strings.Contains(out.Chain.RPCURLs[0], "SECRETKEY") {
		t.Fatalf("rpc url leaked key: %q", out.Chain.RPCURLs[0])
	}
	if out.Chain.RPCURLs[1] != "https://mainnet.base.org" {
		t.Fatalf("plain rpc url = %q", out.Chain.RPCURLs[1])
	}
	if cfg.Wallet.MasterPassword != "hunter2" || cfg.Chain.RPCURLs[0] == out.Chain.RPCURLs[0] {
		t.Fatal("RedactedConfig mutated its input")
	}
	if out.Redis.Password != "" {
		t.Fatal("empty secret should stay empty")
	}
}
