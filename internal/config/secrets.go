package config

import (
	"net/url"
	"slices"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: secrets are replaced
// with "***" and RPC URLs lose any embedded credentials or API key path.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Chain.RPCURLs = make([]string, len(cfg.Chain.RPCURLs))
	for i, u := range cfg.Chain.RPCURLs {
		out.Chain.RPCURLs[i] = redactURL(u)
	}
	redact(&out.Wallet.MasterPassword)
	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Telegram.Token)
	redact(&out.Discord.Token)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Bot.Tags = slices.Clone(cfg.Bot.Tags)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps only scheme and host. Providers embed API keys in the
// path or user info.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if u.User == nil && (u.Path == "" || u.Path == "/") && u.RawQuery == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
