package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/retroservices1121/spredd-telegram-bot-sub000/internal/blob/s3"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/bot"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/cache/memory"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/cache/redis"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/chain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/config"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/crypto"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/notify"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/rpc"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/session"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/store/postgres"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/transport/discord"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/transport/telegram"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/wallet"
	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/wizard"
)

// Dependencies bundles what bot mode runs. It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	Transport domain.Transport
	Sessions  *session.Store
	Bot       *bot.Bot
	Notifier  *notify.Notifier

	// Images is nil when object storage is disabled.
	Images domain.ImageHost
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// --- PostgreSQL ---
	pg, err := connectPostgres(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pg.Close)
	if cfg.Database.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}
	pool := pg.Pool()
	users := postgres.NewUserStore(pool)
	wallets := postgres.NewWalletStore(pool)
	markets := postgres.NewMarketStore(pool)

	// --- Custodial wallets ---
	vault, err := crypto.NewVault(cfg.Wallet.MasterPassword, cfg.Wallet.KDFIterations)
	if err != nil {
		return fail(fmt.Errorf("wire: vault: %w", err))
	}
	walletSvc := wallet.NewService(users, wallets, vault, logger)

	// --- Chain ---
	chainSvc, closeChain, err := wireChain(ctx, cfg.Chain, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeChain)
	gate := chain.NewEpochGate(chainSvc, logger)

	// --- Locks and rate limits ---
	var (
		locks   domain.LockManager
		limiter domain.RateLimiter
	)
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		locks = redis.NewLockManager(rc)
		limiter = redis.NewRateLimiter(rc)
	} else {
		locks = memory.NewLockManager()
		limiter = memory.NewRateLimiter()
	}

	// --- Chat transport ---
	transport, err := newTransport(cfg, logger)
	if err != nil {
		return fail(err)
	}

	// --- Image hosting ---
	var images domain.ImageHost
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicBaseURL:  cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		images = s3blob.NewImageHost(s3blob.NewWriter(s3Client), transport,
			cfg.S3.PublicBaseURL, cfg.S3.MaxImageBytes, logger)
	}

	// --- Notifications ---
	notifier := newNotifier(cfg.Notify, cfg.Telegram.APIBase, logger)

	// --- Conversation layer ---
	sessions := session.NewStore(session.Config{
		TTL:           cfg.Bot.SessionTTL.Duration,
		SweepInterval: cfg.Bot.SweepInterval.Duration,
	}, logger)
	refs := memory.NewRefCache(cfg.Bot.RefCacheLimit)

	machine := wizard.New(wizard.Deps{
		Messenger:  transport,
		Sessions:   sessions,
		Gate:       gate,
		Chain:      chainSvc,
		Identities: walletSvc,
		Images:     images,
		Markets:    markets,
		Refs:       refs,
		Locks:      locks,
		Notifier:   notifier,
	}, wizard.Config{
		Tags:          cfg.Bot.Tags,
		CommitLockTTL: cfg.Bot.CommitLockTTL.Duration,
	}, logger)

	b := bot.New(bot.Deps{
		Messenger: transport,
		Sessions:  sessions,
		Wizard:    machine,
		Gate:      gate,
		Chain:     chainSvc,
		Wallets:   walletSvc,
		Markets:   markets,
		Refs:      refs,
		Limiter:   limiter,
	}, bot.Config{
		Dispatch: bot.DispatcherConfig{
			QueueSize:      cfg.Bot.QueueSize,
			HandlerTimeout: cfg.Bot.HandlerTimeout.Duration,
		},
		AckTimeout:         cfg.Bot.AckTimeout.Duration,
		RateLimitPerMinute: cfg.Bot.RateLimitPerMinute,
		ListLimit:          cfg.Bot.ListLimit,
	}, logger)

	return &Dependencies{
		Transport: transport,
		Sessions:  sessions,
		Bot:       b,
		Notifier:  notifier,
		Images:    images,
	}, cleanup, nil
}

func connectPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postgres.Client, error) {
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("wire: postgres: %w", err)
	}
	return pg, nil
}

// wireChain binds a client to the first endpoint and puts the failover
// executor in front of it.
func wireChain(ctx context.Context, cfg config.ChainConfig, logger *slog.Logger) (*chain.Service, func(), error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, nil, fmt.Errorf("wire: chain: no rpc endpoints")
	}
	client, err := chain.NewClient(ctx, chain.ClientConfig{
		Endpoint:         cfg.RPCURLs[0],
		ChainID:          cfg.ChainID,
		Factory:          common.HexToAddress(cfg.FactoryAddress),
		Token:            common.HexToAddress(cfg.TokenAddress),
		GasBufferPercent: uint64(max(cfg.GasBufferPercent, 0)),
	}, chain.Dial, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	exec, err := rpc.NewExecutor(rpc.ExecutorConfig{
		Endpoints:   cfg.RPCURLs,
		MaxInflight: cfg.MaxInflight,
		MaxAttempts: cfg.MaxAttempts,
		BackoffUnit: cfg.BackoffUnit.Duration,
	}, client, logger)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("wire: rpc executor: %w", err)
	}
	svc := chain.NewService(client, exec, chain.ServiceConfig{
		ReceiptTimeout: cfg.ReceiptTimeout.Duration,
		ReceiptPoll:    cfg.ReceiptPoll.Duration,
	}, logger)
	return svc, client.Close, nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) (domain.Transport, error) {
	switch strings.ToLower(cfg.Bot.Transport) {
	case "telegram":
		t, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			APIBase:     cfg.Telegram.APIBase,
			PollTimeout: cfg.Telegram.PollTimeout.Duration,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: telegram: %w", err)
		}
		return t, nil
	case "discord":
		t, err := discord.New(discord.Config{Token: cfg.Discord.Token}, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: discord: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("wire: unknown transport %q", cfg.Bot.Transport)
	}
}

// newNotifier builds the operator alert fan-out. With no destinations the
// notifier is a no-op.
func newNotifier(cfg config.NotifyConfig, apiBase string, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(apiBase, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
