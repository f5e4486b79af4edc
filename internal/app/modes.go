package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// BotMode connects every dependency and serves chat events until ctx is
// cancelled.
func (a *App) BotMode(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.logger.InfoContext(ctx, "starting bot mode",
		slog.String("transport", deps.Transport.Name()),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("images", deps.Images != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Sessions.Run(gctx)
	})
	g.Go(func() error {
		return deps.Bot.Run(gctx)
	})
	g.Go(func() error {
		if err := deps.Transport.Run(gctx, deps.Bot.OnEvent); err != nil {
			return fmt.Errorf("app: %s transport: %w", deps.Transport.Name(), err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// MigrateMode applies the embedded schema migrations and exits.
func (a *App) MigrateMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting migrate mode")

	pg, err := connectPostgres(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pg.Close)

	if err := pg.RunMigrations(ctx); err != nil {
		return fmt.Errorf("app: migrations: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}
