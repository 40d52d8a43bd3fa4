// Package bot supervises the long-running parts of the bot: the update
// listener, the task scheduler and the optional secondary client.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Listener receives updates until ctx is cancelled.
type Listener func(ctx context.Context) error

// Runner is a component that runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Bot manages the lifecycle of its components.
type Bot struct {
	logger    *slog.Logger
	listener  Listener
	scheduler *Scheduler
	appClient Runner
}

// NewBot creates a Bot. appClient may be nil when the secondary client is disabled.
func NewBot(logger *slog.Logger, listener Listener, scheduler *Scheduler, appClient Runner) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		listener:  listener,
		scheduler: scheduler,
		appClient: appClient,
	}
}

// Run starts all components and blocks until ctx is cancelled or the listener
// or scheduler fails, in which case the others are stopped and the error is
// returned. An app client failure is logged and does not stop the bot.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram update listener...")
		err := b.listener(gCtx)
		b.logger.Info("Telegram update listener stopped.")

		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("telegram listener failed: %w", err)
		}
		if gCtx.Err() == nil {
			b.logger.Warn("Telegram listener stopped unexpectedly without context cancellation.")
			return errors.New("telegram listener stopped unexpectedly")
		}
		return nil
	})

	if b.scheduler != nil {
		g.Go(func() error {
			if err := b.scheduler.Start(); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			b.logger.Info("Shutdown signal received, stopping scheduler...")
			if err := b.scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	if b.appClient != nil {
		g.Go(func() error {
			b.logger.Info("Starting app client...")
			// An app client failure only disables the admin commands that use it.
			err := b.appClient.Run(gCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("App client failed, continuing without it", "error", err)
				return nil
			}
			b.logger.Info("App client stopped.")
			return nil
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}
