package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/talebot/internal/config"
)

const shutdownTimeout = 10 * time.Second

// RunPolling removes any stale webhook and processes updates through long
// polling until ctx is cancelled.
func RunPolling(ctx context.Context, b *bot.Bot, logger *slog.Logger) error {
	if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		return fmt.Errorf("failed to delete webhook before polling: %w", err)
	}

	logger.InfoContext(ctx, "Starting long polling")
	b.Start(ctx)
	return nil
}

// RunWebhook registers cfg.URL with Telegram and serves updates on
// cfg.ListenAddr until ctx is cancelled. The bot must have been built with
// bot.WithWebhookSecretToken when cfg.SecretToken is set.
func RunWebhook(ctx context.Context, b *bot.Bot, cfg config.WebhookConfig, logger *slog.Logger) error {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         cfg.URL,
		SecretToken: cfg.SecretToken,
	}); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, b.WebhookHandler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.StartWebhook(gCtx)
		return nil
	})
	g.Go(func() error {
		logger.InfoContext(ctx, "Serving webhook", "addr", cfg.ListenAddr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
