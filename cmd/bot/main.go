// Package main contains the entrypoint for the talebot Telegram bot.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/edgard/talebot/internal/ai"
	"github.com/edgard/talebot/internal/appclient"
	"github.com/edgard/talebot/internal/bot"
	"github.com/edgard/talebot/internal/bot/handlers"
	"github.com/edgard/talebot/internal/bot/tasks"
	"github.com/edgard/talebot/internal/config"
	"github.com/edgard/talebot/internal/conversation"
	"github.com/edgard/talebot/internal/database"
	"github.com/edgard/talebot/internal/identity"
	"github.com/edgard/talebot/internal/logger"
	"github.com/edgard/talebot/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "talebot",
		Short:         "Conversational Telegram bot backed by an LLM",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := run(cmd.Context(), configPath); err != nil {
				slog.Error("Bot stopped due to error", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

// run wires every component and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.CloseDB(db)

	store := database.NewStore(db, log)
	resolver := identity.NewResolver(store, log)

	backend, err := ai.NewBackend(ctx, cfg.AI, log)
	if err != nil {
		return fmt.Errorf("failed to create AI backend: %w", err)
	}
	generator := ai.NewGenerator(backend, cfg.AI.Persona, cfg.AI.Timeout, log)

	// Handlers are created after GetMe, so the default handler is resolved lazily.
	var defaultHandler tgbot.HandlerFunc
	botOpts := []tgbot.Option{
		tgbot.WithNotAsyncHandlers(),
		tgbot.WithMiddlewares(logger.Recover(log), logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			defaultHandler(ctx, b, update)
		}),
	}
	if cfg.Telegram.Webhook.SecretToken != "" {
		botOpts = append(botOpts, tgbot.WithWebhookSecretToken(cfg.Telegram.Webhook.SecretToken))
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		return err
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	botIdentity, err := resolver.User(ctx, me)
	if err != nil {
		return fmt.Errorf("failed to register bot identity: %w", err)
	}
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	for _, id := range cfg.Telegram.AdminIDs {
		if _, err := store.GrantAdmin(ctx, id); err != nil {
			return fmt.Errorf("failed to seed admin %d: %w", id, err)
		}
	}

	var (
		appClient handlers.AppClient
		runner    bot.Runner
	)
	if cfg.AppClient.Enabled {
		zapLog, err := logger.NewZapLogger(cfg.Logger.Level, cfg.Logger.JSON)
		if err != nil {
			return fmt.Errorf("failed to create app client logger: %w", err)
		}
		defer func() { _ = zapLog.Sync() }()

		client, err := appclient.New(appclient.Options{
			AppID:     cfg.AppClient.AppID,
			AppHash:   cfg.AppClient.AppHash,
			BotToken:  cfg.Telegram.Token,
			Storage:   appclient.NewSessionStorage(store, cfg.AppClient.SessionID),
			Logger:    log,
			ZapLogger: zapLog,
		})
		if err != nil {
			return fmt.Errorf("failed to create app client: %w", err)
		}
		appClient, runner = client, client
	}

	deps := handlers.HandlerDeps{
		Logger:      log,
		Config:      cfg,
		Store:       store,
		Resolver:    resolver,
		Builder:     conversation.NewBuilder(store, cfg.Conversation.WindowSize, botIdentity.ExternalID),
		Generator:   generator,
		AppClient:   appClient,
		BotIdentity: botIdentity,
	}
	defaultHandler = handlers.NewMessageHandler(deps)

	if _, err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(deps)); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{Logger: log, Store: store}))
	if err != nil {
		return err
	}

	listener := func(ctx context.Context) error { return telegram.RunPolling(ctx, tg, log) }
	if cfg.Telegram.Webhook.Enabled {
		listener = func(ctx context.Context) error { return telegram.RunWebhook(ctx, tg, cfg.Telegram.Webhook, log) }
	}

	log.Info("Starting bot...")
	return bot.NewBot(log, listener, sched, runner).Run(ctx)
}
