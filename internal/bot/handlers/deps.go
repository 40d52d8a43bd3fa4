package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/talebot/internal/config"
	"github.com/edgard/talebot/internal/conversation"
	"github.com/edgard/talebot/internal/database"
	"github.com/edgard/talebot/internal/identity"
)

// ReplyGenerator produces bot replies. *ai.Generator implements it.
type ReplyGenerator interface {
	Generate(ctx context.Context, turns []conversation.Turn) (string, error)
	GenerateGreeting(ctx context.Context, name string) (string, error)
}

// AppClient performs admin operations over the MTProto connection.
// *appclient.Client implements it.
type AppClient interface {
	SendMessage(ctx context.Context, peerID int64, text string) error
	ResolveUserID(ctx context.Context, username string) (int64, error)
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Store     database.Store
	Resolver  *identity.Resolver
	Builder   *conversation.Builder
	Generator ReplyGenerator
	// AppClient is nil when the MTProto client is disabled.
	AppClient AppClient
	// BotIdentity is resolved once at startup and never changes afterwards.
	BotIdentity database.Identity
}
