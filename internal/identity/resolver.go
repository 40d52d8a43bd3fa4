// Package identity resolves Telegram users and chats to durable identity records.
package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot/models"
	"golang.org/x/sync/singleflight"

	"github.com/edgard/talebot/internal/database"
)

// Resolver maps external Telegram IDs to identities, creating them on first sight.
// Concurrent calls for the same key within the process share one store round-trip;
// the store's primary key and retry keep creation at-most-once across processes.
type Resolver struct {
	store  database.Store
	logger *slog.Logger
	group  singleflight.Group
}

// NewResolver creates a Resolver backed by store.
func NewResolver(store database.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{
		store:  store,
		logger: logger.With("component", "identity_resolver"),
	}
}

// FindOrCreate returns the identity keyed by defaults' (Kind, ExternalID).
// defaults are used only when the identity does not exist yet.
func (r *Resolver) FindOrCreate(ctx context.Context, defaults database.Identity) (database.Identity, error) {
	key := fmt.Sprintf("%s:%d", defaults.Kind, defaults.ExternalID)

	v, err, shared := r.group.Do(key, func() (any, error) {
		return r.store.FindOrCreateIdentity(ctx, defaults)
	})
	if err != nil {
		return database.Identity{}, fmt.Errorf("failed to resolve %s: %w", key, err)
	}
	if shared {
		r.logger.DebugContext(ctx, "Shared identity resolution", "key", key)
	}
	return v.(database.Identity), nil
}

// User resolves a Telegram user.
func (r *Resolver) User(ctx context.Context, u *models.User) (database.Identity, error) {
	if u == nil {
		return database.Identity{}, fmt.Errorf("nil user")
	}
	return r.FindOrCreate(ctx, FromUser(u))
}

// Chat resolves a Telegram chat.
func (r *Resolver) Chat(ctx context.Context, c models.Chat) (database.Identity, error) {
	return r.FindOrCreate(ctx, FromChat(c))
}

// FromUser builds creation defaults for a Telegram user.
func FromUser(u *models.User) database.Identity {
	return database.Identity{
		Kind:         database.KindUser,
		ExternalID:   u.ID,
		DisplayName:  joinName(u.FirstName, u.LastName),
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
		IsBot:        u.IsBot,
		IsPremium:    u.IsPremium,
	}
}

// FromChat builds creation defaults for a Telegram chat. Private chats have no
// title, so the peer's name is used instead.
func FromChat(c models.Chat) database.Identity {
	name := c.Title
	if name == "" {
		name = joinName(c.FirstName, c.LastName)
	}
	if name == "" {
		name = c.Username
	}
	return database.Identity{
		Kind:        database.KindChat,
		ExternalID:  c.ID,
		DisplayName: name,
		Username:    c.Username,
		ChatType:    string(c.Type),
	}
}

func joinName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
