// Package conversation turns a chat's stored history into a role-tagged prompt window.
package conversation

import (
	"context"
	"fmt"

	"github.com/edgard/talebot/internal/database"
)

// Roles understood by the language-model backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultWindowSize is the number of stored messages fetched per window.
const DefaultWindowSize = 10

// Turn is one role-tagged entry of a prompt.
type Turn struct {
	Role    string
	Content string
}

// MessageSource supplies the most recent messages of a chat, newest first.
type MessageSource interface {
	RecentMessagesByChat(ctx context.Context, chatID int64, limit int) ([]database.Message, error)
}

// Builder assembles context windows for a single bot identity.
type Builder struct {
	source     MessageSource
	windowSize int
	botID      int64
}

// NewBuilder creates a Builder. Messages sent by botID are tagged as assistant turns.
func NewBuilder(source MessageSource, windowSize int, botID int64) *Builder {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Builder{source: source, windowSize: windowSize, botID: botID}
}

// Build returns the chat's recent history in chronological order followed by live
// as the final user turn. Messages without text are skipped. live is appended even
// if the same message is already part of the stored history.
func (b *Builder) Build(ctx context.Context, chatID int64, live string) ([]Turn, error) {
	recent, err := b.source.RecentMessagesByChat(ctx, chatID, b.windowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load context window for chat %d: %w", chatID, err)
	}

	turns := make([]Turn, 0, len(recent)+1)
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if !m.HasText() {
			continue
		}
		turns = append(turns, Turn{Role: b.roleOf(m), Content: m.Text.String})
	}

	return append(turns, Turn{Role: RoleUser, Content: live}), nil
}

func (b *Builder) roleOf(m database.Message) string {
	if m.SenderUserID.Valid && m.SenderUserID.Int64 == b.botID {
		return RoleAssistant
	}
	return RoleUser
}
