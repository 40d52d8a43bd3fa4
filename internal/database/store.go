package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// maxFindOrCreateAttempts bounds the re-read loop after losing a creation race.
const maxFindOrCreateAttempts = 3

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetIdentity returns the identity for (kind, externalID) or ErrNotFound.
	GetIdentity(ctx context.Context, kind IdentityKind, externalID int64) (Identity, error)

	// FindOrCreateIdentity returns the stored identity for defaults' (Kind, ExternalID),
	// creating it from defaults when absent. An existing row is returned unmodified.
	// Safe under concurrent calls for the same key: at most one row is created.
	FindOrCreateIdentity(ctx context.Context, defaults Identity) (Identity, error)

	// GrantAdmin sets IsAdmin on the user identity, creating an empty one when unseen.
	// It reports whether the identity was created.
	GrantAdmin(ctx context.Context, userID int64) (bool, error)

	// SaveMessage upserts a message keyed by (MessageID, ChatID); a replay overwrites it.
	SaveMessage(ctx context.Context, message *Message) error

	// RecentMessagesByChat returns at most limit messages of a chat, newest first.
	RecentMessagesByChat(ctx context.Context, chatID int64, limit int) ([]Message, error)

	// GetSession returns the stored session data and whether it exists.
	GetSession(ctx context.Context, id string) (string, bool, error)

	// PutSession creates or overwrites the session data.
	PutSession(ctx context.Context, id, data string) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

const identityColumns = `kind, external_id, display_name, username, language_code, chat_type,
        is_bot, is_premium, is_admin, created_at`

const insertIdentityQuery = `
        INSERT INTO identities (` + identityColumns + `)
        VALUES (:kind, :external_id, :display_name, :username, :language_code, :chat_type,
                :is_bot, :is_premium, :is_admin, :created_at);
    `

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetIdentity returns the identity for (kind, externalID) or ErrNotFound.
func (s *sqlxStore) GetIdentity(ctx context.Context, kind IdentityKind, externalID int64) (Identity, error) {
	return getIdentity(ctx, s.db, kind, externalID)
}

func getIdentity(ctx context.Context, q sqlx.QueryerContext, kind IdentityKind, externalID int64) (Identity, error) {
	var identity Identity
	query := `SELECT ` + identityColumns + ` FROM identities WHERE kind = ? AND external_id = ?;`

	err := sqlx.GetContext(ctx, q, &identity, query, kind, externalID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Identity{}, fmt.Errorf("%s identity %d: %w", kind, externalID, ErrNotFound)
	case err != nil:
		return Identity{}, fmt.Errorf("failed to get %s identity %d: %w", kind, externalID, err)
	}
	return identity, nil
}

// FindOrCreateIdentity looks the identity up and inserts defaults when absent.
// The insert is a plain INSERT: when a concurrent caller wins the race, the
// primary key rejects this insert and the winner's row is re-read.
func (s *sqlxStore) FindOrCreateIdentity(ctx context.Context, defaults Identity) (Identity, error) {
	if defaults.Kind != KindUser && defaults.Kind != KindChat {
		return Identity{}, fmt.Errorf("invalid identity kind %q", defaults.Kind)
	}

	for attempt := 1; attempt <= maxFindOrCreateAttempts; attempt++ {
		existing, err := s.GetIdentity(ctx, defaults.Kind, defaults.ExternalID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Identity{}, err
		}

		created := defaults
		created.CreatedAt = time.Now().UTC()
		_, err = s.db.NamedExecContext(ctx, insertIdentityQuery, created)
		if err == nil {
			s.logger.InfoContext(ctx, "Created identity",
				"kind", created.Kind, "external_id", created.ExternalID)
			return s.GetIdentity(ctx, created.Kind, created.ExternalID)
		}
		if !isUniqueViolation(err) {
			s.logger.ErrorContext(ctx, "Error creating identity",
				"kind", created.Kind, "external_id", created.ExternalID, "error", err)
			return Identity{}, fmt.Errorf("failed to create %s identity %d: %w", created.Kind, created.ExternalID, err)
		}

		s.logger.DebugContext(ctx, "Identity created concurrently, re-reading",
			"kind", defaults.Kind, "external_id", defaults.ExternalID, "attempt", attempt)
	}

	return Identity{}, fmt.Errorf("failed to resolve %s identity %d after %d attempts",
		defaults.Kind, defaults.ExternalID, maxFindOrCreateAttempts)
}

// GrantAdmin sets is_admin on a user identity inside a transaction.
func (s *sqlxStore) GrantAdmin(ctx context.Context, userID int64) (created bool, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	_, err = getIdentity(ctx, tx, KindUser, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		_, err = tx.NamedExecContext(ctx, insertIdentityQuery, Identity{
			Kind:       KindUser,
			ExternalID: userID,
			IsAdmin:    true,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return false, fmt.Errorf("failed to create admin identity %d: %w", userID, err)
		}
		created = true
	case err != nil:
		return false, err
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE identities SET is_admin = 1 WHERE kind = ? AND external_id = ?;`, KindUser, userID)
		if err != nil {
			return false, fmt.Errorf("failed to grant admin to identity %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Granted admin", "user_id", userID, "created", created)
	return created, nil
}

// SaveMessage upserts a message. created_at of the first write is kept.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return errors.New("cannot save nil message")
	}
	if message.ChatID == 0 {
		return errors.New("message must have a non-zero chat_id")
	}
	if message.MessageID <= 0 {
		return fmt.Errorf("message must have a positive message_id, got %d", message.MessageID)
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO messages (message_id, chat_id, thread_id, sender_user_id, sender_chat_id,
                              sent_at, text, reply_markup, is_topic_message, created_at)
        VALUES (:message_id, :chat_id, :thread_id, :sender_user_id, :sender_chat_id,
                :sent_at, :text, :reply_markup, :is_topic_message, :created_at)
        ON CONFLICT (message_id, chat_id) DO UPDATE SET
            thread_id        = excluded.thread_id,
            sender_user_id   = excluded.sender_user_id,
            sender_chat_id   = excluded.sender_chat_id,
            sent_at          = excluded.sent_at,
            text             = excluded.text,
            reply_markup     = excluded.reply_markup,
            is_topic_message = excluded.is_topic_message;
    `

	if _, err := s.db.NamedExecContext(ctx, query, message); err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"chat_id", message.ChatID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to save message %d in chat %d: %w", message.MessageID, message.ChatID, err)
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"chat_id", message.ChatID, "message_id", message.MessageID)
	return nil
}

// RecentMessagesByChat returns the latest messages of a chat, newest first.
func (s *sqlxStore) RecentMessagesByChat(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	messages := make([]Message, 0, limit)
	query := `
        SELECT message_id, chat_id, thread_id, sender_user_id, sender_chat_id,
               sent_at, text, reply_markup, is_topic_message, created_at
        FROM messages
        WHERE chat_id = ?
        ORDER BY sent_at DESC, message_id DESC
        LIMIT ?;
    `

	if err := s.db.SelectContext(ctx, &messages, query, chatID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "chat_id", chatID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for chat %d: %w", chatID, err)
	}

	s.logger.DebugContext(ctx, "Fetched recent messages", "chat_id", chatID, "count", len(messages))
	return messages, nil
}

// GetSession returns the session data stored under id.
func (s *sqlxStore) GetSession(ctx context.Context, id string) (string, bool, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT session_data FROM sessions WHERE id = ?;`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("failed to load session %q: %w", id, err)
	}
	return data, true, nil
}

// PutSession creates or overwrites the session stored under id.
func (s *sqlxStore) PutSession(ctx context.Context, id, data string) error {
	if id == "" {
		return errors.New("session id cannot be empty")
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO sessions (id, session_data, created_at, updated_at)
        VALUES (:id, :session_data, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            session_data = excluded.session_data,
            updated_at   = excluded.updated_at;
    `
	session := Session{ID: id, SessionData: data, CreatedAt: now, UpdatedAt: now}
	if _, err := s.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("failed to save session %q: %w", id, err)
	}

	s.logger.DebugContext(ctx, "Session saved", "session_id", id, "size", len(data))
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
