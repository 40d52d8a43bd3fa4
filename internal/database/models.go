package database

import (
	"database/sql"
	"time"
)

// IdentityKind distinguishes the two key spaces of identities. A Telegram private
// chat shares its numeric ID with its user, so users and chats are keyed separately.
type IdentityKind string

// Identity kinds.
const (
	KindUser IdentityKind = "user"
	KindChat IdentityKind = "chat"
)

// Identity is the durable record of a Telegram user or chat, keyed by
// (Kind, ExternalID). Fields other than IsAdmin are written once, on creation.
type Identity struct {
	Kind       IdentityKind `db:"kind"`
	ExternalID int64        `db:"external_id"`

	DisplayName  string `db:"display_name"`
	Username     string `db:"username"`
	LanguageCode string `db:"language_code"`
	ChatType     string `db:"chat_type"`
	IsBot        bool   `db:"is_bot"`
	IsPremium    bool   `db:"is_premium"`
	IsAdmin      bool   `db:"is_admin"`

	CreatedAt time.Time `db:"created_at"`
}

// Message is an inbound or outbound Telegram message, keyed by (MessageID, ChatID).
type Message struct {
	MessageID int64 `db:"message_id"`
	ChatID    int64 `db:"chat_id"`

	ThreadID     sql.NullInt64 `db:"thread_id"`
	SenderUserID sql.NullInt64 `db:"sender_user_id"`
	SenderChatID sql.NullInt64 `db:"sender_chat_id"` // channel posting on behalf of a chat

	SentAt         int64          `db:"sent_at"` // unix seconds, as provided by Telegram
	Text           sql.NullString `db:"text"`
	ReplyMarkup    sql.NullString `db:"reply_markup"` // JSON
	IsTopicMessage bool           `db:"is_topic_message"`

	CreatedAt time.Time `db:"created_at"`
}

// HasText reports whether the message carries non-empty text.
func (m Message) HasText() bool {
	return m.Text.Valid && m.Text.String != ""
}

// Session holds the opaque, resumable auth state of the secondary MTProto client.
type Session struct {
	ID          string    `db:"id"`
	SessionData string    `db:"session_data"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
