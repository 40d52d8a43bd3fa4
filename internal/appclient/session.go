package appclient

import (
	"context"
	"fmt"

	"github.com/gotd/td/session"
)

// SessionStore persists opaque session blobs by id.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (string, bool, error)
	PutSession(ctx context.Context, id, data string) error
}

// SessionStorage adapts a SessionStore to the MTProto library's session.Storage.
type SessionStorage struct {
	store SessionStore
	id    string
}

var _ session.Storage = (*SessionStorage)(nil)

// NewSessionStorage returns storage for the session named id.
func NewSessionStorage(store SessionStore, id string) *SessionStorage {
	return &SessionStorage{store: store, id: id}
}

// LoadSession returns session.ErrNotFound when nothing was stored yet.
func (s *SessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, found, err := s.store.GetSession(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", s.id, err)
	}
	if !found || data == "" {
		return nil, session.ErrNotFound
	}
	return []byte(data), nil
}

func (s *SessionStorage) StoreSession(ctx context.Context, data []byte) error {
	if err := s.store.PutSession(ctx, s.id, string(data)); err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.id, err)
	}
	return nil
}
