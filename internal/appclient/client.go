// Package appclient runs an MTProto client authenticated as the bot. It is used
// for operations the Bot API does not offer, such as resolving a username to a
// user id, and for sending messages outside the update loop.
package appclient

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

var (
	// ErrNotReady is returned by calls made before the client finished connecting.
	ErrNotReady = errors.New("app client is not ready")
	// ErrNotUser is returned when a username resolves to something other than a user.
	ErrNotUser = errors.New("username does not belong to a user")
)

// rawAPI is the subset of the MTProto API the client calls.
type rawAPI interface {
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
}

// Options configures a Client.
type Options struct {
	AppID    int
	AppHash  string
	BotToken string
	Storage  *SessionStorage
	Logger   *slog.Logger
	// ZapLogger receives the MTProto library's own logs.
	ZapLogger *zap.Logger
}

// Client is safe for concurrent use.
type Client struct {
	tgClient *telegram.Client
	botToken string
	logger   *slog.Logger

	mu     sync.RWMutex
	api    rawAPI
	hashes map[int64]int64

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates a Client. Nothing connects until Run is called.
func New(opts Options) (*Client, error) {
	if opts.AppID == 0 || opts.AppHash == "" {
		return nil, fmt.Errorf("app id and app hash are required")
	}
	if opts.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("session storage is required")
	}

	zl := opts.ZapLogger
	if zl == nil {
		zl = zap.NewNop()
	}

	c := newClient(opts.Logger)
	c.botToken = opts.BotToken
	c.tgClient = telegram.NewClient(opts.AppID, opts.AppHash, telegram.Options{
		SessionStorage: opts.Storage,
		Logger:         zl.Named("mtproto"),
		NoUpdates:      true,
	})
	return c, nil
}

func newClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		logger: logger.With("component", "app_client"),
		hashes: make(map[int64]int64),
		ready:  make(chan struct{}),
	}
}

// Run connects, authenticates as the bot when the stored session is not
// authorized, and blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c.tgClient.Run(ctx, func(ctx context.Context) error {
		status, err := c.tgClient.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to check auth status: %w", err)
		}
		if !status.Authorized {
			c.logger.InfoContext(ctx, "Session not authorized, signing in as bot")
			if _, err := c.tgClient.Auth().Bot(ctx, c.botToken); err != nil {
				return fmt.Errorf("bot sign-in failed: %w", err)
			}
		}

		c.setAPI(c.tgClient.API())
		c.logger.InfoContext(ctx, "App client ready")

		<-ctx.Done()
		c.setAPI(nil)
		return ctx.Err()
	})
}

// Ready is closed once the client can serve calls for the first time.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) setAPI(api rawAPI) {
	c.mu.Lock()
	c.api = api
	c.mu.Unlock()

	if api != nil {
		c.readyOnce.Do(func() { close(c.ready) })
	}
}

func (c *Client) currentAPI() (rawAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.api == nil {
		return nil, ErrNotReady
	}
	return c.api, nil
}

// SendMessage sends text to the peer with the given Bot API id, with link
// previews disabled.
func (c *Client) SendMessage(ctx context.Context, peerID int64, text string) error {
	if peerID == 0 {
		return fmt.Errorf("invalid peer id 0")
	}
	api, err := c.currentAPI()
	if err != nil {
		return err
	}

	randomID, err := crypto.RandInt64(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate random id: %w", err)
	}

	c.mu.RLock()
	hash := c.hashes[peerID]
	c.mu.RUnlock()

	if _, err := api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:      inputPeer(peerID, hash),
		Message:   text,
		NoWebpage: true,
		RandomID:  randomID,
	}); err != nil {
		return fmt.Errorf("failed to send message to %d: %w", peerID, err)
	}

	c.logger.InfoContext(ctx, "Message sent", "peer_id", peerID, "length", len(text))
	return nil
}

// ResolveUserID returns the user id behind username (with or without a leading @).
func (c *Client) ResolveUserID(ctx context.Context, username string) (int64, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return 0, fmt.Errorf("username is empty")
	}
	api, err := c.currentAPI()
	if err != nil {
		return 0, err
	}

	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve username %s: %w", username, err)
	}
	c.rememberHashes(resolved)

	peer, ok := resolved.Peer.(*tg.PeerUser)
	if !ok {
		return 0, fmt.Errorf("%s: %w", username, ErrNotUser)
	}
	return peer.UserID, nil
}

// rememberHashes keeps access hashes from resolved entities so later sends to
// them carry a valid hash.
func (c *Client) rememberHashes(resolved *tg.ContactsResolvedPeer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok {
			c.hashes[user.ID] = user.AccessHash
		}
	}
	for _, ch := range resolved.Chats {
		if channel, ok := ch.(*tg.Channel); ok {
			c.hashes[-channelIDOffset-channel.ID] = channel.AccessHash
		}
	}
}
