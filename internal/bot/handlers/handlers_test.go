package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/talebot/internal/ai"
	"github.com/edgard/talebot/internal/config"
	"github.com/edgard/talebot/internal/conversation"
	"github.com/edgard/talebot/internal/database"
	"github.com/edgard/talebot/internal/identity"
)

const (
	testToken = "123456:TEST"
	botUserID = 999
)

type sentMessage struct {
	ChatID int64
	Text   string
}

// fakeTelegram is a minimal Bot API server. Sent messages get ids from 1000 up
// and dates from the shared clock.
type fakeTelegram struct {
	mu     sync.Mutex
	sent   []sentMessage
	nextID int
	clock  *atomic.Int64
	// failSend makes sendMessage answer with a Bot API error.
	failSend atomic.Bool
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch path.Base(r.URL.Path) {
	case "sendMessage":
		if f.failSend.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":          false,
				"error_code":  400,
				"description": "Bad Request: chat not found",
			})
			return
		}
		chatID, _ := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
		text := r.FormValue("text")

		f.mu.Lock()
		f.nextID++
		id := 1000 + f.nextID
		f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": id,
				"date":       f.clock.Add(1),
				"chat":       map[string]any{"id": chatID, "type": "private"},
				"from":       map[string]any{"id": botUserID, "is_bot": true, "first_name": "Tale"},
				"text":       text,
			},
		})
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
	}
}

func (f *fakeTelegram) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	greeting string
	err      error
	turns    []conversation.Turn
}

func (f *fakeGenerator) Generate(_ context.Context, turns []conversation.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = turns
	return f.reply, f.err
}

func (f *fakeGenerator) GenerateGreeting(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.greeting + ", " + name, nil
}

type fakeAppClient struct {
	sentTo []int64
	userID int64
	err    error
}

func (f *fakeAppClient) SendMessage(_ context.Context, peerID int64, _ string) error {
	f.sentTo = append(f.sentTo, peerID)
	return f.err
}

func (f *fakeAppClient) ResolveUserID(context.Context, string) (int64, error) {
	return f.userID, f.err
}

type harness struct {
	clock atomic.Int64
	bot   *tgbot.Bot
	tg    *fakeTelegram
	store database.Store
	gen   *fakeGenerator
	deps  HandlerDeps
}

func testConfig() *config.Config {
	return &config.Config{
		Messages: config.MessagesConfig{
			NotAuthorized:        "You are not authorized to use this command.",
			ProvideID:            "Please provide an ID.",
			ProvideUsername:      "Please provide a username.",
			ProvideMessage:       "Please provide a message.",
			GenerationError:      "Sorry, no reply.",
			AppClientUnavailable: "Secondary client unavailable.",
			GeneralError:         "Something went wrong.",
		},
	}
}

func newHarness(t *testing.T, app AppClient) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, logger)
	resolver := identity.NewResolver(store, logger)

	botIdentity, err := resolver.User(ctx, &models.User{ID: botUserID, IsBot: true, FirstName: "Tale"})
	if err != nil {
		t.Fatalf("resolve bot identity: %v", err)
	}

	gen := &fakeGenerator{reply: "a generated reply", greeting: "Hello"}
	deps := HandlerDeps{
		Logger:      logger,
		Config:      testConfig(),
		Store:       store,
		Resolver:    resolver,
		Builder:     conversation.NewBuilder(store, 10, botIdentity.ExternalID),
		Generator:   gen,
		AppClient:   app,
		BotIdentity: botIdentity,
	}

	h := &harness{store: store, gen: gen, deps: deps}
	h.clock.Store(time.Now().Unix())
	h.tg = &fakeTelegram{clock: &h.clock}
	srv := httptest.NewServer(h.tg)
	t.Cleanup(srv.Close)

	b, err := tgbot.New(testToken,
		tgbot.WithServerURL(srv.URL),
		tgbot.WithSkipGetMe(),
		tgbot.WithNotAsyncHandlers(),
		tgbot.WithDefaultHandler(NewMessageHandler(deps)),
	)
	if err != nil {
		t.Fatalf("bot.New() error = %v", err)
	}
	for _, rh := range RegisterAllCommands(deps) {
		h := rh.Handler
		for i := len(rh.Middleware) - 1; i >= 0; i-- {
			h = rh.Middleware[i](h)
		}
		b.RegisterHandler(rh.HandlerType, rh.Pattern, rh.MatchType, h)
	}

	h.bot = b
	return h
}

// text builds a message update dated after everything seen so far.
func (h *harness) text(chatID, fromID int64, messageID int, text string) *models.Update {
	msg := &models.Message{
		ID:   messageID,
		Date: int(h.clock.Add(1)),
		Chat: models.Chat{ID: chatID, Type: models.ChatTypePrivate, FirstName: "Ada"},
		From: &models.User{ID: fromID, FirstName: "Ada", LastName: "Lovelace"},
		Text: text,
	}
	if len(text) > 0 && text[0] == '/' {
		end := len(text)
		for i, r := range text {
			if r == ' ' {
				end = i
				break
			}
		}
		msg.Entities = []models.MessageEntity{{Type: models.MessageEntityTypeBotCommand, Offset: 0, Length: end}}
	}
	return &models.Update{ID: int64(messageID), Message: msg}
}

func (h *harness) process(upd *models.Update) {
	h.bot.ProcessUpdate(context.Background(), upd)
}

func (h *harness) chatMessages(t *testing.T, chatID int64) []database.Message {
	t.Helper()
	msgs, err := h.store.RecentMessagesByChat(context.Background(), chatID, 100)
	if err != nil {
		t.Fatalf("RecentMessagesByChat() error = %v", err)
	}
	return msgs
}

func (h *harness) makeAdmin(t *testing.T, userID int64) {
	t.Helper()
	if _, err := h.store.GrantAdmin(context.Background(), userID); err != nil {
		t.Fatalf("GrantAdmin() error = %v", err)
	}
}

func TestStartGreetsWithoutStoringInbound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.process(h.text(100, 7, 1, "/start"))

	sent := h.tg.messages()
	if len(sent) != 1 || sent[0].ChatID != 100 {
		t.Fatalf("sent = %+v, want one greeting to chat 100", sent)
	}
	if sent[0].Text != "Hello, Ada Lovelace" {
		t.Errorf("greeting = %q", sent[0].Text)
	}

	msgs := h.chatMessages(t, 100)
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs))
	}
	if !msgs[0].SenderUserID.Valid || msgs[0].SenderUserID.Int64 != botUserID {
		t.Errorf("stored sender = %+v, want bot", msgs[0].SenderUserID)
	}
	if msgs[0].MessageID == 1 {
		t.Error("inbound /start message was stored")
	}
}

func TestStartFallsBackOnGenerationError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gen.err = &ai.GenerationError{Op: "greeting", Err: errors.New("offline")}

	h.process(h.text(100, 7, 1, "/start"))

	sent := h.tg.messages()
	if len(sent) != 1 || sent[0].Text != "Welcome!" {
		t.Fatalf("sent = %+v, want fallback greeting", sent)
	}
}

func TestOrdinaryMessagePipeline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	h.process(h.text(100, 7, 2, "hello"))

	sent := h.tg.messages()
	if len(sent) != 1 || sent[0].Text != "a generated reply" {
		t.Fatalf("sent = %+v, want the generated reply", sent)
	}

	msgs := h.chatMessages(t, 100)
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want inbound and outbound", len(msgs))
	}
	var inbound, outbound *database.Message
	for i := range msgs {
		if msgs[i].MessageID == 2 {
			inbound = &msgs[i]
		} else {
			outbound = &msgs[i]
		}
	}
	if inbound == nil || inbound.SenderUserID.Int64 != 7 || inbound.Text.String != "hello" {
		t.Errorf("inbound = %+v", inbound)
	}
	if outbound == nil || outbound.SenderUserID.Int64 != botUserID || outbound.Text.String != "a generated reply" {
		t.Errorf("outbound = %+v", outbound)
	}

	turns := h.gen.turns
	if len(turns) < 2 {
		t.Fatalf("generator got %d turns", len(turns))
	}
	last := turns[len(turns)-1]
	if last.Role != conversation.RoleUser || last.Content != "hello" {
		t.Errorf("last turn = %+v, want live user message", last)
	}
	if turns[len(turns)-2].Content != "hello" {
		t.Errorf("stored copy of the live message missing from history: %+v", turns)
	}

	for _, key := range []struct {
		kind database.IdentityKind
		id   int64
	}{{database.KindChat, 100}, {database.KindUser, 7}} {
		if _, err := h.store.GetIdentity(ctx, key.kind, key.id); err != nil {
			t.Errorf("GetIdentity(%s, %d) error = %v", key.kind, key.id, err)
		}
	}
}

func TestOrdinaryMessageTagsBotHistoryAsAssistant(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.process(h.text(100, 7, 2, "first"))
	h.process(h.text(100, 7, 3, "second"))

	var roles []string
	for _, turn := range h.gen.turns {
		roles = append(roles, turn.Role)
	}
	want := []string{"user", "assistant", "user", "user"}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("roles = %v, want %v", roles, want)
			break
		}
	}
}

func TestGenerationErrorSendsApology(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.gen.err = &ai.GenerationError{Op: "generate", Err: errors.New("500")}

	h.process(h.text(100, 7, 2, "hello"))

	sent := h.tg.messages()
	if len(sent) != 1 || sent[0].Text != "Sorry, no reply." {
		t.Fatalf("sent = %+v, want apology", sent)
	}
	if msgs := h.chatMessages(t, 100); len(msgs) != 1 {
		t.Errorf("stored %d messages, want only the inbound one", len(msgs))
	}
}

func TestFailedUpdateDoesNotBlockNextOne(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	// message_id 0 is rejected by the store.
	h.process(h.text(100, 7, 0, "broken"))
	h.process(h.text(100, 7, 3, "next"))

	sent := h.tg.messages()
	if len(sent) != 1 || sent[0].Text != "a generated reply" {
		t.Fatalf("sent = %+v, want one reply to the second update", sent)
	}
	if last := h.gen.turns[len(h.gen.turns)-1]; last.Content != "next" {
		t.Errorf("last turn = %+v, want the second update", last)
	}
	if msgs := h.chatMessages(t, 100); len(msgs) != 2 {
		t.Errorf("stored %d messages, want the second update and its reply", len(msgs))
	}
}

func TestSendFailureKeepsInboundMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.tg.failSend.Store(true)

	h.process(h.text(100, 7, 2, "hello"))

	if sent := h.tg.messages(); len(sent) != 0 {
		t.Errorf("sent = %+v, want nothing delivered", sent)
	}
	msgs := h.chatMessages(t, 100)
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want only the inbound one", len(msgs))
	}
	if msgs[0].MessageID != 2 || msgs[0].SenderUserID.Int64 != 7 {
		t.Errorf("stored = %+v, want the inbound message", msgs[0])
	}

	h.tg.failSend.Store(false)
	h.process(h.text(100, 7, 3, "again"))
	if sent := h.tg.messages(); len(sent) != 1 {
		t.Errorf("sent = %+v, want a reply once sending recovers", sent)
	}
}

func TestNonTextUpdateIsDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	upd := h.text(100, 7, 2, "")
	upd.Message.Sticker = &models.Sticker{FileID: "sticker"}
	h.process(upd)
	h.process(&models.Update{ID: 9})

	if sent := h.tg.messages(); len(sent) != 0 {
		t.Errorf("sent = %+v, want nothing", sent)
	}
	if _, err := h.store.GetIdentity(context.Background(), database.KindChat, 100); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("chat identity created for non-text update: %v", err)
	}
}

func TestMakeAdminRequiresAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	h.process(h.text(100, 7, 2, "/makeadmin 8"))

	sent := h.tg.messages()
	if len(sent) != 1 || sent[0].Text != "You are not authorized to use this command." {
		t.Fatalf("sent = %+v, want denial", sent)
	}
	if _, err := h.store.GetIdentity(ctx, database.KindUser, 8); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("target identity exists after denied makeadmin: %v", err)
	}
	invoker, err := h.store.GetIdentity(ctx, database.KindUser, 7)
	if err != nil {
		t.Fatalf("GetIdentity(invoker) error = %v", err)
	}
	if invoker.IsAdmin {
		t.Error("invoker became admin")
	}
	if msgs := h.chatMessages(t, 100); len(msgs) != 1 {
		t.Errorf("stored %d messages, want the ingested command only", len(msgs))
	}
}

func TestMakeAdmin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	h.makeAdmin(t, 7)

	h.process(h.text(100, 7, 2, "/makeadmin 8"))
	h.process(h.text(100, 7, 3, "/makeadmin 8"))
	h.process(h.text(100, 7, 4, "/makeadmin"))
	h.process(h.text(100, 7, 5, "/makeadmin bob"))
	h.process(h.text(100, 7, 6, "/makeadmin -5"))

	target, err := h.store.GetIdentity(ctx, database.KindUser, 8)
	if err != nil {
		t.Fatalf("GetIdentity(target) error = %v", err)
	}
	if !target.IsAdmin {
		t.Error("target is not admin")
	}
	if negative, err := h.store.GetIdentity(ctx, database.KindUser, -5); err != nil || !negative.IsAdmin {
		t.Errorf("GetIdentity(-5) = %+v, %v, want admin", negative, err)
	}

	want := []string{
		"New user created and set as admin with ID: 8",
		"User with ID: 8 is now an admin.",
		"Please provide an ID.",
		"Please provide an ID.",
		"New user created and set as admin with ID: -5",
	}
	sent := h.tg.messages()
	if len(sent) != len(want) {
		t.Fatalf("sent = %+v", sent)
	}
	for i := range want {
		if sent[i].Text != want[i] {
			t.Errorf("reply %d = %q, want %q", i, sent[i].Text, want[i])
		}
	}
	if h.gen.turns != nil {
		t.Error("admin command triggered reply generation")
	}
}

func TestGetUserID(t *testing.T) {
	t.Parallel()
	app := &fakeAppClient{userID: 777}
	h := newHarness(t, app)
	h.makeAdmin(t, 7)

	h.process(h.text(100, 7, 2, "/getuserid @ada"))
	h.process(h.text(100, 7, 3, "/getuserid"))

	sent := h.tg.messages()
	if len(sent) != 2 || sent[0].Text != "User ID: 777" || sent[1].Text != "Please provide a username." {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestAdminHello(t *testing.T) {
	t.Parallel()
	app := &fakeAppClient{}
	h := newHarness(t, app)
	h.makeAdmin(t, 7)

	h.process(h.text(100, 7, 2, "/adminhello 42 good morning"))

	if len(app.sentTo) != 1 || app.sentTo[0] != 42 {
		t.Fatalf("app client sends = %v, want [42]", app.sentTo)
	}
	sent := h.tg.messages()
	if len(sent) != 1 || sent[0].Text != "Message sent to 42." {
		t.Errorf("sent = %+v", sent)
	}
}

func TestAdminCommandsWithoutAppClient(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.makeAdmin(t, 7)

	h.process(h.text(100, 7, 2, "/adminhello 42 hi"))
	h.process(h.text(100, 7, 3, "/getuserid ada"))

	for _, m := range h.tg.messages() {
		if m.Text != "Secondary client unavailable." {
			t.Errorf("reply = %q, want unavailable notice", m.Text)
		}
	}
}

func TestCommandArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{in: "/makeadmin", want: 0},
		{in: "/makeadmin 5", want: 1},
		{in: "/adminhello  5   hi there ", want: 3},
	}
	for _, tt := range tests {
		if got := commandArgs(tt.in); len(got) != tt.want {
			t.Errorf("commandArgs(%q) = %v, want %d args", tt.in, got, tt.want)
		}
	}
}

func TestEncodeReplyMarkup(t *testing.T) {
	t.Parallel()

	if got := encodeReplyMarkup(nil); got.Valid {
		t.Errorf("encodeReplyMarkup(nil) = %+v, want absent", got)
	}
	kb := models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{{{Text: "Visit", URL: "https://example.com"}}}}
	got := encodeReplyMarkup(kb)
	if !got.Valid || got.String == "" {
		t.Errorf("encodeReplyMarkup(keyboard) = %+v, want JSON", got)
	}
}
