package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Rod082213/teams-clone/config"
	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/repository"
)

type broadcastCall struct {
	chatID  string
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	calls  []broadcastCall
	closed []string
}

func (f *fakeBroadcaster) CloseRoom(chatID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, chatID)
	return 0
}

func (f *fakeBroadcaster) Broadcast(chatID, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{chatID: chatID, event: event, payload: payload})
	return 1
}

func (f *fakeBroadcaster) events(event string) []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []broadcastCall
	for _, c := range f.calls {
		if c.event == event {
			out = append(out, c)
		}
	}
	return out
}

type failingMessageRepo struct {
	repository.MessageRepository
}

func (failingMessageRepo) Create(context.Context, *models.Message) (*models.Message, error) {
	return nil, errors.New("disk full")
}

type failingTouchRepo struct {
	repository.ChatRepository
	touched chan struct{}
}

func (r failingTouchRepo) TouchLastMessageAt(context.Context, string, time.Time) error {
	close(r.touched)
	return errors.New("database is locked")
}

type fixture struct {
	db     *gorm.DB
	cfg    *config.Config
	hub    *fakeBroadcaster
	users  repository.UserRepository
	chats  repository.ChatRepository
	msgs   repository.MessageRepository
	mem    repository.MembershipRepository
	blocks repository.BlockRepository

	alice, bob, carol *models.User
	chat              *models.Chat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := repository.Open(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close(db) })

	f := &fixture{
		db:     db,
		cfg:    &config.Config{MaxMessageLength: 1000, JWTSecret: "test", JWTExpiry: 1},
		hub:    &fakeBroadcaster{},
		users:  repository.NewGormUserRepo(db),
		chats:  repository.NewGormChatRepo(db),
		msgs:   repository.NewGormMessageRepo(db),
		mem:    repository.NewGormMembershipRepo(db),
		blocks: repository.NewGormBlockRepo(db),
	}
	ctx := context.Background()
	for _, u := range []struct {
		dst  **models.User
		name string
	}{{&f.alice, "alice"}, {&f.bob, "bob"}, {&f.carol, "carol"}} {
		created, err := f.users.Create(ctx, u.name, "hash")
		require.NoError(t, err)
		*u.dst = created
	}
	f.chat, err = f.chats.Create(ctx, "", false, []string{f.alice.ID, f.bob.ID})
	require.NoError(t, err)
	return f
}

func (f *fixture) messageService(t *testing.T) *MessageService {
	t.Helper()
	return NewMessageService(f.msgs, f.chats, f.mem, f.blocks, f.hub, f.cfg, zerolog.Nop())
}

func (f *fixture) chatService(t *testing.T) *ChatService {
	t.Helper()
	return NewChatService(f.chats, f.users, f.msgs, f.mem, f.blocks, f.hub)
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestMessageService_SubmitBroadcastsAuthoritativeRecord(t *testing.T) {
	f := newFixture(t)
	svc := f.messageService(t)

	saved, err := svc.Submit(context.Background(), SubmitRequest{
		ConnUserID: f.alice.ID,
		ChatID:     f.chat.ID,
		SenderID:   f.alice.ID,
		Content:    "hi",
		Type:       models.MessageTypeText,
		TempID:     "temp_text_1_abc",
	})
	require.NoError(t, err)
	svc.Wait()

	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	calls := f.hub.events(models.EventMessageReceived)
	require.Len(t, calls, 1)
	assert.Equal(t, f.chat.ID, calls[0].chatID)
	payload := calls[0].payload.(models.MessageReceivedPayload)
	assert.Equal(t, "temp_text_1_abc", payload.TempID)
	assert.Equal(t, saved.ID, payload.ID)
	require.NotNil(t, payload.Sender)
	assert.Equal(t, "alice", payload.Sender.Username)

	chat, err := f.chats.FindByID(context.Background(), f.chat.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, saved.CreatedAt, chat.LastMessageAt, time.Millisecond)
}

func TestMessageService_SubmitRejects(t *testing.T) {
	f := newFixture(t)
	svc := f.messageService(t)
	long := make([]byte, 1001)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		req  SubmitRequest
		kind string
	}{
		{
			name: "unauthenticated connection",
			req:  SubmitRequest{ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText},
			kind: models.ErrorKindAuthorization,
		},
		{
			name: "sender mismatch",
			req:  SubmitRequest{ConnUserID: f.bob.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText},
			kind: models.ErrorKindAuthorization,
		},
		{
			name: "missing chat id",
			req:  SubmitRequest{ConnUserID: f.alice.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText},
			kind: models.ErrorKindValidation,
		},
		{
			name: "image without url",
			req:  SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Type: models.MessageTypeImage},
			kind: models.ErrorKindValidation,
		},
		{
			name: "empty text",
			req:  SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Type: models.MessageTypeText},
			kind: models.ErrorKindValidation,
		},
		{
			name: "too long",
			req:  SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: string(long), Type: models.MessageTypeText},
			kind: models.ErrorKindValidation,
		},
		{
			name: "unknown type",
			req:  SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: "video"},
			kind: models.ErrorKindValidation,
		},
		{
			name: "unknown chat",
			req:  SubmitRequest{ConnUserID: f.alice.ID, ChatID: "nope", SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText},
			kind: models.ErrorKindAuthorization,
		},
		{
			name: "not a participant",
			req:  SubmitRequest{ConnUserID: f.carol.ID, ChatID: f.chat.ID, SenderID: f.carol.ID, Content: "hi", Type: models.MessageTypeText},
			kind: models.ErrorKindAuthorization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ErrorKind(err))
		})
	}

	assert.Zero(t, countRows(t, f.db, &models.Message{}))
	assert.Empty(t, f.hub.events(models.EventMessageReceived))
}

func TestMessageService_ImageMessageKeepsURL(t *testing.T) {
	f := newFixture(t)
	svc := f.messageService(t)

	saved, err := svc.Submit(context.Background(), SubmitRequest{
		ConnUserID: f.bob.ID,
		ChatID:     f.chat.ID,
		SenderID:   f.bob.ID,
		Type:       models.MessageTypeImage,
		ImageURL:   "http://localhost/uploads/x.png",
	})
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, models.MessageTypeImage, saved.MessageType)
	assert.Equal(t, "http://localhost/uploads/x.png", saved.ImageURL)
	assert.Empty(t, saved.Content)
}

func TestMessageService_PersistenceFailureBroadcastsNothing(t *testing.T) {
	f := newFixture(t)
	svc := NewMessageService(failingMessageRepo{f.msgs}, f.chats, f.mem, f.blocks, f.hub, f.cfg, zerolog.Nop())

	_, err := svc.Submit(context.Background(), SubmitRequest{
		ConnUserID: f.alice.ID,
		ChatID:     f.chat.ID,
		SenderID:   f.alice.ID,
		Content:    "hi",
		Type:       models.MessageTypeText,
		TempID:     "t1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, models.ErrorKindPersistence, ErrorKind(err))

	svc.Wait()
	assert.Empty(t, f.hub.calls)
	assert.Zero(t, countRows(t, f.db, &models.Message{}))
}

func TestMessageService_RecencyFailureKeepsMessage(t *testing.T) {
	f := newFixture(t)
	touched := make(chan struct{})
	svc := NewMessageService(f.msgs, failingTouchRepo{ChatRepository: f.chats, touched: touched}, f.mem, f.blocks, f.hub, f.cfg, zerolog.Nop())

	saved, err := svc.Submit(context.Background(), SubmitRequest{
		ConnUserID: f.alice.ID,
		ChatID:     f.chat.ID,
		SenderID:   f.alice.ID,
		Content:    "hi",
		Type:       models.MessageTypeText,
	})
	require.NoError(t, err)
	svc.Wait()

	select {
	case <-touched:
	default:
		t.Fatal("recency update was not attempted")
	}

	stored, err := f.msgs.FindByID(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Content)
	assert.Len(t, f.hub.events(models.EventMessageReceived), 1)
}

func TestMessageService_ListRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	svc := f.messageService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "one", Type: models.MessageTypeText})
	require.NoError(t, err)
	svc.Wait()

	msgs, err := svc.List(ctx, f.chat.ID, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Content)

	_, err = svc.List(ctx, f.chat.ID, f.carol.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestReceiptService_MarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	msgSvc := f.messageService(t)
	ctx := context.Background()
	msg, err := msgSvc.Submit(ctx, SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText})
	require.NoError(t, err)
	msgSvc.Wait()

	svc := NewReceiptService(repository.NewGormReceiptRepo(f.db), f.msgs, f.users, f.hub, zerolog.Nop())
	req := MarkReadRequest{ConnUserID: f.bob.ID, MessageID: msg.ID, ReaderID: f.bob.ID, ChatID: f.chat.ID}

	created, err := svc.MarkRead(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.MarkRead(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)

	updates := f.hub.events(models.EventReadReceiptUpdate)
	require.Len(t, updates, 1)
	p := updates[0].payload.(models.ReadReceiptUpdatePayload)
	assert.Equal(t, msg.ID, p.MessageID)
	assert.Equal(t, f.bob.ID, p.UserID)
	assert.Equal(t, "bob", p.Username)
	assert.Equal(t, int64(1), countRows(t, f.db, &models.ReadReceipt{}))
}

func TestReceiptService_ConcurrentMarkReadBroadcastsOnce(t *testing.T) {
	f := newFixture(t)
	msgSvc := f.messageService(t)
	ctx := context.Background()
	msg, err := msgSvc.Submit(ctx, SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText})
	require.NoError(t, err)
	msgSvc.Wait()

	svc := NewReceiptService(repository.NewGormReceiptRepo(f.db), f.msgs, f.users, f.hub, zerolog.Nop())
	req := MarkReadRequest{ConnUserID: f.bob.ID, MessageID: msg.ID, ReaderID: f.bob.ID, ChatID: f.chat.ID}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkRead(ctx, req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.hub.events(models.EventReadReceiptUpdate), 1)
	assert.Equal(t, int64(1), countRows(t, f.db, &models.ReadReceipt{}))
}

func TestReceiptService_MarkReadRejects(t *testing.T) {
	f := newFixture(t)
	msgSvc := f.messageService(t)
	ctx := context.Background()
	msg, err := msgSvc.Submit(ctx, SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText})
	require.NoError(t, err)
	msgSvc.Wait()

	svc := NewReceiptService(repository.NewGormReceiptRepo(f.db), f.msgs, f.users, f.hub, zerolog.Nop())

	tests := []struct {
		name string
		req  MarkReadRequest
		kind string
	}{
		{"reader mismatch", MarkReadRequest{ConnUserID: f.alice.ID, MessageID: msg.ID, ReaderID: f.bob.ID, ChatID: f.chat.ID}, models.ErrorKindAuthorization},
		{"unauthenticated", MarkReadRequest{MessageID: msg.ID, ReaderID: f.bob.ID, ChatID: f.chat.ID}, models.ErrorKindAuthorization},
		{"missing message", MarkReadRequest{ConnUserID: f.bob.ID, ReaderID: f.bob.ID, ChatID: f.chat.ID}, models.ErrorKindValidation},
		{"unknown message", MarkReadRequest{ConnUserID: f.bob.ID, MessageID: "nope", ReaderID: f.bob.ID, ChatID: f.chat.ID}, models.ErrorKindValidation},
		{"wrong chat", MarkReadRequest{ConnUserID: f.bob.ID, MessageID: msg.ID, ReaderID: f.bob.ID, ChatID: "other"}, models.ErrorKindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MarkRead(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ErrorKind(err))
		})
	}
	assert.Empty(t, f.hub.events(models.EventReadReceiptUpdate))
}

func TestChatService_CreatePrivateReusesExisting(t *testing.T) {
	f := newFixture(t)
	svc := f.chatService(t)
	ctx := context.Background()

	chat, created, err := svc.CreateChat(ctx, f.bob.ID, "", false, []string{f.alice.ID})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.chat.ID, chat.ID)

	chat, created, err = svc.CreateChat(ctx, f.alice.ID, "", false, []string{f.carol.ID, f.alice.ID})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, chat.Participants, 2)
}

func TestChatService_CreateRejects(t *testing.T) {
	f := newFixture(t)
	svc := f.chatService(t)

	tests := []struct {
		name    string
		isGroup bool
		ids     []string
	}{
		{"private with three", false, []string{f.bob.ID, f.carol.ID}},
		{"private with self only", false, []string{f.alice.ID}},
		{"unknown user", false, []string{"ghost"}},
		{"blank id", true, []string{" "}},
		{"group alone", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.CreateChat(context.Background(), f.alice.ID, "team", tt.isGroup, tt.ids)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestChatService_ListChatsAttachesLatestMessage(t *testing.T) {
	f := newFixture(t)
	chatSvc := f.chatService(t)
	msgSvc := f.messageService(t)
	ctx := context.Background()

	group, _, err := chatSvc.CreateChat(ctx, f.alice.ID, "team", true, []string{f.bob.ID, f.carol.ID})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, err = msgSvc.Submit(ctx, SubmitRequest{ConnUserID: f.bob.ID, ChatID: f.chat.ID, SenderID: f.bob.ID, Content: "latest", Type: models.MessageTypeText})
	require.NoError(t, err)
	msgSvc.Wait()

	chats, err := chatSvc.ListChats(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, f.chat.ID, chats[0].ID)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "latest", chats[0].LastMessage.Content)
	assert.Equal(t, group.ID, chats[1].ID)
	assert.Nil(t, chats[1].LastMessage)

	ok, err := chatSvc.CanAccess(ctx, group.ID, f.carol.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = chatSvc.CanAccess(ctx, f.chat.ID, f.carol.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatService_DeleteChat(t *testing.T) {
	f := newFixture(t)
	svc := f.chatService(t)
	msgSvc := f.messageService(t)
	ctx := context.Background()

	_, err := msgSvc.Submit(ctx, SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText})
	require.NoError(t, err)
	msgSvc.Wait()

	assert.ErrorIs(t, svc.DeleteChat(ctx, f.chat.ID, f.carol.ID), ErrUnauthorized)
	assert.ErrorIs(t, svc.DeleteChat(ctx, "nope", f.alice.ID), ErrNotFound)

	require.NoError(t, svc.DeleteChat(ctx, f.chat.ID, f.bob.ID))
	assert.Zero(t, countRows(t, f.db, &models.Message{}))
	assert.Zero(t, countRows(t, f.db, &models.Chat{}))
	assert.Zero(t, countRows(t, f.db, &models.ChatParticipant{}))

	deleted := f.hub.events(models.EventChatDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, models.ChatRefPayload{ChatID: f.chat.ID}, deleted[0].payload)
	assert.Equal(t, []string{f.chat.ID}, f.hub.closed)

	assert.ErrorIs(t, svc.DeleteChat(ctx, f.chat.ID, f.bob.ID), ErrNotFound)
}

func TestBlockService(t *testing.T) {
	f := newFixture(t)
	svc := NewBlockService(f.blocks, f.users)
	ctx := context.Background()

	var ve *ValidationError
	_, err := svc.Block(ctx, f.alice.ID, f.alice.ID)
	assert.ErrorAs(t, err, &ve)
	_, err = svc.Block(ctx, f.alice.ID, "")
	assert.ErrorAs(t, err, &ve)
	_, err = svc.Block(ctx, f.alice.ID, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	b, err := svc.Block(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, b.BlockedID)
	_, err = svc.Block(ctx, f.alice.ID, f.bob.ID)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, svc.Unblock(ctx, f.alice.ID, f.bob.ID))
	assert.ErrorIs(t, svc.Unblock(ctx, f.alice.ID, f.bob.ID), ErrNotFound)
}

func TestBlockService_BlockHidesPrivateChatAndStopsMessages(t *testing.T) {
	f := newFixture(t)
	blocks := NewBlockService(f.blocks, f.users)
	chatSvc := f.chatService(t)
	msgSvc := f.messageService(t)
	ctx := context.Background()

	group, _, err := chatSvc.CreateChat(ctx, f.alice.ID, "team", true, []string{f.bob.ID})
	require.NoError(t, err)

	_, err = blocks.Block(ctx, f.bob.ID, f.alice.ID)
	require.NoError(t, err)

	chats, err := chatSvc.ListChats(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, group.ID, chats[0].ID, "group chats stay listed")

	_, err = msgSvc.Submit(ctx, SubmitRequest{ConnUserID: f.alice.ID, ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = msgSvc.Submit(ctx, SubmitRequest{ConnUserID: f.alice.ID, ChatID: group.ID, SenderID: f.alice.ID, Content: "hi", Type: models.MessageTypeText})
	require.NoError(t, err)
	msgSvc.Wait()

	_, _, err = chatSvc.CreateChat(ctx, f.alice.ID, "", false, []string{f.bob.ID})
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, blocks.Unblock(ctx, f.bob.ID, f.alice.ID))
	chats, err = chatSvc.ListChats(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 2)
}

func TestProfileService_UpdateProfile(t *testing.T) {
	f := newFixture(t)
	store := &memStore{}
	svc := NewProfileService(f.users, NewUploadService(store, 5<<20, zerolog.Nop()))
	ctx := context.Background()

	var ve *ValidationError
	_, err := svc.UpdateProfile(ctx, f.alice.ID, "", nil)
	assert.ErrorAs(t, err, &ve)
	_, err = svc.UpdateProfile(ctx, f.alice.ID, "al", nil)
	assert.ErrorAs(t, err, &ve)
	_, err = svc.UpdateProfile(ctx, f.alice.ID, "", append(append([]byte{}, pngHeader...), make([]byte, MaxAvatarBytes)...))
	assert.ErrorAs(t, err, &ve)
	_, err = svc.UpdateProfile(ctx, f.alice.ID, "", []byte("plain text, not an image"))
	assert.ErrorAs(t, err, &ve)

	_, err = svc.UpdateProfile(ctx, f.alice.ID, "bob", nil)
	assert.ErrorIs(t, err, ErrConflict)

	u, err := svc.UpdateProfile(ctx, f.alice.ID, " alicia ", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "alicia", u.Username)
	assert.NotEmpty(t, u.AvatarURL)
	require.Len(t, store.objects, 1)

	_, err = svc.UpdateProfile(ctx, "ghost", "ghosty", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
