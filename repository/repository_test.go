package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Rod082213/teams-clone/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func createUsers(t *testing.T, db *gorm.DB, names ...string) []*models.User {
	t.Helper()
	repo := NewGormUserRepo(db)
	var users []*models.User
	for _, n := range names {
		u, err := repo.Create(context.Background(), n, "hash")
		require.NoError(t, err)
		users = append(users, u)
	}
	return users
}

func seedMessage(t *testing.T, db *gorm.DB) (msg *models.Message, reader *models.User) {
	t.Helper()
	users := createUsers(t, db, "alice", "bob")
	ctx := context.Background()
	chat, err := NewGormChatRepo(db).Create(ctx, "", false, []string{users[0].ID, users[1].ID})
	require.NoError(t, err)
	msg, err = NewGormMessageRepo(db).Create(ctx, &models.Message{ChatID: chat.ID, SenderID: users[0].ID, Content: "hi", MessageType: models.MessageTypeText})
	require.NoError(t, err)
	return msg, users[1]
}

func TestUserRepo_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormUserRepo(db)
	ctx := context.Background()

	u, err := repo.Create(ctx, "alice", "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = repo.Create(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrDuplicate)

	byName, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRepo_CreateAssignsIdentity(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob")
	chats := NewGormChatRepo(db)
	msgs := NewGormMessageRepo(db)
	ctx := context.Background()

	chat, err := chats.Create(ctx, "", false, []string{users[0].ID, users[1].ID})
	require.NoError(t, err)

	in := &models.Message{ID: "client-chosen", ChatID: chat.ID, SenderID: users[0].ID, Content: "hi", MessageType: models.MessageTypeText}
	saved, err := msgs.Create(ctx, in)
	require.NoError(t, err)

	assert.NotEqual(t, "client-chosen", saved.ID, "id is assigned by the store")
	assert.False(t, saved.CreatedAt.IsZero())
	require.NotNil(t, saved.Sender)
	assert.Equal(t, "alice", saved.Sender.Username)
	assert.Equal(t, "client-chosen", in.ID, "input is not mutated")
}

func TestMessageRepo_ListByChatOrderedWithReceipts(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob")
	chats := NewGormChatRepo(db)
	msgs := NewGormMessageRepo(db)
	receipts := NewGormReceiptRepo(db)
	ctx := context.Background()

	chat, err := chats.Create(ctx, "", false, []string{users[0].ID, users[1].ID})
	require.NoError(t, err)

	first, err := msgs.Create(ctx, &models.Message{ChatID: chat.ID, SenderID: users[0].ID, Content: "one", MessageType: models.MessageTypeText})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = msgs.Create(ctx, &models.Message{ChatID: chat.ID, SenderID: users[1].ID, Content: "two", MessageType: models.MessageTypeText})
	require.NoError(t, err)

	_, err = receipts.CreateIfAbsent(ctx, &models.ReadReceipt{MessageID: first.ID, UserID: users[1].ID, ReadAt: time.Now()})
	require.NoError(t, err)

	list, err := msgs.ListByChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "one", list[0].Content)
	assert.Equal(t, "two", list[1].Content)
	require.Len(t, list[0].ReadReceipts, 1)
	require.NotNil(t, list[0].ReadReceipts[0].User)
	assert.Equal(t, "bob", list[0].ReadReceipts[0].User.Username)

	latest, err := msgs.LatestByChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", latest.Content)
}

func TestReceiptRepo_CreateIfAbsentIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormReceiptRepo(db)
	ctx := context.Background()
	msg, reader := seedMessage(t, db)

	rr := &models.ReadReceipt{MessageID: msg.ID, UserID: reader.ID, ReadAt: time.Now()}

	created, err := repo.CreateIfAbsent(ctx, rr)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, rr)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestReceiptRepo_ConcurrentInsertsCreateOneRow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormReceiptRepo(db)
	ctx := context.Background()
	msg, reader := seedMessage(t, db)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := repo.CreateIfAbsent(ctx, &models.ReadReceipt{MessageID: msg.ID, UserID: reader.ID, ReadAt: time.Now()})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	var count int64
	require.NoError(t, db.Model(&models.ReadReceipt{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, winners)
}

func TestChatRepo_TouchLastMessageAtIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob")
	repo := NewGormChatRepo(db)
	ctx := context.Background()

	chat, err := repo.Create(ctx, "", false, []string{users[0].ID, users[1].ID})
	require.NoError(t, err)

	later := chat.LastMessageAt.Add(time.Minute)
	require.NoError(t, repo.TouchLastMessageAt(ctx, chat.ID, later))
	require.NoError(t, repo.TouchLastMessageAt(ctx, chat.ID, later.Add(-30*time.Second)))

	got, err := repo.FindByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, got.LastMessageAt.Equal(later), "marker never moves backwards, got %v", got.LastMessageAt)
}

func TestChatRepo_ListForUserByRecency(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob", "carol")
	repo := NewGormChatRepo(db)
	ctx := context.Background()

	ab, err := repo.Create(ctx, "", false, []string{users[0].ID, users[1].ID})
	require.NoError(t, err)
	ac, err := repo.Create(ctx, "", false, []string{users[0].ID, users[2].ID})
	require.NoError(t, err)
	group, err := repo.Create(ctx, "team", true, []string{users[1].ID, users[2].ID})
	require.NoError(t, err)

	require.NoError(t, repo.TouchLastMessageAt(ctx, ab.ID, time.Now().UTC().Add(time.Hour)))

	chats, err := repo.ListForUser(ctx, users[0].ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, ab.ID, chats[0].ID)
	assert.Equal(t, ac.ID, chats[1].ID)
	assert.Len(t, chats[0].Participants, 2)

	for _, c := range chats {
		assert.NotEqual(t, group.ID, c.ID, "chats without the user are excluded")
	}
}

func TestChatRepo_FindPrivateBetween(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob", "carol")
	repo := NewGormChatRepo(db)
	ctx := context.Background()

	chat, err := repo.Create(ctx, "", false, []string{users[0].ID, users[1].ID})
	require.NoError(t, err)

	found, err := repo.FindPrivateBetween(ctx, users[1].ID, users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, found.ID)

	_, err = repo.FindPrivateBetween(ctx, users[0].ID, users[2].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMembershipRepo(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob", "carol")
	chats := NewGormChatRepo(db)
	repo := NewGormMembershipRepo(db)
	ctx := context.Background()

	chat, err := chats.Create(ctx, "", false, []string{users[0].ID, users[1].ID})
	require.NoError(t, err)

	ok, err := repo.IsMember(ctx, chat.ID, users[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsMember(ctx, chat.ID, users[2].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := repo.MemberIDs(ctx, chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{users[0].ID, users[1].ID}, ids)
}

func TestChatRepo_DeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	msg, reader := seedMessage(t, db)
	ctx := context.Background()
	repo := NewGormChatRepo(db)

	// a second chat whose rows must survive
	other, err := repo.Create(ctx, "team", true, []string{msg.SenderID, reader.ID})
	require.NoError(t, err)
	kept, err := NewGormMessageRepo(db).Create(ctx, &models.Message{ChatID: other.ID, SenderID: reader.ID, Content: "still here", MessageType: models.MessageTypeText})
	require.NoError(t, err)

	receipts := NewGormReceiptRepo(db)
	_, err = receipts.CreateIfAbsent(ctx, &models.ReadReceipt{MessageID: msg.ID, UserID: reader.ID, ReadAt: time.Now().UTC()})
	require.NoError(t, err)
	_, err = receipts.CreateIfAbsent(ctx, &models.ReadReceipt{MessageID: kept.ID, UserID: msg.SenderID, ReadAt: time.Now().UTC()})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, msg.ChatID))

	_, err = repo.FindByID(ctx, msg.ChatID)
	assert.ErrorIs(t, err, ErrNotFound)

	count := func(model any, query string, args ...any) int64 {
		var n int64
		require.NoError(t, db.Model(model).Where(query, args...).Count(&n).Error)
		return n
	}
	assert.Zero(t, count(&models.Message{}, "chat_id = ?", msg.ChatID))
	assert.Zero(t, count(&models.ChatParticipant{}, "chat_id = ?", msg.ChatID))
	assert.Zero(t, count(&models.ReadReceipt{}, "message_id = ?", msg.ID))
	assert.Equal(t, int64(1), count(&models.Message{}, "chat_id = ?", other.ID))
	assert.Equal(t, int64(1), count(&models.ReadReceipt{}, "message_id = ?", kept.ID))

	assert.ErrorIs(t, repo.Delete(ctx, msg.ChatID), ErrNotFound)
}

func TestUserRepo_UpdateProfile(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob")
	repo := NewGormUserRepo(db)
	ctx := context.Background()

	u, err := repo.UpdateProfile(ctx, users[0].ID, "alicia", "")
	require.NoError(t, err)
	assert.Equal(t, "alicia", u.Username)

	u, err = repo.UpdateProfile(ctx, users[0].ID, "", "http://cdn/a.png")
	require.NoError(t, err)
	assert.Equal(t, "alicia", u.Username)
	assert.Equal(t, "http://cdn/a.png", u.AvatarURL)

	// keeping one's own name is not a conflict
	_, err = repo.UpdateProfile(ctx, users[0].ID, "alicia", "")
	require.NoError(t, err)

	_, err = repo.UpdateProfile(ctx, users[0].ID, "bob", "")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = repo.UpdateProfile(ctx, "missing", "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlockRepo(t *testing.T) {
	db := setupTestDB(t)
	users := createUsers(t, db, "alice", "bob", "carol")
	repo := NewGormBlockRepo(db)
	ctx := context.Background()

	b, err := repo.Create(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	assert.Equal(t, users[1].ID, b.BlockedID)

	_, err = repo.Create(ctx, users[0].ID, users[1].ID)
	assert.ErrorIs(t, err, ErrDuplicate)

	blocked, err := repo.BlockedBetween(ctx, users[1].ID, users[0].ID)
	require.NoError(t, err)
	assert.True(t, blocked, "either direction counts")

	blocked, err = repo.BlockedBetween(ctx, users[0].ID, users[2].ID)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, repo.Delete(ctx, users[0].ID, users[1].ID))
	assert.ErrorIs(t, repo.Delete(ctx, users[0].ID, users[1].ID), ErrNotFound)

	blocked, err = repo.BlockedBetween(ctx, users[0].ID, users[1].ID)
	require.NoError(t, err)
	assert.False(t, blocked)
}
