package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Rod082213/teams-clone/models"
)

type ChatRepository interface {
	Create(ctx context.Context, name string, isGroup bool, participantIDs []string) (*models.Chat, error)
	FindByID(ctx context.Context, id string) (*models.Chat, error)
	FindPrivateBetween(ctx context.Context, userA, userB string) (*models.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]models.Chat, error)
	// TouchLastMessageAt advances the recency marker to at. It never moves
	// the marker backwards.
	TouchLastMessageAt(ctx context.Context, chatID string, at time.Time) error
	// Delete removes the chat with its participants, messages and their
	// read receipts in one transaction.
	Delete(ctx context.Context, chatID string) error
}

type GormChatRepo struct {
	db *gorm.DB
}

func NewGormChatRepo(db *gorm.DB) *GormChatRepo {
	return &GormChatRepo{db: db}
}

func (r *GormChatRepo) Create(ctx context.Context, name string, isGroup bool, participantIDs []string) (*models.Chat, error) {
	now := time.Now().UTC()
	chat := &models.Chat{
		ID:            uuid.NewString(),
		IsGroup:       isGroup,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	if isGroup {
		chat.Name = name
	}
	for _, id := range participantIDs {
		chat.Participants = append(chat.Participants, models.ChatParticipant{
			ChatID:   chat.ID,
			UserID:   id,
			JoinedAt: now,
		})
	}

	if err := r.db.WithContext(ctx).Create(chat).Error; err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return r.FindByID(ctx, chat.ID)
}

func (r *GormChatRepo) FindByID(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Preload("Participants.User").
		First(&chat, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}
	return &chat, nil
}

func (r *GormChatRepo) FindPrivateBetween(ctx context.Context, userA, userB string) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_participants pa ON pa.chat_id = chats.id AND pa.user_id = ?", userA).
		Joins("JOIN chat_participants pb ON pb.chat_id = chats.id AND pb.user_id = ?", userB).
		Where("chats.is_group = ?", false).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find private chat: %w", err)
	}
	return r.FindByID(ctx, chat.ID)
}

// ListForUser returns the user's chats, most recent activity first.
func (r *GormChatRepo) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.user_id = ?", userID).
		Preload("Participants.User").
		Order("chats.last_message_at desc").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (r *GormChatRepo) TouchLastMessageAt(ctx context.Context, chatID string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ? AND last_message_at < ?", chatID, at).
		Update("last_message_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to update last_message_at: %w", res.Error)
	}
	return nil
}

func (r *GormChatRepo) Delete(ctx context.Context, chatID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ofChat := tx.Model(&models.Message{}).Select("id").Where("chat_id = ?", chatID)
		if err := tx.Where("message_id IN (?)", ofChat).Delete(&models.ReadReceipt{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.ChatParticipant{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", chatID).Delete(&models.Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}
