package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Rod082213/teams-clone/models"
)

type MembershipRepository interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
}

type GormMembershipRepo struct {
	db *gorm.DB
}

func NewGormMembershipRepo(db *gorm.DB) *GormMembershipRepo {
	return &GormMembershipRepo{db: db}
}

func (r *GormMembershipRepo) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

func (r *GormMembershipRepo) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Order("joined_at asc").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return ids, nil
}
