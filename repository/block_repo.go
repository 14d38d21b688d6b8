package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Rod082213/teams-clone/models"
)

type BlockRepository interface {
	// Create records the block. ErrDuplicate means it already existed.
	Create(ctx context.Context, blockerID, blockedID string) (*models.Block, error)
	// Delete removes the block. ErrNotFound means there was none.
	Delete(ctx context.Context, blockerID, blockedID string) error
	// BlockedBetween reports whether either user blocked the other.
	BlockedBetween(ctx context.Context, userA, userB string) (bool, error)
}

type GormBlockRepo struct {
	db *gorm.DB
}

func NewGormBlockRepo(db *gorm.DB) *GormBlockRepo {
	return &GormBlockRepo{db: db}
}

func (r *GormBlockRepo) Create(ctx context.Context, blockerID, blockedID string) (*models.Block, error) {
	b := &models.Block{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: time.Now().UTC()}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(b)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to create block: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("block %w", ErrDuplicate)
	}
	return b, nil
}

func (r *GormBlockRepo) Delete(ctx context.Context, blockerID, blockedID string) error {
	res := r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.Block{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete block: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormBlockRepo) BlockedBetween(ctx context.Context, userA, userB string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", userA, userB, userB, userA).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	return n > 0, nil
}
