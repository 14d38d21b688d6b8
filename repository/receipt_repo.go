package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Rod082213/teams-clone/models"
)

type ReceiptRepository interface {
	// CreateIfAbsent inserts the receipt unless one already exists for
	// (MessageID, UserID). created is false when the row was already there.
	CreateIfAbsent(ctx context.Context, rr *models.ReadReceipt) (created bool, err error)
}

type GormReceiptRepo struct {
	db *gorm.DB
}

func NewGormReceiptRepo(db *gorm.DB) *GormReceiptRepo {
	return &GormReceiptRepo{db: db}
}

func (r *GormReceiptRepo) CreateIfAbsent(ctx context.Context, rr *models.ReadReceipt) (bool, error) {
	row := *rr
	row.User = nil
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create read receipt: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
