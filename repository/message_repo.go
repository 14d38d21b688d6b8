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

// MessageRepository is the durable side of the message pipeline. Create is the
// only place a message gets its id and timestamp.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)
	FindByID(ctx context.Context, id string) (*models.Message, error)
	ListByChat(ctx context.Context, chatID string) ([]models.Message, error)
	LatestByChat(ctx context.Context, chatID string) (*models.Message, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}

	row := *msg
	row.ID = uuid.NewString()
	row.CreatedAt = time.Now().UTC()
	row.Sender = nil
	row.ReadReceipts = nil
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	var sender models.User
	if err := r.db.WithContext(ctx).First(&sender, "id = ?", row.SenderID).Error; err == nil {
		row.Sender = &sender
	}
	row.ReadReceipts = []models.ReadReceipt{}
	return &row, nil
}

func (r *GormMessageRepo) FindByID(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &m, nil
}

// ListByChat returns every message of the chat, oldest first, with sender and
// receipts (including reader usernames) loaded.
func (r *GormMessageRepo) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("ReadReceipts", func(db *gorm.DB) *gorm.DB { return db.Order("read_at asc") }).
		Preload("ReadReceipts.User").
		Where("chat_id = ?", chatID).
		Order("created_at asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (r *GormMessageRepo) LatestByChat(ctx context.Context, chatID string) (*models.Message, error) {
	var m models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("chat_id = ?", chatID).
		Order("created_at desc").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find latest message: %w", err)
	}
	return &m, nil
}
