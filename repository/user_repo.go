package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Rod082213/teams-clone/models"
)

type UserRepository interface {
	Create(ctx context.Context, username, hashedPwd string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	// UpdateProfile sets the non-empty fields. A username held by another
	// user yields ErrDuplicate.
	UpdateProfile(ctx context.Context, id, username, avatarURL string) (*models.User, error)
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) Create(ctx context.Context, username, hashedPwd string) (*models.User, error) {
	if _, err := r.FindByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("username %w", ErrDuplicate)
	}

	u := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Password:  hashedPwd,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		// the unique index catches a concurrent registration of the same name
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("username %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (r *GormUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

func (r *GormUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

func (r *GormUserRepo) UpdateProfile(ctx context.Context, id, username, avatarURL string) (*models.User, error) {
	updates := map[string]any{}
	if username != "" {
		if other, err := r.FindByUsername(ctx, username); err == nil && other.ID != id {
			return nil, fmt.Errorf("username %w", ErrDuplicate)
		}
		updates["username"] = username
	}
	if avatarURL != "" {
		updates["avatar_url"] = avatarURL
	}

	if len(updates) > 0 {
		res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if strings.Contains(res.Error.Error(), "UNIQUE") {
				return nil, fmt.Errorf("username %w", ErrDuplicate)
			}
			return nil, fmt.Errorf("failed to update user: %w", res.Error)
		}
	}
	return r.FindByID(ctx, id)
}
