package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/repository"
)

// BlockService records which users refuse contact with whom. A block in
// either direction hides the pair's private chat and rejects its messages.
type BlockService struct {
	blocks repository.BlockRepository
	users  repository.UserRepository
}

func NewBlockService(br repository.BlockRepository, userRepo repository.UserRepository) *BlockService {
	return &BlockService{blocks: br, users: userRepo}
}

func (s *BlockService) Block(ctx context.Context, blockerID, blockedID string) (*models.Block, error) {
	if blockerID == "" || blockedID == "" {
		return nil, invalid("user_id is required")
	}
	if blockerID == blockedID {
		return nil, invalid("cannot block yourself")
	}
	if _, err := s.users.FindByID(ctx, blockedID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: user not found", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	b, err := s.blocks.Create(ctx, blockerID, blockedID)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("%w: user already blocked", ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return b, nil
}

func (s *BlockService) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if blockerID == "" || blockedID == "" {
		return invalid("user_id is required")
	}
	err := s.blocks.Delete(ctx, blockerID, blockedID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: block relationship not found", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
