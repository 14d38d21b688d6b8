package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/repository"
)

// MaxAvatarBytes caps profile pictures independently of chat images.
const MaxAvatarBytes = 2 << 20

type ProfileService struct {
	users   repository.UserRepository
	uploads *UploadService
}

func NewProfileService(userRepo repository.UserRepository, uploads *UploadService) *ProfileService {
	return &ProfileService{users: userRepo, uploads: uploads}
}

// UpdateProfile changes the username, the avatar or both. The avatar is
// stored through the upload service and the user keeps its public URL.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID, username string, avatar []byte) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" && len(avatar) == 0 {
		return nil, invalid("no update data provided")
	}
	if username != "" && (len(username) < 3 || len(username) > 20) {
		return nil, invalid("username must be between 3 and 20 characters")
	}
	if len(avatar) > MaxAvatarBytes {
		return nil, invalid("avatar too large (maximum 2MB)")
	}

	avatarURL := ""
	if len(avatar) > 0 {
		url, err := s.uploads.UploadImage(ctx, avatar)
		if err != nil {
			return nil, err
		}
		avatarURL = url
	}

	u, err := s.users.UpdateProfile(ctx, userID, username, avatarURL)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil, fmt.Errorf("%w: username already taken", ErrConflict)
	case errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: user not found", ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return u, nil
}
