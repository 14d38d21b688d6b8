package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Rod082213/teams-clone/config"
	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/repository"
	"github.com/Rod082213/teams-clone/utils"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService registers users and issues and verifies their session tokens.
type AuthService struct {
	users  repository.UserRepository
	config *config.Config
	// compared against when the username is unknown so both paths cost a bcrypt
	dummyHash []byte
}

func NewAuthService(userRepo repository.UserRepository, cfg *config.Config) *AuthService {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)
	return &AuthService{users: userRepo, config: cfg, dummyHash: dummy}
}

func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if len(username) < 3 || len(username) > 20 {
		return nil, invalid("username must be between 3 and 20 characters")
	}
	if len(password) < 6 || len(password) > 72 {
		return nil, invalid("password must be between 6 and 72 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, username, string(hashed))
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, invalid("username already exists")
	}
	return u, err
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	if username == "" || password == "" {
		return "", nil, invalid("username and password are required")
	}

	u, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("find user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.CreateToken(u.ID, u.Username)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, u, nil
}

// Lookup finds a user by exact username, for starting a new chat.
func (s *AuthService) Lookup(ctx context.Context, username string) (*models.User, error) {
	if username == "" {
		return nil, invalid("username is required")
	}
	u, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *AuthService) CreateToken(userID string, username string) (string, error) {
	expiry := time.Duration(s.config.JWTExpiry) * time.Hour
	return utils.GenerateJWT(s.config.JWTSecret, userID, username, expiry)
}

// ParseToken verifies a session token and returns the user it was issued to.
func (s *AuthService) ParseToken(token string) (userID, username string, err error) {
	return utils.ParseJWT(s.config.JWTSecret, token)
}
