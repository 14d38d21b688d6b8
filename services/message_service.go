package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rod082213/teams-clone/config"
	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/repository"
)

// Broadcaster interface to avoid import cycles
type Broadcaster interface {
	// Broadcast delivers event to every connection joined to chatID and
	// returns how many connections it was queued for.
	Broadcast(chatID, event string, payload any) int
}

// SubmitRequest is one send-message from a connection. ConnUserID is the user
// the connection authenticated as, empty when it never did.
type SubmitRequest struct {
	ConnUserID string
	ChatID     string
	SenderID   string
	Content    string
	Type       models.MessageType
	ImageURL   string
	TempID     string
}

type MessageService struct {
	msgs        repository.MessageRepository
	chats       repository.ChatRepository
	memberships repository.MembershipRepository
	blocks      repository.BlockRepository
	hub         Broadcaster
	config      *config.Config
	log         zerolog.Logger

	recency sync.WaitGroup
}

func NewMessageService(mr repository.MessageRepository, cr repository.ChatRepository, memRepo repository.MembershipRepository, br repository.BlockRepository, hub Broadcaster, cfg *config.Config, log zerolog.Logger) *MessageService {
	return &MessageService{
		msgs:        mr,
		chats:       cr,
		memberships: memRepo,
		blocks:      br,
		hub:         hub,
		config:      cfg,
		log:         log.With().Str("component", "messages").Logger(),
	}
}

// Submit validates, persists and broadcasts a message. The returned record
// carries the store-assigned id and timestamp. On error nothing was stored and
// nothing was broadcast.
func (s *MessageService) Submit(ctx context.Context, req SubmitRequest) (*models.Message, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ChatID:      req.ChatID,
		SenderID:    req.SenderID,
		Content:     req.Content,
		MessageType: req.Type,
	}
	if req.Type == models.MessageTypeImage {
		msg.ImageURL = req.ImageURL
	}

	saved, err := s.msgs.Create(ctx, msg)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", req.ChatID).Str("temp_id", req.TempID).Msg("failed to persist message")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.touchRecency(saved.ChatID, saved.CreatedAt)

	n := s.hub.Broadcast(saved.ChatID, models.EventMessageReceived, models.MessageReceivedPayload{
		Message: *saved,
		TempID:  req.TempID,
	})
	s.log.Debug().Str("chat_id", saved.ChatID).Str("message_id", saved.ID).Int("recipients", n).Msg("message broadcast")
	return saved, nil
}

func (s *MessageService) validate(ctx context.Context, req SubmitRequest) error {
	if req.ConnUserID == "" {
		return fmt.Errorf("%w: connection is not authenticated", ErrUnauthorized)
	}
	if req.SenderID != "" && req.SenderID != req.ConnUserID {
		return fmt.Errorf("%w: sender does not match the authenticated user", ErrUnauthorized)
	}
	if req.ChatID == "" || req.SenderID == "" {
		return invalid("missing required fields: chat_id and sender_id are required")
	}

	switch req.Type {
	case models.MessageTypeImage:
		if req.ImageURL == "" {
			return invalid("image URL is required for image messages")
		}
	case models.MessageTypeText:
		if req.Content == "" {
			return invalid("content is required for text messages")
		}
	default:
		return invalid(fmt.Sprintf("unknown message type %q", req.Type))
	}
	if len(req.Content) > s.config.MaxMessageLength {
		return invalid("message too long (max " + strconv.Itoa(s.config.MaxMessageLength) + " characters)")
	}

	chat, err := s.chats.FindByID(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: chat not found", ErrUnauthorized)
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	ok, err := s.memberships.IsMember(ctx, req.ChatID, req.SenderID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: sender is not a participant of this chat", ErrUnauthorized)
	}

	if !chat.IsGroup {
		for _, p := range chat.Participants {
			if p.UserID == req.SenderID {
				continue
			}
			blocked, err := s.blocks.BlockedBetween(ctx, req.SenderID, p.UserID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			if blocked {
				return fmt.Errorf("%w: messages between these users are blocked", ErrUnauthorized)
			}
		}
	}
	return nil
}

// touchRecency advances the chat's last_message_at in the background. A
// failure is logged and the message stays delivered.
func (s *MessageService) touchRecency(chatID string, at time.Time) {
	s.recency.Add(1)
	go func() {
		defer s.recency.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.chats.TouchLastMessageAt(ctx, chatID, at); err != nil {
			s.log.Warn().Err(err).Str("chat_id", chatID).Msg("failed to update chat recency")
		}
	}()
}

// Wait blocks until every pending recency update has finished.
func (s *MessageService) Wait() {
	s.recency.Wait()
}

// List returns the chat history for a participant, oldest first.
func (s *MessageService) List(ctx context.Context, chatID, userID string) ([]models.Message, error) {
	ok, err := s.memberships.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return nil, ErrUnauthorized
	}

	msgs, err := s.msgs.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return msgs, nil
}
