package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/repository"
)

// Rooms is the part of the hub that chat lifecycle changes touch.
type Rooms interface {
	Broadcaster
	// CloseRoom unsubscribes every connection from chatID.
	CloseRoom(chatID string) int
}

type ChatService struct {
	chats       repository.ChatRepository
	users       repository.UserRepository
	messages    repository.MessageRepository
	memberships repository.MembershipRepository
	blocks      repository.BlockRepository
	rooms       Rooms
}

func NewChatService(cr repository.ChatRepository, ur repository.UserRepository, mr repository.MessageRepository, memRepo repository.MembershipRepository, br repository.BlockRepository, rooms Rooms) *ChatService {
	return &ChatService{chats: cr, users: ur, messages: mr, memberships: memRepo, blocks: br, rooms: rooms}
}

// CreateChat creates a chat between creatorID and participantIDs. A private
// chat needs exactly two distinct participants; when one already exists for
// the pair it is returned instead (created is false).
func (s *ChatService) CreateChat(ctx context.Context, creatorID, name string, isGroup bool, participantIDs []string) (chat *models.Chat, created bool, err error) {
	ids := make([]string, 0, len(participantIDs)+1)
	seen := make(map[string]struct{}, len(participantIDs)+1)
	for _, id := range append([]string{creatorID}, participantIDs...) {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, false, invalid("invalid participant id")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	name = strings.TrimSpace(name)
	if isGroup {
		if len(ids) < 2 {
			return nil, false, invalid("group chat requires at least two participants")
		}
		if len(name) > 50 {
			return nil, false, invalid("chat name too long (maximum 50 characters)")
		}
	} else if len(ids) != 2 {
		return nil, false, invalid("private chat requires exactly two participants")
	}

	for _, id := range ids {
		if _, err := s.users.FindByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, false, invalid("one or more specified users do not exist")
			}
			return nil, false, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	if !isGroup {
		blocked, err := s.blocks.BlockedBetween(ctx, ids[0], ids[1])
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if blocked {
			return nil, false, fmt.Errorf("%w: one of the users has blocked the other", ErrUnauthorized)
		}
		existing, err := s.chats.FindPrivateBetween(ctx, ids[0], ids[1])
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	chat, err = s.chats.Create(ctx, name, isGroup, ids)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return chat, true, nil
}

// ListChats returns the user's chats by recency, each with its latest message.
// Private chats with a blocked counterpart are left out.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	all, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	chats := all[:0]
	for _, c := range all {
		if !c.IsGroup {
			blocked, err := s.blockedCounterpart(ctx, c, userID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			if blocked {
				continue
			}
		}
		if last, err := s.messages.LatestByChat(ctx, c.ID); err == nil {
			c.LastMessage = last
		}
		chats = append(chats, c)
	}
	return chats, nil
}

// DeleteChat removes a chat the user participates in together with its
// messages and receipts. Connected members are told and unsubscribed.
func (s *ChatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	chat, err := s.chats.FindByID(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: chat not found", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !chat.HasParticipant(userID) {
		return fmt.Errorf("%w: not a participant of this chat", ErrUnauthorized)
	}

	if err := s.chats.Delete(ctx, chatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: chat not found", ErrNotFound)
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.rooms.Broadcast(chatID, models.EventChatDeleted, models.ChatRefPayload{ChatID: chatID})
	s.rooms.CloseRoom(chatID)
	return nil
}

func (s *ChatService) blockedCounterpart(ctx context.Context, c models.Chat, userID string) (bool, error) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			continue
		}
		if blocked, err := s.blocks.BlockedBetween(ctx, userID, p.UserID); err != nil || blocked {
			return blocked, err
		}
	}
	return false, nil
}

// CanAccess reports whether userID participates in chatID.
func (s *ChatService) CanAccess(ctx context.Context, chatID, userID string) (bool, error) {
	if chatID == "" || userID == "" {
		return false, nil
	}
	return s.memberships.IsMember(ctx, chatID, userID)
}
