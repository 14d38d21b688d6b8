package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/repository"
)

type MarkReadRequest struct {
	ConnUserID string
	MessageID  string
	ReaderID   string
	ChatID     string
}

type ReceiptService struct {
	receipts repository.ReceiptRepository
	msgs     repository.MessageRepository
	users    repository.UserRepository
	hub      Broadcaster
	log      zerolog.Logger

	names singleflight.Group
}

func NewReceiptService(rr repository.ReceiptRepository, mr repository.MessageRepository, ur repository.UserRepository, hub Broadcaster, log zerolog.Logger) *ReceiptService {
	return &ReceiptService{
		receipts: rr,
		msgs:     mr,
		users:    ur,
		hub:      hub,
		log:      log.With().Str("component", "receipts").Logger(),
	}
}

// MarkRead records that ReaderID has read MessageID. Only the call that
// actually creates the receipt broadcasts read-receipt-update; repeats return
// created == false and no error.
func (s *ReceiptService) MarkRead(ctx context.Context, req MarkReadRequest) (created bool, err error) {
	if req.ConnUserID == "" || req.ReaderID != req.ConnUserID {
		return false, fmt.Errorf("%w: reader does not match the authenticated user", ErrUnauthorized)
	}
	if req.MessageID == "" || req.ChatID == "" {
		return false, invalid("missing required fields: message_id and chat_id are required")
	}

	msg, err := s.msgs.FindByID(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, invalid("message not found")
		}
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if msg.ChatID != req.ChatID {
		return false, invalid("message does not belong to this chat")
	}

	rr := &models.ReadReceipt{
		MessageID: req.MessageID,
		UserID:    req.ReaderID,
		ReadAt:    time.Now().UTC(),
	}
	created, err = s.receipts.CreateIfAbsent(ctx, rr)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !created {
		return false, nil
	}

	s.hub.Broadcast(req.ChatID, models.EventReadReceiptUpdate, models.ReadReceiptUpdatePayload{
		MessageID: rr.MessageID,
		UserID:    rr.UserID,
		ReadAt:    rr.ReadAt,
		Username:  s.username(ctx, rr.UserID),
	})
	return true, nil
}

// username resolves a reader's display name. Concurrent lookups for the same
// user share one query.
func (s *ReceiptService) username(ctx context.Context, userID string) string {
	v, err, _ := s.names.Do(userID, func() (any, error) {
		u, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return "", err
		}
		return u.Username, nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("reader lookup failed")
		return ""
	}
	return v.(string)
}
