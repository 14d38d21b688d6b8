package client

import (
	"github.com/Rod082213/teams-clone/models"
)

// VisibilityThreshold is the share of a message that must be on screen before
// it counts as read.
const VisibilityThreshold = 0.8

// ReadTracker decides when a visible message should be marked read. Each
// message id is emitted at most once for the lifetime of the tracker.
type ReadTracker struct {
	selfID     string
	activeChat string
	sent       map[string]struct{}
	closed     bool
}

func NewReadTracker(selfID string) *ReadTracker {
	return &ReadTracker{selfID: selfID, sent: make(map[string]struct{})}
}

// SetActiveChat switches tracking to chatID. Messages of any other chat are
// ignored from now on.
func (t *ReadTracker) SetActiveChat(chatID string) {
	t.activeChat = chatID
}

// Observe reports a visibility change. It returns the mark-read payload to
// send when the message just became read.
func (t *ReadTracker) Observe(m *LocalMessage, ratio float64) (models.MarkReadPayload, bool) {
	switch {
	case t.closed, m == nil, ratio < VisibilityThreshold:
		return models.MarkReadPayload{}, false
	case t.activeChat == "" || m.ChatID != t.activeChat:
		return models.MarkReadPayload{}, false
	case m.State != Confirmed || m.SenderID == t.selfID:
		return models.MarkReadPayload{}, false
	case m.ReadBy(t.selfID):
		t.sent[m.ID] = struct{}{}
		return models.MarkReadPayload{}, false
	}
	if _, done := t.sent[m.ID]; done {
		return models.MarkReadPayload{}, false
	}

	t.sent[m.ID] = struct{}{}
	return models.MarkReadPayload{MessageID: m.ID, UserID: t.selfID, ChatID: m.ChatID}, true
}

// Acknowledge records that the server already holds our receipt for id.
func (t *ReadTracker) Acknowledge(messageID string) {
	t.sent[messageID] = struct{}{}
}

// Close stops all further emission.
func (t *ReadTracker) Close() {
	t.closed = true
	t.activeChat = ""
}
