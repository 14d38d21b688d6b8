package client

import (
	"sort"
	"time"

	"github.com/Rod082213/teams-clone/models"
)

const summaryPreviewRunes = 20

// Summary is one row of the conversation list.
type Summary struct {
	ChatID        string
	Title         string
	IsGroup       bool
	LastMessageAt time.Time
	LastLine      string

	seq uint64 // arrival order of the last update
}

// SummaryIndex orders conversations by recency. Ties go to the entry updated
// most recently.
type SummaryIndex struct {
	self    models.Profile
	entries map[string]*Summary
	seq     uint64
}

func NewSummaryIndex(self models.Profile) *SummaryIndex {
	return &SummaryIndex{self: self, entries: make(map[string]*Summary)}
}

// ReplaceSnapshot replaces the set of chats with a fetched list. For a chat
// that a live event moved past the snapshot, the live recency and line win.
func (x *SummaryIndex) ReplaceSnapshot(chats []models.Chat) {
	next := make(map[string]*Summary, len(chats))
	// walk backwards so that, within the snapshot, earlier rows rank first on ties
	for i := len(chats) - 1; i >= 0; i-- {
		fresh := x.fromChat(chats[i])
		if live, ok := x.entries[fresh.ChatID]; ok && live.LastMessageAt.After(fresh.LastMessageAt) {
			fresh.LastMessageAt = live.LastMessageAt
			fresh.LastLine = live.LastLine
			fresh.seq = live.seq
		} else {
			x.seq++
			fresh.seq = x.seq
		}
		next[fresh.ChatID] = fresh
	}
	x.entries = next
}

// Upsert adds or refreshes a single chat, e.g. one the user just created.
func (x *SummaryIndex) Upsert(chat models.Chat) {
	fresh := x.fromChat(chat)
	if live, ok := x.entries[chat.ID]; ok && live.LastMessageAt.After(fresh.LastMessageAt) {
		fresh.LastMessageAt = live.LastMessageAt
		fresh.LastLine = live.LastLine
	}
	x.seq++
	fresh.seq = x.seq
	x.entries[chat.ID] = fresh
}

// ApplyMessage moves a known chat to the message's time. It reports false for
// chats the index does not hold.
func (x *SummaryIndex) ApplyMessage(m models.Message) bool {
	e, ok := x.entries[m.ChatID]
	if !ok {
		return false
	}
	if m.CreatedAt.Before(e.LastMessageAt) {
		return true
	}
	e.LastMessageAt = m.CreatedAt
	e.LastLine = SummaryLine(m, x.self.ID)
	x.seq++
	e.seq = x.seq
	return true
}

// Remove drops a chat, e.g. after it was deleted. It reports whether the
// chat was held.
func (x *SummaryIndex) Remove(chatID string) bool {
	if _, ok := x.entries[chatID]; !ok {
		return false
	}
	delete(x.entries, chatID)
	return true
}

func (x *SummaryIndex) Has(chatID string) bool {
	_, ok := x.entries[chatID]
	return ok
}

// List returns the entries, most recent first.
func (x *SummaryIndex) List() []Summary {
	out := make([]Summary, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (x *SummaryIndex) fromChat(c models.Chat) *Summary {
	s := &Summary{
		ChatID:        c.ID,
		Title:         ChatTitle(c, x.self.ID),
		IsGroup:       c.IsGroup,
		LastMessageAt: c.LastMessageAt,
	}
	if c.LastMessage != nil {
		s.LastLine = SummaryLine(*c.LastMessage, x.self.ID)
		if c.LastMessage.CreatedAt.After(s.LastMessageAt) {
			s.LastMessageAt = c.LastMessage.CreatedAt
		}
	}
	return s
}

// ChatTitle is the group name, or the other participant's name for a private
// chat.
func ChatTitle(c models.Chat, selfID string) string {
	if c.IsGroup {
		if c.Name != "" {
			return c.Name
		}
		return "Group chat"
	}
	for _, p := range c.Participants {
		if p.UserID != selfID && p.User != nil {
			return p.User.Username
		}
	}
	return "Chat"
}

// SummaryLine renders "who: preview" for the conversation list.
func SummaryLine(m models.Message, selfID string) string {
	who := "User"
	switch {
	case m.SenderID == selfID:
		who = "You"
	case m.Sender != nil && m.Sender.Username != "":
		who = m.Sender.Username
	}

	if m.MessageType == models.MessageTypeImage {
		return who + ": Photo"
	}
	preview := []rune(m.Content)
	if len(preview) > summaryPreviewRunes {
		return who + ": " + string(preview[:summaryPreviewRunes]) + "..."
	}
	return who + ": " + m.Content
}
