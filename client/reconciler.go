// Package client holds the client side of the chat protocol: optimistic
// drafts and their reconciliation with server broadcasts, visibility driven
// read marking, the conversation summary index and a session that ties them
// to a websocket and the REST API.
package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/Rod082213/teams-clone/models"
)

type State int

const (
	Drafted State = iota
	Pending
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Drafted:
		return "drafted"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultPendingTimeout is how long a sent draft may wait for its
// confirmation before it is failed locally.
const DefaultPendingTimeout = 30 * time.Second

var (
	ErrUnknownDraft = errors.New("unknown draft")
	ErrNotDrafted   = errors.New("draft already sent")
)

// LocalMessage is a message as the client renders it. Until it is confirmed
// its ID equals its TempID.
type LocalMessage struct {
	models.Message
	TempID string
	State  State
	SentAt time.Time
}

// Outcome says what Apply did with a broadcast.
type Outcome int

const (
	Ignored Outcome = iota
	ConfirmedDraft
	Inserted
	Duplicate
)

var tempSuffix = mustGenerator(9)

func mustGenerator(n int) func() string {
	gen, err := nanoid.Standard(n)
	if err != nil {
		panic(err)
	}
	return gen
}

// NewTempID returns a correlation token such as temp_text_1718000000000_V1StGXR8Z.
func NewTempID(kind models.MessageType, now time.Time) string {
	prefix := "temp_text_"
	if kind == models.MessageTypeImage {
		prefix = "temp_img_"
	}
	return fmt.Sprintf("%s%d_%s", prefix, now.UnixMilli(), tempSuffix())
}

// Reconciler keeps the timeline of one chat. It is not safe for concurrent
// use; Session serializes access.
type Reconciler struct {
	self           models.Profile
	chatID         string
	pendingTimeout time.Duration
	now            func() time.Time

	confirmed []*LocalMessage // ordered by CreatedAt
	drafts    []*LocalMessage // Drafted or Pending, in draft order
	byID      map[string]*LocalMessage
	failed    map[string]*LocalMessage
}

func NewReconciler(self models.Profile, chatID string, pendingTimeout time.Duration) *Reconciler {
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	return &Reconciler{
		self:           self,
		chatID:         chatID,
		pendingTimeout: pendingTimeout,
		now:            time.Now,
		byID:           make(map[string]*LocalMessage),
		failed:         make(map[string]*LocalMessage),
	}
}

func (r *Reconciler) ChatID() string { return r.chatID }

// Draft creates a local message shown immediately as unconfirmed.
func (r *Reconciler) Draft(kind models.MessageType, content, imageURL string) *LocalMessage {
	now := r.now()
	tempID := NewTempID(kind, now)
	self := models.User{ID: r.self.ID, Username: r.self.Username, AvatarURL: r.self.AvatarURL}
	lm := &LocalMessage{
		Message: models.Message{
			ID:          tempID,
			ChatID:      r.chatID,
			SenderID:    r.self.ID,
			Sender:      &self,
			Content:     content,
			MessageType: kind,
			ImageURL:    imageURL,
			CreatedAt:   now,
		},
		TempID: tempID,
		State:  Drafted,
	}
	r.drafts = append(r.drafts, lm)
	return lm
}

// SetImageRef replaces a draft's local image reference with the uploaded URL.
func (r *Reconciler) SetImageRef(tempID, url string) error {
	d := r.draft(tempID)
	if d == nil {
		return ErrUnknownDraft
	}
	d.ImageURL = url
	return nil
}

// MarkPending moves a draft to Pending and returns the send-message payload.
func (r *Reconciler) MarkPending(tempID string) (models.SendMessagePayload, error) {
	d := r.draft(tempID)
	if d == nil {
		return models.SendMessagePayload{}, ErrUnknownDraft
	}
	if d.State != Drafted {
		return models.SendMessagePayload{}, ErrNotDrafted
	}
	d.State = Pending
	d.SentAt = r.now()
	return models.SendMessagePayload{
		ChatID:      d.ChatID,
		SenderID:    d.SenderID,
		Content:     d.Content,
		TempID:      d.TempID,
		MessageType: d.MessageType,
		ImageURL:    d.ImageURL,
	}, nil
}

// Discard drops a draft without failing it, e.g. when its upload failed.
func (r *Reconciler) Discard(tempID string) bool {
	for i, d := range r.drafts {
		if d.TempID == tempID {
			r.drafts = append(r.drafts[:i], r.drafts[i+1:]...)
			return true
		}
	}
	return false
}

// Apply reconciles a message-received broadcast. A confirmation for the
// local user's draft replaces the draft; repeated deliveries are no-ops. A
// confirmation for a draft that was already failed locally withdraws the
// failure, so the draft can no longer be retried.
func (r *Reconciler) Apply(p models.MessageReceivedPayload) Outcome {
	if p.ChatID != r.chatID || p.ID == "" {
		return Ignored
	}

	if p.SenderID == r.self.ID && p.TempID != "" {
		d := r.draft(p.TempID)
		if d != nil {
			r.Discard(p.TempID)
		} else if f, ok := r.failed[p.TempID]; ok {
			delete(r.failed, p.TempID)
			d = f
		}
		if d != nil {
			if _, known := r.byID[p.ID]; known {
				// already loaded through a history fetch
				return Duplicate
			}
			d.Message = p.Message
			d.State = Confirmed
			r.insert(d)
			return ConfirmedDraft
		}
	}

	if _, known := r.byID[p.ID]; known {
		return Duplicate
	}
	r.insert(&LocalMessage{Message: p.Message, TempID: p.TempID, State: Confirmed})
	return Inserted
}

// ApplyError fails the draft named by the error's temp id and returns it so
// the caller can offer a retry. Errors without a temp id belong to some other
// request (auth, join, a malformed frame) and leave every draft untouched.
func (r *Reconciler) ApplyError(p models.MessageErrorPayload) (*LocalMessage, bool) {
	if p.TempID == "" {
		return nil, false
	}
	d := r.draft(p.TempID)
	if d == nil {
		return nil, false
	}
	r.fail(d)
	return d, true
}

// ExpirePending fails every pending draft sent more than the pending timeout
// before now.
func (r *Reconciler) ExpirePending(now time.Time) []*LocalMessage {
	var expired []*LocalMessage
	for _, d := range append([]*LocalMessage(nil), r.drafts...) {
		if d.State == Pending && now.Sub(d.SentAt) >= r.pendingTimeout {
			r.fail(d)
			expired = append(expired, d)
		}
	}
	return expired
}

// Retry re-drafts a failed message under a fresh temp id and marks it
// pending. A late confirmation for the old temp id is then treated as an
// ordinary message.
func (r *Reconciler) Retry(tempID string) (*LocalMessage, models.SendMessagePayload, error) {
	old, ok := r.failed[tempID]
	if !ok {
		return nil, models.SendMessagePayload{}, ErrUnknownDraft
	}
	delete(r.failed, tempID)

	d := r.Draft(old.MessageType, old.Content, old.ImageURL)
	p, err := r.MarkPending(d.TempID)
	return d, p, err
}

// ApplyReceipt records a read receipt. It reports false when the message is
// unknown or the reader was already recorded.
func (r *Reconciler) ApplyReceipt(p models.ReadReceiptUpdatePayload) bool {
	m, ok := r.byID[p.MessageID]
	if !ok || m.ReadBy(p.UserID) {
		return false
	}
	name := p.Username
	if name == "" {
		name = "User"
	}
	m.ReadReceipts = append(m.ReadReceipts, models.ReadReceipt{
		MessageID: p.MessageID,
		UserID:    p.UserID,
		ReadAt:    p.ReadAt,
		User:      &models.User{ID: p.UserID, Username: name},
	})
	return true
}

// LoadHistory merges a fetched message list into the timeline. Messages
// already known keep their local state; unsent drafts stay in place.
func (r *Reconciler) LoadHistory(msgs []models.Message) int {
	added := 0
	for _, m := range msgs {
		if m.ChatID != r.chatID {
			continue
		}
		if existing, ok := r.byID[m.ID]; ok {
			for _, rr := range m.ReadReceipts {
				if !existing.ReadBy(rr.UserID) {
					existing.ReadReceipts = append(existing.ReadReceipts, rr)
				}
			}
			continue
		}
		r.insert(&LocalMessage{Message: m, State: Confirmed})
		added++
	}
	return added
}

// Messages returns the timeline: confirmed messages by creation time followed
// by drafts in the order they were written.
func (r *Reconciler) Messages() []LocalMessage {
	out := make([]LocalMessage, 0, len(r.confirmed)+len(r.drafts))
	for _, m := range r.confirmed {
		out = append(out, *m)
	}
	for _, d := range r.drafts {
		out = append(out, *d)
	}
	return out
}

// Message looks up a confirmed message by its server id.
func (r *Reconciler) Message(id string) (*LocalMessage, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// HasDrafts reports whether any message is still drafted or awaiting its
// confirmation.
func (r *Reconciler) HasDrafts() bool { return len(r.drafts) > 0 }

// Failed returns the failed draft for tempID, if any.
func (r *Reconciler) Failed(tempID string) (*LocalMessage, bool) {
	m, ok := r.failed[tempID]
	return m, ok
}

func (r *Reconciler) draft(tempID string) *LocalMessage {
	for _, d := range r.drafts {
		if d.TempID == tempID {
			return d
		}
	}
	return nil
}

func (r *Reconciler) fail(d *LocalMessage) {
	r.Discard(d.TempID)
	d.State = Failed
	r.failed[d.TempID] = d
}

func (r *Reconciler) insert(m *LocalMessage) {
	r.byID[m.ID] = m
	i := sort.Search(len(r.confirmed), func(i int) bool {
		return r.confirmed[i].CreatedAt.After(m.CreatedAt)
	})
	r.confirmed = append(r.confirmed, nil)
	copy(r.confirmed[i+1:], r.confirmed[i:])
	r.confirmed[i] = m
}

// SeenBy renders the "Seen by" line for a message the local user sent, or ""
// when nobody else has read it.
func SeenBy(m *models.Message, self models.Profile) string {
	var readers []string
	for _, rr := range m.ReadReceipts {
		if rr.UserID == m.SenderID || rr.UserID == self.ID {
			continue
		}
		name := "User"
		if rr.User != nil && rr.User.Username != "" {
			name = rr.User.Username
		}
		readers = append(readers, name)
	}
	if len(readers) == 0 {
		return ""
	}
	return "Seen by " + strings.Join(readers, ", ")
}
