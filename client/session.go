package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rod082213/teams-clone/models"
)

// Transport sends one event over the live connection.
type Transport interface {
	Send(event string, payload any) error
}

// API is the REST surface the session needs.
type API interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
	DeleteChat(ctx context.Context, chatID string) error
}

type NoticeKind int

const (
	NoticeSendFailed NoticeKind = iota + 1
	NoticeUploadFailed
	NoticeError
	NoticeDelivered
)

// Notice is something the user should be told about. A NoticeSendFailed
// notice names the failed draft so it can be retried; a later
// NoticeDelivered for the same TempID withdraws it.
type Notice struct {
	Kind    NoticeKind
	Message string
	TempID  string
}

var (
	ErrNoActiveChat = errors.New("no active chat")
	ErrEmptyMessage = errors.New("empty message")
	ErrClosed       = errors.New("session closed")
)

// Session drives one signed-in user's view: the chat list, the open chat's
// timeline and read marking. All methods are safe for concurrent use.
type Session struct {
	mu        sync.Mutex
	self      models.Profile
	token     string
	transport Transport
	api       API
	log       zerolog.Logger
	now       func() time.Time

	index          *SummaryIndex
	reads          *ReadTracker
	rec            *Reconciler
	background     map[string]*Reconciler // chats left with drafts in flight
	pendingTimeout time.Duration
	closed         bool

	notices chan Notice
	changes chan struct{}
}

func NewSession(self models.Profile, token string, api API, pendingTimeout time.Duration, log zerolog.Logger) *Session {
	return &Session{
		self:           self,
		token:          token,
		api:            api,
		log:            log.With().Str("component", "session").Logger(),
		now:            time.Now,
		index:          NewSummaryIndex(self),
		reads:          NewReadTracker(self.ID),
		background:     make(map[string]*Reconciler),
		pendingTimeout: pendingTimeout,
		notices:        make(chan Notice, 32),
		changes:        make(chan struct{}, 1),
	}
}

func (s *Session) Self() models.Profile { return s.self }

// Notices delivers user-facing notices. Notices are dropped when nobody reads.
func (s *Session) Notices() <-chan Notice { return s.notices }

// Changes fires after any update to the chat list or the open timeline.
func (s *Session) Changes() <-chan struct{} { return s.changes }

// OnConnected binds a fresh connection: it authenticates and re-joins the
// open chat and any chat still waiting on confirmations, then refetches their
// messages to cover what was missed.
func (s *Session) OnConnected(ctx context.Context, t Transport) error {
	// authenticate goes out before t is visible to other senders
	if err := t.Send(models.EventAuthenticate, models.AuthenticatePayload{UserID: s.self.ID, Token: s.token}); err != nil {
		return err
	}

	s.mu.Lock()
	s.transport = t
	var chatIDs []string
	if s.rec != nil {
		chatIDs = append(chatIDs, s.rec.ChatID())
	}
	for id := range s.background {
		chatIDs = append(chatIDs, id)
	}
	s.mu.Unlock()

	for _, id := range chatIDs {
		if err := t.Send(models.EventJoinChat, models.ChatRefPayload{ChatID: id}); err != nil {
			return err
		}
		if err := s.loadHistory(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// OnDisconnected drops the transport until the next OnConnected.
func (s *Session) OnDisconnected() {
	s.mu.Lock()
	s.transport = nil
	s.mu.Unlock()
}

// Handle applies one inbound event.
func (s *Session) Handle(env models.Envelope) {
	switch env.Event {
	case models.EventMessageReceived:
		var p models.MessageReceivedPayload
		if s.decode(env, &p) {
			s.handleMessage(p)
		}
	case models.EventMessageError:
		var p models.MessageErrorPayload
		if s.decode(env, &p) {
			s.handleError(p)
		}
	case models.EventReadReceiptUpdate:
		var p models.ReadReceiptUpdatePayload
		if s.decode(env, &p) {
			s.handleReceipt(p)
		}
	case models.EventChatDeleted:
		var p models.ChatRefPayload
		if s.decode(env, &p) {
			s.forget(p.ChatID, false)
		}
	case models.EventAuthenticated:
		s.log.Debug().Msg("authenticated")
	case models.EventPing:
		s.send(models.EventPong, nil)
	case models.EventPong:
	default:
		s.log.Debug().Str("event", env.Event).Msg("ignoring event")
	}
}

func (s *Session) handleMessage(p models.MessageReceivedPayload) {
	s.mu.Lock()
	s.index.ApplyMessage(p.Message)
	delivered := false
	if rec := s.reconcilerFor(p.ChatID); rec != nil {
		_, wasFailed := rec.Failed(p.TempID)
		outcome := rec.Apply(p)
		delivered = wasFailed && outcome == ConfirmedDraft
	}
	leave := s.settle()
	s.changed()
	s.mu.Unlock()

	if delivered {
		s.notify(Notice{Kind: NoticeDelivered, Message: "message was delivered after all", TempID: p.TempID})
	}
	s.leave(leave)
}

func (s *Session) handleError(p models.MessageErrorPayload) {
	s.mu.Lock()
	var failed *LocalMessage
	for _, rec := range s.reconcilers() {
		if d, ok := rec.ApplyError(p); ok {
			failed = d
			break
		}
	}
	leave := s.settle()
	s.changed()
	s.mu.Unlock()

	n := Notice{Kind: NoticeError, Message: p.Message}
	if failed != nil {
		n = Notice{Kind: NoticeSendFailed, Message: p.Message, TempID: failed.TempID}
	}
	s.notify(n)
	s.leave(leave)
}

func (s *Session) handleReceipt(p models.ReadReceiptUpdatePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.UserID == s.self.ID {
		s.reads.Acknowledge(p.MessageID)
	}
	for _, rec := range s.reconcilers() {
		if rec.ApplyReceipt(p) {
			s.changed()
			return
		}
	}
}

// RefreshChats replaces the chat list with a fresh fetch.
func (s *Session) RefreshChats(ctx context.Context) error {
	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.index.ReplaceSnapshot(chats)
	s.changed()
	s.mu.Unlock()
	return nil
}

// AddChat puts a chat the user just created into the list.
func (s *Session) AddChat(chat models.Chat) {
	s.mu.Lock()
	s.index.Upsert(chat)
	s.changed()
	s.mu.Unlock()
}

func (s *Session) Chats() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.List()
}

// OpenChat makes chatID the active chat: read marking for the previous chat
// stops, the room is joined and the history fetched. A previous chat with
// drafts still in flight stays joined in the background until they settle.
func (s *Session) OpenChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var leave []string
	if prev := s.rec; prev != nil && prev.ChatID() != chatID {
		if prev.HasDrafts() {
			s.background[prev.ChatID()] = prev
		} else {
			leave = append(leave, prev.ChatID())
		}
		s.rec = nil
	}
	if s.rec == nil {
		if rec, ok := s.background[chatID]; ok {
			delete(s.background, chatID)
			s.rec = rec
		} else {
			s.rec = NewReconciler(s.self, chatID, s.pendingTimeout)
			s.rec.now = s.now
		}
	}
	s.reads.SetActiveChat(chatID)
	s.mu.Unlock()

	s.leave(leave)
	s.send(models.EventJoinChat, models.ChatRefPayload{ChatID: chatID})
	return s.loadHistory(ctx, chatID)
}

// RemoveChat deletes a chat on the server and drops it from the list. The
// open timeline is cleared when it belonged to that chat.
func (s *Session) RemoveChat(ctx context.Context, chatID string) error {
	if err := s.api.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	s.ForgetChat(chatID)
	return nil
}

// ForgetChat drops a chat from the list and leaves its room without touching
// the server, e.g. after the other side was blocked.
func (s *Session) ForgetChat(chatID string) {
	s.forget(chatID, true)
}

// forget drops chatID locally. When the server already closed the room there
// is nothing to leave.
func (s *Session) forget(chatID string, leaveRoom bool) {
	s.mu.Lock()
	s.index.Remove(chatID)
	joined := false
	if s.rec != nil && s.rec.ChatID() == chatID {
		s.rec = nil
		s.reads.SetActiveChat("")
		joined = true
	}
	if _, ok := s.background[chatID]; ok {
		delete(s.background, chatID)
		joined = true
	}
	s.changed()
	s.mu.Unlock()

	if joined && leaveRoom {
		s.leave([]string{chatID})
	}
}

// ActiveChat returns the id of the open chat, or "".
func (s *Session) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return ""
	}
	return s.rec.ChatID()
}

func (s *Session) loadHistory(ctx context.Context, chatID string) error {
	msgs, err := s.api.ListMessages(ctx, chatID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.reconcilerFor(chatID)
	if rec == nil {
		return nil
	}
	rec.LoadHistory(msgs)
	s.changed()
	return nil
}

// Messages returns the open chat's timeline.
func (s *Session) Messages() []LocalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil
	}
	return s.rec.Messages()
}

// SendText drafts and sends a text message.
func (s *Session) SendText(content string) (*LocalMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.rec == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveChat
	}
	d := s.rec.Draft(models.MessageTypeText, content, "")
	p, err := s.rec.MarkPending(d.TempID)
	s.changed()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.dispatch(p)
	return d, nil
}

// SendImage shows a placeholder, uploads the image and then sends it. An
// upload failure removes the placeholder and raises NoticeUploadFailed.
func (s *Session) SendImage(ctx context.Context, filename string, data []byte, caption string) (*LocalMessage, error) {
	s.mu.Lock()
	if s.rec == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveChat
	}
	d := s.rec.Draft(models.MessageTypeImage, strings.TrimSpace(caption), "local:"+filename)
	s.changed()
	rec := s.rec
	s.mu.Unlock()

	url, err := s.api.UploadImage(ctx, filename, data)
	if err != nil {
		s.mu.Lock()
		rec.Discard(d.TempID)
		leave := s.settle()
		s.changed()
		s.mu.Unlock()
		s.notify(Notice{Kind: NoticeUploadFailed, Message: err.Error(), TempID: d.TempID})
		s.leave(leave)
		return nil, err
	}

	s.mu.Lock()
	if err := rec.SetImageRef(d.TempID, url); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	p, err := rec.MarkPending(d.TempID)
	s.changed()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.dispatch(p)
	return d, nil
}

// Retry resends a failed draft under a new temp id.
func (s *Session) Retry(tempID string) (*LocalMessage, error) {
	s.mu.Lock()
	if s.rec == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveChat
	}
	rec := s.rec
	for _, r := range s.reconcilers() {
		if _, ok := r.Failed(tempID); ok {
			rec = r
			break
		}
	}
	d, p, err := rec.Retry(tempID)
	s.changed()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.dispatch(p)
	return d, nil
}

// Visible reports that messageID is on screen with the given visible ratio.
func (s *Session) Visible(messageID string, ratio float64) bool {
	s.mu.Lock()
	if s.rec == nil {
		s.mu.Unlock()
		return false
	}
	m, _ := s.rec.Message(messageID)
	p, ok := s.reads.Observe(m, ratio)
	s.mu.Unlock()

	if ok {
		s.send(models.EventMarkRead, p)
	}
	return ok
}

// Tick fails drafts that waited too long for their confirmation.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	var expired []*LocalMessage
	for _, rec := range s.reconcilers() {
		expired = append(expired, rec.ExpirePending(now)...)
	}
	leave := s.settle()
	if len(expired) > 0 {
		s.changed()
	}
	s.mu.Unlock()

	for _, d := range expired {
		s.notify(Notice{Kind: NoticeSendFailed, Message: "message was not confirmed in time", TempID: d.TempID})
	}
	s.leave(leave)
}

// Close releases the read tracker; no further reads are emitted.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.reads.Close()
	s.mu.Unlock()
}

// dispatch sends a pending draft, failing it at once when there is no
// connection to send it on.
func (s *Session) dispatch(p models.SendMessagePayload) {
	if err := s.send(models.EventSendMessage, p); err != nil {
		s.handleError(models.MessageErrorPayload{Message: "not connected", Kind: models.ErrorKindPersistence, TempID: p.TempID})
	}
}

// reconcilerFor returns the active or background reconciler for chatID. Must
// be called with mu held.
func (s *Session) reconcilerFor(chatID string) *Reconciler {
	if s.rec != nil && s.rec.ChatID() == chatID {
		return s.rec
	}
	return s.background[chatID]
}

// reconcilers lists the active reconciler first. Must be called with mu held.
func (s *Session) reconcilers() []*Reconciler {
	out := make([]*Reconciler, 0, 1+len(s.background))
	if s.rec != nil {
		out = append(out, s.rec)
	}
	for _, rec := range s.background {
		out = append(out, rec)
	}
	return out
}

// settle drops background chats with nothing left in flight and returns the
// rooms to leave. Must be called with mu held.
func (s *Session) settle() []string {
	var leave []string
	for id, rec := range s.background {
		if !rec.HasDrafts() {
			delete(s.background, id)
			leave = append(leave, id)
		}
	}
	return leave
}

func (s *Session) leave(chatIDs []string) {
	for _, id := range chatIDs {
		s.send(models.EventLeaveChat, models.ChatRefPayload{ChatID: id})
	}
}

func (s *Session) send(event string, payload any) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return errors.New("not connected")
	}
	if err := t.Send(event, payload); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("send failed")
		return err
	}
	return nil
}

func (s *Session) decode(env models.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		s.log.Warn().Err(err).Str("event", env.Event).Msg("bad payload")
		return false
	}
	return true
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Warn().Str("message", n.Message).Msg("notice dropped")
	}
}

// changed must be called with mu held.
func (s *Session) changed() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
