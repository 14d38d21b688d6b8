package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rod082213/teams-clone/models"
)

const writeWait = 10 * time.Second

// Conn is a live event connection.
type Conn interface {
	Transport
	Read() (models.Envelope, error)
	Close() error
}

// Dialer opens a new Conn.
type Dialer func(ctx context.Context) (Conn, error)

// WSConn is a Conn over a gorilla websocket.
type WSConn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writers
}

// DialWS returns a Dialer for the server's /ws endpoint, e.g.
// ws://localhost:8081/ws.
func DialWS(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, errors.New("websocket rejected: unauthorized")
			}
			return nil, err
		}
		return &WSConn{ws: ws}, nil
	}
}

func (c *WSConn) Send(event string, payload any) error {
	frame, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Read returns the next well-formed envelope; malformed frames are skipped.
func (c *WSConn) Read() (models.Envelope, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return models.Envelope{}, err
		}
		var env models.Envelope
		if json.Unmarshal(data, &env) == nil && env.Event != "" {
			return env, nil
		}
	}
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnect"), time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

// Backoff bounds the delay between reconnect attempts.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

func (b Backoff) next(cur time.Duration) time.Duration {
	if cur <= 0 {
		return b.Min
	}
	cur *= 2
	if cur > b.Max {
		return b.Max
	}
	return cur
}

var DefaultBackoff = Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second}

// Run keeps s connected until ctx is done: it dials, re-authenticates,
// re-joins the open chat, feeds inbound events to s and redials with backoff
// when the connection drops. Pending drafts are expired once a second.
func (s *Session) Run(ctx context.Context, dial Dialer, backoff Backoff) error {
	go s.tickLoop(ctx)

	var delay time.Duration
	for {
		conn, err := dial(ctx)
		if err == nil {
			delay = 0
			err = s.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay = backoff.next(delay)
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("connection lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *Session) serve(ctx context.Context, conn Conn) error {
	defer s.OnDisconnected()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	if err := s.OnConnected(ctx, conn); err != nil {
		return err
	}
	for {
		env, err := conn.Read()
		if err != nil {
			return err
		}
		s.Handle(env)
	}
}

func (s *Session) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}
