package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 30 * time.Second
	pongWait       = 300 * time.Second
	pingPeriod     = 240 * time.Second
	maxMessageSize = 1 << 20
)

// Conn is one websocket connection. userID, username and rooms are guarded
// by the owning Hub's lock.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	userID   string
	username string
	rooms    map[string]struct{}
}

// NewConn creates an unregistered connection around ws. ws may be nil for a
// connection that is never pumped.
func (h *Hub) NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.sendBuffer),
	}
}

func (c *Conn) ID() string { return c.id }

// start launches the read and write pumps. handle is called for every inbound
// frame, one at a time, on the read goroutine.
func (c *Conn) start(handle func(*Conn, []byte)) {
	c.hub.pumps.Add(2)
	go c.writePump()
	go c.readPump(handle)
}

func (c *Conn) readPump(handle func(*Conn, []byte)) {
	defer func() {
		c.hub.Deregister(c)
		c.ws.Close()
		c.hub.pumps.Done()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("conn_id", c.id).Msg("read error")
			}
			return
		}
		handle(c, message)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.hub.pumps.Done()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnect"))
				return
			}
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				c.hub.log.Debug().Err(err).Str("conn_id", c.id).Msg("next writer error")
				return
			}
			if _, err := w.Write(msg); err != nil {
				c.hub.log.Debug().Err(err).Str("conn_id", c.id).Msg("write error")
				return
			}
			if err := w.Close(); err != nil {
				c.hub.log.Debug().Err(err).Str("conn_id", c.id).Msg("writer close error")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.log.Debug().Err(err).Str("conn_id", c.id).Msg("ping error")
				return
			}
		}
	}
}
