package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"room-chat/internal/session"
)

const (
	// writeWait is how long a single socket write may take.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound command frames.
	maxMessageSize = 4096
)

// client is one connected websocket. It owns at most one session
// controller at a time; the controller is created on create/join and
// released when the session exits.
type client struct {
	gateway *Gateway
	conn    *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	mutex sync.Mutex
	ctrl  *session.Controller
}

func newClient(gateway *Gateway, conn *websocket.Conn) *client {
	return &client{
		gateway: gateway,
		conn:    conn,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *client) controller() *session.Controller {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ctrl
}

func (c *client) setController(ctrl *session.Controller) {
	c.mutex.Lock()
	c.ctrl = ctrl
	c.mutex.Unlock()
}

// clearController releases the controller, but only if it is still the
// one the caller saw; a newer session is left untouched.
func (c *client) clearController(ctrl *session.Controller) {
	c.mutex.Lock()
	if c.ctrl == ctrl {
		c.ctrl = nil
	}
	c.mutex.Unlock()
}

// sendEvent queues an event for the write pump. Events to a slow client
// are dropped rather than blocking the session; snapshots are
// replace-the-whole-list, so a newer one always follows.
func (c *client) sendEvent(event ServerEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("failed to marshal event")
		return
	}

	select {
	case c.send <- payload:
	case <-c.done:
	default:
		log.Warn().Str("event", event.Type).Msg("dropping event for slow client")
	}
}

func (c *client) sendError(code string, err error) {
	c.sendEvent(ServerEvent{Type: EvtError, ErrorCode: code, Error: err.Error()})
}

// readPump reads and dispatches client commands until the socket dies.
func (c *client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var cmd ClientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.sendError("bad_command", err)
			continue
		}
		c.dispatch(cmd)
	}
}

// writePump pushes queued events and keeps the connection alive with
// pings. It owns all writes to the socket.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// teardown ends the session behind a dropped connection.
func (c *client) teardown() {
	c.once.Do(func() {
		close(c.done)
		if ctrl := c.controller(); ctrl != nil {
			ctrl.Leave(context.Background())
		}
	})
}

// forward relays one session's live streams to the client until the
// session exits. The channels are captured once; after an exit they stop
// producing and the closed exit channel ends the loop.
func (c *client) forward(ctrl *session.Controller, code string) {
	messages := ctrl.Messages()
	participants := ctrl.Participants()
	exited := ctrl.Exited()

	for {
		select {
		case snapshot := <-messages:
			c.sendEvent(ServerEvent{Type: EvtMessages, Code: code, Messages: snapshot})
		case snapshot := <-participants:
			c.sendEvent(ServerEvent{Type: EvtParticipants, Code: code, Participants: presentParticipants(snapshot)})
		case <-exited:
			c.clearController(ctrl)
			c.sendEvent(ServerEvent{Type: EvtLeft, Code: code})
			return
		case <-c.done:
			return
		}
	}
}
