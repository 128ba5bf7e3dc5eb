// Package websocket is the session gateway: each connection drives one
// room session through JSON commands and receives live snapshot events.
package websocket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"room-chat/internal/identity"
	"room-chat/internal/room"
	"room-chat/internal/security"
	"room-chat/internal/session"
)

// Gateway upgrades HTTP requests to websocket sessions.
type Gateway struct {
	repo        room.Repository
	identities  func(userID string) identity.Store
	sessionOpts []session.Option
	upgrader    websocket.Upgrader
}

// NewGateway creates a gateway over the given repository. identities
// resolves the client-remembered participant id to its identity store.
func NewGateway(repo room.Repository, identities func(userID string) identity.Store, opts ...session.Option) *Gateway {
	return &Gateway{
		repo:        repo,
		identities:  identities,
		sessionOpts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and serves the connection until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(g, conn)
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket connected")

	go client.writePump()
	client.readPump()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket disconnected")
}

func (c *client) dispatch(cmd ClientCommand) {
	ctx := context.Background()

	switch cmd.Type {
	case CmdCreate:
		c.handleCreate(ctx, cmd)
	case CmdJoin:
		c.handleJoin(ctx, cmd)
	case CmdSend:
		c.handleSend(ctx, cmd)
	case CmdLeave:
		c.handleLeave(ctx)
	case CmdDelete:
		c.handleDelete(ctx)
	case CmdCall:
		c.handleCall(ctx)
	default:
		c.sendError("bad_command", fmt.Errorf("unknown command type %q", cmd.Type))
	}
}

func (c *client) handleCreate(ctx context.Context, cmd ClientCommand) {
	if c.controller() != nil {
		c.sendError(errorCode(session.ErrAlreadyJoined), session.ErrAlreadyJoined)
		return
	}

	username, err := security.ValidateUsername(cmd.Username)
	if err != nil {
		c.sendError("invalid_input", err)
		return
	}

	ctrl := session.NewController(c.gateway.repo, c.gateway.identities(cmd.UserID), c.gateway.sessionOpts...)
	code, err := ctrl.Create(ctx, username)
	if err != nil {
		c.sendError(errorCode(err), err)
		return
	}

	c.setController(ctrl)
	c.sendEvent(ServerEvent{Type: EvtJoined, Code: code, Profile: ctrl.Profile()})
	go c.forward(ctrl, code)
}

func (c *client) handleJoin(ctx context.Context, cmd ClientCommand) {
	if c.controller() != nil {
		c.sendError(errorCode(session.ErrAlreadyJoined), session.ErrAlreadyJoined)
		return
	}

	username, err := security.ValidateUsername(cmd.Username)
	if err != nil {
		c.sendError("invalid_input", err)
		return
	}
	code, err := security.ValidateRoomCode(cmd.Code)
	if err != nil {
		c.sendError("invalid_input", err)
		return
	}

	ctrl := session.NewController(c.gateway.repo, c.gateway.identities(cmd.UserID), c.gateway.sessionOpts...)
	if err := ctrl.Join(ctx, code, username); err != nil {
		c.sendError(errorCode(err), err)
		return
	}

	c.setController(ctrl)
	c.sendEvent(ServerEvent{Type: EvtJoined, Code: code, Profile: ctrl.Profile()})
	go c.forward(ctrl, code)
}

func (c *client) handleSend(ctx context.Context, cmd ClientCommand) {
	ctrl := c.controller()
	if ctrl == nil {
		c.sendError(errorCode(session.ErrNotJoined), session.ErrNotJoined)
		return
	}

	body, err := security.ValidateBody(cmd.Body)
	if err != nil {
		c.sendError("invalid_input", err)
		return
	}

	if _, err := ctrl.Send(ctx, body); err != nil {
		c.sendError(errorCode(err), err)
	}
}

func (c *client) handleLeave(ctx context.Context) {
	ctrl := c.controller()
	if ctrl == nil {
		c.sendError(errorCode(session.ErrNotJoined), session.ErrNotJoined)
		return
	}

	// The forward loop observes the exit and emits the "left" event.
	ctrl.Leave(ctx)
}

func (c *client) handleDelete(ctx context.Context) {
	ctrl := c.controller()
	if ctrl == nil {
		c.sendError(errorCode(session.ErrNotJoined), session.ErrNotJoined)
		return
	}

	code := ctrl.CurrentRoom()
	if err := ctrl.Delete(ctx); err != nil {
		c.sendError(errorCode(err), err)
		return
	}
	c.sendEvent(ServerEvent{Type: EvtDeleted, Code: code})
}

func (c *client) handleCall(ctx context.Context) {
	ctrl := c.controller()
	if ctrl == nil {
		c.sendError(errorCode(session.ErrNotJoined), session.ErrNotJoined)
		return
	}

	callID, err := ctrl.EnsureCallSession(ctx)
	if err != nil {
		c.sendError(errorCode(err), err)
		return
	}
	c.sendEvent(ServerEvent{Type: EvtCall, Code: ctrl.CurrentRoom(), CallID: callID})
}
