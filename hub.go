package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Client is one live socket. Its role is resolved once at upgrade time and
// never changes; an unauthenticated connection carries RoleNone and every
// role-gated branch fails for it.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan any
	role Role
}

type inboundOp struct {
	client *Client
	msg    ClientMessage
}

// minRoleForOp is the static authorization table. Absent entries are unknown
// operations and are dropped before authorization is even considered.
var minRoleForOp = map[string]Role{
	msgDraw:        RoleGeneral,
	msgClear:       RoleGeneral,
	msgTokenCreate: RoleGeneral,
	msgTokenMove:   RoleGeneral,
	msgTokenDelete: RoleGeneral,
	msgBackground:  RoleAdmin,
	msgGridSize:    RoleAdmin,
	msgGridToggle:  RoleAdmin,
}

// Hub owns the board document and the set of live connections. All of its
// state is touched exclusively from the run goroutine; the channels are the
// only way in. One inbound message is handled to completion (authorize,
// mutate, broadcast) before the next is taken, so the board never observes
// a half-applied operation.
type Hub struct {
	cfg   *Config
	board *Board

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	ops      chan inboundOp
}

func newHub(cfg *Config, board *Board) *Hub {
	return &Hub{
		cfg:      cfg,
		board:    board,
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		ops:      make(chan inboundOp),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true

			// Snapshot goes out before any delta can be queued for this
			// client: its send channel only just became reachable.
			c.send <- StateMessage{
				Type: msgState,
				Data: h.board.snapshot(),
				Role: c.role,
			}

			logf(h.cfg, "BOARD: Client %s connected (role=%s, %d online)", c.id, roleName(c.role), len(h.clients))

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				logf(h.cfg, "BOARD: Client %s disconnected (%d online)", c.id, len(h.clients))
			}

		case op := <-h.ops:
			h.handleOp(op)
		}
	}
}

func roleName(r Role) string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// handleOp applies one authorized operation to the board and fans the
// resulting delta out to every other live connection. Unauthorized
// operations are discarded without mutation, broadcast, or reply; that the
// sender hears nothing is deliberate.
func (h *Hub) handleOp(op inboundOp) {
	c := op.client
	msg := op.msg

	min, known := minRoleForOp[msg.Type]
	if !known {
		logf(h.cfg, "BOARD: Dropped unknown message type %q from client %s", msg.Type, c.id)
		return
	}
	if !c.role.atLeast(min) {
		logf(h.cfg, "BOARD: Dropped unauthorized %q from client %s (role=%s)", msg.Type, c.id, roleName(c.role))
		return
	}

	switch msg.Type {
	case msgDraw:
		if msg.Path == nil {
			logf(h.cfg, "BOARD: Dropped draw without path from client %s", c.id)
			return
		}
		h.board.addStroke(*msg.Path)
		h.broadcast(c, DrawMessage{Type: msgDraw, Path: *msg.Path})

	case msgClear:
		h.board.clearStrokes()
		h.broadcast(c, ClearMessage{Type: msgClear})

	case msgTokenCreate:
		if msg.Token == nil || msg.Token.ID == "" {
			logf(h.cfg, "BOARD: Dropped token-create without token from client %s", c.id)
			return
		}
		// A duplicate create leaves the board untouched but is still
		// rebroadcast, so peers that missed the first create converge.
		h.board.createToken(*msg.Token)
		h.broadcast(c, TokenCreateMessage{Type: msgTokenCreate, Token: *msg.Token})

	case msgTokenMove:
		if h.board.moveToken(msg.ID, msg.X, msg.Y) {
			h.broadcast(c, TokenMoveMessage{Type: msgTokenMove, ID: msg.ID, X: msg.X, Y: msg.Y})
		}

	case msgTokenDelete:
		h.board.deleteToken(msg.ID)
		h.broadcast(c, TokenDeleteMessage{Type: msgTokenDelete, ID: msg.ID})

	case msgBackground:
		h.board.setBackground(msg.ImageData)
		h.broadcast(c, BackgroundMessage{Type: msgBackground, ImageData: msg.ImageData})

	case msgGridSize:
		if msg.Size < 1 {
			logf(h.cfg, "BOARD: Dropped grid-size %d from client %s", msg.Size, c.id)
			return
		}
		h.board.setGridSize(msg.Size)
		h.broadcast(c, GridSizeMessage{Type: msgGridSize, Size: msg.Size})

	case msgGridToggle:
		if msg.Visible == nil {
			logf(h.cfg, "BOARD: Dropped grid-toggle without visible flag from client %s", c.id)
			return
		}
		h.board.setGridVisible(*msg.Visible)
		h.broadcast(c, GridToggleMessage{Type: msgGridToggle, Visible: *msg.Visible})
	}
}

// broadcast queues msg for every live connection except the originator, who
// already applied the change optimistically. A client whose buffer is full
// is dropped rather than allowed to stall delivery to the rest.
func (h *Hub) broadcast(sender *Client, msg any) {
	for client := range h.clients {
		if client == sender {
			continue
		}
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
			logf(h.cfg, "BOARD: Dropped slow client %s (%d online)", client.id, len(h.clients))
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection and binds it to whatever role its session
// cookie resolves to. That resolution happens exactly once, here.
func serveWS(sessions *SessionRegistry, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		role, _ := resolveRequest(sessions, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan any, 32),
			role: role,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		// A malformed payload is logged and dropped; the connection is
		// never torn down over a single bad message.
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logf(h.cfg, "BOARD: Dropped malformed message from client %s: %v", c.id, err)
			continue
		}

		h.ops <- inboundOp{client: c, msg: msg}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
