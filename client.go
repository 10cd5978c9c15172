package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// serverEvent is everything a BoardClient can receive: deltas in the same
// shape the server broadcasts, plus the "state" snapshot.
type serverEvent struct {
	Type      string  `json:"type"`
	Data      *Board  `json:"data,omitempty"`
	Role      Role    `json:"role,omitempty"`
	Path      *Stroke `json:"path,omitempty"`
	Token     *Token  `json:"token,omitempty"`
	ID        string  `json:"id,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	ImageData *string `json:"imageData,omitempty"`
	Size      int     `json:"size,omitempty"`
	Visible   *bool   `json:"visible,omitempty"`
}

// BoardClient is the reconciler side of the protocol: it keeps a local copy
// of the board, applies its own actions immediately while transmitting them,
// applies remote deltas as they arrive, and replaces its whole copy on every
// snapshot. Connection loss puts it in a fixed-delay reconnect loop; the
// fresh snapshot after reconnecting resolves any missed deltas, so there is
// no catch-up protocol.
//
// Optimistic and confirmed state converge silently in the one local board:
// local writes land in it right away, and the next snapshot overwrites
// whatever the server did not accept.
type BoardClient struct {
	url          string
	sessionToken string
	reconnect    time.Duration

	mu    sync.Mutex
	conn  *websocket.Conn
	board Board
	role  Role
	syncs int // snapshots received, for join/reconnect tests
}

// newBoardClient prepares a client for the given ws:// URL. An empty
// sessionToken connects anonymously (view-only; the server discards its
// operations). Call run to connect.
func newBoardClient(wsURL, sessionToken string) *BoardClient {
	return &BoardClient{
		url:          wsURL,
		sessionToken: sessionToken,
		reconnect:    time.Second,
		board:        *newBoard(),
	}
}

// run connects and processes events until ctx is cancelled, redialing after
// a fixed delay whenever the connection drops. Attempts are unbounded.
func (c *BoardClient) run(ctx context.Context) {
	for {
		if err := c.dial(ctx); err == nil {
			c.readLoop()
		}

		select {
		case <-ctx.Done():
			c.close()
			return
		case <-time.After(c.reconnect):
		}
	}
}

func (c *BoardClient) dial(ctx context.Context) error {
	header := http.Header{}
	if c.sessionToken != "" {
		header.Set("Cookie", sessionCookieName+"="+c.sessionToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return nil
}

func (c *BoardClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.close()
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		c.handle(ev)
	}
}

func (c *BoardClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// handle applies one remote event to the local board. Deltas are applied
// as-is, without re-checking authorization: the server already gated them.
func (c *BoardClient) handle(ev serverEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case msgState:
		// Wholesale replacement; local state is discarded entirely.
		if ev.Data != nil {
			c.board = *ev.Data
			c.role = ev.Role
			c.syncs++
		}
	case msgDraw:
		if ev.Path != nil {
			c.board.addStroke(*ev.Path)
		}
	case msgClear:
		c.board.clearStrokes()
	case msgTokenCreate:
		if ev.Token != nil {
			c.board.createToken(*ev.Token)
		}
	case msgTokenMove:
		c.board.moveToken(ev.ID, ev.X, ev.Y)
	case msgTokenDelete:
		c.board.deleteToken(ev.ID)
	case msgBackground:
		c.board.setBackground(ev.ImageData)
	case msgGridSize:
		c.board.setGridSize(ev.Size)
	case msgGridToggle:
		if ev.Visible != nil {
			c.board.setGridVisible(*ev.Visible)
		}
	}
}

// apply performs a local action: optimistic apply to the local board and
// simultaneous transmission to the server. When disconnected, the local
// apply still happens; the unsent operation is simply lost, and the next
// snapshot brings this client back in line with the server.
func (c *BoardClient) apply(mutate func(*Board), msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mutate(&c.board)

	if c.conn != nil {
		_ = c.conn.WriteJSON(msg)
	}
}

func (c *BoardClient) draw(s Stroke) {
	c.apply(func(b *Board) { b.addStroke(s) }, ClientMessage{Type: msgDraw, Path: &s})
}

func (c *BoardClient) clearStrokes() {
	c.apply(func(b *Board) { b.clearStrokes() }, ClientMessage{Type: msgClear})
}

func (c *BoardClient) createToken(t Token) {
	c.apply(func(b *Board) { b.createToken(t) }, ClientMessage{Type: msgTokenCreate, Token: &t})
}

func (c *BoardClient) moveToken(id string, x, y float64) {
	c.apply(func(b *Board) { b.moveToken(id, x, y) }, ClientMessage{Type: msgTokenMove, ID: id, X: x, Y: y})
}

func (c *BoardClient) deleteToken(id string) {
	c.apply(func(b *Board) { b.deleteToken(id) }, ClientMessage{Type: msgTokenDelete, ID: id})
}

func (c *BoardClient) setBackground(imageData *string) {
	c.apply(func(b *Board) { b.setBackground(imageData) }, ClientMessage{Type: msgBackground, ImageData: imageData})
}

func (c *BoardClient) setGridSize(size int) {
	c.apply(func(b *Board) { b.setGridSize(size) }, ClientMessage{Type: msgGridSize, Size: size})
}

func (c *BoardClient) setGridVisible(visible bool) {
	v := visible
	c.apply(func(b *Board) { b.setGridVisible(v) }, ClientMessage{Type: msgGridToggle, Visible: &v})
}

// snapshot returns a copy of the client's current view of the board.
func (c *BoardClient) snapshot() Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.snapshot()
}

func (c *BoardClient) currentRole() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *BoardClient) snapshotCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncs
}
