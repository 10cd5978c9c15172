package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hub tests drive the loop through its channels with in-memory clients and
// observe state only through the protocol (snapshots sent to fresh
// connections), never by poking at hub internals.

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	hub := newHub(&Config{}, newBoard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.run(ctx)

	return hub
}

func join(t *testing.T, hub *Hub, role Role) (*Client, StateMessage) {
	t.Helper()

	c := &Client{
		id:   uuid.NewString(),
		send: make(chan any, 32),
		role: role,
	}
	hub.register <- c

	msg := recv(t, c)
	state, ok := msg.(StateMessage)
	require.True(t, ok, "first message should be a snapshot, got %T", msg)

	return c, state
}

func recv(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("expected no message, got %#v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewConnectionReceivesSnapshotFirst(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	_, state := join(t, hub, RoleAdmin)

	assert.Equal(t, msgState, state.Type)
	assert.Equal(t, RoleAdmin, state.Role)
	assert.Equal(t, 50, state.Data.GridSize)
	assert.True(t, state.Data.GridVisible)
	assert.Empty(t, state.Data.Tokens)
	assert.Empty(t, state.Data.Drawings)
}

func TestSnapshotReflectsCurrentDocument(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	general, _ := join(t, hub, RoleGeneral)
	hub.ops <- inboundOp{client: general, msg: ClientMessage{
		Type:  msgTokenCreate,
		Token: &Token{ID: "t1", X: 100, Y: 100, Name: "Hero", Color: "#ff0000"},
	}}

	// A third connection joining afterwards sees the token in its snapshot.
	_, state := join(t, hub, RoleGeneral)
	require.Len(t, state.Data.Tokens, 1)
	assert.Equal(t, "Hero", state.Data.Tokens[0].Name)
}

func TestBroadcastSkipsOriginator(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	sender, _ := join(t, hub, RoleGeneral)
	observer, _ := join(t, hub, RoleGeneral)

	stroke := Stroke{Tool: "pen", Color: "#000", Points: []Point{{X: 1, Y: 2}}}
	hub.ops <- inboundOp{client: sender, msg: ClientMessage{Type: msgDraw, Path: &stroke}}

	msg := recv(t, observer)
	draw, ok := msg.(DrawMessage)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, stroke, draw.Path)

	// The originator already applied the change optimistically and hears
	// nothing back.
	expectSilence(t, sender)
}

func TestGeneralCannotChangeGridSize(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	general, _ := join(t, hub, RoleGeneral)
	observer, _ := join(t, hub, RoleGeneral)

	hub.ops <- inboundOp{client: general, msg: ClientMessage{Type: msgGridSize, Size: 100}}

	expectSilence(t, observer)

	_, state := join(t, hub, RoleGeneral)
	assert.Equal(t, 50, state.Data.GridSize)
}

func TestAdminGridSizeMutatesAndBroadcasts(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	admin, _ := join(t, hub, RoleAdmin)
	observer, _ := join(t, hub, RoleGeneral)

	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgGridSize, Size: 100}}

	msg := recv(t, observer)
	size, ok := msg.(GridSizeMessage)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 100, size.Size)

	_, state := join(t, hub, RoleGeneral)
	assert.Equal(t, 100, state.Data.GridSize)
}

func TestAdminOnlyOperations(t *testing.T) {
	t.Parallel()

	img := "data:image/png;base64,abc"
	visible := false

	tests := []struct {
		name string
		msg  ClientMessage
	}{
		{"background", ClientMessage{Type: msgBackground, ImageData: &img}},
		{"grid-size", ClientMessage{Type: msgGridSize, Size: 75}},
		{"grid-toggle", ClientMessage{Type: msgGridToggle, Visible: &visible}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			hub := newTestHub(t)
			general, _ := join(t, hub, RoleGeneral)
			observer, _ := join(t, hub, RoleGeneral)

			hub.ops <- inboundOp{client: general, msg: tt.msg}
			expectSilence(t, observer)

			_, state := join(t, hub, RoleGeneral)
			assert.Nil(t, state.Data.BackgroundImage)
			assert.Equal(t, 50, state.Data.GridSize)
			assert.True(t, state.Data.GridVisible)
		})
	}
}

func TestUnauthenticatedConnectionIsSilentlyDiscarded(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	anon, state := join(t, hub, RoleNone)
	assert.Equal(t, RoleNone, state.Role)

	observer, _ := join(t, hub, RoleGeneral)

	stroke := Stroke{Tool: "pen", Color: "#000", Points: []Point{{X: 1, Y: 1}}}
	hub.ops <- inboundOp{client: anon, msg: ClientMessage{Type: msgDraw, Path: &stroke}}
	hub.ops <- inboundOp{client: anon, msg: ClientMessage{Type: msgClear}}
	hub.ops <- inboundOp{client: anon, msg: ClientMessage{
		Type:  msgTokenCreate,
		Token: &Token{ID: "t1", Name: "Sneak", Color: "#000"},
	}}

	expectSilence(t, observer)

	_, snap := join(t, hub, RoleGeneral)
	assert.Empty(t, snap.Data.Drawings)
	assert.Empty(t, snap.Data.Tokens)
}

func TestUnknownMessageTypeDropped(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	admin, _ := join(t, hub, RoleAdmin)
	observer, _ := join(t, hub, RoleGeneral)

	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: "launch-missiles"}}

	expectSilence(t, observer)
}

func TestDuplicateTokenCreateKeepsFirst(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	general, _ := join(t, hub, RoleGeneral)
	observer, _ := join(t, hub, RoleGeneral)

	hub.ops <- inboundOp{client: general, msg: ClientMessage{
		Type:  msgTokenCreate,
		Token: &Token{ID: "t1", X: 1, Y: 1, Name: "Hero", Color: "#fff"},
	}}
	hub.ops <- inboundOp{client: general, msg: ClientMessage{
		Type:  msgTokenCreate,
		Token: &Token{ID: "t1", X: 9, Y: 9, Name: "Clone", Color: "#000"},
	}}

	// Both creates are rebroadcast so retried peers converge.
	first := recv(t, observer).(TokenCreateMessage)
	assert.Equal(t, "Hero", first.Token.Name)
	second := recv(t, observer).(TokenCreateMessage)
	assert.Equal(t, "Clone", second.Token.Name)

	// But the document keeps exactly one token, the first.
	_, state := join(t, hub, RoleGeneral)
	require.Len(t, state.Data.Tokens, 1)
	assert.Equal(t, "Hero", state.Data.Tokens[0].Name)
}

func TestMoveUnknownTokenProducesNothing(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	general, _ := join(t, hub, RoleGeneral)
	observer, _ := join(t, hub, RoleGeneral)

	hub.ops <- inboundOp{client: general, msg: ClientMessage{Type: msgTokenMove, ID: "ghost", X: 5, Y: 5}}

	expectSilence(t, observer)
}

func TestMoveLastWriteWins(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	a, _ := join(t, hub, RoleGeneral)
	b, _ := join(t, hub, RoleGeneral)

	hub.ops <- inboundOp{client: a, msg: ClientMessage{
		Type:  msgTokenCreate,
		Token: &Token{ID: "t1", Name: "Hero", Color: "#fff"},
	}}
	hub.ops <- inboundOp{client: a, msg: ClientMessage{Type: msgTokenMove, ID: "t1", X: 10, Y: 10}}
	hub.ops <- inboundOp{client: b, msg: ClientMessage{Type: msgTokenMove, ID: "t1", X: 20, Y: 20}}

	// Whichever move was processed last is the stored position, and any
	// other connection observes that same final position.
	_, state := join(t, hub, RoleGeneral)
	require.Len(t, state.Data.Tokens, 1)
	assert.Equal(t, float64(20), state.Data.Tokens[0].X)
	assert.Equal(t, float64(20), state.Data.Tokens[0].Y)
}

func TestClearOnlyEmptiesDrawings(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	admin, _ := join(t, hub, RoleAdmin)

	img := "bg"
	stroke := Stroke{Tool: "pen", Color: "#000", Points: []Point{{X: 1, Y: 1}}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgDraw, Path: &stroke}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{
		Type:  msgTokenCreate,
		Token: &Token{ID: "t1", Name: "Hero", Color: "#fff"},
	}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgBackground, ImageData: &img}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgClear}}

	_, state := join(t, hub, RoleGeneral)
	assert.Empty(t, state.Data.Drawings)
	assert.Len(t, state.Data.Tokens, 1)
	require.NotNil(t, state.Data.BackgroundImage)
	assert.Equal(t, "bg", *state.Data.BackgroundImage)
}

func TestMalformedPayloadsDropped(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	admin, _ := join(t, hub, RoleAdmin)
	observer, _ := join(t, hub, RoleGeneral)

	// Structurally valid JSON but semantically empty payloads: a draw with
	// no path, creates with no token or an empty id, a non-positive grid
	// size, a toggle with no flag.
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgDraw}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgTokenCreate}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgTokenCreate, Token: &Token{}}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgGridSize, Size: 0}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgGridToggle}}

	expectSilence(t, observer)

	_, state := join(t, hub, RoleGeneral)
	assert.Empty(t, state.Data.Drawings)
	assert.Empty(t, state.Data.Tokens)
	assert.Equal(t, 50, state.Data.GridSize)
}

func TestSlowClientIsDroppedNotWaitedOn(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	admin, _ := join(t, hub, RoleAdmin)

	// One-slot buffer: the snapshot fills it and is never drained.
	slow := &Client{
		id:   uuid.NewString(),
		send: make(chan any, 1),
		role: RoleGeneral,
	}
	hub.register <- slow

	observer, _ := join(t, hub, RoleGeneral)

	stroke := Stroke{Tool: "pen", Color: "#000", Points: []Point{{X: 1, Y: 1}}}
	hub.ops <- inboundOp{client: admin, msg: ClientMessage{Type: msgDraw, Path: &stroke}}

	// Delivery to the healthy observer is not blocked by the stalled peer.
	msg := recv(t, observer)
	_, ok := msg.(DrawMessage)
	require.True(t, ok, "got %T", msg)

	// The slow client was detached: snapshot is still there, then the
	// channel is closed.
	first := <-slow.send
	_, ok = first.(StateMessage)
	assert.True(t, ok)

	select {
	case _, open := <-slow.send:
		assert.False(t, open, "slow client channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("slow client channel was not closed")
	}
}

func TestUnregisterRemovesClient(t *testing.T) {
	t.Parallel()

	hub := newTestHub(t)

	leaver, _ := join(t, hub, RoleGeneral)
	observer, _ := join(t, hub, RoleGeneral)

	hub.unreg <- leaver

	select {
	case _, open := <-leaver.send:
		assert.False(t, open, "send channel should be closed on unregister")
	case <-time.After(2 * time.Second):
		t.Fatal("send channel was not closed")
	}

	// The remaining connection still receives broadcasts.
	other, _ := join(t, hub, RoleGeneral)
	stroke := Stroke{Tool: "pen", Color: "#000", Points: []Point{{X: 1, Y: 1}}}
	hub.ops <- inboundOp{client: other, msg: ClientMessage{Type: msgDraw, Path: &stroke}}

	msg := recv(t, observer)
	_, ok := msg.(DrawMessage)
	assert.True(t, ok, "got %T", msg)
}
