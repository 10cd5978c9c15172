package main

// Operation kinds carried in the "type" field of every socket message.
// All of them except "state" are client-originated.
const (
	msgState       = "state"
	msgDraw        = "draw"
	msgClear       = "clear"
	msgTokenCreate = "token-create"
	msgTokenMove   = "token-move"
	msgTokenDelete = "token-delete"
	msgBackground  = "background"
	msgGridSize    = "grid-size"
	msgGridToggle  = "grid-toggle"
)

// ClientMessage is the tagged union read off the socket. Only the fields
// matching Type are meaningful; the rest stay at their zero value.
type ClientMessage struct {
	Type      string  `json:"type"`
	Path      *Stroke `json:"path,omitempty"`      // draw
	Token     *Token  `json:"token,omitempty"`     // token-create
	ID        string  `json:"id,omitempty"`        // token-move / token-delete
	X         float64 `json:"x,omitempty"`         // token-move
	Y         float64 `json:"y,omitempty"`         // token-move
	ImageData *string `json:"imageData,omitempty"` // background (null clears it)
	Size      int     `json:"size,omitempty"`      // grid-size
	Visible   *bool   `json:"visible,omitempty"`   // grid-toggle
}

// StateMessage is the full snapshot sent to exactly one connection when it
// becomes ready, before any delta can reach it. Role is omitted for
// unauthenticated connections.
type StateMessage struct {
	Type string `json:"type"` // "state"
	Data Board  `json:"data"`
	Role Role   `json:"role,omitempty"`
}

type DrawMessage struct {
	Type string `json:"type"` // "draw"
	Path Stroke `json:"path"`
}

type ClearMessage struct {
	Type string `json:"type"` // "clear"
}

type TokenCreateMessage struct {
	Type  string `json:"type"` // "token-create"
	Token Token  `json:"token"`
}

type TokenMoveMessage struct {
	Type string  `json:"type"` // "token-move"
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type TokenDeleteMessage struct {
	Type string `json:"type"` // "token-delete"
	ID   string `json:"id"`
}

type BackgroundMessage struct {
	Type      string  `json:"type"` // "background"
	ImageData *string `json:"imageData"`
}

type GridSizeMessage struct {
	Type string `json:"type"` // "grid-size"
	Size int    `json:"size"`
}

type GridToggleMessage struct {
	Type    string `json:"type"` // "grid-toggle"
	Visible bool   `json:"visible"`
}
