package main

// Point is a single sampled coordinate within a stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one freehand drawing path. Strokes are append-only: once stored
// and broadcast they are never edited, only bulk-cleared. Slice order is
// draw order.
type Stroke struct {
	Tool   string  `json:"tool"` // "pen" or "eraser"
	Color  string  `json:"color"`
	Points []Point `json:"points"`
}

// Token is a positioned, named marker on the board. IDs are assigned by the
// originating client (timestamp + random suffix) and must be unique on the
// board; the hub enforces that on create.
type Token struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
}

// Board is the single canonical scene state. The field names double as the
// wire format of the "state" snapshot message. One instance exists per
// server process, constructed in ServePage and owned by the hub; every
// mutation happens on the hub's run goroutine, so no locking here.
type Board struct {
	Tokens          []Token  `json:"tokens"`
	BackgroundImage *string  `json:"backgroundImage"`
	GridSize        int      `json:"gridSize"`
	GridVisible     bool     `json:"gridVisible"`
	Drawings        []Stroke `json:"drawings"`
}

func newBoard() *Board {
	return &Board{
		Tokens:      []Token{},
		GridSize:    50,
		GridVisible: true,
		Drawings:    []Stroke{},
	}
}

func (b *Board) addStroke(s Stroke) {
	b.Drawings = append(b.Drawings, s)
}

// clearStrokes empties the drawing list. Tokens, grid, and background are
// untouched.
func (b *Board) clearStrokes() {
	b.Drawings = []Stroke{}
}

// createToken inserts t unless a token with the same ID already exists.
// Duplicate creates (retries, races) leave the board unchanged.
func (b *Board) createToken(t Token) bool {
	for i := range b.Tokens {
		if b.Tokens[i].ID == t.ID {
			return false
		}
	}
	b.Tokens = append(b.Tokens, t)
	return true
}

// moveToken overwrites the position of the token with the given id.
// A move for an unknown id (e.g. delete raced ahead of it) is a no-op.
func (b *Board) moveToken(id string, x, y float64) bool {
	for i := range b.Tokens {
		if b.Tokens[i].ID == id {
			b.Tokens[i].X = x
			b.Tokens[i].Y = y
			return true
		}
	}
	return false
}

// deleteToken removes the token with the given id. Absence is not an error.
func (b *Board) deleteToken(id string) {
	dst := b.Tokens[:0]
	for _, t := range b.Tokens {
		if t.ID == id {
			continue
		}
		dst = append(dst, t)
	}
	b.Tokens = dst
}

func (b *Board) setBackground(imageData *string) {
	b.BackgroundImage = imageData
}

func (b *Board) setGridSize(size int) {
	b.GridSize = size
}

func (b *Board) setGridVisible(visible bool) {
	b.GridVisible = visible
}

// snapshot returns a deep copy safe to hand off the hub goroutine, e.g. for
// JSON encoding on a client's write pump.
func (b *Board) snapshot() Board {
	out := Board{
		Tokens:      make([]Token, len(b.Tokens)),
		GridSize:    b.GridSize,
		GridVisible: b.GridVisible,
		Drawings:    make([]Stroke, len(b.Drawings)),
	}
	copy(out.Tokens, b.Tokens)
	for i, s := range b.Drawings {
		points := make([]Point, len(s.Points))
		copy(points, s.Points)
		out.Drawings[i] = Stroke{Tool: s.Tool, Color: s.Color, Points: points}
	}
	if b.BackgroundImage != nil {
		img := *b.BackgroundImage
		out.BackgroundImage = &img
	}
	return out
}
