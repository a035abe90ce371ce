// Package grid defines the screen layout for the multi player: a fixed
// rows × columns arrangement of cells, each hosting one video player.
// Geometry is expressed in percentages (0-100) of the total screen area.
package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// MaxDimension bounds rows and columns. More than 8x8 players on one
// screen is never useful and VLC will not keep up.
const MaxDimension = 8

// ErrInvalidLayout is returned when a layout fails validation.
var ErrInvalidLayout = errors.New("invalid layout")

// Cell is one rectangular region of the screen.
type Cell struct {
	Index  int `json:"index"`
	Row    int `json:"row"`
	Col    int `json:"col"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ID returns a short human label, e.g. "r1c2".
func (c Cell) ID() string {
	return fmt.Sprintf("r%dc%d", c.Row, c.Col)
}

// IsFullscreen reports whether the cell covers the whole screen.
func (c Cell) IsFullscreen() bool {
	return c.X == 0 && c.Y == 0 && c.Width >= 100 && c.Height >= 100
}

// Pixels converts the percentage geometry to pixels for the given screen.
func (c Cell) Pixels(screenW, screenH int) (x, y, w, h int) {
	return c.X * screenW / 100, c.Y * screenH / 100,
		c.Width * screenW / 100, c.Height * screenH / 100
}

// Layout is a named rows × columns grid.
type Layout struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

// LoadFromFile reads a layout definition from a JSON file.
func LoadFromFile(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout: %w", err)
	}

	var l Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	if err := l.Validate(); err != nil {
		return nil, err
	}

	return &l, nil
}

// Validate checks that both dimensions are within 1..MaxDimension.
func (l *Layout) Validate() error {
	if l.Rows < 1 || l.Cols < 1 {
		return fmt.Errorf("%w: %q has %dx%d cells", ErrInvalidLayout, l.Name, l.Rows, l.Cols)
	}
	if l.Rows > MaxDimension || l.Cols > MaxDimension {
		return fmt.Errorf("%w: %q exceeds %dx%d", ErrInvalidLayout, l.Name, MaxDimension, MaxDimension)
	}
	return nil
}

// Size is the number of cells in the layout.
func (l *Layout) Size() int {
	return l.Rows * l.Cols
}

// Cells returns every cell in row-major order. This is the enumeration
// order the scheduler uses when handing out URLs.
//
// Percentages that do not divide evenly are absorbed by the last row and
// column so the grid always covers exactly 100%.
func (l *Layout) Cells() []Cell {
	cells := make([]Cell, 0, l.Size())
	cellW := 100 / l.Cols
	cellH := 100 / l.Rows

	for r := 0; r < l.Rows; r++ {
		h := cellH
		if r == l.Rows-1 {
			h = 100 - cellH*r
		}
		for c := 0; c < l.Cols; c++ {
			w := cellW
			if c == l.Cols-1 {
				w = 100 - cellW*c
			}
			cells = append(cells, Cell{
				Index:  len(cells),
				Row:    r,
				Col:    c,
				X:      c * cellW,
				Y:      r * cellH,
				Width:  w,
				Height: h,
			})
		}
	}
	return cells
}

// New returns an unnamed rows × cols layout. Use Validate before relying on it.
func New(rows, cols int) *Layout {
	return &Layout{
		Name: fmt.Sprintf("%dx%d", rows, cols),
		Rows: rows,
		Cols: cols,
	}
}

// Fullscreen is a single player covering the whole screen.
func Fullscreen() *Layout {
	return &Layout{Name: "fullscreen", Rows: 1, Cols: 1}
}

// Quad is a 2x2 grid.
func Quad() *Layout {
	return &Layout{Name: "quad", Rows: 2, Cols: 2}
}

// Nine is the default 3x3 wall.
func Nine() *Layout {
	return &Layout{Name: "nine", Rows: 3, Cols: 3}
}

// Sixteen is a 4x4 wall.
func Sixteen() *Layout {
	return &Layout{Name: "sixteen", Rows: 4, Cols: 4}
}

// Preset looks up a built-in layout by name.
func Preset(name string) (*Layout, bool) {
	switch name {
	case "fullscreen":
		return Fullscreen(), true
	case "quad":
		return Quad(), true
	case "nine":
		return Nine(), true
	case "sixteen":
		return Sixteen(), true
	}
	return nil, false
}
