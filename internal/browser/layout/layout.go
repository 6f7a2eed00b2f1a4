// internal/browser/layout/layout.go
package layout

import (
	"fmt"

	"github.com/xkilldash9x/cdpfleet/internal/config"
)

// Point is a window origin in screen pixels.
type Point struct {
	X int
	Y int
}

// String renders the point the way --window-position expects it.
func (p Point) String() string {
	return fmt.Sprintf("%d,%d", p.X, p.Y)
}

// Grid tiles fixed-size windows across a screen. Once a screen is full the
// next cycle starts again at the top-left, shifted by Offset pixels per
// completed cycle so stacked windows stay distinguishable.
type Grid struct {
	WindowWidth  int
	WindowHeight int
	ScreenWidth  int
	ScreenHeight int
	Offset       int
}

// NewGrid builds a Grid from the layout section of the configuration.
func NewGrid(cfg config.LayoutConfig) Grid {
	return Grid{
		WindowWidth:  cfg.WindowWidth,
		WindowHeight: cfg.WindowHeight,
		ScreenWidth:  cfg.ScreenWidth,
		ScreenHeight: cfg.ScreenHeight,
		Offset:       cfg.OverflowOffset,
	}
}

// Columns is the number of windows that fit side by side, at least one.
func (g Grid) Columns() int {
	if g.WindowWidth <= 0 {
		return 1
	}
	return max(g.ScreenWidth/g.WindowWidth, 1)
}

// Rows is the number of windows that fit top to bottom, at least one.
func (g Grid) Rows() int {
	if g.WindowHeight <= 0 {
		return 1
	}
	return max(g.ScreenHeight/g.WindowHeight, 1)
}

// PerScreen is how many windows fit before the grid wraps.
func (g Grid) PerScreen() int {
	return g.Columns() * g.Rows()
}

// Position returns the origin of the window at the zero-based index.
func (g Grid) Position(index int) Point {
	if index < 0 {
		index = 0
	}
	cycle := index / g.PerScreen()
	local := index % g.PerScreen()
	row := local / g.Columns()
	col := local % g.Columns()

	return Point{
		X: col*g.WindowWidth + cycle*g.Offset,
		Y: row*g.WindowHeight + cycle*g.Offset,
	}
}
