// internal/browser/layout/layout_test.go
package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/cdpfleet/internal/browser/layout"
	"github.com/xkilldash9x/cdpfleet/internal/config"
)

func defaultGrid() layout.Grid {
	return layout.NewGrid(config.NewDefaultConfig().Layout)
}

func TestGridDimensions(t *testing.T) {
	g := defaultGrid()
	assert.Equal(t, 2, g.Columns(), "1920/800")
	assert.Equal(t, 1, g.Rows(), "1080/600")
	assert.Equal(t, 2, g.PerScreen())
}

func TestGridPosition(t *testing.T) {
	g := defaultGrid()

	tests := []struct {
		index int
		want  layout.Point
	}{
		{0, layout.Point{X: 0, Y: 0}},
		{1, layout.Point{X: 800, Y: 0}},
		// Second screen cycle shifts by the overflow offset.
		{2, layout.Point{X: 20, Y: 20}},
		{3, layout.Point{X: 820, Y: 20}},
		{4, layout.Point{X: 40, Y: 40}},
		{-5, layout.Point{X: 0, Y: 0}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Position(tt.index), "index %d", tt.index)
	}
}

func TestGridDegenerate(t *testing.T) {
	t.Run("window larger than screen still yields one slot", func(t *testing.T) {
		g := layout.Grid{WindowWidth: 4000, WindowHeight: 4000, ScreenWidth: 1920, ScreenHeight: 1080, Offset: 20}
		assert.Equal(t, 1, g.PerScreen())
		assert.Equal(t, layout.Point{X: 20, Y: 20}, g.Position(1))
	})

	t.Run("zero window size does not divide by zero", func(t *testing.T) {
		g := layout.Grid{}
		assert.Equal(t, layout.Point{}, g.Position(3))
	})
}

func TestPointString(t *testing.T) {
	assert.Equal(t, "820,20", layout.Point{X: 820, Y: 20}.String())
}
