package render

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-search/pkg/types"
)

func grayImage(w, h int) *image.NRGBA {
	return imaging.New(w, h, color.NRGBA{64, 64, 64, 255})
}

func fixedPalette(colors ...color.NRGBA) *Palette {
	p := NewPalette()
	i := 0
	p.random = func() color.NRGBA {
		c := colors[i%len(colors)]
		i++
		return c
	}
	return p
}

func TestPaletteStablePerName(t *testing.T) {
	red, blue := color.NRGBA{255, 0, 0, 255}, color.NRGBA{0, 0, 255, 255}
	p := fixedPalette(red, blue)

	assert.Equal(t, red, p.Color("car"))
	assert.Equal(t, blue, p.Color("person"))
	assert.Equal(t, red, p.Color("car"))
	assert.Equal(t, 2, p.Len())
}

func TestPaletteRandomIsOpaque(t *testing.T) {
	p := NewPalette()
	assert.Equal(t, uint8(255), p.Color("x").A)
}

func TestDrawNormalizedBox(t *testing.T) {
	red := color.NRGBA{255, 0, 0, 255}
	r := New(2)
	r.palette = fixedPalette(red)

	src := grayImage(100, 80)
	out := r.Draw(src, []types.Detection{
		{Name: "", Box: types.Box{X1: 0.1, Y1: 0.25, X2: 0.5, Y2: 0.75, Units: types.Normalized}},
	})

	// outline on the box edges, interior and source untouched
	assert.Equal(t, red, out.NRGBAAt(10, 40))
	assert.Equal(t, red, out.NRGBAAt(11, 40))
	assert.Equal(t, red, out.NRGBAAt(30, 20))
	assert.Equal(t, color.NRGBA{64, 64, 64, 255}, out.NRGBAAt(30, 40))
	assert.Equal(t, color.NRGBA{64, 64, 64, 255}, src.NRGBAAt(10, 40))
}

func TestDrawPixelBoxClipped(t *testing.T) {
	green := color.NRGBA{0, 255, 0, 255}
	r := New(1)
	r.palette = fixedPalette(green)

	out := r.Draw(grayImage(50, 50), []types.Detection{
		{Name: "", Box: types.Box{X1: 10, Y1: 10, X2: 500, Y2: 30, Units: types.Pixel}},
	})
	assert.Equal(t, green, out.NRGBAAt(49, 20))
	assert.Equal(t, green, out.NRGBAAt(10, 20))
}

func TestDrawLabelUsesClassColor(t *testing.T) {
	blue := color.NRGBA{0, 0, 255, 255}
	r := New(1)
	r.palette = fixedPalette(blue)

	out := r.Draw(grayImage(120, 120), []types.Detection{
		{Name: "car", Box: types.Box{X1: 20, Y1: 40, X2: 100, Y2: 100, Units: types.Pixel}},
	})

	found := false
	for y := 20; y < 39 && !found; y++ {
		for x := 20; x < 60; x++ {
			if out.NRGBAAt(x, y) == blue {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected label pixels above the box")
}

func TestDrawSkipsEmptyBoxes(t *testing.T) {
	r := New(3)
	out := r.Draw(grayImage(10, 10), []types.Detection{
		{Name: "ghost", Box: types.Box{X1: 20, Y1: 20, X2: 30, Y2: 30, Units: types.Pixel}},
	})
	assert.Equal(t, 0, r.Palette().Len())
	assert.Equal(t, color.NRGBA{64, 64, 64, 255}, out.NRGBAAt(5, 5))
}

func TestRenderFileMissingSource(t *testing.T) {
	_, err := New(3).RenderFile(filepath.Join(t.TempDir(), "gone.jpg"), nil)
	assert.ErrorIs(t, err, types.ErrMissingSourceImage)
}

func TestRenderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, imaging.Save(grayImage(40, 30), path))

	out, err := New(3).RenderFile(path, []types.Detection{
		{Name: "cow", Box: types.Box{X1: 0, Y1: 0, X2: 1, Y2: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 40, out.Bounds().Dx())
}
