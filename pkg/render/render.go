// Package render draws detection boxes and class labels onto images.
//
// Colors come from a Palette owned by the Renderer. A class name gets a random
// color the first time it is drawn and keeps it for the Palette's lifetime;
// colors are not stable across processes.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/rand/v2"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/image-search/pkg/processing"
	"github.com/menta2k/image-search/pkg/types"
)

// Palette assigns each class name a color on first use
type Palette struct {
	mu     sync.Mutex
	colors map[string]color.NRGBA
	random func() color.NRGBA
}

// NewPalette creates a Palette that picks random colors
func NewPalette() *Palette {
	return &Palette{
		colors: make(map[string]color.NRGBA),
		random: randomColor,
	}
}

// Color returns the color for a class name, assigning one if needed
func (p *Palette) Color(name string) color.NRGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.colors[name]; ok {
		return c
	}
	c := p.random()
	p.colors[name] = c
	return c
}

// Len returns the number of assigned colors
func (p *Palette) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.colors)
}

func randomColor() color.NRGBA {
	return color.NRGBA{uint8(rand.IntN(256)), uint8(rand.IntN(256)), uint8(rand.IntN(256)), 255}
}

// Renderer draws detections onto copies of images
type Renderer struct {
	palette *Palette
	loader  *processing.Processor
	stroke  int
	face    font.Face
}

// New creates a Renderer with its own Palette. Stroke is the outline width in
// pixels; values below 1 use 3.
func New(stroke int) *Renderer {
	if stroke < 1 {
		stroke = 3
	}
	return &Renderer{
		palette: NewPalette(),
		loader:  processing.NewProcessor(),
		stroke:  stroke,
		face:    basicfont.Face7x13,
	}
}

// Palette returns the renderer's palette
func (r *Renderer) Palette() *Palette {
	return r.palette
}

// Draw returns a copy of img with every detection outlined and labelled.
// The source image is not modified.
func (r *Renderer) Draw(img image.Image, dets []types.Detection) *image.NRGBA {
	out := imaging.Clone(img)
	b := out.Bounds()
	w, h := b.Dx(), b.Dy()

	for _, d := range dets {
		rect := d.Box.Rect(w, h)
		if rect.Empty() {
			continue
		}
		c := r.palette.Color(d.Name)
		r.drawRect(out, rect, c)
		if d.Name != "" {
			r.drawLabel(out, rect.Min, d.Name, c)
		}
	}
	return out
}

func (r *Renderer) drawRect(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	src := image.NewUniform(c)
	for s := 0; s < r.stroke; s++ {
		inner := rect.Inset(s)
		if inner.Empty() {
			return
		}
		edges := []image.Rectangle{
			image.Rect(inner.Min.X, inner.Min.Y, inner.Max.X, inner.Min.Y+1),
			image.Rect(inner.Min.X, inner.Max.Y-1, inner.Max.X, inner.Max.Y),
			image.Rect(inner.Min.X, inner.Min.Y, inner.Min.X+1, inner.Max.Y),
			image.Rect(inner.Max.X-1, inner.Min.Y, inner.Max.X, inner.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e, src, image.Point{}, draw.Src)
		}
	}
}

// drawLabel writes the class name just above the box, or inside it when the
// box touches the top edge.
func (r *Renderer) drawLabel(img *image.NRGBA, at image.Point, text string, c color.NRGBA) {
	ascent := r.face.Metrics().Ascent.Ceil()

	baseline := at.Y - 2
	if baseline-ascent < 0 {
		baseline = at.Y + ascent + r.stroke
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(at.X+r.stroke, baseline),
	}
	d.DrawString(text)
}

// RenderFile loads the image at path and draws detections on it. It wraps
// types.ErrMissingSourceImage when the file no longer exists.
func (r *Renderer) RenderFile(path string, dets []types.Detection) (*image.NRGBA, error) {
	img, err := r.loader.LoadImage(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrMissingSourceImage, path)
		}
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return r.Draw(img, dets), nil
}
