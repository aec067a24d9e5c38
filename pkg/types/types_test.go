package types

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxRectNormalized(t *testing.T) {
	b := Box{X1: 0.25, Y1: 0.5, X2: 0.75, Y2: 1.0, Units: Normalized}
	assert.Equal(t, image.Rect(100, 150, 300, 300), b.Rect(400, 300))
}

func TestBoxRectPixelClipped(t *testing.T) {
	b := Box{X1: -10, Y1: 20, X2: 500, Y2: 90, Units: Pixel}
	assert.Equal(t, image.Rect(0, 20, 400, 90), b.Rect(400, 300))
}

func TestBoxConversions(t *testing.T) {
	px := Box{X1: 40, Y1: 30, X2: 200, Y2: 150, Units: Pixel}

	n := px.Normalize(400, 300)
	assert.Equal(t, Normalized, n.Units)
	assert.InDelta(t, 0.1, n.X1, 1e-9)
	assert.InDelta(t, 0.5, n.Y2, 1e-9)

	back := n.ToPixels(400, 300)
	assert.Equal(t, Pixel, back.Units)
	assert.InDelta(t, 200, back.X2, 1e-9)

	// unknown image size leaves pixel boxes alone
	assert.Equal(t, px, px.Normalize(0, 0))
	assert.Equal(t, n, n.Normalize(400, 300))
}

func TestUnitsString(t *testing.T) {
	assert.Equal(t, "normalized", Normalized.String())
	assert.Equal(t, "pixel", Pixel.String())
	assert.Equal(t, "unknown", Units(9).String())
}

func TestAnnotationRecord(t *testing.T) {
	a := &Annotation{Description: "x", Width: 10, Height: 20}
	rec := a.Record()
	assert.NotNil(t, rec.Detections)
	assert.Equal(t, 10, rec.Width)
}

func TestStoreFilenamesSorted(t *testing.T) {
	st := NewAnnotationStore()
	st.Put("c.jpg", ImageRecord{})
	st.Put("a.jpg", ImageRecord{})
	st.Put("b.jpg", ImageRecord{})
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, st.Filenames())
	assert.Equal(t, 3, st.Len())

	var nilStore *AnnotationStore
	assert.Equal(t, 0, nilStore.Len())
	assert.Nil(t, nilStore.Filenames())
}

func TestImageErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ImageError{Filename: "a.jpg", Stage: "annotate", Err: cause})
	assert.ErrorIs(t, err, ErrImageFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "a.jpg: annotate: boom", err.Error())
}
