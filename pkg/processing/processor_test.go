package processing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return img
}

func TestSaveAndLoadFormats(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	img := createTestImage(64, 48)

	for _, name := range []string{"a.jpg", "b.png", "c.webp"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, p.SaveImage(img, path, "", 90, false))

			loaded, err := p.LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, 64, loaded.Bounds().Dx())
			assert.Equal(t, 48, loaded.Bounds().Dy())
		})
	}
}

func TestLoadImageErrors(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()

	_, err := p.LoadImage(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)

	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0o644))
	_, err = p.LoadImage(corrupt)
	assert.Error(t, err)
}

func TestPrepareImageForModelResizes(t *testing.T) {
	p := NewProcessor()
	p.SendSize = 100

	b64, err := p.PrepareImageForModel(createTestImage(400, 200))
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	decoded, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, decoded.Bounds().Dx())
	assert.Equal(t, 50, decoded.Bounds().Dy())
}

func TestPrepareImageForModelPNG(t *testing.T) {
	p := &Processor{SendFormat: "png"}
	b64, err := p.PrepareImageForModel(createTestImage(20, 10))
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestEncodeAndContentType(t *testing.T) {
	p := NewProcessor()
	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf, createTestImage(8, 8), "png", 0))
	assert.Equal(t, []byte("\x89PNG"), buf.Bytes()[:4])

	assert.Equal(t, "image/png", ContentType("PNG"))
	assert.Equal(t, "image/webp", ContentType("webp"))
	assert.Equal(t, "image/jpeg", ContentType("jpg"))
}
