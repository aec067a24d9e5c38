package yolo

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-search/pkg/types"
)

// prediction builds a channel-major [4+classes, anchors] tensor
func prediction(classes, anchors int, rows [][]float32) []float32 {
	pred := make([]float32, (4+classes)*anchors)
	for i, r := range rows {
		for c, v := range r {
			pred[c*anchors+i] = v
		}
	}
	return pred
}

func TestDecodeOutput(t *testing.T) {
	pred := prediction(2, 3, [][]float32{
		{100, 100, 40, 20, 0.9, 0.1},   // class 0
		{300, 200, 100, 100, 0.1, 0.2}, // below threshold
		{620, 630, 60, 40, 0.3, 0.6},   // class 1, spills past the edge
	})

	cands, err := decodeOutput(pred, 2, 3, 2, 0.5, 0.25, 1280, 320)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, 0, cands[0].classID)
	assert.InDelta(t, 0.9, cands[0].score, 1e-6)
	assert.Equal(t, [4]float32{160, 45, 240, 55}, cands[0].box)

	assert.Equal(t, 1, cands[1].classID)
	assert.Equal(t, [4]float32{1180, 305, 1280, 320}, cands[1].box)
}

func TestDecodeOutputLength(t *testing.T) {
	_, err := decodeOutput(make([]float32, 10), 2, 3, 1, 1, 0.25, 10, 10)
	assert.Error(t, err)
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 0.0, iou(a, [4]float32{20, 20, 30, 30}), 1e-6)
	assert.InDelta(t, 25.0/175.0, iou(a, [4]float32{5, 5, 15, 15}), 1e-6)
}

func TestNMSPerClass(t *testing.T) {
	cands := []candidate{
		{classID: 0, score: 0.6, box: [4]float32{1, 1, 11, 11}},
		{classID: 0, score: 0.9, box: [4]float32{0, 0, 10, 10}},
		{classID: 1, score: 0.5, box: [4]float32{0, 0, 10, 10}},
		{classID: 0, score: 0.4, box: [4]float32{50, 50, 60, 60}},
	}
	keep := nms(cands, 0.45)
	require.Len(t, keep, 3)
	assert.InDelta(t, 0.9, keep[0].score, 1e-6)
	assert.Equal(t, 1, keep[1].classID)
	assert.InDelta(t, 0.4, keep[2].score, 1e-6)
}

func TestToDetections(t *testing.T) {
	dets := toDetections([]candidate{
		{classID: 2, score: 0.87654, box: [4]float32{10.4, 20.6, 30, 40}},
		{classID: 99, score: 0.5, box: [4]float32{0, 0, 1, 1}},
	}, COCOClasses)

	require.Len(t, dets, 2)
	assert.Equal(t, "car", dets[0].Name)
	assert.InDelta(t, 0.8765, dets[0].Confidence, 1e-9)
	require.NotNil(t, dets[0].ClassID)
	assert.Equal(t, 2, *dets[0].ClassID)
	assert.Equal(t, types.Box{X1: 10, Y1: 21, X2: 30, Y2: 40, Units: types.Pixel}, dets[0].Box)
	assert.Equal(t, "class_99", dets[1].Name)
}

func TestFilterClass(t *testing.T) {
	dets := []types.Detection{{Name: "cow"}, {Name: "person"}, {Name: "cow"}}
	assert.Len(t, FilterClass(dets, ""), 3)
	assert.Len(t, FilterClass(dets, " COW "), 2)
	assert.Empty(t, FilterClass(dets, "horse"))
}

func TestFillInput(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 0, color.NRGBA{255, 0, 51, 255})

	dst := make([]float32, 3*4)
	fillInput(dst, img)
	assert.InDelta(t, 1.0, dst[1], 1e-6)
	assert.InDelta(t, 0.0, dst[4+1], 1e-6)
	assert.InDelta(t, 0.2, dst[8+1], 1e-6)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	assert.Len(t, c.Classes, 80)
	assert.Equal(t, DefaultInputSize, c.InputSize)
	assert.Equal(t, DefaultAnchors, c.Anchors)
	assert.Positive(t, c.Threads)
}
