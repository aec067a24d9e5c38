package yolo

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/menta2k/image-search/pkg/types"
)

type candidate struct {
	classID int
	score   float32
	box     [4]float32 // x1, y1, x2, y2 in source pixels
}

// fillInput writes img into dst as planar RGB scaled to [0,1]. img must
// already have the model's input size.
func fillInput(dst []float32, img *image.NRGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255.0
			dst[plane+i] = float32(p[1]) / 255.0
			dst[2*plane+i] = float32(p[2]) / 255.0
		}
	}
}

// decodeOutput reads a [1, 4+numClasses, anchors] prediction tensor. Box
// centers and sizes are in input space and get scaled back to the source
// image.
func decodeOutput(pred []float32, numClasses, anchors int, scaleX, scaleY float32, threshold float32, srcW, srcH int) ([]candidate, error) {
	channels := 4 + numClasses
	if len(pred) != channels*anchors {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(pred), channels*anchors)
	}

	var out []candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, threshold
		for c := 0; c < numClasses; c++ {
			if s := pred[(4+c)*anchors+i]; s >= bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}

		cx, cy := pred[i], pred[anchors+i]
		w, h := pred[2*anchors+i], pred[3*anchors+i]
		out = append(out, candidate{
			classID: best,
			score:   bestScore,
			box: [4]float32{
				clampf((cx-w/2)*scaleX, 0, float32(srcW)),
				clampf((cy-h/2)*scaleY, 0, float32(srcH)),
				clampf((cx+w/2)*scaleX, 0, float32(srcW)),
				clampf((cy+h/2)*scaleY, 0, float32(srcH)),
			},
		})
	}
	return out, nil
}

// nms keeps the highest scoring box of every overlapping group of the same
// class. The result is ordered by descending score.
func nms(cands []candidate, iouThreshold float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})

	var keep []candidate
	for _, c := range cands {
		suppressed := false
		for _, k := range keep {
			if k.classID == c.classID && iou(k.box, c.box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, c)
		}
	}
	return keep
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func toDetections(cands []candidate, classes []string) []types.Detection {
	dets := make([]types.Detection, 0, len(cands))
	for _, c := range cands {
		id := c.classID
		name := fmt.Sprintf("class_%d", id)
		if id < len(classes) {
			name = classes[id]
		}
		dets = append(dets, types.Detection{
			Name:       name,
			Confidence: math.Round(float64(c.score)*1e4) / 1e4,
			ClassID:    &id,
			Box: types.Box{
				X1:    math.Round(float64(c.box[0])),
				Y1:    math.Round(float64(c.box[1])),
				X2:    math.Round(float64(c.box[2])),
				Y2:    math.Round(float64(c.box[3])),
				Units: types.Pixel,
			},
		})
	}
	return dets
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
