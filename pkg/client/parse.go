package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/image-search/pkg/types"
)

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// ErrNoJSON is returned when a model reply contains no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

type modelObject struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	XMin       *float64 `json:"x_min"`
	YMin       *float64 `json:"y_min"`
	XMax       *float64 `json:"x_max"`
	YMax       *float64 `json:"y_max"`
}

type modelReply struct {
	Objects []modelObject `json:"objects"`
}

// ParseDetections parses a model reply of the form
// {"objects":[{"name":"car","x_min":0.1,"y_min":0.2,"x_max":0.5,"y_max":0.9}]}
// into normalized detections. Objects may use "label" instead of "name"; a
// nameless object keeps an empty name.
func ParseDetections(raw string) ([]types.Detection, error) {
	raw = SanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrNoJSON
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse detections: %w", err)
	}

	dets := make([]types.Detection, 0, len(reply.Objects))
	for i, o := range reply.Objects {
		if o.XMin == nil || o.YMin == nil || o.XMax == nil || o.YMax == nil {
			return nil, fmt.Errorf("object %d is missing box coordinates", i)
		}
		name := strings.TrimSpace(o.Name)
		if name == "" {
			name = strings.TrimSpace(o.Label)
		}
		dets = append(dets, types.Detection{
			Name:       strings.ToLower(name),
			Confidence: o.Confidence,
			Box:        normalizeBox(*o.XMin, *o.YMin, *o.XMax, *o.YMax),
		})
	}
	return dets, nil
}

// normalizeBox clamps corners into [0,1] and orders them
func normalizeBox(x1, y1, x2, y2 float64) types.Box {
	x1, x2 = clamp(x1, 0, 1), clamp(x2, 0, 1)
	y1, y2 = clamp(y1, 0, 1), clamp(y2, 0, 1)
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return types.Box{X1: x1, Y1: y1, X2: x2, Y2: y2, Units: types.Normalized}
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(raw[start : end+1])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
