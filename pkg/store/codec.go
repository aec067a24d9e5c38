package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/menta2k/image-search/pkg/types"
)

// WireBox carries either the normalized corner fields or the pixel corner
// fields. Which set is present is the box's unit tag.
type WireBox struct {
	XMin *float64 `json:"x_min,omitempty"`
	YMin *float64 `json:"y_min,omitempty"`
	XMax *float64 `json:"x_max,omitempty"`
	YMax *float64 `json:"y_max,omitempty"`

	X1 *float64 `json:"x1,omitempty"`
	Y1 *float64 `json:"y1,omitempty"`
	X2 *float64 `json:"x2,omitempty"`
	Y2 *float64 `json:"y2,omitempty"`
}

// WireDetection is a detection as it appears in the store document. The flat
// normalized form (corner fields directly on the detection) is accepted on read.
type WireDetection struct {
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence,omitempty"`
	Class      *int     `json:"class,omitempty"`
	Box        *WireBox `json:"box,omitempty"`
	WireBox
}

type wireRecord struct {
	Description json.RawMessage `json:"description"`
	Detections  []WireDetection `json:"detections"`
	Width       int             `json:"width,omitempty"`
	Height      int             `json:"height,omitempty"`
}

var (
	errNoBox       = errors.New("detection has no box")
	errPartialBox  = errors.New("box is missing corner fields")
	errAmbiguous   = errors.New("box carries both normalized and pixel fields")
	errMixedSchema = errors.New("store mixes normalized and pixel boxes")
)

func (b *WireBox) present() bool {
	return b.XMin != nil || b.YMin != nil || b.XMax != nil || b.YMax != nil ||
		b.X1 != nil || b.Y1 != nil || b.X2 != nil || b.Y2 != nil
}

func (b *WireBox) decode() (types.Box, error) {
	hasNorm := b.XMin != nil || b.YMin != nil || b.XMax != nil || b.YMax != nil
	hasPix := b.X1 != nil || b.Y1 != nil || b.X2 != nil || b.Y2 != nil
	switch {
	case hasNorm && hasPix:
		return types.Box{}, errAmbiguous
	case hasNorm:
		if b.XMin == nil || b.YMin == nil || b.XMax == nil || b.YMax == nil {
			return types.Box{}, errPartialBox
		}
		return types.Box{X1: *b.XMin, Y1: *b.YMin, X2: *b.XMax, Y2: *b.YMax, Units: types.Normalized}, nil
	case hasPix:
		if b.X1 == nil || b.Y1 == nil || b.X2 == nil || b.Y2 == nil {
			return types.Box{}, errPartialBox
		}
		return types.Box{X1: *b.X1, Y1: *b.Y1, X2: *b.X2, Y2: *b.Y2, Units: types.Pixel}, nil
	}
	return types.Box{}, errNoBox
}

func encodeBox(b types.Box) *WireBox {
	x1, y1, x2, y2 := b.X1, b.Y1, b.X2, b.Y2
	if b.Units == types.Pixel {
		return &WireBox{X1: &x1, Y1: &y1, X2: &x2, Y2: &y2}
	}
	return &WireBox{XMin: &x1, YMin: &y1, XMax: &x2, YMax: &y2}
}

// EncodeDetections converts detections to their wire form
func EncodeDetections(dets []types.Detection) []WireDetection {
	out := make([]WireDetection, 0, len(dets))
	for _, d := range dets {
		wd := WireDetection{Name: d.Name, Box: encodeBox(d.Box), Class: d.ClassID}
		if d.Confidence != 0 {
			c := d.Confidence
			wd.Confidence = &c
		}
		out = append(out, wd)
	}
	return out
}

// DecodeDetection converts one wire detection, resolving the box units from
// the field names present.
func DecodeDetection(wd WireDetection) (types.Detection, error) {
	var (
		box types.Box
		err error
	)
	switch {
	case wd.Box != nil && wd.WireBox.present():
		return types.Detection{}, errAmbiguous
	case wd.Box != nil:
		box, err = wd.Box.decode()
	default:
		box, err = wd.WireBox.decode()
	}
	if err != nil {
		return types.Detection{}, err
	}
	det := types.Detection{Name: wd.Name, Box: box, ClassID: wd.Class}
	if wd.Confidence != nil {
		det.Confidence = *wd.Confidence
	}
	return det, nil
}

// decodeDescription accepts a plain string or an object with an "answer" field
func decodeDescription(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Answer *string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("description is neither a string nor an object: %w", err)
	}
	if obj.Answer == nil {
		return "", errors.New("description object has no answer field")
	}
	return *obj.Answer, nil
}

// Decode parses a store document. All boxes in the document must share one
// unit system.
func Decode(r io.Reader) (*types.AnnotationStore, error) {
	var doc map[string]wireRecord
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse store: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("failed to parse store: trailing data after document")
	}
	if doc == nil {
		return nil, errors.New("store document is not an object")
	}

	st := types.NewAnnotationStore()
	var units *types.Units
	for name, wr := range doc {
		desc, err := decodeDescription(wr.Description)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", name, err)
		}
		rec := types.ImageRecord{
			Description: desc,
			Detections:  make([]types.Detection, 0, len(wr.Detections)),
			Width:       wr.Width,
			Height:      wr.Height,
		}
		for i, wd := range wr.Detections {
			det, err := DecodeDetection(wd)
			if err != nil {
				return nil, fmt.Errorf("record %q detection %d: %w", name, i, err)
			}
			if units == nil {
				u := det.Box.Units
				units = &u
			} else if *units != det.Box.Units {
				return nil, fmt.Errorf("record %q: %w", name, errMixedSchema)
			}
			rec.Detections = append(rec.Detections, det)
		}
		st.Put(name, rec)
	}
	return st, nil
}

// Marshal renders the store as an indented JSON document with sorted keys
func Marshal(st *types.AnnotationStore) ([]byte, error) {
	if err := checkUnits(st); err != nil {
		return nil, err
	}
	doc := make(map[string]wireRecord, st.Len())
	for _, name := range st.Filenames() {
		rec := st.Records[name]
		desc, err := json.Marshal(rec.Description)
		if err != nil {
			return nil, err
		}
		doc[name] = wireRecord{
			Description: desc,
			Detections:  EncodeDetections(rec.Detections),
			Width:       rec.Width,
			Height:      rec.Height,
		}
	}
	// encoding/json emits map keys in sorted order
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal store: %w", err)
	}
	return append(data, '\n'), nil
}

func checkUnits(st *types.AnnotationStore) error {
	var units *types.Units
	for _, name := range st.Filenames() {
		for _, d := range st.Records[name].Detections {
			if units == nil {
				u := d.Box.Units
				units = &u
				continue
			}
			if *units != d.Box.Units {
				return fmt.Errorf("record %q: %w", name, errMixedSchema)
			}
		}
	}
	return nil
}
