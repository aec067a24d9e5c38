package types

import (
	"image"
	"math"
	"sort"
)

// Units tells how the coordinates of a Box are expressed
type Units int

const (
	// Normalized boxes hold fractions of the image size in [0,1]
	Normalized Units = iota
	// Pixel boxes hold absolute pixel coordinates
	Pixel
)

func (u Units) String() string {
	switch u {
	case Normalized:
		return "normalized"
	case Pixel:
		return "pixel"
	default:
		return "unknown"
	}
}

// Box is a bounding box in corner form. The two unit systems are not
// interchangeable without the image size.
type Box struct {
	X1    float64
	Y1    float64
	X2    float64
	Y2    float64
	Units Units
}

// Rect converts the box to a pixel rectangle on an image of the given size,
// clipped to the image bounds.
func (b Box) Rect(imgW, imgH int) image.Rectangle {
	px := b.ToPixels(imgW, imgH)
	r := image.Rect(
		int(math.Round(px.X1)), int(math.Round(px.Y1)),
		int(math.Round(px.X2)), int(math.Round(px.Y2)),
	)
	return r.Intersect(image.Rect(0, 0, imgW, imgH))
}

// ToPixels returns the box in pixel units for an image of the given size
func (b Box) ToPixels(imgW, imgH int) Box {
	if b.Units == Pixel {
		return b
	}
	w, h := float64(imgW), float64(imgH)
	return Box{X1: b.X1 * w, Y1: b.Y1 * h, X2: b.X2 * w, Y2: b.Y2 * h, Units: Pixel}
}

// Normalize returns the box as fractions of an image of the given size.
// A zero-sized image leaves a pixel box unchanged.
func (b Box) Normalize(imgW, imgH int) Box {
	if b.Units == Normalized || imgW <= 0 || imgH <= 0 {
		return b
	}
	w, h := float64(imgW), float64(imgH)
	return Box{
		X1:    clamp(b.X1/w, 0, 1),
		Y1:    clamp(b.Y1/h, 0, 1),
		X2:    clamp(b.X2/w, 0, 1),
		Y2:    clamp(b.Y2/h, 0, 1),
		Units: Normalized,
	}
}

// Detection is one object instance found in an image
type Detection struct {
	Name       string
	Confidence float64
	ClassID    *int
	Box        Box
}

// ImageRecord is the annotation result for one image
type ImageRecord struct {
	Description string
	Detections  []Detection
	Width       int
	Height      int
}

// Annotation is what the annotation capability returns for one image
type Annotation struct {
	Description string
	Detections  []Detection
	Width       int
	Height      int
}

// Record converts an annotation into a store record
func (a *Annotation) Record() ImageRecord {
	dets := a.Detections
	if dets == nil {
		dets = []Detection{}
	}
	return ImageRecord{
		Description: a.Description,
		Detections:  dets,
		Width:       a.Width,
		Height:      a.Height,
	}
}

// AnnotationStore maps image filenames to their records
type AnnotationStore struct {
	Records map[string]ImageRecord
}

// NewAnnotationStore returns an empty store
func NewAnnotationStore() *AnnotationStore {
	return &AnnotationStore{Records: make(map[string]ImageRecord)}
}

// Put adds or replaces the record for filename
func (s *AnnotationStore) Put(filename string, rec ImageRecord) {
	if s.Records == nil {
		s.Records = make(map[string]ImageRecord)
	}
	s.Records[filename] = rec
}

// Get returns the record for filename
func (s *AnnotationStore) Get(filename string) (ImageRecord, bool) {
	rec, ok := s.Records[filename]
	return rec, ok
}

// Len returns the number of records
func (s *AnnotationStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Filenames returns the store keys in ascending order
func (s *AnnotationStore) Filenames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Records))
	for name := range s.Records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MatchResult is one search hit
type MatchResult struct {
	Filename       string
	Description    string
	Detections     []Detection
	Matched        []Detection
	MatchedClasses []string
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
