// Package annotate turns an image into an Annotation: a scene description
// plus the objects found in it.
//
// A Describer produces the description and a Detector produces boxes. The
// two are independent so a VLM description can be paired with either VLM
// detection (normalized boxes) or a YOLO detector (pixel boxes).
package annotate

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/menta2k/image-search/pkg/client"
	"github.com/menta2k/image-search/pkg/processing"
	"github.com/menta2k/image-search/pkg/types"
)

// Describer produces a free-text description of an image
type Describer interface {
	Describe(ctx context.Context, img image.Image) (string, error)
}

// Detector finds objects in an image. A non-empty query restricts the
// result to that class.
type Detector interface {
	Detect(ctx context.Context, img image.Image, query string) ([]types.Detection, error)
}

// Annotator composes a Describer and a Detector
type Annotator struct {
	describer Describer
	detector  Detector
}

// New creates an Annotator. A nil detector yields annotations without
// detections.
func New(describer Describer, detector Detector) *Annotator {
	return &Annotator{describer: describer, detector: detector}
}

// Annotate describes img and detects objects in it
func (a *Annotator) Annotate(ctx context.Context, img image.Image, query string) (*types.Annotation, error) {
	b := img.Bounds()
	ann := &types.Annotation{Width: b.Dx(), Height: b.Dy()}

	if a.describer != nil {
		desc, err := a.describer.Describe(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("describe: %w", err)
		}
		ann.Description = strings.TrimSpace(desc)
	}

	if a.detector != nil {
		dets, err := a.detector.Detect(ctx, img, query)
		if err != nil {
			return nil, fmt.Errorf("detect: %w", err)
		}
		ann.Detections = dets
	}
	if ann.Detections == nil {
		ann.Detections = []types.Detection{}
	}
	return ann, nil
}

// VisionModel is a Describer and Detector backed by a vision-language model
type VisionModel struct {
	client         client.VisionClient
	processor      *processing.Processor
	model          string
	describePrompt string
}

// NewVisionModel creates a VisionModel. An empty describePrompt uses
// DefaultDescribePrompt; a nil processor uses processing defaults.
func NewVisionModel(c client.VisionClient, processor *processing.Processor, model, describePrompt string) *VisionModel {
	if processor == nil {
		processor = processing.NewProcessor()
	}
	if strings.TrimSpace(describePrompt) == "" {
		describePrompt = DefaultDescribePrompt
	}
	return &VisionModel{
		client:         c,
		processor:      processor,
		model:          model,
		describePrompt: describePrompt,
	}
}

// Model returns the model name sent with every request
func (v *VisionModel) Model() string {
	return v.model
}

// Describe asks the model for a scene description
func (v *VisionModel) Describe(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := v.processor.PrepareImageForModel(img)
	if err != nil {
		return "", fmt.Errorf("failed to prepare image: %w", err)
	}
	return v.client.SimpleQuery(ctx, v.model, v.describePrompt, imgB64)
}

// Detect asks the model to locate objects. Nameless objects returned for a
// query are named after it.
func (v *VisionModel) Detect(ctx context.Context, img image.Image, query string) ([]types.Detection, error) {
	imgB64, err := v.processor.PrepareImageForModel(img)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	dets, err := v.client.DetectObjects(ctx, v.model, DetectPrompt(query), imgB64)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	for i := range dets {
		if dets[i].Name == "" {
			dets[i].Name = query
		}
	}
	return dets, nil
}

var (
	_ Describer = (*VisionModel)(nil)
	_ Detector  = (*VisionModel)(nil)
)
