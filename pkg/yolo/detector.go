// Package yolo runs a YOLO object detector exported to ONNX.
//
// The model is expected to take a [1,3,S,S] float32 "images" input and
// produce a [1,4+C,A] "output0" tensor (Ultralytics v8/v11 export layout).
// Boxes are returned in source-image pixels.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/menta2k/image-search/pkg/types"
)

const (
	DefaultInputSize     = 640
	DefaultAnchors       = 8400
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.45
)

// Config describes the model and its post-processing
type Config struct {
	ModelPath     string
	LibraryPath   string // onnxruntime shared library, empty uses the system default
	Classes       []string
	InputSize     int
	Anchors       int
	ConfThreshold float32
	IoUThreshold  float32
	Threads       int
}

func (c *Config) applyDefaults() {
	if len(c.Classes) == 0 {
		c.Classes = COCOClasses
	}
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if c.Anchors <= 0 {
		c.Anchors = DefaultAnchors
	}
	if c.ConfThreshold <= 0 {
		c.ConfThreshold = DefaultConfThreshold
	}
	if c.IoUThreshold <= 0 {
		c.IoUThreshold = DefaultIoUThreshold
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
}

// Detector owns one ONNX session. Calls to Detect are serialized.
type Detector struct {
	cfg     Config
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	ownsEnv bool
}

// New initializes the ONNX Runtime environment if needed and loads the model
func New(cfg Config) (*Detector, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("yolo: model path is required")
	}
	cfg.applyDefaults()

	d := &Detector{cfg: cfg}
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
		d.ownsEnv = true
	}

	if err := d.initSession(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Detector) initSession() error {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(d.cfg.Threads); err != nil {
		return fmt.Errorf("error setting threads: %w", err)
	}

	size := int64(d.cfg.InputSize)
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("error creating input tensor: %w", err)
	}
	d.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(d.cfg.Classes)), int64(d.cfg.Anchors)))
	if err != nil {
		return fmt.Errorf("error creating output tensor: %w", err)
	}

	d.session, err = ort.NewAdvancedSession(
		d.cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{d.input},
		[]ort.ArbitraryTensor{d.output},
		options,
	)
	if err != nil {
		return fmt.Errorf("error creating session for %s: %w", d.cfg.ModelPath, err)
	}
	return nil
}

// Detect runs the model on img. A non-empty query keeps only detections
// whose class name equals it, case-insensitively.
func (d *Detector) Detect(ctx context.Context, img image.Image, query string) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, errors.New("yolo: detector is closed")
	}

	b := img.Bounds()
	size := d.cfg.InputSize
	resized := imaging.Resize(img, size, size, imaging.Linear)
	fillInput(d.input.GetData(), resized)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	scaleX := float32(b.Dx()) / float32(size)
	scaleY := float32(b.Dy()) / float32(size)
	cands, err := decodeOutput(d.output.GetData(), len(d.cfg.Classes), d.cfg.Anchors, scaleX, scaleY, d.cfg.ConfThreshold, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	dets := toDetections(nms(cands, d.cfg.IoUThreshold), d.cfg.Classes)
	return FilterClass(dets, query), nil
}

// FilterClass keeps the detections named query. An empty query keeps all.
func FilterClass(dets []types.Detection, query string) []types.Detection {
	query = strings.TrimSpace(query)
	if query == "" {
		return dets
	}
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if strings.EqualFold(d.Name, query) {
			out = append(out, d)
		}
	}
	return out
}

// Close releases the session and, if New created it, the environment
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	if d.ownsEnv {
		d.ownsEnv = false
		return ort.DestroyEnvironment()
	}
	return nil
}
