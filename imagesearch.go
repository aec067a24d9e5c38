// Package imagesearch indexes folders of images with a vision model and
// searches the resulting annotation store by keyword.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine, err := imagesearch.New(cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	report, err := engine.Index(ctx, "data", "")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("indexed %d image(s)\n", report.Store.Len())
//
//	matches, err := engine.Search("red car")
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, m := range matches {
//		fmt.Println(m.Filename, m.MatchedClasses)
//	}
//
// The package consists of these components:
//
//  1. Annotate (pkg/annotate): describes an image and detects its objects
//  2. Indexer (pkg/indexer): annotates a folder and writes the store
//  3. Store (pkg/store): the JSON annotation store on disk
//  4. Search (pkg/search): keyword matching over a store
//  5. Render (pkg/render): draws detections onto images
//
// Detection runs either through the vision model (ollama or llama.cpp) or
// through a local YOLO model on ONNX Runtime (pkg/yolo).
package imagesearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/menta2k/image-search/internal/config"
	"github.com/menta2k/image-search/pkg/annotate"
	"github.com/menta2k/image-search/pkg/client"
	"github.com/menta2k/image-search/pkg/indexer"
	"github.com/menta2k/image-search/pkg/llamacpp"
	"github.com/menta2k/image-search/pkg/ollama"
	"github.com/menta2k/image-search/pkg/processing"
	"github.com/menta2k/image-search/pkg/render"
	"github.com/menta2k/image-search/pkg/search"
	"github.com/menta2k/image-search/pkg/store"
	"github.com/menta2k/image-search/pkg/types"
	"github.com/menta2k/image-search/pkg/yolo"
)

// Version is the current version of image-search
const Version = "0.1.0"

// Engine ties the configured model, indexer and store together
type Engine struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *store.FileStore
	processor *processing.Processor
	renderer  *render.Renderer

	// the annotator is built on first use so search-only callers never
	// touch a model backend
	mu      sync.Mutex
	indexer *indexer.Indexer
	closers []io.Closer

	newAnnotator func(*config.Config, *processing.Processor) (indexer.Annotator, []io.Closer, error)
}

// New creates an Engine from cfg. A nil logger uses slog.Default().
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	processor := processing.NewProcessor()
	processor.SendFormat = cfg.Model.SendFormat
	processor.SendSize = cfg.Model.SendSize
	processor.SendQuality = cfg.Model.SendQuality

	return &Engine{
		cfg:          cfg,
		log:          logger,
		store:        store.New(cfg.Indexer.StorePath),
		processor:    processor,
		renderer:     render.New(cfg.Indexer.BoxStroke),
		newAnnotator: BuildAnnotator,
	}, nil
}

// NewWithAnnotator creates an Engine that annotates with ann instead of the
// configured backend
func NewWithAnnotator(cfg *config.Config, ann indexer.Annotator, logger *slog.Logger) (*Engine, error) {
	if ann == nil {
		return nil, errors.New("imagesearch: annotator is required")
	}
	e, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	e.newAnnotator = func(*config.Config, *processing.Processor) (indexer.Annotator, []io.Closer, error) {
		return ann, nil, nil
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// StorePath returns the annotation store path
func (e *Engine) StorePath() string {
	return e.store.Path()
}

// Processor returns the shared image processor
func (e *Engine) Processor() *processing.Processor {
	return e.processor
}

// Renderer returns the shared detection renderer
func (e *Engine) Renderer() *render.Renderer {
	return e.renderer
}

// Indexer returns the indexer, building the annotator on first call
func (e *Engine) Indexer() (*indexer.Indexer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexer != nil {
		return e.indexer, nil
	}

	ann, closers, err := e.newAnnotator(e.cfg, e.processor)
	if err != nil {
		return nil, err
	}
	ix, err := indexer.New(ann, indexer.Options{
		Store:         e.store,
		Processor:     e.processor,
		Renderer:      e.renderer,
		OutputDir:     e.cfg.Indexer.OutputDir,
		Prefix:        e.cfg.Indexer.Prefix,
		OutputFormat:  e.cfg.Indexer.OutputFormat,
		OutputQuality: e.cfg.Indexer.OutputQuality,
		ImageTimeout:  e.cfg.ImageTimeoutDuration(),
		Logger:        e.log,
	})
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	e.indexer = ix
	e.closers = closers
	return ix, nil
}

// Index annotates every image in folder and replaces the store
func (e *Engine) Index(ctx context.Context, folder, query string) (*indexer.Report, error) {
	return e.IndexWithProgress(ctx, folder, query, nil)
}

// IndexWithProgress is Index with a per-image progress callback
func (e *Engine) IndexWithProgress(ctx context.Context, folder, query string, onProgress func(indexer.Event)) (*indexer.Report, error) {
	ix, err := e.Indexer()
	if err != nil {
		return nil, err
	}
	return ix.IndexWithProgress(ctx, folder, query, onProgress)
}

// Search returns the stored images matching term. A missing or corrupt
// store fails with types.ErrStoreUnavailable.
func (e *Engine) Search(term string) ([]types.MatchResult, error) {
	return search.SearchFile(e.store.Path(), term)
}

// Close releases model resources
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := closeAll(e.closers)
	e.closers = nil
	e.indexer = nil
	return err
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewVisionClient creates the model backend named by cfg.Backend
func NewVisionClient(cfg *config.Config) (client.VisionClient, error) {
	switch cfg.Backend {
	case "ollama":
		return ollama.NewClient(cfg.ModelURL())
	case "llamacpp":
		return llamacpp.NewClient(cfg.ModelURL())
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// BuildAnnotator creates the annotator described by cfg. The vision model
// always writes descriptions; detection uses it too unless the detector
// kind is yolo.
func BuildAnnotator(cfg *config.Config, processor *processing.Processor) (indexer.Annotator, []io.Closer, error) {
	vc, err := NewVisionClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}
	vm := annotate.NewVisionModel(vc, processor, cfg.Model.Name, cfg.Model.DescribePrompt)

	switch cfg.Detector.Kind {
	case "", "vision":
		return annotate.New(vm, vm), nil, nil
	case "yolo":
		det, err := yolo.New(yolo.Config{
			ModelPath:     cfg.Detector.YOLOModel,
			LibraryPath:   cfg.Detector.ORTLibrary,
			InputSize:     cfg.Detector.InputSize,
			ConfThreshold: cfg.Detector.ConfThreshold,
			IoUThreshold:  cfg.Detector.IoUThreshold,
			Threads:       cfg.Detector.Threads,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load yolo detector: %w", err)
		}
		return annotate.New(vm, det), []io.Closer{det}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported detector: %s", cfg.Detector.Kind)
	}
}
