// Package indexer runs every image in a folder through an Annotator and
// stores the results as one annotation store.
//
// Images are processed one at a time in listing order. A failing image is
// reported and skipped; it never stops the run and never leaves an empty
// record behind. The store is written once, atomically, after the loop.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/menta2k/image-search/internal/utils"
	"github.com/menta2k/image-search/pkg/processing"
	"github.com/menta2k/image-search/pkg/render"
	"github.com/menta2k/image-search/pkg/store"
	"github.com/menta2k/image-search/pkg/types"
)

// DefaultImageTimeout bounds a single annotation call
const DefaultImageTimeout = 5 * time.Minute

// DefaultPrefix is prepended to annotated copy filenames
const DefaultPrefix = "bbox_"

// Failure stages
const (
	StageLoad     = "load"
	StageAnnotate = "annotate"
)

// Annotator produces the annotation for one image. A non-empty query
// constrains detection to that class.
type Annotator interface {
	Annotate(ctx context.Context, img image.Image, query string) (*types.Annotation, error)
}

// Event reports progress after each image
type Event struct {
	Index      int // 1-based
	Total      int
	Filename   string
	Detections int
	Err        error
}

// Outcome is the result for one image: a record or a failure
type Outcome struct {
	Filename  string
	Record    *types.ImageRecord
	Err       *types.ImageError
	Annotated string // path of the annotated copy, if one was written
}

// OK reports whether the image produced a record
func (o Outcome) OK() bool {
	return o.Err == nil && o.Record != nil
}

// Report summarizes a completed run
type Report struct {
	Store     *types.AnnotationStore
	StorePath string
	Outcomes  []Outcome
	Failures  []*types.ImageError
	Duration  time.Duration
}

// Options configures an Indexer. Store is required.
type Options struct {
	Store     *store.FileStore
	Processor *processing.Processor
	Renderer  *render.Renderer

	// OutputDir enables annotated copies when non-empty
	OutputDir     string
	Prefix        string
	OutputFormat  string // empty keeps the source format
	OutputQuality int

	ImageTimeout time.Duration
	Logger       *slog.Logger
	OnProgress   func(Event)
}

// Indexer builds annotation stores
type Indexer struct {
	annotator Annotator
	opts      Options
	log       *slog.Logger
}

// New creates an Indexer
func New(annotator Annotator, opts Options) (*Indexer, error) {
	if annotator == nil {
		return nil, errors.New("indexer: annotator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("indexer: store is required")
	}
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}
	if opts.OutputDir != "" && opts.Renderer == nil {
		opts.Renderer = render.New(3)
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = DefaultImageTimeout
	}
	if opts.OutputQuality <= 0 {
		opts.OutputQuality = 90
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{annotator: annotator, opts: opts, log: logger}, nil
}

// StorePath returns where runs write the store
func (ix *Indexer) StorePath() string {
	return ix.opts.Store.Path()
}

// Index annotates every image directly inside folder and replaces the store
// with the results. query optionally constrains detection to one class.
//
// A missing or unreadable folder fails with types.ErrInvalidInput before
// anything is touched. A concurrent run fails with types.ErrIndexLocked.
// If ctx is cancelled the store is left as it was and ctx.Err() is returned.
func (ix *Indexer) Index(ctx context.Context, folder, query string) (*Report, error) {
	return ix.IndexWithProgress(ctx, folder, query, ix.opts.OnProgress)
}

// IndexWithProgress is Index with a progress callback for this run only
func (ix *Indexer) IndexWithProgress(ctx context.Context, folder, query string, onProgress func(Event)) (*Report, error) {
	start := time.Now()

	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInvalidInput, folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", types.ErrInvalidInput, folder)
	}
	files, err := utils.ListImageFiles(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	lock, err := ix.opts.Store.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	writeCopies := ix.opts.OutputDir != ""
	if writeCopies {
		if err := utils.EnsureDir(ix.opts.OutputDir); err != nil {
			ix.log.Warn("annotated copies disabled", "dir", ix.opts.OutputDir, "error", err)
			writeCopies = false
		}
	}

	ix.log.Info("indexing", "folder", folder, "images", len(files), "query", query)

	report := &Report{
		Store:     types.NewAnnotationStore(),
		StorePath: ix.opts.Store.Path(),
		Outcomes:  make([]Outcome, 0, len(files)),
	}

	for i, name := range files {
		if err := ctx.Err(); err != nil {
			ix.log.Warn("indexing cancelled, store not written", "processed", i, "total", len(files))
			return nil, err
		}

		out := ix.processOne(ctx, folder, name, query, writeCopies)
		if out.Err != nil && ctx.Err() != nil {
			ix.log.Warn("indexing cancelled, store not written", "processed", i, "total", len(files))
			return nil, ctx.Err()
		}

		ev := Event{Index: i + 1, Total: len(files), Filename: name}
		if out.OK() {
			report.Store.Put(name, *out.Record)
			ev.Detections = len(out.Record.Detections)
			ix.log.Info(fmt.Sprintf("%s - %d object(s) found", name, ev.Detections), "index", ev.Index, "total", ev.Total)
		} else {
			report.Failures = append(report.Failures, out.Err)
			ev.Err = out.Err
			ix.log.Warn("skipping image", "file", name, "stage", out.Err.Stage, "error", out.Err.Err)
		}
		report.Outcomes = append(report.Outcomes, out)

		if onProgress != nil {
			onProgress(ev)
		}
	}

	if err := ix.opts.Store.Save(report.Store); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)

	ix.log.Info("results saved",
		"path", report.StorePath,
		"records", report.Store.Len(),
		"failures", len(report.Failures),
		"duration", report.Duration.Round(time.Millisecond))
	return report, nil
}

func (ix *Indexer) processOne(ctx context.Context, folder, name, query string, writeCopy bool) Outcome {
	out := Outcome{Filename: name}
	path := filepath.Join(folder, name)

	img, err := ix.opts.Processor.LoadImage(path)
	if err != nil {
		out.Err = &types.ImageError{Filename: name, Stage: StageLoad, Err: err}
		return out
	}

	actx, cancel := context.WithTimeout(ctx, ix.opts.ImageTimeout)
	defer cancel()

	ann, err := ix.annotate(actx, img, query)
	if err == nil && actx.Err() != nil {
		err = actx.Err()
	}
	if err == nil && ann == nil {
		err = errNoAnnotation
	}
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", ix.opts.ImageTimeout, err)
		}
		out.Err = &types.ImageError{Filename: name, Stage: StageAnnotate, Err: err}
		return out
	}

	rec := ann.Record()
	if rec.Width == 0 || rec.Height == 0 {
		b := img.Bounds()
		rec.Width, rec.Height = b.Dx(), b.Dy()
	}
	out.Record = &rec

	if writeCopy {
		dst := utils.AnnotatedFilename(ix.opts.OutputDir, ix.prefix(), name, ix.opts.OutputFormat)
		drawn := ix.opts.Renderer.Draw(img, rec.Detections)
		if err := ix.opts.Processor.SaveImage(drawn, dst, ix.opts.OutputFormat, ix.opts.OutputQuality, false); err != nil {
			ix.log.Warn("failed to write annotated copy", "file", name, "path", dst, "error", err)
		} else {
			out.Annotated = dst
		}
	}
	return out
}

var errNoAnnotation = errors.New("annotator returned no annotation")

// annotate calls the Annotator, turning a panic into an error confined to
// the current image
func (ix *Indexer) annotate(ctx context.Context, img image.Image, query string) (ann *types.Annotation, err error) {
	defer func() {
		if r := recover(); r != nil {
			ann, err = nil, fmt.Errorf("annotator panicked: %v", r)
		}
	}()
	return ix.annotator.Annotate(ctx, img, query)
}

func (ix *Indexer) prefix() string {
	if ix.opts.Prefix == "" {
		return DefaultPrefix
	}
	return ix.opts.Prefix
}
