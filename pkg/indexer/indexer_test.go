package indexer

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-search/pkg/store"
	"github.com/menta2k/image-search/pkg/types"
)

// stubAnnotator answers by image width so tests can tell files apart
type stubAnnotator struct {
	byWidth map[int]*types.Annotation
	fail    map[int]error
	calls   int
	onCall  func()
	block   bool
}

func (s *stubAnnotator) Annotate(ctx context.Context, img image.Image, _ string) (*types.Annotation, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	w := img.Bounds().Dx()
	if err := s.fail[w]; err != nil {
		return nil, err
	}
	if ann, ok := s.byWidth[w]; ok {
		return ann, nil
	}
	return &types.Annotation{Description: "unknown"}, nil
}

func writeImage(t *testing.T, dir, name string, w int) {
	t.Helper()
	img := imaging.New(w, 10, color.NRGBA{200, 30, 30, 255})
	require.NoError(t, imaging.Save(img, filepath.Join(dir, name)))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func carAnnotation() *types.Annotation {
	return &types.Annotation{
		Description: "A red car parked on the street",
		Detections: []types.Detection{
			{Name: "car", Box: types.Box{X1: 0.1, Y1: 0.1, X2: 0.6, Y2: 0.9}},
		},
	}
}

func newIndexer(t *testing.T, ann Annotator, opts Options) (*Indexer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.json")
	opts.Store = store.New(path)
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	ix, err := New(ann, opts)
	require.NoError(t, err)
	return ix, path
}

func TestIndexSkipsFailedImage(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "1.jpg", 10)
	writeImage(t, dir, "2.jpg", 20)
	writeImage(t, dir, "3.png", 30)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	stub := &stubAnnotator{
		byWidth: map[int]*types.Annotation{10: carAnnotation(), 30: {Description: "a cow"}},
		fail:    map[int]error{20: errors.New("model exploded")},
	}
	var events []Event
	ix, path := newIndexer(t, stub, Options{OnProgress: func(e Event) { events = append(events, e) }})

	report, err := ix.Index(context.Background(), dir, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"1.jpg", "3.png"}, report.Store.Filenames())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "2.jpg", report.Failures[0].Filename)
	assert.Equal(t, StageAnnotate, report.Failures[0].Stage)
	assert.ErrorIs(t, report.Failures[0], types.ErrImageFailed)
	assert.Len(t, report.Outcomes, 3)
	assert.Equal(t, path, report.StorePath)

	require.Len(t, events, 3)
	assert.Equal(t, Event{Index: 1, Total: 3, Filename: "1.jpg", Detections: 1}, events[0])
	assert.Error(t, events[1].Err)
	assert.Equal(t, 3, events[2].Index)

	saved, err := store.New(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.jpg", "3.png"}, saved.Filenames())
	rec, _ := saved.Get("1.jpg")
	assert.Equal(t, "A red car parked on the street", rec.Description)
	assert.Equal(t, 10, rec.Width)
	assert.Equal(t, 10, rec.Height)
}

// misbehavingAnnotator returns nothing for width 20 and panics for width 30
type misbehavingAnnotator struct{}

func (misbehavingAnnotator) Annotate(_ context.Context, img image.Image, _ string) (*types.Annotation, error) {
	switch img.Bounds().Dx() {
	case 20:
		return nil, nil
	case 30:
		panic("decoder state corrupted")
	}
	return carAnnotation(), nil
}

func TestIndexIsolatesMisbehavingAnnotator(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "1.jpg", 10)
	writeImage(t, dir, "2.jpg", 20)
	writeImage(t, dir, "3.jpg", 30)

	ix, path := newIndexer(t, misbehavingAnnotator{}, Options{})

	var report *Report
	var err error
	require.NotPanics(t, func() {
		report, err = ix.Index(context.Background(), dir, "")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"1.jpg"}, report.Store.Filenames())
	require.Len(t, report.Failures, 2)
	byName := map[string]*types.ImageError{}
	for _, f := range report.Failures {
		assert.Equal(t, StageAnnotate, f.Stage)
		assert.ErrorIs(t, f, types.ErrImageFailed)
		byName[f.Filename] = f
	}
	require.Contains(t, byName, "2.jpg")
	assert.ErrorContains(t, byName["2.jpg"], "annotator returned no annotation")
	require.Contains(t, byName, "3.jpg")
	assert.ErrorContains(t, byName["3.jpg"], "decoder state corrupted")

	saved, err := store.New(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.jpg"}, saved.Filenames())
}

func TestIndexUnreadableImage(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "good.jpg", 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.jpg"), []byte("not an image"), 0o644))

	stub := &stubAnnotator{byWidth: map[int]*types.Annotation{10: carAnnotation()}}
	ix, _ := newIndexer(t, stub, Options{})

	report, err := ix.Index(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"good.jpg"}, report.Store.Filenames())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, StageLoad, report.Failures[0].Stage)
	assert.Equal(t, 1, stub.calls)
}

func TestIndexIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg", 10)
	writeImage(t, dir, "b.jpg", 30)
	stub := &stubAnnotator{byWidth: map[int]*types.Annotation{10: carAnnotation(), 30: {Description: "a cow"}}}
	ix, path := newIndexer(t, stub, Options{})

	_, err := ix.Index(context.Background(), dir, "")
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = ix.Index(context.Background(), dir, "")
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestIndexInvalidFolder(t *testing.T) {
	stub := &stubAnnotator{}
	ix, path := newIndexer(t, stub, Options{})

	_, err := ix.Index(context.Background(), filepath.Join(t.TempDir(), "missing"), "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	file := filepath.Join(t.TempDir(), "file.jpg")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = ix.Index(context.Background(), file, "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	assert.NoFileExists(t, path)
	assert.Zero(t, stub.calls)
}

func TestIndexEmptyFolderWritesEmptyStore(t *testing.T) {
	ix, path := newIndexer(t, &stubAnnotator{}, Options{})

	report, err := ix.Index(context.Background(), t.TempDir(), "")
	require.NoError(t, err)
	assert.Zero(t, report.Store.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestIndexCancelledLeavesStore(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg", 10)
	writeImage(t, dir, "b.jpg", 20)

	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubAnnotator{onCall: cancel, block: true}
	ix, path := newIndexer(t, stub, Options{})

	_, err := ix.Index(ctx, dir, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, path)
	assert.Equal(t, 1, stub.calls)
}

func TestIndexImageTimeout(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "slow.jpg", 10)

	stub := &stubAnnotator{block: true}
	ix, _ := newIndexer(t, stub, Options{ImageTimeout: 10 * time.Millisecond})

	report, err := ix.Index(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Zero(t, report.Store.Len())
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], context.DeadlineExceeded)
}

func TestIndexLocked(t *testing.T) {
	ix, path := newIndexer(t, &stubAnnotator{}, Options{})

	lock, err := store.New(path).Lock()
	require.NoError(t, err)
	defer lock.Unlock()

	_, err = ix.Index(context.Background(), t.TempDir(), "")
	assert.ErrorIs(t, err, types.ErrIndexLocked)
}

func TestIndexWritesAnnotatedCopies(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "output")
	writeImage(t, dir, "a.jpg", 10)
	writeImage(t, dir, "b.png", 30)

	stub := &stubAnnotator{byWidth: map[int]*types.Annotation{10: carAnnotation()}}
	ix, _ := newIndexer(t, stub, Options{OutputDir: out})

	report, err := ix.Index(context.Background(), dir, "")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(out, "bbox_a.jpg"))
	assert.FileExists(t, filepath.Join(out, "bbox_b.png"))
	assert.Equal(t, filepath.Join(out, "bbox_a.jpg"), report.Outcomes[0].Annotated)
}

func TestIndexAnnotatedCopyFormat(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	writeImage(t, dir, "a.jpg", 10)

	ix, _ := newIndexer(t, &stubAnnotator{}, Options{OutputDir: out, Prefix: "boxed_", OutputFormat: "png"})
	_, err := ix.Index(context.Background(), dir, "")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "boxed_a.png"))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Options{Store: store.New("x.json")})
	assert.Error(t, err)
	_, err = New(&stubAnnotator{}, Options{})
	assert.Error(t, err)
}
