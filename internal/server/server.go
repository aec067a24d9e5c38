// Package server exposes indexing and search over HTTP: an HTML interface,
// a websocket that streams indexing progress, and a small JSON API.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/image-search/pkg/indexer"
	"github.com/menta2k/image-search/pkg/processing"
	"github.com/menta2k/image-search/pkg/render"
	"github.com/menta2k/image-search/pkg/search"
	"github.com/menta2k/image-search/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// Runner performs indexing runs. *indexer.Indexer implements it.
type Runner interface {
	IndexWithProgress(ctx context.Context, folder, query string, onProgress func(indexer.Event)) (*indexer.Report, error)
}

// Options configures a Server
type Options struct {
	StorePath string
	// ImageDir is where matched images are loaded from; a successful
	// indexing run replaces it with the indexed folder.
	ImageDir string
	// Runner is nil for a search-only server
	Runner       Runner
	Renderer     *render.Renderer
	Processor    *processing.Processor
	ImageFormat  string
	ImageQuality int
	CacheSize    int
	Logger       *slog.Logger
}

// Server serves the web interface
type Server struct {
	opts   Options
	log    *slog.Logger
	router *mux.Router
	tmpl   *template.Template
	cache  *lru.Cache[string, []byte]

	// runs outlive the request that started them
	baseCtx context.Context

	mu       sync.Mutex
	imageDir string
	running  bool
}

// New creates a Server
func New(opts Options) (*Server, error) {
	if opts.StorePath == "" {
		return nil, errors.New("server: store path is required")
	}
	if opts.Renderer == nil {
		opts.Renderer = render.New(3)
	}
	if opts.Processor == nil {
		opts.Processor = processing.NewProcessor()
	}
	if opts.ImageFormat == "" {
		opts.ImageFormat = "jpg"
	}
	if opts.ImageQuality <= 0 {
		opts.ImageQuality = 90
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"classes": search.FormatClasses,
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		opts:     opts,
		log:      logger,
		tmpl:     tmpl,
		cache:    cache,
		baseCtx:  context.Background(),
		imageDir: opts.ImageDir,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndexPage()).Methods("GET")
	r.HandleFunc("/search", s.handleSearchPage()).Methods("GET")
	r.HandleFunc("/images/{name}", s.handleImage()).Methods("GET")
	r.HandleFunc("/ws/index", s.handleIndexSocket())

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth()).Methods("GET")
	api.HandleFunc("/search", s.handleSearchAPI()).Methods("GET")
	api.HandleFunc("/index", s.handleIndexAPI()).Methods("POST")
	return r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ImageDir returns the folder matched images are served from
func (s *Server) ImageDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageDir
}

// Indexing reports whether a run is in progress
func (s *Server) Indexing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// Indexing runs started over HTTP are cancelled with ctx.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", ln.Addr().String(), "store", s.opts.StorePath)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// beginRun marks a run as started. It returns false if one is in progress.
func (s *Server) beginRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Server) endRun(folder string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if ok {
		s.imageDir = folder
		s.cache.Purge()
	}
}

// runIndex executes one indexing run, refusing with types.ErrIndexLocked
// while another run started by this server is active.
func (s *Server) runIndex(folder, query string, onProgress func(indexer.Event)) (*indexer.Report, error) {
	if s.opts.Runner == nil {
		return nil, errIndexingDisabled
	}
	if !s.beginRun() {
		return nil, fmt.Errorf("%w: a run is already in progress", types.ErrIndexLocked)
	}
	report, err := s.opts.Runner.IndexWithProgress(s.baseCtx, folder, query, onProgress)
	s.endRun(folder, err == nil)
	return report, err
}

var errIndexingDisabled = errors.New("indexing is not enabled on this server")

// statusFor maps an error to an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrIndexLocked):
		return http.StatusConflict
	case errors.Is(err, types.ErrStoreUnavailable), errors.Is(err, errIndexingDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrMissingSourceImage):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
