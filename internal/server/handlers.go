package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/menta2k/image-search/internal/utils"
	"github.com/menta2k/image-search/pkg/indexer"
	"github.com/menta2k/image-search/pkg/processing"
	"github.com/menta2k/image-search/pkg/search"
	"github.com/menta2k/image-search/pkg/store"
	"github.com/menta2k/image-search/pkg/types"
)

// IndexRequest starts an indexing run
type IndexRequest struct {
	Folder string `json:"folder"`
	Query  string `json:"query,omitempty"`
}

// FailureResponse describes one skipped image
type FailureResponse struct {
	Filename string `json:"filename"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// IndexResponse summarizes a finished run
type IndexResponse struct {
	StorePath  string            `json:"store_path"`
	Records    int               `json:"records"`
	Failures   []FailureResponse `json:"failures"`
	DurationMS int64             `json:"duration_ms"`
}

// MatchResponse is one search hit
type MatchResponse struct {
	Filename       string                `json:"filename"`
	Description    string                `json:"description"`
	Objects        string                `json:"objects"`
	MatchedClasses []string              `json:"matched_classes"`
	Detections     []store.WireDetection `json:"detections"`
	ImageURL       string                `json:"image_url"`
	SourceMissing  bool                  `json:"source_missing"`
}

// SearchResponse lists search hits
type SearchResponse struct {
	Query   string          `json:"query"`
	Matches []MatchResponse `json:"matches"`
}

// ErrorResponse is returned with every non-2xx JSON reply
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, ErrorResponse{Code: status, Message: err.Error()})
}

func imageURL(name string) string {
	return "/images/" + url.PathEscape(name)
}

func newIndexResponse(r *indexer.Report) IndexResponse {
	resp := IndexResponse{
		StorePath:  r.StorePath,
		Records:    r.Store.Len(),
		Failures:   []FailureResponse{},
		DurationMS: r.Duration.Milliseconds(),
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, FailureResponse{
			Filename: f.Filename,
			Stage:    f.Stage,
			Error:    f.Err.Error(),
		})
	}
	return resp
}

func newMatchResponse(m types.MatchResult, missing bool) MatchResponse {
	classes := m.MatchedClasses
	if classes == nil {
		classes = []string{}
	}
	return MatchResponse{
		Filename:       m.Filename,
		Description:    m.Description,
		Objects:        search.FormatClasses(m.Detections),
		MatchedClasses: classes,
		Detections:     store.EncodeDetections(m.Detections),
		ImageURL:       imageURL(m.Filename),
		SourceMissing:  missing,
	}
}

// sourceMissing reports whether a matched image is gone from dir
func sourceMissing(dir, name string) bool {
	return !utils.FileExists(filepath.Join(dir, name))
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"indexing": s.Indexing(),
			"store":    s.opts.StorePath,
		})
	}
}

func (s *Server) handleSearchAPI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		matches, err := search.SearchFile(s.opts.StorePath, q)
		if err != nil {
			s.writeError(w, err)
			return
		}
		dir := s.ImageDir()
		resp := SearchResponse{Query: q, Matches: []MatchResponse{}}
		for _, m := range matches {
			resp.Matches = append(resp.Matches, newMatchResponse(m, sourceMissing(dir, m.Filename)))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleIndexAPI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IndexRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid request body: %v", types.ErrInvalidInput, err))
			return
		}
		if strings.TrimSpace(req.Folder) == "" {
			s.writeError(w, fmt.Errorf("%w: folder is required", types.ErrInvalidInput))
			return
		}

		report, err := s.runIndex(req.Folder, req.Query, nil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newIndexResponse(report))
	}
}

// handleImage serves a matched image with its detections drawn on it
func (s *Server) handleImage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if !utils.SafeName(name) {
			http.Error(w, "invalid image name", http.StatusBadRequest)
			return
		}

		fs := store.New(s.opts.StorePath)
		info, err := os.Stat(fs.Path())
		if err != nil {
			http.Error(w, types.ErrStoreUnavailable.Error(), http.StatusServiceUnavailable)
			return
		}
		dir := s.ImageDir()
		key := fmt.Sprintf("%s|%s|%d", dir, name, info.ModTime().UnixNano())
		if data, ok := s.cache.Get(key); ok {
			s.writeImage(w, data)
			return
		}

		st, err := fs.Load()
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		rec, ok := st.Get(name)
		if !ok {
			http.NotFound(w, r)
			return
		}

		img, err := s.opts.Renderer.RenderFile(filepath.Join(dir, name), rec.Detections)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		var buf bytes.Buffer
		if err := s.opts.Processor.Encode(&buf, img, s.opts.ImageFormat, s.opts.ImageQuality); err != nil {
			s.log.Error("failed to encode image", "file", name, "error", err)
			http.Error(w, "failed to encode image", http.StatusInternalServerError)
			return
		}
		s.cache.Add(key, buf.Bytes())
		s.writeImage(w, buf.Bytes())
	}
}

func (s *Server) writeImage(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", processing.ContentType(s.opts.ImageFormat))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

type pageMatch struct {
	types.MatchResult
	ImageURL      string
	SourceMissing bool
}

type pageData struct {
	StorePath string
	ImageDir  string
	Query     string
	Searched  bool
	Matches   []pageMatch
	Error     string
	CanIndex  bool
	Generated time.Time
}

func (s *Server) render(w http.ResponseWriter, status int, data pageData) {
	data.StorePath = s.opts.StorePath
	data.ImageDir = s.ImageDir()
	data.CanIndex = s.opts.Runner != nil
	data.Generated = time.Now()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.log.Error("failed to render page", "error", err)
	}
}

func (s *Server) handleIndexPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, http.StatusOK, pageData{})
	}
}

func (s *Server) handleSearchPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		data := pageData{Query: q, Searched: strings.TrimSpace(q) != ""}
		if !data.Searched {
			s.render(w, http.StatusOK, data)
			return
		}

		matches, err := search.SearchFile(s.opts.StorePath, q)
		if err != nil {
			data.Error = err.Error()
			s.render(w, statusFor(err), data)
			return
		}

		dir := s.ImageDir()
		for _, m := range matches {
			data.Matches = append(data.Matches, pageMatch{
				MatchResult:   m,
				ImageURL:      imageURL(m.Filename),
				SourceMissing: sourceMissing(dir, m.Filename),
			})
		}
		s.render(w, http.StatusOK, data)
	}
}
