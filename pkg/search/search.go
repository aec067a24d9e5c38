// Package search answers keyword queries against an annotation store.
//
// A record matches when the lower-cased term occurs in its description or
// in at least one detection's class name. Results are produced lazily in
// ascending filename order and recomputed from the store on every call.
package search

import (
	"fmt"
	"iter"
	"strings"

	"github.com/menta2k/image-search/pkg/store"
	"github.com/menta2k/image-search/pkg/types"
)

// Search yields every record of st matching term. The term is matched as
// given, surrounding spaces included. A blank term or an empty store yields
// nothing.
func Search(term string, st *types.AnnotationStore) iter.Seq[types.MatchResult] {
	needle := strings.ToLower(term)
	return func(yield func(types.MatchResult) bool) {
		if strings.TrimSpace(term) == "" || st.Len() == 0 {
			return
		}
		for _, name := range st.Filenames() {
			rec, _ := st.Get(name)
			res, ok := match(needle, name, rec)
			if !ok {
				continue
			}
			if !yield(res) {
				return
			}
		}
	}
}

// Collect returns all matches of term in st
func Collect(term string, st *types.AnnotationStore) []types.MatchResult {
	var out []types.MatchResult
	for r := range Search(term, st) {
		out = append(out, r)
	}
	return out
}

// SearchFile loads the store at path and returns all matches of term. A
// missing or unreadable store fails with types.ErrStoreUnavailable, which
// is distinct from an empty result.
func SearchFile(path, term string) ([]types.MatchResult, error) {
	st, err := store.New(path).Load()
	if err != nil {
		return nil, err
	}
	return Collect(term, st), nil
}

func match(needle, filename string, rec types.ImageRecord) (types.MatchResult, bool) {
	descHit := strings.Contains(strings.ToLower(rec.Description), needle)

	var matched []types.Detection
	var classes []string
	seen := make(map[string]bool)
	for _, d := range rec.Detections {
		if !strings.Contains(strings.ToLower(d.Name), needle) {
			continue
		}
		matched = append(matched, d)
		if !seen[d.Name] {
			seen[d.Name] = true
			classes = append(classes, d.Name)
		}
	}

	if !descHit && len(matched) == 0 {
		return types.MatchResult{}, false
	}
	return types.MatchResult{
		Filename:       filename,
		Description:    rec.Description,
		Detections:     rec.Detections,
		Matched:        matched,
		MatchedClasses: classes,
	}, true
}

// FormatClasses summarizes detections as per-class counts in first-seen
// order, e.g. "3 car, 1 pedestrian"
func FormatClasses(dets []types.Detection) string {
	if len(dets) == 0 {
		return ""
	}
	var order []string
	counts := make(map[string]int)
	for _, d := range dets {
		if counts[d.Name] == 0 {
			order = append(order, d.Name)
		}
		counts[d.Name]++
	}

	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[name], name))
	}
	return strings.Join(parts, ", ")
}
