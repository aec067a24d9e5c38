package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/menta2k/image-search/internal/ui"
	"github.com/menta2k/image-search/pkg/search"
	"github.com/menta2k/image-search/pkg/store"
	"github.com/menta2k/image-search/pkg/types"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	store  string
	format string // "text", "json"
}

// jsonMatch is one search hit in --format json output
type jsonMatch struct {
	Filename       string                `json:"filename"`
	Description    string                `json:"description"`
	MatchedClasses []string              `json:"matched_classes"`
	Detections     []store.WireDetection `json:"detections"`
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search the annotation store",
		Long: `Search the annotation store for images whose description or detected
object classes contain <term>, ignoring case.

Examples:
  image-search search car
  image-search search "red car"
  image-search search person --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := strings.Join(args, " ")
			return a.runSearch(cmd, term, opts)
		},
	}

	cmd.Flags().StringVar(&opts.store, "store", "", "Store file (overrides config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, term string, opts searchOptions) error {
	path := a.cfg.Indexer.StorePath
	if opts.store != "" {
		path = opts.store
	}

	matches, err := search.SearchFile(path, term)
	if err != nil {
		return fmt.Errorf("%w (run 'image-search index <folder>' first)", err)
	}

	out := cmd.OutOrStdout()
	switch opts.format {
	case "json":
		return writeMatchesJSON(out, matches)
	case "text":
		writeMatchesText(out, ui.StylesFor(out), matches)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", opts.format)
	}
}

func writeMatchesJSON(w io.Writer, matches []types.MatchResult) error {
	res := make([]jsonMatch, 0, len(matches))
	for _, m := range matches {
		classes := m.MatchedClasses
		if classes == nil {
			classes = []string{}
		}
		res = append(res, jsonMatch{
			Filename:       m.Filename,
			Description:    m.Description,
			MatchedClasses: classes,
			Detections:     store.EncodeDetections(m.Detections),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func writeMatchesText(w io.Writer, s ui.Styles, matches []types.MatchResult) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches found.")
		return
	}

	fmt.Fprintf(w, "Matches Found: %d\n", len(matches))
	for _, m := range matches {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", s.Label.Render("File:"), s.Header.Render(m.Filename))
		fmt.Fprintf(w, "%s %s\n", s.Label.Render("Description:"), m.Description)
		if objects := search.FormatClasses(m.Detections); objects != "" {
			fmt.Fprintf(w, "%s %s\n", s.Label.Render("Objects:"), objects)
		}
		if len(m.MatchedClasses) > 0 {
			fmt.Fprintf(w, "%s %s\n", s.Label.Render("Matched Classes:"), s.Match.Render(strings.Join(m.MatchedClasses, ", ")))
		}
	}
}
