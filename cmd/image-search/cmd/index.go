package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/menta2k/image-search/internal/ui"
	"github.com/menta2k/image-search/pkg/indexer"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	query    string
	store    string
	output   string
	noOutput bool
}

func newIndexCmd(a *app) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <folder>",
		Short: "Annotate every image in a folder and write the store",
		Long: `Annotate every jpg, jpeg and png file directly inside <folder> and
replace the annotation store with the results.

Images that fail to load or annotate are reported and skipped. With
--query, detection is limited to that object class.

Examples:
  image-search index ./data
  image-search index ./data --query car --store cars.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runIndex(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Only detect objects of this class")
	cmd.Flags().StringVar(&opts.store, "store", "", "Store file (overrides config)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Directory for annotated copies (overrides config)")
	cmd.Flags().BoolVar(&opts.noOutput, "no-output", false, "Do not write annotated copies")

	return cmd
}

func (a *app) runIndex(cmd *cobra.Command, folder string, opts indexOptions) error {
	if opts.store != "" {
		a.cfg.Indexer.StorePath = opts.store
	}
	if opts.output != "" {
		a.cfg.Indexer.OutputDir = opts.output
	}
	if opts.noOutput {
		a.cfg.Indexer.OutputDir = ""
	}

	engine, err := a.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	out := cmd.OutOrStdout()
	p := newProgressPrinter(out)
	report, err := engine.IndexWithProgress(cmd.Context(), folder, opts.query, p.event)
	p.finish()
	if err != nil {
		return err
	}

	s := p.styles
	fmt.Fprintf(out, "%s Processed %d image(s), %d skipped. Results saved to %s\n",
		s.Success.Render("done"), report.Store.Len(), len(report.Failures), report.StorePath)
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  %s %s (%s): %v\n", s.Warning.Render("skipped"), f.Filename, f.Stage, f.Err)
	}
	return nil
}

// progressPrinter rewrites one status line on terminals and prints one
// line per image otherwise
type progressPrinter struct {
	w      io.Writer
	tty    bool
	styles ui.Styles
	width  int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, tty: ui.IsTTY(w), styles: ui.StylesFor(w)}
}

func (p *progressPrinter) event(ev indexer.Event) {
	counter := p.styles.Dim.Render(fmt.Sprintf("[%d/%d]", ev.Index, ev.Total))
	var line string
	if ev.Err != nil {
		line = fmt.Sprintf("%s %s %s", counter, p.styles.Warning.Render("skipped"), ev.Err)
	} else {
		line = fmt.Sprintf("%s %s - %d object(s) found", counter, ev.Filename, ev.Detections)
	}

	if !p.tty || ev.Err != nil {
		p.clear()
		fmt.Fprintln(p.w, line)
		return
	}
	p.clear()
	fmt.Fprint(p.w, line)
	p.width = len(line)
}

func (p *progressPrinter) clear() {
	if p.width == 0 {
		return
	}
	fmt.Fprintf(p.w, "\r%*s\r", p.width, "")
	p.width = 0
}

func (p *progressPrinter) finish() {
	if p.width > 0 {
		fmt.Fprintln(p.w)
		p.width = 0
	}
}
