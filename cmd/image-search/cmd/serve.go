package cmd

import (
	"github.com/spf13/cobra"

	"github.com/menta2k/image-search/internal/server"
)

// serveOptions holds CLI flags for serve.
type serveOptions struct {
	listen   string
	images   string
	store    string
	readOnly bool
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		Long: `Start the web interface for searching the annotation store.

Matched images are shown with their detections drawn on them. Unless
--read-only is set, the page can also start indexing runs and follow
their progress live.

Examples:
  image-search serve
  image-search serve --listen :8090 --images ./data --read-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&opts.images, "images", "", "Folder matched images are served from (overrides config)")
	cmd.Flags().StringVar(&opts.store, "store", "", "Store file (overrides config)")
	cmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "Disable indexing from the web interface")

	return cmd
}

func (a *app) runServe(cmd *cobra.Command, opts serveOptions) error {
	if opts.listen != "" {
		a.cfg.Server.Listen = opts.listen
	}
	if opts.images != "" {
		a.cfg.Server.ImageDir = opts.images
	}
	if opts.store != "" {
		a.cfg.Indexer.StorePath = opts.store
	}

	engine, err := a.engine()
	if err != nil {
		return err
	}
	defer engine.Close()

	srvOpts := server.Options{
		StorePath:    engine.StorePath(),
		ImageDir:     a.cfg.Server.ImageDir,
		Renderer:     engine.Renderer(),
		Processor:    engine.Processor(),
		ImageFormat:  "jpg",
		ImageQuality: a.cfg.Indexer.OutputQuality,
		CacheSize:    a.cfg.Server.RenderCacheSize,
		Logger:       a.logger,
	}
	if !opts.readOnly {
		ix, err := engine.Indexer()
		if err != nil {
			return err
		}
		srvOpts.Runner = ix
	}

	srv, err := server.New(srvOpts)
	if err != nil {
		return err
	}
	return srv.Serve(cmd.Context(), a.cfg.Server.Listen)
}
