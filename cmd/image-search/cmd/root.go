// Package cmd provides the CLI commands for image-search.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	imagesearch "github.com/menta2k/image-search"
	"github.com/menta2k/image-search/internal/config"
	"github.com/menta2k/image-search/internal/logging"
	"github.com/menta2k/image-search/internal/utils"
)

// app carries state shared by all subcommands of one root command
type app struct {
	configPath string
	debug      bool

	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// NewRootCmd creates the root command for the image-search CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "image-search",
		Short: "Index image folders with a vision model and search them by keyword",
		Long: `image-search describes every image in a folder with a vision-language
model, detects the objects in it and stores the results in a JSON file.
The store can then be searched by keyword from the command line or from
a small web interface.

Examples:
  image-search index ./data
  image-search index ./data --query car
  image-search search "red car"
  image-search serve --listen 127.0.0.1:8090`,
		Version:            imagesearch.Version,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	cmd.SetVersionTemplate("image-search version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default "+config.GetConfigPath()+")")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and installs the logger
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		path = config.GetConfigPath()
	} else if !utils.FileExists(path) {
		return fmt.Errorf("config file not found: %s", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if a.debug {
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:    level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.File,
	}, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	a.cleanup = cleanup
	logger.Debug("config loaded", "path", path, "backend", cfg.Backend, "model", cfg.Model.Name)
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
	return nil
}

// engine creates an Engine from the loaded configuration
func (a *app) engine() (*imagesearch.Engine, error) {
	return imagesearch.New(a.cfg, a.logger)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
