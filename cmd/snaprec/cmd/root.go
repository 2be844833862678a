package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/snaprec/internal/config"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/recognition"
	"github.com/MeKo-Tech/snaprec/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// annotationConfig controls how a command loads configuration:
// configSkip loads nothing, configLenient loads without validation.
const (
	annotationConfig = "snaprec.config"
	configSkip       = "skip"
	configLenient    = "lenient"
)

// cli carries the state shared by all commands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string

	loader   *config.Loader
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() {
	root, app := newRootCommand()
	err := root.Execute()
	app.close()
	if err != nil {
		os.Exit(1)
	}
}

// NewRootCommand returns a fresh command tree, mainly for tests.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *cli) {
	app := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "snaprec",
		Short: "Capture, filter and recognize images with a remote vision service",
		Long: `snaprec turns captured images into text descriptions.

Each capture is decoded and rotated upright, passed through one pixel filter,
downsampled and JPEG-encoded, then uploaded to a vision recognition service.
Results are kept in a newest-first history.

This tool provides:
- One-shot processing of image files
- An HTTP server with a WebSocket snapshot stream for capture clients
- A reachability probe for the recognition service

Examples:
  snaprec process photo.jpg
  snaprec process scan.png --filter contrast:1.8 --format json
  snaprec serve --port 8080
  snaprec status`,
		Version:            version.String(),
		SilenceUsage:       true,
		PersistentPreRunE:  app.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error { app.close(); return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&app.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/snaprec, /etc/snaprec)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("log-file", "", "append JSON logs to this file instead of stderr")

	_ = app.v.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = app.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = app.v.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = app.v.BindPFlag("log_file", pf.Lookup("log-file"))

	root.AddCommand(
		newProcessCommand(app),
		newServeCommand(app),
		newStatusCommand(app),
		newConfigCommand(app),
		newVersionCommand(),
	)
	return root, app
}

// setup loads the configuration and installs the logger.
func (a *cli) setup(cmd *cobra.Command, _ []string) error {
	mode := cmd.Annotations[annotationConfig]
	if mode == configSkip {
		return nil
	}

	a.loader = config.NewLoaderWithViper(a.v)

	var err error
	switch {
	case a.cfgFile != "" && mode == configLenient:
		a.cfg, err = a.loader.LoadWithFileWithoutValidation(a.cfgFile)
	case a.cfgFile != "":
		a.cfg, err = a.loader.LoadWithFile(a.cfgFile)
	case mode == configLenient:
		a.cfg, err = a.loader.LoadWithoutValidation()
	default:
		a.cfg, err = a.loader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	logger, closeLog, err := newLogger(a.cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeLog = closeLog
	slog.SetDefault(logger)

	logger.Debug("configuration loaded", "file", a.loader.GetConfigFileUsed())
	return nil
}

func (a *cli) close() {
	if a.closeLog != nil {
		_ = a.closeLog()
		a.closeLog = nil
	}
}

// newClient builds the recognition client from the loaded configuration.
func (a *cli) newClient() (*recognition.Client, error) {
	return recognition.NewClient(a.cfg.ToClientConfig(), recognition.WithLogger(a.logger))
}

// newController builds a pipeline controller uploading through u.
func (a *cli) newController(u pipeline.Uploader, progress pipeline.ProgressCallback) (*pipeline.Controller, error) {
	pcfg, err := a.cfg.ToPipelineConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.NewBuilder().
		WithConfig(pcfg).
		WithUploader(u).
		WithLogger(a.logger).
		WithProgressCallback(progress).
		Build()
}
