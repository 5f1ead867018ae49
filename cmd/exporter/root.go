package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/Nubiru/bhaskara-sub000/internal/config"
	"github.com/Nubiru/bhaskara-sub000/internal/downloader"
	exporthttp "github.com/Nubiru/bhaskara-sub000/internal/http"
	"github.com/Nubiru/bhaskara-sub000/internal/orchestrator"
	"github.com/Nubiru/bhaskara-sub000/internal/progress"
	"github.com/Nubiru/bhaskara-sub000/pkg/artifact"
)

// app holds the state shared by all subcommands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	overrides  config.Config

	cfg config.Config
	log *logrus.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "exporter",
		Short: "Export business calculator analyses to files",
		Long: `exporter requests analysis reports from the report backend, renders
structured results as CSV, spreadsheet or PDF files, and stores them in a
blob bucket (file://, mem://, s3://, gs://) next to a checksum manifest.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to YAML config file")
	flags.StringVar(&a.overrides.BackendURL, "backend", "", "Report backend base URL (overrides config)")
	flags.StringVar(&a.overrides.Bucket, "bucket", "", "Bucket URL for artifacts (overrides config)")
	flags.StringVar(&a.overrides.Prefix, "prefix", "", "Key prefix inside the bucket (overrides config)")
	flags.StringVar(&a.overrides.LogLevel, "log-level", "", "Logging level (debug, info, warn, error)")
	flags.StringVar(&a.overrides.LogFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newExportCmd(a),
		newBatchCmd(a),
		newServeCmd(a),
		newValidateCmd(a),
		newDeleteCmd(a),
	)
	return root
}

// setup loads the configuration (defaults, file, environment, flags) and
// configures the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.LoadFromFile(a.configPath)
		if err != nil {
			return exitWith(ExitInvalidArgs, err)
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return exitWith(ExitInvalidArgs, err)
	}
	a.cfg = cfg.Merge(a.overrides)

	log := logrus.New()
	log.SetOutput(a.stderr)
	level, err := logrus.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return exitWith(ExitInvalidArgs, fmt.Errorf("invalid log level: %w", err))
	}
	log.SetLevel(level)
	switch a.cfg.LogFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return exitWith(ExitInvalidArgs, fmt.Errorf("invalid log format %q", a.cfg.LogFormat))
	}
	a.log = log
	return nil
}

// validate checks the full configuration needed to run exports.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return exitWith(ExitInvalidArgs, err)
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// openStore opens the configured bucket. The caller closes the bucket.
func (a *app) openStore(ctx context.Context) (*blob.Bucket, *artifact.Store, error) {
	if a.cfg.Bucket == "" {
		return nil, nil, exitWith(ExitInvalidArgs, fmt.Errorf("--bucket is required"))
	}
	bkt, err := blob.OpenBucket(ctx, a.cfg.Bucket)
	if err != nil {
		return nil, nil, exitWith(ExitStorageError, fmt.Errorf("opening bucket: %w", err))
	}
	return bkt, artifact.NewStore(bkt, artifact.WithPrefix(a.cfg.Prefix)), nil
}

// newFacade wires the export pipeline from the configuration.
func (a *app) newFacade(store *artifact.Store, reporter *progress.Reporter) (*downloader.Facade, *exporthttp.Client) {
	orch := orchestrator.New(
		orchestrator.WithDebounce(a.cfg.DebounceInterval),
		orchestrator.WithLogger(a.log),
	)
	client := exporthttp.NewClient(a.cfg.ClientOptions())
	facade := downloader.New(orch, client, store, downloader.Options{
		Window:   a.cfg.Window,
		Logger:   a.log,
		Progress: reporter,
	})
	return facade, client
}

// newReporter returns a console progress reporter, or nil when progress
// output is off.
func (a *app) newReporter(enabled bool, total int, label string) *progress.Reporter {
	if !enabled && !a.cfg.Progress {
		return nil
	}
	return progress.NewReporter(progress.Options{
		TotalExports: total,
		Window:       a.cfg.Window,
		Output:       a.stderr,
		Label:        label,
	})
}
