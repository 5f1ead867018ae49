package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nubiru/bhaskara-sub000/internal/model"
	"github.com/Nubiru/bhaskara-sub000/internal/progress"
	"github.com/Nubiru/bhaskara-sub000/pkg/artifact"
)

type exportFlags struct {
	format   string
	analyses []string
	filename string
	charts   bool
	metadata bool
	progress bool
	output   string
}

func newExportCmd(a *app) *cobra.Command {
	var f exportFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one or more analyses to a single file",
		Example: `  exporter export --bucket file:///tmp/exports -f csv -a rev-1
  exporter export -f pdf -a ci-1,ci-2 --charts -o compound.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExport(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.format, "format", "f", "", "Export format: csv, excel or pdf (required)")
	flags.StringSliceVarP(&f.analyses, "analysis", "a", nil, "Analysis ids to export (required)")
	flags.StringVar(&f.filename, "filename", "", "File name without extension (default: derived from the analysis)")
	flags.BoolVar(&f.charts, "charts", false, "Include charts")
	flags.BoolVar(&f.metadata, "metadata", false, "Include metadata")
	flags.BoolVar(&f.progress, "progress", false, "Print progress to stderr")
	flags.StringVarP(&f.output, "output", "o", "", "Also write the artifact to this local path (- for stdout)")
	_ = cmd.MarkFlagRequired("format")
	_ = cmd.MarkFlagRequired("analysis")
	return cmd
}

func (a *app) runExport(ctx context.Context, f exportFlags) error {
	if err := a.validate(); err != nil {
		return err
	}

	opts := model.Options{
		Format:          model.Format(f.format),
		AnalysisIDs:     f.analyses,
		IncludeCharts:   f.charts,
		IncludeMetadata: f.metadata,
		Filename:        f.filename,
	}.Normalized()
	if err := opts.Validate(); err != nil {
		return exitWith(ExitInvalidArgs, err)
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	bkt, store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer bkt.Close()

	reporter := a.newReporter(f.progress, 1, opts.ArtifactName(time.Now()))
	facade, _ := a.newFacade(store, reporter)

	if reporter != nil {
		reporter.Start()
	}
	id, err := facade.DownloadOne(ctx, opts)
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		return exitWith(exitCode(err), err)
	}

	it, _ := facade.Item(id)
	fmt.Fprintf(a.stderr, "[exporter] Exported: %s (%s, %s)\n",
		it.Result.Key, progress.FormatBytes(it.Result.Size), it.Result.MIMEType)

	if f.output != "" {
		if err := a.copyArtifact(ctx, store, it.Result.Ref, f.output); err != nil {
			return exitWith(ExitStorageError, err)
		}
	}
	if f.output != "-" {
		fmt.Fprintln(a.stdout, it.Result.Ref)
	}
	return nil
}

// copyArtifact writes a stored artifact to path, or to stdout for "-".
func (a *app) copyArtifact(ctx context.Context, store *artifact.Store, ref, path string) error {
	r, _, err := store.Open(ctx, ref)
	if err != nil {
		return err
	}
	defer r.Close()

	if path == "-" {
		_, err = io.Copy(a.stdout, r)
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	return out.Close()
}
