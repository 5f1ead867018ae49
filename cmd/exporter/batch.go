package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Nubiru/bhaskara-sub000/internal/batch"
	"github.com/Nubiru/bhaskara-sub000/internal/model"
)

// batchFile is the YAML layout of a batch request file:
//
//	window: 3
//	requests:
//	  - format: csv
//	    analysis_ids: [rev-1, rev-2]
//	  - format: pdf
//	    analysis_ids: [ci-1]
//	    include_charts: true
type batchFile struct {
	Window   int            `yaml:"window"`
	Requests []batchRequest `yaml:"requests"`
}

type batchRequest struct {
	Format          string   `yaml:"format"`
	AnalysisIDs     []string `yaml:"analysis_ids"`
	IncludeCharts   bool     `yaml:"include_charts"`
	IncludeMetadata bool     `yaml:"include_metadata"`
	Filename        string   `yaml:"filename"`
}

func (r batchRequest) options() model.Options {
	return model.Options{
		Format:          model.Format(r.Format),
		AnalysisIDs:     r.AnalysisIDs,
		IncludeCharts:   r.IncludeCharts,
		IncludeMetadata: r.IncludeMetadata,
		Filename:        r.Filename,
	}.Normalized()
}

func loadBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(f.Requests) == 0 {
		return nil, fmt.Errorf("batch file %s has no requests", path)
	}
	return &f, nil
}

func newBatchCmd(a *app) *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run the exports listed in a YAML file",
		Long: `Run every export listed in FILE, at most --window at a time (default 3).
Each window settles before the next one starts. A failed export does not
stop the batch; the command exits non-zero if any export failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd.Context(), args[0], showProgress)
		},
	}
	cmd.Flags().IntVarP(&a.overrides.Window, "window", "w", 0, "Concurrent exports per window (overrides config)")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Print transfer progress to stderr")
	return cmd
}

func (a *app) runBatch(ctx context.Context, path string, showProgress bool) error {
	if err := a.validate(); err != nil {
		return err
	}

	f, err := loadBatchFile(path)
	if err != nil {
		return exitWith(ExitInvalidArgs, err)
	}
	if f.Window > 0 && a.overrides.Window == 0 {
		a.cfg.Window = f.Window
	}

	requests := make([]model.Options, len(f.Requests))
	for i, r := range f.Requests {
		requests[i] = r.options()
		if err := requests[i].Validate(); err != nil {
			return exitWith(ExitInvalidArgs, fmt.Errorf("request %d: %w", i, err))
		}
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	bkt, store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer bkt.Close()

	reporter := a.newReporter(showProgress, len(requests), path)
	facade, _ := a.newFacade(store, reporter)

	if reporter != nil {
		reporter.Start()
	}
	err = facade.DownloadMany(ctx, requests, func(p batch.Progress) {
		if reporter == nil {
			fmt.Fprintf(a.stderr, "[exporter] Batch: %d%% (%d/%d done, %d failed)\n",
				p.Percent, p.Completed+p.Failed, p.Total, p.Failed)
		}
	})
	if reporter != nil {
		reporter.Stop()
	}

	snap := facade.Snapshot()
	for _, id := range snap.Completed {
		it := snap.Items[id]
		fmt.Fprintf(a.stdout, "%s\t%s\t%d\n", it.Status, it.Result.Ref, it.Result.Size)
	}
	for _, id := range snap.Failed {
		it := snap.Items[id]
		fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", it.Status, it.Options.ArtifactName(it.StartedAt), it.Error)
	}

	if err != nil {
		return exitWith(exitCode(err), err)
	}
	return nil
}
