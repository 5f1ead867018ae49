package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Nubiru/bhaskara-sub000/internal/batch"
	exporthttp "github.com/Nubiru/bhaskara-sub000/internal/http"
	"github.com/Nubiru/bhaskara-sub000/internal/model"
	"github.com/Nubiru/bhaskara-sub000/internal/orchestrator"
	"github.com/Nubiru/bhaskara-sub000/internal/progress"
	"github.com/Nubiru/bhaskara-sub000/internal/render"
	"github.com/Nubiru/bhaskara-sub000/pkg/artifact"
)

// ErrCancelled is returned when a download was cancelled before it finished.
// It wraps context.Canceled.
var ErrCancelled = fmt.Errorf("downloader: download cancelled: %w", context.Canceled)

// transferShare caps the percentage reported while the body streams in;
// the rest is reached on Complete, after rendering and saving.
const transferShare = 99

// Backend produces export payloads.
type Backend interface {
	Report(ctx context.Context, req exporthttp.ReportRequest, onProgress exporthttp.ProgressFunc) (*exporthttp.Report, error)
}

// Store persists finished artifacts.
type Store interface {
	Save(ctx context.Context, a artifact.Artifact) (*artifact.Manifest, error)
}

// Options configures the facade.
type Options struct {
	// Window is the batch concurrency ceiling (default: 3).
	Window int

	// Logger receives lifecycle logs. Nil discards them.
	Logger logrus.FieldLogger

	// Progress is an optional console progress reporter.
	Progress *progress.Reporter

	// Clock replaces time.Now for creation times and file names.
	Clock func() time.Time
}

// Facade is the public surface of the export subsystem. It validates
// requests, drives the orchestrator through each download's lifecycle, and
// owns the cancellation tokens of in-flight downloads.
type Facade struct {
	orch      *orchestrator.Orchestrator
	backend   Backend
	store     Store
	renderer  *render.Renderer
	scheduler batch.Scheduler
	log       logrus.FieldLogger
	reporter  *progress.Reporter
	now       func() time.Time

	mu     sync.Mutex
	tokens map[model.ID]*Token
	wg     sync.WaitGroup
}

// New creates a facade over orch that fetches from backend and saves to
// store.
func New(orch *orchestrator.Orchestrator, backend Backend, store Store, opts Options) *Facade {
	if opts.Window <= 0 {
		opts.Window = batch.DefaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}

	return &Facade{
		orch:      orch,
		backend:   backend,
		store:     store,
		renderer:  &render.Renderer{Now: opts.Clock},
		scheduler: batch.Scheduler{Window: opts.Window},
		log:       opts.Logger,
		reporter:  opts.Progress,
		now:       opts.Clock,
		tokens:    make(map[model.ID]*Token),
	}
}

// DownloadOne runs one export to completion and returns its id.
//
// Validation and configuration errors are returned before any state
// changes. Once started, the download ends in exactly one of completed,
// failed (the error is returned) or cancelled (ErrCancelled is returned).
func (f *Facade) DownloadOne(ctx context.Context, opts model.Options) (model.ID, error) {
	opts = opts.Normalized()
	id, token, err := f.begin(ctx, opts)
	if err != nil {
		return "", err
	}
	return id, f.finish(id, token, opts)
}

// Go starts an export and returns its id once the download is registered.
// The transfer continues in the background; observe it through Item or
// Snapshot, and use Wait to block until all background work is done.
func (f *Facade) Go(opts model.Options) (model.ID, error) {
	opts = opts.Normalized()
	id, token, err := f.begin(context.Background(), opts)
	if err != nil {
		return "", err
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		_ = f.finish(id, token, opts)
	}()
	return id, nil
}

// Wait blocks until every download started with Go has finished.
func (f *Facade) Wait() {
	f.wg.Wait()
}

// DownloadMany runs requests in windows and reports batch progress to
// onProgress, which may be nil. It returns a *batch.BatchError if any
// request failed.
func (f *Facade) DownloadMany(ctx context.Context, requests []model.Options, onProgress func(batch.Progress)) error {
	f.log.WithFields(logrus.Fields{
		"requests": len(requests),
		"window":   f.scheduler.Window,
	}).Info("batch started")

	err := f.scheduler.Run(ctx, requests, func(ctx context.Context, opts model.Options) error {
		_, err := f.DownloadOne(ctx, opts)
		return err
	}, onProgress)

	var batchErr *batch.BatchError
	if errors.As(err, &batchErr) {
		f.log.WithFields(logrus.Fields{
			"failed": batchErr.Failed,
			"total":  batchErr.Total,
		}).Warn("batch finished with failures")
		return err
	}
	f.log.WithField("requests", len(requests)).Info("batch finished")
	return err
}

// GoMany validates every request and, if all are valid, runs them as a
// batch in the background. Use Wait to block until the batch is done.
func (f *Facade) GoMany(requests []model.Options, onProgress func(batch.Progress)) error {
	normalized := make([]model.Options, len(requests))
	for i, opts := range requests {
		normalized[i] = opts.Normalized()
		if err := normalized[i].Validate(); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
	}
	requests = normalized

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		_ = f.DownloadMany(context.Background(), requests, onProgress)
	}()
	return nil
}

// begin validates opts, registers the download and its token.
func (f *Facade) begin(ctx context.Context, opts model.Options) (model.ID, *Token, error) {
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = f.now()
	}
	id := model.NewID(opts)
	token := NewToken(ctx)

	f.mu.Lock()
	err := f.orch.Start(id, opts)
	if err == nil {
		f.tokens[id] = token
	}
	f.mu.Unlock()

	if err != nil {
		token.release()
		return "", nil, err
	}

	f.log.WithFields(logrus.Fields{
		"download_id": id,
		"format":      opts.Format,
		"analyses":    strings.Join(opts.AnalysisIDs, ","),
	}).Info("export started")
	if f.reporter != nil {
		f.reporter.ExportStarted()
	}
	return id, token, nil
}

// finish runs the download and applies the terminal transition.
func (f *Facade) finish(id model.ID, token *Token, opts model.Options) error {
	defer func() {
		f.mu.Lock()
		if f.tokens[id] == token {
			delete(f.tokens, id)
		}
		f.mu.Unlock()
		token.release()
	}()

	log := f.log.WithField("download_id", id)
	result, err := f.run(token.Context(), id, opts)

	switch {
	case err == nil && f.orch.Complete(id, result):
		log.WithFields(logrus.Fields{
			"filename": result.Filename,
			"bytes":    result.Size,
		}).Info("export completed")
		if f.reporter != nil {
			f.reporter.ExportCompleted()
		}
		return nil

	case err == nil, token.Cancelled(), errors.Is(err, context.Canceled):
		// err == nil here means the entry was cancelled or reset while the
		// artifact was being saved
		f.orch.Cancel(id)
		log.Info("export cancelled")
		if f.reporter != nil {
			f.reporter.ExportCancelled()
		}
		return ErrCancelled

	default:
		f.orch.Fail(id, err)
		log.WithError(err).WithField("kind", model.KindOf(err)).Warn("export failed")
		if f.reporter != nil {
			f.reporter.ExportFailed()
		}
		return err
	}
}

// run fetches, renders and saves one export.
func (f *Facade) run(ctx context.Context, id model.ID, opts model.Options) (model.Result, error) {
	var last int64
	onProgress := func(received, total int64) {
		// a retried attempt counts from zero again
		if received < last {
			last = 0
		}
		if f.reporter != nil {
			f.reporter.BytesWritten(received - last)
		}
		last = received

		p := model.Progress{BytesReceived: received, TotalBytes: total}
		if total > 0 {
			p.Percentage = min(float64(received)/float64(total)*100, transferShare)
		}
		f.orch.UpdateProgress(id, p)
	}

	report, err := f.backend.Report(ctx, exporthttp.NewReportRequest(opts), onProgress)
	if err != nil {
		return model.Result{}, fmt.Errorf("fetch report: %w", err)
	}

	payload := render.Payload{
		Data:      report.Data,
		MIMEType:  report.MIMEType,
		Extension: opts.Format.Extension(),
	}
	if report.IsStructured() {
		payload, err = f.renderer.Render(report.Structured, opts)
		if err != nil {
			return model.Result{}, err
		}
	}
	if payload.MIMEType == "" {
		payload.MIMEType = opts.Format.MIMEType()
	}

	if err := context.Cause(ctx); err != nil {
		return model.Result{}, err
	}

	name := opts.ArtifactName(f.now())
	m, err := f.store.Save(ctx, artifact.Artifact{
		ID:       string(id),
		Name:     name,
		Data:     payload.Data,
		MIMEType: payload.MIMEType,
		Metadata: map[string]string{
			"download_id":   string(id),
			"format":        string(opts.Format),
			"analysis_ids":  strings.Join(opts.AnalysisIDs, ","),
			"analysis_type": string(model.AnalysisTypeOf(opts.AnalysisIDs[0])),
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.Result{}, context.Cause(ctx)
		}
		return model.Result{}, model.WithKind(model.ErrorKindStorage, fmt.Errorf("save artifact: %w", err))
	}

	return model.Result{
		Filename: name,
		Size:     m.Size,
		MIMEType: payload.MIMEType,
		Key:      m.Object,
		Ref:      artifact.Ref(string(id), name),
	}, nil
}

// Cancel cancels an in-flight download. It reports whether the download was
// in flight.
func (f *Facade) Cancel(id model.ID) bool {
	cancelled := f.orch.Cancel(id)

	f.mu.Lock()
	token := f.tokens[id]
	f.mu.Unlock()
	if token != nil {
		token.Cancel()
	}

	if cancelled {
		f.log.WithField("download_id", id).Debug("cancel requested")
	}
	return cancelled
}

// CancelAll cancels every in-flight download.
func (f *Facade) CancelAll() {
	for _, id := range f.orch.Snapshot().Active {
		f.Cancel(id)
	}
}

// Reset cancels id if it is in flight and removes it from the registry.
func (f *Facade) Reset(id model.ID) {
	f.Cancel(id)
	f.orch.Reset(id)
}

// ResetAll cancels everything in flight and clears the registry.
func (f *Facade) ResetAll() {
	f.CancelAll()
	f.orch.ResetAll()
}

// Item returns a copy of the entry for id.
func (f *Facade) Item(id model.ID) (*model.Item, bool) {
	return f.orch.Item(id)
}

// Snapshot returns a consistent copy of the registry.
func (f *Facade) Snapshot() orchestrator.Snapshot {
	return f.orch.Snapshot()
}

// IsDownloading reports whether any download is in flight.
func (f *Facade) IsDownloading() bool { return f.orch.IsDownloading() }

// HasError reports whether any tracked download failed.
func (f *Facade) HasError() bool { return f.orch.HasError() }

// IsCompleted reports whether a download completed and none is in flight.
func (f *Facade) IsCompleted() bool { return f.orch.IsCompleted() }

// TotalProgress returns the mean percentage over every tracked download.
func (f *Facade) TotalProgress() float64 { return f.orch.TotalProgress() }

// ActiveIDs returns the ids of in-flight downloads.
func (f *Facade) ActiveIDs() []model.ID { return f.orch.Snapshot().Active }

// CompletedIDs returns the ids of completed downloads.
func (f *Facade) CompletedIDs() []model.ID { return f.orch.Snapshot().Completed }

// FailedIDs returns the ids of failed downloads.
func (f *Facade) FailedIDs() []model.ID { return f.orch.Snapshot().Failed }
