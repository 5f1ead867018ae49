package downloader

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/Nubiru/bhaskara-sub000/internal/batch"
	exporthttp "github.com/Nubiru/bhaskara-sub000/internal/http"
	"github.com/Nubiru/bhaskara-sub000/internal/model"
	"github.com/Nubiru/bhaskara-sub000/internal/orchestrator"
	"github.com/Nubiru/bhaskara-sub000/internal/testutils"
	"github.com/Nubiru/bhaskara-sub000/pkg/artifact"
)

var today = time.Date(2025, 8, 13, 14, 0, 0, 0, time.UTC)

type harness struct {
	facade *Facade
	orch   *orchestrator.Orchestrator
	server *testutils.ReportServer
	bucket *blob.Bucket
	store  *artifact.Store
}

func newHarness(t *testing.T, handler testutils.ReportHandler) *harness {
	t.Helper()

	server := testutils.StartReportServer(t, handler)

	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })

	opts := exporthttp.DefaultOptions()
	opts.BaseURL = server.URL
	opts.RetryAttempts = 0

	clock := func() time.Time { return today }
	orch := orchestrator.New(orchestrator.WithDebounce(time.Nanosecond))
	store := artifact.NewStore(bucket, artifact.WithPrefix("exports"), artifact.WithClock(clock))
	facade := New(orch, exporthttp.NewClient(opts), store, Options{Window: 3, Clock: clock})

	return &harness{facade: facade, orch: orch, server: server, bucket: bucket, store: store}
}

func TestDownloadOneRevenueCSV(t *testing.T) {
	body := []byte(strings.Repeat("x", 119) + "\n")
	h := newHarness(t, testutils.Payload("text/csv", body))

	id, err := h.facade.DownloadOne(context.Background(), model.Options{
		Format:      model.FormatCSV,
		AnalysisIDs: []string{"rev-1"},
	})
	require.NoError(t, err)

	it, ok := h.facade.Item(id)
	require.True(t, ok)
	require.Equal(t, model.StatusCompleted, it.Status)
	require.Equal(t, 100.0, it.Progress.Percentage)
	require.NotNil(t, it.Result)
	require.Equal(t, "RevenueAnalysis_2025-08-13.csv", it.Result.Filename)
	require.Equal(t, int64(120), it.Result.Size)
	require.Equal(t, "text/csv", it.Result.MIMEType)
	require.Equal(t, string(id)+"/RevenueAnalysis_2025-08-13.csv", it.Result.Ref)
	require.Equal(t, "exports/"+it.Result.Ref, it.Result.Key)

	stored, err := h.bucket.ReadAll(context.Background(), it.Result.Key)
	require.NoError(t, err)
	require.Equal(t, body, stored)

	m, err := h.store.Manifest(context.Background(), it.Result.Ref)
	require.NoError(t, err)
	require.Equal(t, string(id), m.Metadata["download_id"])
	require.Equal(t, "rev-1", m.Metadata["analysis_ids"])

	require.Equal(t, []exporthttp.ReportRequest{{Format: "csv", AnalysisIDs: []string{"rev-1"}}}, h.server.Requests())
	require.Equal(t, []model.ID{id}, h.facade.CompletedIDs())
	require.True(t, h.facade.IsCompleted())
	require.False(t, h.facade.IsDownloading())
	require.Equal(t, 100.0, h.facade.TotalProgress())
}

func TestDownloadOneRendersStructuredResult(t *testing.T) {
	h := newHarness(t, testutils.JSON([]map[string]any{
		{"units": 10, "profit": 250.5},
		{"units": 20, "profit": 501},
	}))

	id, err := h.facade.DownloadOne(context.Background(), model.Options{
		Format:      model.FormatExcel,
		AnalysisIDs: []string{"profit-7"},
		Filename:    "q3",
	})
	require.NoError(t, err)

	it, _ := h.facade.Item(id)
	require.Equal(t, model.StatusCompleted, it.Status)
	require.Equal(t, "q3.xls", it.Result.Filename)
	require.Equal(t, "application/vnd.ms-excel", it.Result.MIMEType)

	stored, err := h.bucket.ReadAll(context.Background(), it.Result.Key)
	require.NoError(t, err)
	require.Equal(t, "profit,units\n250.5,10\n501,20\n", string(stored))
}

func TestSameDayExportsKeepTheirOwnArtifacts(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req exporthttp.ReportRequest) testutils.Response {
		return testutils.Response{ContentType: "text/csv", Body: []byte("body-of-" + req.AnalysisIDs[0] + "\n")}
	})

	ids := make([]model.ID, 2)
	for i, analysis := range []string{"rev-1", "rev-2"} {
		id, err := h.facade.DownloadOne(context.Background(), model.Options{
			Format:      model.FormatCSV,
			AnalysisIDs: []string{analysis},
		})
		require.NoError(t, err)
		ids[i] = id
	}

	for i, analysis := range []string{"rev-1", "rev-2"} {
		it, _ := h.facade.Item(ids[i])
		require.Equal(t, "RevenueAnalysis_2025-08-13.csv", it.Result.Filename)
		requireOwnArtifact(t, h, it, "body-of-"+analysis+"\n")
	}
}

func TestDownloadManyWithDerivedNamesKeepsEveryArtifact(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req exporthttp.ReportRequest) testutils.Response {
		return testutils.Response{ContentType: "text/csv", Body: []byte("body-of-" + req.AnalysisIDs[0] + "\n")}
	})

	analyses := []string{"rev-1", "rev-2", "rev-3", "rev-4"}
	requests := make([]model.Options, len(analyses))
	for i, analysis := range analyses {
		requests[i] = model.Options{Format: model.FormatCSV, AnalysisIDs: []string{analysis}}
	}
	require.NoError(t, h.facade.DownloadMany(context.Background(), requests, nil))

	snap := h.facade.Snapshot()
	require.Len(t, snap.Completed, len(analyses))
	keys := make(map[string]bool)
	for _, id := range snap.Completed {
		it := snap.Items[id]
		require.False(t, keys[it.Result.Key], "key %s reused", it.Result.Key)
		keys[it.Result.Key] = true
		requireOwnArtifact(t, h, it, "body-of-"+it.Options.AnalysisIDs[0]+"\n")
	}
}

// requireOwnArtifact checks that its stored bytes and manifest belong to it.
func requireOwnArtifact(t *testing.T, h *harness, it *model.Item, body string) {
	t.Helper()
	r, m, err := h.store.Open(context.Background(), it.Result.Ref)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, body, string(got))
	require.Equal(t, string(it.ID), m.Metadata["download_id"])

	result, err := h.store.Validate(context.Background(), it.Result.Ref)
	require.NoError(t, err)
	require.True(t, result.Valid, result.Errors)
}

func TestDownloadOneValidation(t *testing.T) {
	h := newHarness(t, testutils.Payload("text/csv", []byte("a")))

	id, err := h.facade.DownloadOne(context.Background(), model.Options{
		Format:      "unknown-format",
		AnalysisIDs: []string{"rev-1"},
	})
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "unknown-format", cfgErr.Format)
	require.Empty(t, id)

	_, err = h.facade.DownloadOne(context.Background(), model.Options{Format: model.FormatCSV})
	var valErr *model.ValidationError
	require.ErrorAs(t, err, &valErr)

	require.Empty(t, h.facade.Snapshot().Items)
	require.Empty(t, h.server.Requests())
}

func TestDownloadOneBackendFailure(t *testing.T) {
	h := newHarness(t, func(context.Context, exporthttp.ReportRequest) testutils.Response {
		return testutils.Response{
			Status:      500,
			ContentType: "application/json",
			Body:        []byte(`{"detail": "calculation failed"}`),
		}
	})

	id, err := h.facade.DownloadOne(context.Background(), model.Options{
		Format:      model.FormatPDF,
		AnalysisIDs: []string{"be-1"},
	})
	require.ErrorIs(t, err, exporthttp.ErrServerError)
	require.NotEmpty(t, id)

	it, _ := h.facade.Item(id)
	require.Equal(t, model.StatusFailed, it.Status)
	require.Equal(t, model.ErrorKindTransport, it.ErrorKind)
	require.Contains(t, it.Error, "calculation failed")
	require.Equal(t, []model.ID{id}, h.facade.FailedIDs())
	require.True(t, h.facade.HasError())
}

func TestDownloadOneMalformedResponse(t *testing.T) {
	h := newHarness(t, testutils.Payload("application/json", []byte(`{"success": true, "data": null}`)))

	id, err := h.facade.DownloadOne(context.Background(), model.Options{
		Format:      model.FormatCSV,
		AnalysisIDs: []string{"rev-1"},
	})
	require.Error(t, err)

	it, _ := h.facade.Item(id)
	require.Equal(t, model.StatusFailed, it.Status)
	require.Equal(t, model.ErrorKindTransport, it.ErrorKind)
	require.ErrorIs(t, err, exporthttp.ErrMalformedJSON)
}

type failingStore struct{}

func (failingStore) Save(context.Context, artifact.Artifact) (*artifact.Manifest, error) {
	return nil, errors.New("disk full")
}

func TestDownloadOneStorageFailure(t *testing.T) {
	server := testutils.StartReportServer(t, testutils.Payload("text/csv", []byte("a,b\n")))
	opts := exporthttp.DefaultOptions()
	opts.BaseURL = server.URL

	f := New(orchestrator.New(), exporthttp.NewClient(opts), failingStore{}, Options{})
	id, err := f.DownloadOne(context.Background(), model.Options{
		Format:      model.FormatCSV,
		AnalysisIDs: []string{"cost-1"},
	})
	require.ErrorContains(t, err, "disk full")

	it, _ := f.Item(id)
	require.Equal(t, model.StatusFailed, it.Status)
	require.Equal(t, model.ErrorKindStorage, it.ErrorKind)
}

// blockingHandler holds every request until the client goes away and
// signals each arrival on started.
func blockingHandler(started chan<- struct{}) testutils.ReportHandler {
	return func(ctx context.Context, req exporthttp.ReportRequest) testutils.Response {
		started <- struct{}{}
		<-ctx.Done()
		return testutils.Response{}
	}
}

func TestCancelBeforeTransportResolves(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness(t, blockingHandler(started))

	id, err := h.facade.Go(model.Options{Format: model.FormatCSV, AnalysisIDs: []string{"rev-1"}})
	require.NoError(t, err)
	require.Equal(t, []model.ID{id}, h.facade.ActiveIDs())

	<-started
	require.True(t, h.facade.Cancel(id))
	h.facade.Wait()

	it, _ := h.facade.Item(id)
	require.Equal(t, model.StatusCancelled, it.Status)
	require.Nil(t, it.Result)

	// late samples are discarded
	require.False(t, h.orch.UpdateProgress(id, model.Progress{Percentage: 100}))
	require.False(t, h.orch.Complete(id, model.Result{}))

	snap := h.facade.Snapshot()
	require.Empty(t, snap.Active)
	require.Empty(t, snap.Completed)
	require.Empty(t, snap.Failed)
}

func TestDownloadOneContextCancelled(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness(t, blockingHandler(started))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	id, err := h.facade.DownloadOne(ctx, model.Options{Format: model.FormatCSV, AnalysisIDs: []string{"rev-1"}})
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)

	it, _ := h.facade.Item(id)
	require.Equal(t, model.StatusCancelled, it.Status)
}

func TestDownloadOneDeadlineIsTimeout(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness(t, blockingHandler(started))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	id, err := h.facade.DownloadOne(ctx, model.Options{Format: model.FormatCSV, AnalysisIDs: []string{"rev-1"}})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCancelled)

	it, _ := h.facade.Item(id)
	require.Equal(t, model.StatusFailed, it.Status)
	require.Equal(t, model.ErrorKindTimeout, it.ErrorKind)
}

func TestResetCancelsAndForgets(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness(t, blockingHandler(started))

	id, err := h.facade.Go(model.Options{Format: model.FormatCSV, AnalysisIDs: []string{"rev-1"}})
	require.NoError(t, err)
	<-started

	h.facade.Reset(id)
	h.facade.Wait()

	_, ok := h.facade.Item(id)
	require.False(t, ok)
	require.Empty(t, h.facade.Snapshot().Items)
	require.Zero(t, h.facade.TotalProgress())
}

func TestCancelAllAndResetAll(t *testing.T) {
	started := make(chan struct{}, 3)
	h := newHarness(t, blockingHandler(started))

	var ids []model.ID
	for _, a := range []string{"rev-1", "cost-1", "profit-1"} {
		id, err := h.facade.Go(model.Options{Format: model.FormatCSV, AnalysisIDs: []string{a}})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for range ids {
		<-started
	}
	require.True(t, h.facade.IsDownloading())

	h.facade.CancelAll()
	h.facade.Wait()

	for _, id := range ids {
		it, _ := h.facade.Item(id)
		require.Equal(t, model.StatusCancelled, it.Status)
	}
	require.False(t, h.facade.IsDownloading())

	h.facade.ResetAll()
	require.Empty(t, h.facade.Snapshot().Items)
}

func TestCancelUnknownID(t *testing.T) {
	h := newHarness(t, testutils.Payload("text/csv", []byte("a")))
	require.False(t, h.facade.Cancel("nope"))
}

func TestDownloadManyPartialFailure(t *testing.T) {
	failing := map[string]bool{"rev-2": true, "rev-4": true}
	h := newHarness(t, func(ctx context.Context, req exporthttp.ReportRequest) testutils.Response {
		time.Sleep(10 * time.Millisecond)
		if failing[req.AnalysisIDs[0]] {
			return testutils.Response{Status: 502}
		}
		return testutils.Response{ContentType: "text/csv", Body: []byte("id\n" + req.AnalysisIDs[0] + "\n")}
	})

	var requests []model.Options
	for _, id := range []string{"rev-1", "rev-2", "rev-3", "rev-4", "rev-5"} {
		requests = append(requests, model.Options{
			Format:      model.FormatCSV,
			AnalysisIDs: []string{id},
			Filename:    id,
		})
	}

	var (
		mu      sync.Mutex
		updates []batch.Progress
	)
	err := h.facade.DownloadMany(context.Background(), requests, func(p batch.Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})

	var batchErr *batch.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Equal(t, "2 out of 5 downloads failed", err.Error())

	snap := h.facade.Snapshot()
	require.Len(t, snap.Completed, 3)
	require.Len(t, snap.Failed, 2)
	require.Empty(t, snap.Active)

	require.LessOrEqual(t, h.server.Peak(), 3)
	require.Len(t, updates, 5)
	require.Equal(t, 100, updates[4].Percent)
}

func TestGoManyRunsInBackground(t *testing.T) {
	h := newHarness(t, testutils.Payload("text/csv", []byte("a,b\n")))

	var (
		mu      sync.Mutex
		updates []batch.Progress
	)
	err := h.facade.GoMany([]model.Options{
		{Format: model.FormatCSV, AnalysisIDs: []string{"rev-1"}},
		{Format: model.FormatCSV, AnalysisIDs: []string{"cost-1"}},
	}, func(p batch.Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	h.facade.Wait()

	require.Len(t, h.facade.CompletedIDs(), 2)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 2)
	require.Equal(t, 100, updates[1].Percent)
}

func TestGoManyRejectsInvalidBatch(t *testing.T) {
	h := newHarness(t, testutils.Payload("text/csv", []byte("a,b\n")))

	err := h.facade.GoMany([]model.Options{
		{Format: model.FormatCSV, AnalysisIDs: []string{"rev-1"}},
		{Format: "docx", AnalysisIDs: []string{"rev-2"}},
	}, nil)
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "request 1")

	h.facade.Wait()
	require.Empty(t, h.facade.Snapshot().Items)
	require.Empty(t, h.server.Requests())
}

func TestMixedCaseFormatIsAccepted(t *testing.T) {
	h := newHarness(t, testutils.Payload("text/csv", []byte("a,b\n")))

	id, err := h.facade.DownloadOne(context.Background(), model.Options{
		Format:      "CSV",
		AnalysisIDs: []string{"rev-1"},
	})
	require.NoError(t, err)

	it, _ := h.facade.Item(id)
	require.Equal(t, model.StatusCompleted, it.Status)
	require.Equal(t, model.FormatCSV, it.Options.Format)
	require.Equal(t, "RevenueAnalysis_2025-08-13.csv", it.Result.Filename)

	err = h.facade.GoMany([]model.Options{
		{Format: " excel ", AnalysisIDs: []string{"cost-1"}},
		{Format: "Pdf", AnalysisIDs: []string{"profit-1"}},
	}, nil)
	require.NoError(t, err)
	h.facade.Wait()

	require.Len(t, h.facade.CompletedIDs(), 3)
	requests := h.server.Requests()
	require.Len(t, requests, 3)
	for _, req := range requests {
		require.Contains(t, []string{"csv", "excel", "pdf"}, req.Format)
	}
}
