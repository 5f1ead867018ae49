//go:build integration

package downloader_test

import (
	"context"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"

	"github.com/Nubiru/bhaskara-sub000/internal/downloader"
	exporthttp "github.com/Nubiru/bhaskara-sub000/internal/http"
	"github.com/Nubiru/bhaskara-sub000/internal/model"
	"github.com/Nubiru/bhaskara-sub000/internal/orchestrator"
	"github.com/Nubiru/bhaskara-sub000/internal/testutils"
	"github.com/Nubiru/bhaskara-sub000/pkg/artifact"
)

func TestIntegrationExportToMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting report backend...")
	server := testutils.StartReportServer(t, func(ctx context.Context, req exporthttp.ReportRequest) testutils.Response {
		if req.Format == "pdf" {
			return testutils.Response{ContentType: "application/pdf", Body: []byte("%PDF-1.4 " + req.AnalysisIDs[0])}
		}
		rows := []map[string]any{}
		for i, id := range req.AnalysisIDs {
			rows = append(rows, map[string]any{"analysis": id, "row": i + 1})
		}
		return testutils.JSON(rows)(ctx, req)
	})

	t.Log("Starting Minio container...")
	minio := testutils.StartMinio(t, ctx, "exports")

	bucket, err := minio.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	opts := exporthttp.DefaultOptions()
	opts.BaseURL = server.URL
	store := artifact.NewStore(bucket, artifact.WithPrefix("it"))
	facade := downloader.New(orchestrator.New(), exporthttp.NewClient(opts), store, downloader.Options{})

	requests := []model.Options{
		{Format: model.FormatCSV, AnalysisIDs: []string{"rev-1", "rev-2"}, Filename: "revenue"},
		{Format: model.FormatExcel, AnalysisIDs: []string{"cost-1"}, Filename: "costs"},
		{Format: model.FormatPDF, AnalysisIDs: []string{"ci-1"}, Filename: "compound"},
		{Format: model.FormatCSV, AnalysisIDs: []string{"quad-1"}, Filename: "quadratic", IncludeMetadata: true},
	}

	if err := facade.DownloadMany(ctx, requests, nil); err != nil {
		t.Fatalf("DownloadMany: %v", err)
	}

	snap := facade.Snapshot()
	if len(snap.Completed) != len(requests) {
		t.Fatalf("expected %d completed, got %d (failed: %v)", len(requests), len(snap.Completed), snap.Failed)
	}

	for _, id := range snap.Completed {
		it := snap.Items[id]
		t.Run(it.Result.Filename, func(t *testing.T) {
			result, err := store.Validate(ctx, it.Result.Ref)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !result.Valid {
				t.Errorf("artifact invalid: %v", result.Errors)
			}
			if result.Size != it.Result.Size {
				t.Errorf("size mismatch: manifest %d, item %d", result.Size, it.Result.Size)
			}

			if err := store.Delete(ctx, it.Result.Ref); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := store.Manifest(ctx, it.Result.Ref); !artifact.IsNotExist(err) {
				t.Errorf("manifest still present after delete: %v", err)
			}
		})
	}

	if got := len(server.Requests()); got != len(requests) {
		t.Errorf("expected %d backend requests, got %d", len(requests), got)
	}
	t.Logf("exported %d artifacts to %s", len(requests), minio.Endpoint)
}
