// Package downloader is the public surface of the export subsystem.
//
// A [Facade] turns an export request into a tracked download: it validates
// the request, registers it with the orchestrator, asks the report backend
// for the payload, renders structured results locally, saves the artifact
// and records the outcome.
//
// # Usage
//
//	orch := orchestrator.New(orchestrator.WithLogger(log))
//	facade := downloader.New(orch, client, store, downloader.Options{Window: 3})
//
//	id, err := facade.DownloadOne(ctx, model.Options{
//	    Format:      model.FormatCSV,
//	    AnalysisIDs: []string{"rev-1"},
//	})
//
//	err = facade.DownloadMany(ctx, requests, func(p batch.Progress) {
//	    fmt.Printf("%d%%\n", p.Percent)
//	})
//
// Go and GoMany start the same work in the background and return once the
// requests are registered or validated; Wait blocks until it is done.
//
// # Cancellation
//
// Every in-flight download owns a [Token]. [Facade.Cancel] marks the entry
// cancelled first and then signals the token, so a transfer that finishes a
// moment later cannot overwrite the cancelled state. The caller of
// DownloadOne receives [ErrCancelled].
//
// # Errors
//
// Validation and configuration errors come back before any state changes.
// Transport failures (kind transport or timeout), render failures (kind
// render) and storage failures (kind storage) are recorded on the entry and
// returned to the caller.
package downloader
