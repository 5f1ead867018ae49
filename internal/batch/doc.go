// Package batch runs groups of export requests under a fixed concurrency
// ceiling.
//
// Requests are split into consecutive windows of [Scheduler.Window] items.
// Every request in a window runs concurrently and the scheduler waits for the
// whole window to settle before starting the next one. A failed request
// never aborts the batch; failures are collected and returned as a single
// [*BatchError] once every window has run.
//
// # Usage
//
//	s := batch.Scheduler{Window: 3}
//	err := s.Run(ctx, requests, func(ctx context.Context, opts model.Options) error {
//		_, err := facade.DownloadOne(ctx, opts)
//		return err
//	}, func(p batch.Progress) {
//		fmt.Printf("%d%% (%d/%d)\n", p.Percent, p.Completed, p.Total)
//	})
//
//	var batchErr *batch.BatchError
//	if errors.As(err, &batchErr) {
//		fmt.Println(batchErr.Failed, "failed")
//	}
package batch
