// Package progress tracks and reports export progress.
//
// It has three parts:
//   - [EstimateRemaining] and [Speed], pure functions of a start time and a
//     progress signal
//   - [Gate], the per-download debounce table consulted before a progress
//     sample is applied
//   - [Reporter], human-readable console output for a batch run
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalExports: len(requests),
//	    Window:       3,
//	    Label:        "revenue analyses",
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ExportStarted()
//	reporter.BytesWritten(n)
//	reporter.ExportCompleted()
//
// # Output Format
//
//	[exporter] Exporting: revenue analyses
//	[exporter] Exports: 5 | Window: 3
//	[exporter] Progress: 40% | 12 KiB written | Speed: 3.1 KiB/s | ETA: 4s
//	[exporter] Exports: 2 completed | 0 failed | 0 cancelled | 3 in-flight | 0 pending
package progress
