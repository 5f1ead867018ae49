// Package http is the client for the report backend.
//
// This package handles:
//   - Report requests (POST /api/v1/reports) with streamed progress
//   - Telling structured JSON results apart from ready-made payloads
//   - Retry with exponential backoff and jitter
//   - Client-side rate limiting
//   - Classifying failures as timeouts or transport errors
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    BaseURL:       "http://localhost:8000",
//	    Timeout:       30 * time.Second,
//	    RetryAttempts: 3,
//	    RateLimit:     5,
//	})
//
//	report, err := client.Report(ctx, http.NewReportRequest(opts), func(received, total int64) {
//	    fmt.Println(received, "of", total)
//	})
//	if report.IsStructured() {
//	    // render report.Structured locally
//	}
package http
