package batch

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Nubiru/bhaskara-sub000/internal/model"
)

// DefaultWindow is the number of requests run concurrently when
// Scheduler.Window is not set.
const DefaultWindow = 3

// RunFunc performs one request.
type RunFunc func(ctx context.Context, opts model.Options) error

// Progress describes how far a batch has come.
type Progress struct {
	Percent   int `json:"percent"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Failure records a request that did not succeed.
type Failure struct {
	Index int   // Position of the request in the batch
	Err   error // The error that occurred
}

// BatchError is returned by Run when at least one request failed.
//
// Use errors.As to extract it and inspect Failures for details.
type BatchError struct {
	Failed   int
	Total    int
	Failures []Failure
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d out of %d downloads failed", e.Failed, e.Total)
}

// Unwrap exposes the individual failure causes to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Scheduler runs requests in windows.
type Scheduler struct {
	// Window is the maximum number of requests in flight (default: 3).
	Window int
}

// Run executes run for each request, Window at a time, and calls onProgress
// after every request settles. onProgress may be nil. Calls to onProgress
// are serialized.
//
// When ctx is done no further window is started; requests that never ran
// count as failed with the context's cause.
func (s Scheduler) Run(ctx context.Context, requests []model.Options, run RunFunc, onProgress func(Progress)) error {
	window := s.Window
	if window <= 0 {
		window = DefaultWindow
	}
	total := len(requests)
	if total == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		done     int
		failures []Failure
	)
	settle := func(index int, err error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if err != nil {
			failures = append(failures, Failure{Index: index, Err: err})
		}
		if onProgress != nil {
			onProgress(Progress{
				Percent:   percent(done, total),
				Completed: done - len(failures),
				Failed:    len(failures),
				Total:     total,
			})
		}
	}

	for start := 0; start < total; start += window {
		if ctx.Err() != nil {
			for i := start; i < total; i++ {
				settle(i, context.Cause(ctx))
			}
			break
		}

		end := min(start+window, total)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				settle(i, run(ctx, requests[i]))
			}(i)
		}
		wg.Wait()
	}

	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	return &BatchError{
		Failed:   len(failures),
		Total:    total,
		Failures: failures,
	}
}

func percent(done, total int) int {
	return int(math.Round(float64(done) / float64(total) * 100))
}

