package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalExports is the number of exports in the run.
	TotalExports int

	// Window is the concurrency ceiling (for display).
	Window int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Label describes what is being exported (for display).
	Label string
}

// Reporter outputs human-readable progress for a run of exports.
type Reporter struct {
	opts Options

	mu               sync.Mutex
	bytesWritten     atomic.Int64
	completedExports atomic.Int32
	failedExports    atomic.Int32
	cancelledExports atomic.Int32
	inProgress       atomic.Int32
	startTime        time.Time
	lastUpdate       time.Time
	lastBytes        int64
	stopCh           chan struct{}
	doneCh           chan struct{}
	stopped          bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic progress output.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[exporter] Exporting: %s\n", r.opts.Label)
	fmt.Fprintf(r.opts.Output, "[exporter] Exports: %d | Window: %d\n", r.opts.TotalExports, r.opts.Window)

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status. It blocks until the
// final status has been written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := !r.startTime.IsZero()
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// ExportStarted marks an export as in flight.
func (r *Reporter) ExportStarted() {
	r.inProgress.Add(1)
}

// BytesWritten records n bytes of artifact data.
func (r *Reporter) BytesWritten(n int64) {
	r.bytesWritten.Add(n)
}

// ExportCompleted marks an in-flight export as completed.
func (r *Reporter) ExportCompleted() {
	r.completedExports.Add(1)
	r.inProgress.Add(-1)
}

// ExportFailed marks an in-flight export as failed.
func (r *Reporter) ExportFailed() {
	r.failedExports.Add(1)
	r.inProgress.Add(-1)
}

// ExportCancelled marks an in-flight export as cancelled.
func (r *Reporter) ExportCancelled() {
	r.cancelledExports.Add(1)
	r.inProgress.Add(-1)
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	written := r.bytesWritten.Load()
	completed := int(r.completedExports.Load())
	failed := int(r.failedExports.Load())
	cancelled := int(r.cancelledExports.Load())
	inProgress := int(r.inProgress.Load())

	r.mu.Lock()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(written-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = written
	start := r.startTime
	r.mu.Unlock()

	var percent float64
	eta := "calculating..."
	if r.opts.TotalExports > 0 {
		percent = float64(completed+failed+cancelled) / float64(r.opts.TotalExports) * 100
		if d, ok := EstimateRemaining(start, now, percent); ok {
			eta = formatDuration(d)
		}
	}

	pending := r.opts.TotalExports - completed - failed - cancelled - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[exporter] Progress: %.0f%% | %s written | Speed: %s/s | ETA: %s    ",
		percent,
		FormatBytes(written),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[exporter] Exports: %d completed | %d failed | %d cancelled | %d in-flight | %d pending    \033[A",
		completed,
		failed,
		cancelled,
		inProgress,
		pending,
	)
}

func (r *Reporter) printFinalStatus() {
	written := r.bytesWritten.Load()
	completed := int(r.completedExports.Load())
	failed := int(r.failedExports.Load())
	cancelled := int(r.cancelledExports.Load())
	duration := time.Since(r.startTime)

	fmt.Fprintf(r.opts.Output, "\r[exporter] Progress: 100%% | %s written | Done!    \n", FormatBytes(written))
	fmt.Fprintf(r.opts.Output, "[exporter] Exports: %d completed | %d failed | %d cancelled    \n", completed, failed, cancelled)
	fmt.Fprintf(r.opts.Output, "[exporter] Total time: %s\n", formatDuration(duration))
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats b using IEC units ("1.5 KiB").
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable size. IEC suffixes ("256MiB") are
// powers of 1024 and SI suffixes ("1MB") powers of 1000.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
