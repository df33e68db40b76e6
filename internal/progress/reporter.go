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
	// TotalFiles is the number of artifacts to download.
	TotalFiles int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// RunID is the run whose results are downloaded (for display).
	RunID string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	completedBytes atomic.Int64
	completedFiles atomic.Int32
	failedFiles    atomic.Int32
	inProgress     atomic.Int32
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	stopCh         chan struct{}
	doneCh         chan struct{}
	started        bool
	stopped        bool
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

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[farmrun] Collecting results: %s\n", r.opts.RunID)
	fmt.Fprintf(r.opts.Output, "[farmrun] Artifacts: %d | Workers: %d\n", r.opts.TotalFiles, r.opts.Workers)

	go r.updateLoop()
}

// Stop stops the progress reporter and waits for the final status line.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// FileStarted marks a download as in progress.
func (r *Reporter) FileStarted() {
	r.inProgress.Add(1)
}

// BytesWritten records n bytes written for an in-progress download.
func (r *Reporter) BytesWritten(n int64) {
	r.completedBytes.Add(n)
}

// FileCompleted marks an in-progress download as stored.
func (r *Reporter) FileCompleted() {
	r.completedFiles.Add(1)
	r.inProgress.Add(-1)
}

// FileFailed marks an in-progress download as failed.
func (r *Reporter) FileFailed() {
	r.failedFiles.Add(1)
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
	completed := r.completedBytes.Load()
	done := int(r.completedFiles.Load())
	failed := int(r.failedFiles.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	if r.opts.TotalFiles > 0 {
		percent = float64(done+failed) / float64(r.opts.TotalFiles) * 100
	}

	pending := r.opts.TotalFiles - done - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[farmrun] Progress: %.1f%% | %s | Speed: %s/s    ",
		percent,
		humanize.IBytes(uint64(completed)),
		humanize.IBytes(uint64(speed)),
	)
	fmt.Fprintf(r.opts.Output, "\n[farmrun] Files: %d stored | %d failed | %d in-progress | %d pending    \033[A",
		done,
		failed,
		inProgress,
		pending,
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	done := int(r.completedFiles.Load())
	failed := int(r.failedFiles.Load())
	duration := time.Since(r.startTime)

	avgSpeed := 0.0
	if secs := duration.Seconds(); secs > 0 {
		avgSpeed = float64(completed) / secs
	}

	fmt.Fprintf(r.opts.Output, "\r[farmrun] Files: %d stored | %d failed | %s total    \n",
		done,
		failed,
		humanize.IBytes(uint64(completed)),
	)
	fmt.Fprintf(r.opts.Output, "[farmrun] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		humanize.IBytes(uint64(avgSpeed)),
	)
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

// FormatBytes formats b using binary units, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// FormatDuration is exported for use by other packages.
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}

// ParseBytes parses a human-readable byte string (e.g., "256MiB" or "1KB").
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
