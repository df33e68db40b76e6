package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/ligustah/farmrun/internal/farm"
	farmhttp "github.com/ligustah/farmrun/internal/http"
	"github.com/ligustah/farmrun/internal/progress"
)

// TempSuffix marks files that are still being written.
const TempSuffix = ".part"

// Fetcher opens a remote artifact for reading.
type Fetcher interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures the downloader.
type Options struct {
	// Workers is the number of parallel download workers.
	// Default: runtime.NumCPU()
	Workers int

	// HTTPOptions configures the HTTP client when Client is nil.
	HTTPOptions farmhttp.Options

	// Client fetches artifacts. Default: a new client built from HTTPOptions.
	Client Fetcher

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Logger receives one line per stored artifact. Default: slog.Default()
	Logger *slog.Logger
}

// FailedTask records a download that did not materialize.
type FailedTask struct {
	Index int // position in the task list
	Task  farm.DownloadTask
	Err   error
}

// PartialFailure is returned when one or more downloads fail. Downloads that
// succeeded are complete on disk.
//
// Use errors.As to extract this error and inspect Failed for details.
type PartialFailure struct {
	Total  int
	Failed []FailedTask // ordered by Index
}

func (e *PartialFailure) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("0 of %d downloads failed", e.Total)
	}
	first := e.Failed[0]
	return fmt.Sprintf("%d of %d downloads failed (first: %s: %v)", len(e.Failed), e.Total, first.Task.Path, first.Err)
}

// Unwrap exposes every task error to errors.Is and errors.As.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// Paths returns the destinations that failed to materialize.
func (e *PartialFailure) Paths() []string {
	paths := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		paths[i] = f.Task.Path
	}
	return paths
}

// Summary describes a finished download pass.
type Summary struct {
	Files int
	Bytes int64
}

// DownloadAll fetches every task concurrently. A failing task does not stop
// its siblings; all failures are reported together as a *PartialFailure.
//
// Each artifact is written to a temporary sibling file and renamed into place
// once complete, so an interrupted download never leaves a truncated file at
// the destination path.
func DownloadAll(ctx context.Context, tasks []farm.DownloadTask, opts Options) (Summary, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Client == nil {
		if opts.HTTPOptions.MaxIdleConnsPerHost == 0 {
			opts.HTTPOptions = farmhttp.DefaultOptions()
		}
		opts.Client = farmhttp.NewClient(opts.HTTPOptions)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	var (
		mu      sync.Mutex
		failed  []FailedTask
		summary Summary
	)

	type job struct {
		index int
		task  farm.DownloadTask
	}

	jobs := make(chan job, opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				n, err := downloadOne(ctx, opts.Client, j.task, opts.Progress)

				mu.Lock()
				if err != nil {
					failed = append(failed, FailedTask{Index: j.index, Task: j.task, Err: err})
				} else {
					summary.Files++
					summary.Bytes += n
				}
				mu.Unlock()

				if err != nil {
					log.Error("download failed", "path", j.task.Path, "error", err)
				} else {
					log.Info("stored", "path", j.task.Path, "bytes", n, "size", humanize.IBytes(uint64(n)))
				}
			}
		}()
	}

	for i, task := range tasks {
		jobs <- job{index: i, task: task}
	}
	close(jobs)

	wg.Wait()

	if len(failed) > 0 {
		sort.Slice(failed, func(a, b int) bool { return failed[a].Index < failed[b].Index })
		return summary, &PartialFailure{Total: len(tasks), Failed: failed}
	}
	return summary, nil
}

// downloadOne fetches a single artifact.
func downloadOne(ctx context.Context, client Fetcher, task farm.DownloadTask, reporter *progress.Reporter) (int64, error) {
	// Tasks queued after cancellation fail without touching the network.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if reporter != nil {
		reporter.FileStarted()
	}

	n, err := fetchTo(ctx, client, task, reporter)
	if reporter != nil {
		if err != nil {
			reporter.FileFailed()
		} else {
			reporter.FileCompleted()
		}
	}
	return n, err
}

func fetchTo(ctx context.Context, client Fetcher, task farm.DownloadTask, reporter *progress.Reporter) (int64, error) {
	dir := filepath.Dir(task.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	body, err := client.Get(ctx, task.URL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(task.Path)+".*"+TempSuffix)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var w io.Writer = tmp
	if reporter != nil {
		w = &countingWriter{w: tmp, reporter: reporter}
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", task.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", task.Path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return n, fmt.Errorf("chmod %s: %w", task.Path, err)
	}
	if err := os.Rename(tmpName, task.Path); err != nil {
		return n, fmt.Errorf("rename %s: %w", task.Path, err)
	}
	committed = true
	return n, nil
}

// IsTemp reports whether name is an in-flight download file.
func IsTemp(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.HasSuffix(base, TempSuffix)
}

type countingWriter struct {
	w        io.Writer
	reporter *progress.Reporter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.reporter.BytesWritten(int64(n))
	return n, err
}
