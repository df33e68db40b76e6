// Package downloader fetches the log artifacts of a finished run in parallel.
//
// # Usage
//
//	summary, err := downloader.DownloadAll(ctx, tasks, downloader.Options{
//	    Workers:  8,
//	    Progress: progressReporter,
//	})
//	var pf *downloader.PartialFailure
//	if errors.As(err, &pf) {
//	    for _, f := range pf.Failed {
//	        log.Printf("task %d (%s): %v", f.Index, f.Task.Path, f.Err)
//	    }
//	}
//
// # Worker Pool
//
// Workers receive tasks from a channel, GET the artifact URL (retrying server
// errors with backoff) and stream the body into a temporary file next to the
// destination. The temporary file is renamed into place once complete.
//
// # Cancellation
//
// When the context is canceled, in-flight requests are aborted and tasks that
// have not started fail with the context error. Partially written temporary
// files are removed; destination paths are never left truncated.
package downloader
