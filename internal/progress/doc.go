// Package progress reports artifact download progress.
//
// The reporter writes a two line status to a terminal, refreshed on a fixed
// interval, with file counts, bytes stored and transfer speed.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalFiles: len(tasks),
//	    Workers:    workers,
//	    RunID:      spec.ID,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.FileStarted()
//	reporter.BytesWritten(n)
//	reporter.FileCompleted()
//
// # Output Format
//
//	[farmrun] Collecting results: small-hw-support-2024-03-07-090502
//	[farmrun] Artifacts: 24 | Workers: 8
//	[farmrun] Progress: 45.8% | 3.2 MiB | Speed: 1.1 MiB/s
//	[farmrun] Files: 11 stored | 0 failed | 8 in-progress | 5 pending
package progress
