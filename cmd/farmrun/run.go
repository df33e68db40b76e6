package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
	"gocloud.dev/blob"

	"github.com/ligustah/farmrun/internal/build"
	"github.com/ligustah/farmrun/internal/config"
	"github.com/ligustah/farmrun/internal/downloader"
	"github.com/ligustah/farmrun/internal/farm"
	"github.com/ligustah/farmrun/internal/orchestrator"
	"github.com/ligustah/farmrun/internal/telemetry"
	"github.com/ligustah/farmrun/pkg/archive"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	pool := fs.String("pool", "", "Device pool alias (default from config: small)")
	rebuild := fs.Bool("rebuild", false, "Build the app and test packages before uploading")
	showProgress := fs.Bool("progress", false, "Show download progress on a terminal")
	workers := fs.Int("workers", 0, "Number of parallel download workers (0 = one per CPU)")
	results := fs.String("results", "", "Directory that receives the run results")
	logFormat := fs.String("log-format", "", "Log format: text or json")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: farmrun run [options]

Upload the app and test packages, run them on a device pool, wait for
the run to finish and download every log into <results>/<run-id>/.
Interrupting a scheduled run stops it on the farm.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return ExitInvalidArgs
	}
	if *workers < 0 {
		fmt.Fprintln(os.Stderr, "Error: -workers must not be negative")
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath, config.Config{
		Pool:       *pool,
		Rebuild:    *rebuild,
		ResultsDir: *results,
		Download:   config.DownloadConfig{Workers: *workers, Progress: *showProgress},
		Log:        config.LogConfig{Format: *logFormat},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	log, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Service:  "farmrun",
		Exporter: cfg.Tracing.Exporter,
		Endpoint: cfg.Tracing.Endpoint,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Warn("flush traces", "error", err)
		}
	}()

	var progressOut io.Writer
	if cfg.Download.Progress && term.IsTerminal(int(os.Stderr.Fd())) {
		progressOut = os.Stderr
	}

	return executeRun(ctx, cfg, log, os.Stdout, progressOut)
}

// executeRun drives one run for a validated configuration and reports the
// outcome on stdout.
func executeRun(ctx context.Context, cfg config.Config, log *slog.Logger, stdout, progressOut io.Writer) int {
	poolRef, err := cfg.PoolARN(cfg.Pool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	svc, err := newService(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitConfigError
	}

	spec := farm.NewRunSpec(cfg.Pool, poolRef, cfg.Artifacts.App, cfg.Artifacts.Tests, cfg.RunNameInfix, time.Now())
	log.Info("starting run", "run_id", spec.ID, "pool", spec.PoolAlias)

	opts := orchestrator.Options{Logger: log}
	if cfg.Rebuild {
		opts.Builder = &build.Runner{Dir: cfg.Build.Dir, Command: cfg.Build.Command, Logger: log}
	}
	if progressOut != nil {
		opts.ProgressOutput = progressOut
	}

	orc, err := orchestrator.New(svc, orchestrator.Config{
		Project:     cfg.ProjectARN,
		Spec:        spec,
		ResultsDir:  cfg.ResultsDir,
		ContentType: cfg.Artifacts.ContentType,
		UploadPoll:  pollOptions(cfg.Upload),
		RunPoll:     pollOptions(cfg.Run),
		Workers:     cfg.Download.Workers,
		HTTP:        httpOptions(cfg),
	}, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	res, runErr := orc.Run(ctx)
	if res == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return exitCodeFor(runErr)
	}

	runDir := filepath.Join(cfg.ResultsDir, spec.ID)
	fmt.Fprintf(stdout, "Run:        %s (%s)\n", res.RunID, res.Run.Status)
	fmt.Fprintf(stdout, "Devices:    %d\n", res.Devices)
	fmt.Fprintf(stdout, "Downloaded: %d of %d files, %s\n", res.Download.Files, res.Tasks, humanize.IBytes(uint64(res.Download.Bytes)))
	fmt.Fprintf(stdout, "Results:    %s\n", runDir)
	if res.Run.Status == farm.RunErrored {
		fmt.Fprintln(stdout, "Warning:    the run finished with errors on the farm")
	}

	var partial *downloader.PartialFailure
	if runErr != nil && !errors.As(runErr, &partial) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return exitCodeFor(runErr)
	}
	if partial != nil {
		for _, f := range partial.Failed {
			fmt.Fprintf(os.Stderr, "  failed: %s: %v\n", f.Task.Path, f.Err)
		}
	}

	if cfg.Archive.Bucket != "" && ctx.Err() == nil {
		if code := archiveRun(ctx, log, cfg.Archive.Bucket, spec, runDir, stdout); code != ExitSuccess {
			return code
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return exitCodeFor(runErr)
	}
	return ExitSuccess
}

// archiveRun mirrors the downloaded results into a bucket.
func archiveRun(ctx context.Context, log *slog.Logger, bucketURL string, spec farm.RunSpec, runDir string, stdout io.Writer) int {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	manifest, err := archive.Write(ctx, bucket, spec.ID, runDir,
		archive.WithSkip(downloader.IsTemp),
		archive.WithMetadata(map[string]string{"pool": spec.PoolAlias, "pool_ref": spec.PoolRef}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: archive run: %v\n", err)
		return ExitStorageError
	}

	log.Info("run archived", "bucket", bucketURL, "files", len(manifest.Files), "size", humanize.IBytes(uint64(manifest.TotalSize)))
	fmt.Fprintf(stdout, "Archived:   %d files to %s/%s\n", len(manifest.Files), bucketURL, archive.Prefix(spec.ID))
	return ExitSuccess
}
