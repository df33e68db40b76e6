package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ligustah/farmrun/internal/collector"
	"github.com/ligustah/farmrun/internal/downloader"
	"github.com/ligustah/farmrun/internal/farm"
	farmhttp "github.com/ligustah/farmrun/internal/http"
	"github.com/ligustah/farmrun/internal/poll"
	"github.com/ligustah/farmrun/internal/progress"
	"github.com/ligustah/farmrun/internal/telemetry"
	"github.com/ligustah/farmrun/internal/uploader"
)

// State is a stage of a run's lifecycle.
type State string

const (
	Idle           State = "idle"
	PoolVerified   State = "pool_verified"
	ArtifactsReady State = "artifacts_ready"
	AppUploaded    State = "app_uploaded"
	TestsUploaded  State = "tests_uploaded"
	Scheduled      State = "scheduled"
	Monitoring     State = "monitoring"
	Collecting     State = "collecting"
	Downloading    State = "downloading"
	Done           State = "done"
	Aborting       State = "aborting"
)

// DefaultStopTimeout bounds the stop request issued when aborting.
const DefaultStopTimeout = 30 * time.Second

// AbortError is returned when a scheduled run was stopped because of a
// failure or cancellation. Err is the original cause.
type AbortError struct {
	Run farm.RunHandle
	Err error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("run %s aborted: %v", e.Run.Ref, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// Builder produces the local artifacts.
type Builder interface {
	Build(ctx context.Context) error
}

// Transfer moves artifact bytes to and from the farm.
type Transfer interface {
	uploader.Transfer
	downloader.Fetcher
}

// Config describes one run. It is validated by New.
type Config struct {
	// Project is the farm project runs are created in.
	Project string

	// Spec names the pool, the artifacts and the run id.
	Spec farm.RunSpec

	// ResultsDir receives <run-id>/<job>/... result files.
	ResultsDir string

	// ContentType is sent with artifact uploads.
	ContentType string

	// UploadPoll and RunPoll control status polling.
	UploadPoll poll.Options
	RunPoll    poll.Options

	// Workers is the download parallelism. 0 means one per CPU.
	Workers int

	// HTTP configures the transfer client when Options.Transfer is nil.
	HTTP farmhttp.Options

	// StopTimeout bounds the stop request when aborting.
	// Default: 30s
	StopTimeout time.Duration
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.Project == "":
		return errors.New("orchestrator: project is required")
	case c.Spec.ID == "":
		return errors.New("orchestrator: run id is required")
	case c.Spec.PoolRef == "":
		return errors.New("orchestrator: device pool reference is required")
	case c.Spec.AppPath == "" || c.Spec.TestsPath == "":
		return errors.New("orchestrator: app and test package paths are required")
	case c.ResultsDir == "":
		return errors.New("orchestrator: results directory is required")
	case c.Workers < 0:
		return errors.New("orchestrator: workers must not be negative")
	}
	if err := c.UploadPoll.Validate(); err != nil {
		return fmt.Errorf("orchestrator: upload polling: %w", err)
	}
	if err := c.RunPoll.Validate(); err != nil {
		return fmt.Errorf("orchestrator: run polling: %w", err)
	}
	return nil
}

// Options holds the collaborators of an Orchestrator.
type Options struct {
	// Logger receives stage transitions. Default: slog.Default()
	Logger *slog.Logger

	// Builder, if set, rebuilds the artifacts before they are checked.
	Builder Builder

	// Transfer moves artifact bytes. Default: an HTTP client from Config.HTTP.
	Transfer Transfer

	// ProgressOutput, if set, receives download progress.
	ProgressOutput io.Writer

	// Clock drives polling. Default: the real clock.
	Clock clock.Clock
}

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Run      farm.RunHandle
	Devices  int
	Tasks    int
	Download downloader.Summary
}

// Orchestrator drives one run from pool verification to downloaded results.
// An Orchestrator is used for a single run.
type Orchestrator struct {
	svc  farm.Service
	cfg  Config
	opts Options
	log  *slog.Logger

	uploader  *uploader.Coordinator
	scheduler *Scheduler
	monitor   *Monitor
	collector *collector.Collector

	mu      sync.Mutex
	state   State
	history []State
}

// New creates an Orchestrator for cfg.
func New(svc farm.Service, cfg Config, opts Options) (*Orchestrator, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.UploadPoll.Interval == 0 {
		cfg.UploadPoll = poll.Fixed(3*time.Second, 30*time.Minute)
	}
	if cfg.RunPoll.Interval == 0 {
		cfg.RunPoll = poll.Options{Interval: 10 * time.Second, Multiplier: 1.5, MaxInterval: time.Minute, MaxWait: 12 * time.Hour}
	}
	if opts.Clock != nil {
		cfg.UploadPoll.Clock = opts.Clock
		cfg.RunPoll.Clock = opts.Clock
	}
	if err := cfg.Validate(); err != nil {
		return nil, &farm.ConfigurationError{Reason: "invalid run configuration", Err: err}
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("run_id", cfg.Spec.ID)

	if opts.Transfer == nil {
		httpOpts := cfg.HTTP
		if httpOpts.MaxIdleConnsPerHost == 0 {
			httpOpts = farmhttp.DefaultOptions()
		}
		opts.Transfer = farmhttp.NewClient(httpOpts)
	}

	return &Orchestrator{
		svc:  svc,
		cfg:  cfg,
		opts: opts,
		log:  log,
		uploader: uploader.New(svc, opts.Transfer, uploader.Options{
			Project:     cfg.Project,
			ContentType: cfg.ContentType,
			Poll:        cfg.UploadPoll,
			Logger:      log,
		}),
		scheduler: NewScheduler(svc, cfg.Project, log),
		monitor:   NewMonitor(svc, cfg.RunPoll, log),
		collector: collector.New(svc, collector.Options{Root: cfg.ResultsDir, Logger: log}),
		state:     Idle,
		history:   []State{Idle},
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns every state entered so far, starting with Idle.
func (o *Orchestrator) History() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.history...)
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.history = append(o.history, to)
	o.mu.Unlock()

	o.log.Info("stage transition", "from", string(from), "to", string(to))
}

// stage runs fn inside a span named after the stage.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "farmrun."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Run executes the run. Failures before the run is scheduled are returned
// as they are. Once the run exists, any failure or cancellation before it
// reaches a terminal status stops the remote run and returns *AbortError.
//
// A *downloader.PartialFailure is returned together with a non-nil Result.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	spec := o.cfg.Spec
	ctx, span := telemetry.StartSpan(ctx, "farmrun.run",
		attribute.String("farmrun.run_id", spec.ID),
		attribute.String("farmrun.pool", spec.PoolAlias),
	)
	defer span.End()

	res, err := o.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context) (*Result, error) {
	spec := o.cfg.Spec
	res := &Result{RunID: spec.ID}

	err := o.stage(ctx, "verify_pool", func(ctx context.Context) error {
		pool, err := o.svc.GetDevicePool(ctx, spec.PoolRef)
		if err != nil {
			return fmt.Errorf("get device pool %s: %w", spec.PoolRef, err)
		}
		devices, err := VerifyPool(pool)
		if err != nil {
			return err
		}
		res.Devices = len(devices)
		o.log.Info("device pool verified", "pool", spec.PoolAlias, "devices", len(devices))
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.transition(PoolVerified)

	if err := o.stage(ctx, "prepare_artifacts", o.prepareArtifacts); err != nil {
		return nil, err
	}
	o.transition(ArtifactsReady)

	var app, tests farm.UploadHandle
	err = o.stage(ctx, "upload_app", func(ctx context.Context) error {
		var err error
		app, err = o.uploader.Upload(ctx, spec.ID, spec.AppPath, farm.KindAndroidApp)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.transition(AppUploaded)

	err = o.stage(ctx, "upload_tests", func(ctx context.Context) error {
		var err error
		tests, err = o.uploader.Upload(ctx, spec.ID, spec.TestsPath, farm.KindInstrumentationTests)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.transition(TestsUploaded)

	err = o.stage(ctx, "schedule", func(ctx context.Context) error {
		var err error
		res.Run, err = o.scheduler.Schedule(ctx, spec.ID, spec.PoolRef, app, tests)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.transition(Scheduled)

	if err := o.supervise(ctx, &res.Run); err != nil {
		return nil, err
	}
	if res.Run.Status == farm.RunErrored {
		o.log.Warn("run finished with errors, collecting results anyway", "ref", res.Run.Ref)
	}

	o.transition(Collecting)
	var tasks []farm.DownloadTask
	err = o.stage(ctx, "collect", func(ctx context.Context) error {
		var err error
		tasks, err = o.collector.Collect(ctx, spec.ID, res.Run)
		return err
	})
	if err != nil {
		return res, err
	}
	res.Tasks = len(tasks)

	o.transition(Downloading)
	err = o.stage(ctx, "download", func(ctx context.Context) error {
		var err error
		res.Download, err = o.download(ctx, tasks)
		return err
	})
	if err != nil {
		return res, err
	}

	o.transition(Done)
	return res, nil
}

// supervise monitors a scheduled run. Every exit path that leaves the run
// non-terminal, including panics, stops the remote run first.
func (o *Orchestrator) supervise(ctx context.Context, run *farm.RunHandle) (err error) {
	finished := false
	defer func() {
		if finished {
			return
		}
		p := recover()
		cause := err
		if p != nil {
			cause = fmt.Errorf("panic: %v", p)
		} else if cause == nil {
			cause = context.Cause(ctx)
		}

		o.abort(ctx, *run)
		if p != nil {
			panic(p)
		}
		err = &AbortError{Run: *run, Err: cause}
	}()

	o.transition(Monitoring)
	err = o.stage(ctx, "monitor", func(ctx context.Context) error {
		_, err := o.monitor.AwaitTerminal(ctx, run)
		return err
	})
	if err != nil {
		return err
	}
	finished = true
	return nil
}

// abort issues a best-effort stop request. Its own failure is only logged.
func (o *Orchestrator) abort(ctx context.Context, run farm.RunHandle) {
	o.transition(Aborting)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StopTimeout)
	defer cancel()

	if err := o.svc.StopRun(stopCtx, run.Ref); err != nil {
		o.log.Error("stop run failed", "ref", run.Ref, "error", err)
		return
	}
	o.log.Warn("run stopped", "ref", run.Ref, "last_status", string(run.Status))
}

func (o *Orchestrator) prepareArtifacts(ctx context.Context) error {
	if o.opts.Builder != nil {
		if err := o.opts.Builder.Build(ctx); err != nil {
			return fmt.Errorf("build artifacts: %w", err)
		}
	} else {
		o.log.Info("skipping artifact build (use -rebuild to force)")
	}

	for _, path := range []string{o.cfg.Spec.AppPath, o.cfg.Spec.TestsPath} {
		info, err := os.Stat(path)
		if err != nil {
			return &farm.ConfigurationError{Reason: fmt.Sprintf("artifact %s", path), Err: err}
		}
		if info.IsDir() {
			return &farm.ConfigurationError{Reason: fmt.Sprintf("artifact %s is a directory", path)}
		}
		o.log.Info("artifact found", "path", path, "size", progress.FormatBytes(info.Size()))
	}
	return nil
}

func (o *Orchestrator) download(ctx context.Context, tasks []farm.DownloadTask) (downloader.Summary, error) {
	var reporter *progress.Reporter
	if o.opts.ProgressOutput != nil {
		reporter = progress.NewReporter(progress.Options{
			TotalFiles: len(tasks),
			Workers:    o.cfg.Workers,
			Output:     o.opts.ProgressOutput,
			RunID:      o.cfg.Spec.ID,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	return downloader.DownloadAll(ctx, tasks, downloader.Options{
		Workers:  o.cfg.Workers,
		Client:   o.opts.Transfer,
		Progress: reporter,
		Logger:   o.log,
	})
}
