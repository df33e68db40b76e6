package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ligustah/farmrun/internal/farm"
)

// DeviceFile is the name of the per-job device descriptor.
const DeviceFile = "device.json"

// ErrNotTerminal is returned when results are requested for a run that has
// not finished.
var ErrNotTerminal = errors.New("collector: run has not reached a terminal status")

// Options configures a Collector.
type Options struct {
	// Root is the results directory. Each run gets a subdirectory.
	Root string

	// Workers bounds how many jobs are enumerated concurrently.
	// Default: 4
	Workers int

	// Logger receives collection progress. Default: slog.Default()
	Logger *slog.Logger
}

// Collector enumerates run results.
type Collector struct {
	svc  farm.Service
	opts Options
	log  *slog.Logger
}

// New creates a Collector.
func New(svc farm.Service, opts Options) *Collector {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Collector{svc: svc, opts: opts, log: log}
}

// Collect fetches the result tree of run, writes each job's device
// descriptor and returns one download task per log artifact.
func (c *Collector) Collect(ctx context.Context, runID string, run farm.RunHandle) ([]farm.DownloadTask, error) {
	tree, err := c.Fetch(ctx, run)
	if err != nil {
		return nil, err
	}

	runDir := filepath.Join(c.opts.Root, runID)
	plan := Plan(runDir, tree)

	for _, job := range plan.Jobs {
		if err := os.MkdirAll(job.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create job directory: %w", err)
		}
		device := job.Device
		if len(device) == 0 {
			device = []byte("{}")
		}
		path := filepath.Join(job.Dir, DeviceFile)
		if err := os.WriteFile(path, device, 0644); err != nil {
			return nil, fmt.Errorf("write device descriptor: %w", err)
		}
		c.log.Info("job collected", "job", job.Name, "dir", job.Dir, "artifacts", job.Artifacts)
	}
	for _, r := range plan.Renamed {
		c.log.Warn("destination renamed to stay unique", "from", r.From, "to", r.To)
	}

	c.log.Info("results enumerated", "run_id", runID, "jobs", len(plan.Jobs), "artifacts", len(plan.Tasks))
	return plan.Tasks, nil
}

// Fetch enumerates jobs, suites, tests and log artifacts of a terminal run.
// Jobs are walked concurrently; the returned tree keeps remote order.
func (c *Collector) Fetch(ctx context.Context, run farm.RunHandle) (*farm.ResultTree, error) {
	if !run.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotTerminal, run.Ref, run.Status)
	}

	jobs, err := c.svc.ListJobs(ctx, run.Ref)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	results := make([]farm.JobResult, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			jr, err := c.fetchJob(ctx, job)
			if err != nil {
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
			results[i] = jr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &farm.ResultTree{Jobs: results}, nil
}

func (c *Collector) fetchJob(ctx context.Context, job farm.Job) (farm.JobResult, error) {
	jr := farm.JobResult{Job: job}

	suites, err := c.svc.ListSuites(ctx, job.Ref)
	if err != nil {
		return jr, fmt.Errorf("list suites: %w", err)
	}
	for _, suite := range suites {
		sr := farm.SuiteResult{Suite: suite}

		tests, err := c.svc.ListTests(ctx, suite.Ref)
		if err != nil {
			return jr, fmt.Errorf("list tests of %s: %w", suite.Name, err)
		}
		for _, test := range tests {
			artifacts, err := c.svc.ListArtifacts(ctx, test.Ref, farm.CategoryLog)
			if err != nil {
				return jr, fmt.Errorf("list artifacts of %s: %w", test.Name, err)
			}
			sr.Tests = append(sr.Tests, farm.TestResult{Test: test, Artifacts: artifacts})
		}
		jr.Suites = append(jr.Suites, sr)
	}
	return jr, nil
}

// JobPlan is the local directory of one job.
type JobPlan struct {
	Name      string
	Dir       string
	Device    []byte
	Artifacts int
}

// Rename records a destination that was changed to avoid a collision.
type Rename struct {
	From string
	To   string
}

// LocalPlan is the local layout of a result tree.
type LocalPlan struct {
	Jobs    []JobPlan
	Tasks   []farm.DownloadTask
	Renamed []Rename
}

// Plan maps tree onto runDir without touching the filesystem.
func Plan(runDir string, tree *farm.ResultTree) LocalPlan {
	var plan LocalPlan
	dirs := newNamer()

	for _, job := range tree.Jobs {
		dirName := dirs.unique(JobDirName(job.Name), "")
		if want := JobDirName(job.Name); dirName != want {
			plan.Renamed = append(plan.Renamed, Rename{
				From: filepath.Join(runDir, want),
				To:   filepath.Join(runDir, dirName),
			})
		}

		jp := JobPlan{
			Name:   job.Name,
			Dir:    filepath.Join(runDir, dirName),
			Device: job.Device,
		}

		// device.json is reserved in every job directory.
		files := newNamer()
		files.reserve(DeviceFile)

		for _, suite := range job.Suites {
			for _, test := range suite.Tests {
				for _, a := range test.Artifacts {
					base, ext := testFileParts(test.Name, a.Extension)
					want := base + ext
					name := files.unique(base, ext)
					if name != want {
						plan.Renamed = append(plan.Renamed, Rename{
							From: filepath.Join(jp.Dir, want),
							To:   filepath.Join(jp.Dir, name),
						})
					}
					plan.Tasks = append(plan.Tasks, farm.DownloadTask{
						URL:  a.URL,
						Path: filepath.Join(jp.Dir, name),
					})
					jp.Artifacts++
				}
			}
		}
		plan.Jobs = append(plan.Jobs, jp)
	}
	return plan
}

// namer hands out names that are unique within one directory. Names are
// compared case-insensitively so distinct files survive on case-insensitive
// filesystems.
type namer struct {
	used map[string]bool
}

func (n *namer) reserve(name string) { n.used[strings.ToLower(name)] = true }

func (n *namer) taken(name string) bool { return n.used[strings.ToLower(name)] }

func newNamer() *namer {
	return &namer{used: make(map[string]bool)}
}

// unique returns base+ext, or base_N+ext if that name is taken.
func (n *namer) unique(base, ext string) string {
	if name := base + ext; !n.taken(name) {
		n.reserve(name)
		return name
	}

	for i := 2; ; i++ {
		candidate := base + "_" + strconv.Itoa(i) + ext
		if !n.taken(candidate) {
			n.reserve(candidate)
			return candidate
		}
	}
}
