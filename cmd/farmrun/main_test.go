package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gocloud.dev/blob"

	"github.com/ligustah/farmrun/internal/config"
	"github.com/ligustah/farmrun/internal/downloader"
	"github.com/ligustah/farmrun/internal/farm"
	"github.com/ligustah/farmrun/internal/farm/farmtest"
	farmhttp "github.com/ligustah/farmrun/internal/http"
	"github.com/ligustah/farmrun/internal/orchestrator"
	"github.com/ligustah/farmrun/internal/poll"
	"github.com/ligustah/farmrun/pkg/archive"
)

const poolRef = "arn:aws:devicefarm:us-west-2:111122223333:devicepool:bench/small"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func useService(t *testing.T, svc farm.Service) {
	t.Helper()
	orig := newService
	newService = func(context.Context, config.Config) (farm.Service, error) { return svc, nil }
	t.Cleanup(func() { newService = orig })
}

// startFarm serves uploads and artifacts whose body names their path.
func startFarm(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			io.Copy(io.Discard, r.Body)
		case http.MethodGet:
			if strings.HasSuffix(r.URL.Path, "/missing") {
				http.NotFound(w, r)
				return
			}
			io.WriteString(w, "log "+r.URL.Path)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	app := filepath.Join(dir, "app-debug.apk")
	tests := filepath.Join(dir, "bench-debug-androidTest.apk")
	for _, p := range []string{app, tests} {
		if err := os.WriteFile(p, []byte("apk"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.ProjectARN = "arn:aws:devicefarm:us-west-2:111122223333:project:bench"
	cfg.DevicePools = map[string]string{"small": poolRef}
	cfg.Artifacts.App = app
	cfg.Artifacts.Tests = tests
	cfg.ResultsDir = filepath.Join(dir, "results")
	cfg.Upload = config.PollConfig{PollInterval: time.Millisecond, MaxWait: time.Minute}
	cfg.Run = config.PollConfig{PollInterval: time.Millisecond, MaxPollInterval: 2 * time.Millisecond, MaxWait: time.Minute}
	cfg.Retry = config.RetryConfig{Attempts: 1, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
	cfg.Download.Workers = 2
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func TestRunCommandDispatch(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, ExitInvalidArgs},
		{[]string{"bogus"}, ExitInvalidArgs},
		{[]string{"help"}, ExitSuccess},
		{[]string{"pool"}, ExitInvalidArgs},
		{[]string{"archive-validate", "-bucket", "mem://"}, ExitInvalidArgs},
		{[]string{"archive-delete", "-run", "x"}, ExitInvalidArgs},
		{[]string{"run", "extra"}, ExitInvalidArgs},
		{[]string{"run", "-workers", "-1"}, ExitInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			if got := run(tt.args); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

func TestRunCommandInvalidConfig(t *testing.T) {
	t.Setenv("FARMRUN_PROJECT_ARN", "")
	path := filepath.Join(t.TempDir(), "farmrun.yaml")
	if err := os.WriteFile(path, []byte("region: us-west-2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := run([]string{"run", "-config", path}); got != ExitConfigError {
		t.Errorf("exit code = %d, want %d", got, ExitConfigError)
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"config", &farm.ConfigurationError{Reason: "bad pool"}, ExitConfigError},
		{"transfer", fmt.Errorf("upload: %w", &farmhttp.TransferError{Method: "PUT", StatusCode: 403}), ExitTransferError},
		{"remote", &farm.RemoteProcessingError{Ref: "arn:upload:1", Message: "invalid apk"}, ExitTransferError},
		{"schedule", &farm.ScheduleError{Code: "ArgumentException"}, ExitScheduleError},
		{"partial", &downloader.PartialFailure{Total: 2, Failed: []downloader.FailedTask{{Err: farmhttp.ErrNotFound}}}, ExitPartialDownload},
		{"abort", &orchestrator.AbortError{Err: context.Canceled}, ExitRunAborted},
		{"abort wrapping timeout", &orchestrator.AbortError{Err: poll.ErrTimeout}, ExitRunAborted},
		{"canceled", fmt.Errorf("upload: %w", context.Canceled), ExitRunAborted},
		{"canceled downloads", &downloader.PartialFailure{Total: 2, Failed: []downloader.FailedTask{{Err: context.Canceled}, {Err: context.Canceled}}}, ExitRunAborted},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "run_id", "r1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"run_id":"r1"`) {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestPollOptions(t *testing.T) {
	got := pollOptions(config.PollConfig{PollInterval: 10 * time.Second, MaxPollInterval: time.Minute, MaxWait: 12 * time.Hour})
	want := poll.Options{Interval: 10 * time.Second, Multiplier: 1.5, MaxInterval: time.Minute, MaxWait: 12 * time.Hour}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("backoff options mismatch (-want +got):\n%s", diff)
	}

	got = pollOptions(config.PollConfig{PollInterval: 3 * time.Second, MaxWait: 30 * time.Minute})
	if got.Multiplier != 0 {
		t.Errorf("fixed interval got multiplier %v", got.Multiplier)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farmrun.yaml")
	yaml := `project_arn: arn:project:file
pool: small
device_pools:
  small: arn:pool:small
  large: arn:pool:large
results_dir: from-file
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FARMRUN_RESULTS_DIR", "from-env")
	t.Setenv("FARMRUN_PROJECT_ARN", "")

	cfg, err := loadConfig(path, config.Config{Pool: "large"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ProjectARN != "arn:project:file" {
		t.Errorf("project = %q", cfg.ProjectARN)
	}
	if cfg.ResultsDir != "from-env" {
		t.Errorf("results dir = %q, want the environment value", cfg.ResultsDir)
	}
	if cfg.Pool != "large" {
		t.Errorf("pool = %q, want the flag value", cfg.Pool)
	}
	if cfg.Run.MaxWait != 12*time.Hour {
		t.Errorf("run max wait = %v, want the default", cfg.Run.MaxWait)
	}
}

func TestExecuteRun(t *testing.T) {
	server := startFarm(t)
	svc := &farmtest.Service{
		Pools:       map[string]*farm.DevicePool{poolRef: farmtest.StaticPool(poolRef, "arn:device:pixel6")},
		UploadURL:   server.URL,
		RunStatuses: []farm.RunStatus{farm.RunRunning, farm.RunCompleted},
		Results:     farmtest.Tree(server.URL, 1, 1, 1, 2),
	}
	useService(t, svc)

	cfg := testConfig(t)
	archiveDir := t.TempDir()
	cfg.Archive.Bucket = "file://" + filepath.ToSlash(archiveDir)

	var stdout bytes.Buffer
	if code := executeRun(context.Background(), cfg, discard(), &stdout, nil); code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d; output:\n%s", code, ExitSuccess, stdout.String())
	}

	runs := svc.ScheduledRuns()
	if len(runs) != 1 {
		t.Fatalf("scheduled %d runs, want 1", len(runs))
	}
	runID := runs[0].Name
	if !strings.HasPrefix(runID, "small-hw-support-") {
		t.Errorf("run id = %q", runID)
	}

	out := stdout.String()
	for _, want := range []string{"Run:        " + runID + " (completed)", "Devices:    1", "Downloaded: 2 of 2 files", "Archived:   3 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	data, err := os.ReadFile(filepath.Join(cfg.ResultsDir, runID, "Pixel6API30", "BenchTest0.0.txt"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(data) != "log /artifacts/0/0/0/1" {
		t.Errorf("result content = %q", data)
	}

	stdout.Reset()
	if code := validateArchive(context.Background(), cfg.Archive.Bucket, runID, &stdout); code != ExitSuccess {
		t.Fatalf("validate exit code = %d; output:\n%s", code, stdout.String())
	}
	if !strings.Contains(stdout.String(), "Status: VALID") {
		t.Errorf("unexpected validate output:\n%s", stdout.String())
	}

	stdout.Reset()
	if code := deleteArchive(context.Background(), cfg.Archive.Bucket, runID, &stdout); code != ExitSuccess {
		t.Fatalf("delete exit code = %d", code)
	}
	if code := validateArchive(context.Background(), cfg.Archive.Bucket, runID, io.Discard); code != ExitValidationFailed {
		t.Errorf("validate after delete = %d, want %d", code, ExitValidationFailed)
	}
}

func TestExecuteRunErroredRunSucceeds(t *testing.T) {
	server := startFarm(t)
	svc := &farmtest.Service{
		Pools:       map[string]*farm.DevicePool{poolRef: farmtest.StaticPool(poolRef, "arn:device:pixel6")},
		UploadURL:   server.URL,
		RunStatuses: []farm.RunStatus{farm.RunErrored},
		Results:     farmtest.Tree(server.URL, 1, 1, 1, 1),
	}
	useService(t, svc)

	var stdout bytes.Buffer
	if code := executeRun(context.Background(), testConfig(t), discard(), &stdout, nil); code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}
	if !strings.Contains(stdout.String(), "Warning:") {
		t.Errorf("expected a warning for the errored run:\n%s", stdout.String())
	}
}

func TestExecuteRunPartialDownload(t *testing.T) {
	server := startFarm(t)
	results := farmtest.Tree(server.URL, 1, 1, 1, 2)
	results[0].Suites[0].Tests[0].Artifacts[1].URL = server.URL + "/artifacts/missing"
	svc := &farmtest.Service{
		Pools:       map[string]*farm.DevicePool{poolRef: farmtest.StaticPool(poolRef, "arn:device:pixel6")},
		UploadURL:   server.URL,
		RunStatuses: []farm.RunStatus{farm.RunCompleted},
		Results:     results,
	}
	useService(t, svc)

	var stdout bytes.Buffer
	if code := executeRun(context.Background(), testConfig(t), discard(), &stdout, nil); code != ExitPartialDownload {
		t.Fatalf("exit code = %d, want %d", code, ExitPartialDownload)
	}
	if !strings.Contains(stdout.String(), "Downloaded: 1 of 2 files") {
		t.Errorf("unexpected output:\n%s", stdout.String())
	}
}

func TestExecuteRunCanceledStopsRun(t *testing.T) {
	server := startFarm(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &farmtest.Service{
		Pools:       map[string]*farm.DevicePool{poolRef: farmtest.StaticPool(poolRef, "arn:device:pixel6")},
		UploadURL:   server.URL,
		RunStatuses: []farm.RunStatus{farm.RunRunning},
		OnGetRun: func(call int) {
			if call == 2 {
				cancel()
			}
		},
	}
	useService(t, svc)

	if code := executeRun(ctx, testConfig(t), discard(), io.Discard, nil); code != ExitRunAborted {
		t.Fatalf("exit code = %d, want %d", code, ExitRunAborted)
	}
	if stopped := svc.StoppedRuns(); len(stopped) != 1 {
		t.Errorf("stopped runs = %v, want one", stopped)
	}
}

func TestExecuteRunCanceledWhileDownloading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			cancel()
		}
		io.Copy(io.Discard, r.Body)
	}))
	t.Cleanup(server.Close)

	svc := &farmtest.Service{
		Pools:       map[string]*farm.DevicePool{poolRef: farmtest.StaticPool(poolRef, "arn:device:pixel6")},
		UploadURL:   server.URL,
		RunStatuses: []farm.RunStatus{farm.RunCompleted},
		Results:     farmtest.Tree(server.URL, 1, 1, 2, 2),
	}
	useService(t, svc)

	if code := executeRun(ctx, testConfig(t), discard(), io.Discard, nil); code != ExitRunAborted {
		t.Fatalf("exit code = %d, want %d", code, ExitRunAborted)
	}
	if stopped := svc.StoppedRuns(); len(stopped) != 0 {
		t.Errorf("finished run was stopped: %v", stopped)
	}
}

func TestExecuteRunUnknownPool(t *testing.T) {
	useService(t, &farmtest.Service{})
	cfg := testConfig(t)
	cfg.Pool = "huge"
	if code := executeRun(context.Background(), cfg, discard(), io.Discard, nil); code != ExitConfigError {
		t.Errorf("exit code = %d, want %d", code, ExitConfigError)
	}
}

func TestCheckPool(t *testing.T) {
	dynamic := &farm.DevicePool{Ref: poolRef, Rules: []farm.Rule{{Attribute: "PLATFORM", Operator: "EQUALS", Value: `"ANDROID"`}}}
	tests := []struct {
		name   string
		pool   *farm.DevicePool
		want   int
		output string
	}{
		{"static", farmtest.StaticPool(poolRef, "arn:device:a", "arn:device:b"), ExitSuccess, "Devices: 2"},
		{"dynamic", dynamic, ExitConfigError, "Status:  INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useService(t, &farmtest.Service{Pools: map[string]*farm.DevicePool{poolRef: tt.pool}})
			var stdout bytes.Buffer
			if code := checkPool(context.Background(), testConfig(t), &stdout); code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
			if !strings.Contains(stdout.String(), tt.output) {
				t.Errorf("output missing %q:\n%s", tt.output, stdout.String())
			}
		})
	}
}

func TestValidateArchiveInvalid(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bucketURL := "file://" + filepath.ToSlash(dir)

	results := t.TempDir()
	if err := os.WriteFile(filepath.Join(results, "a.log"), []byte("aaa"), 0644); err != nil {
		t.Fatal(err)
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	if _, err := archive.Write(ctx, bucket, "run-1", results); err != nil {
		t.Fatal(err)
	}
	if err := bucket.Delete(ctx, "run-1/a.log"); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	if code := validateArchive(ctx, bucketURL, "run-1", &stdout); code != ExitValidationFailed {
		t.Errorf("exit code = %d, want %d", code, ExitValidationFailed)
	}
	if !strings.Contains(stdout.String(), "Missing files: 1") {
		t.Errorf("unexpected output:\n%s", stdout.String())
	}
}

func TestConfirm(t *testing.T) {
	for input, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false} {
		if got := confirm(strings.NewReader(input), io.Discard, "? "); got != want {
			t.Errorf("confirm(%q) = %v, want %v", input, got, want)
		}
	}
}
