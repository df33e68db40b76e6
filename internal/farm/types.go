package farm

import (
	"encoding/json"
	"time"
)

// ArtifactKind identifies what an uploaded artifact is used for.
type ArtifactKind string

const (
	// KindAndroidApp is the application package under test.
	KindAndroidApp ArtifactKind = "ANDROID_APP"
	// KindInstrumentationTests is the instrumentation test package.
	KindInstrumentationTests ArtifactKind = "INSTRUMENTATION_TEST_PACKAGE"
)

// UploadStatus is the remote processing status of an uploaded artifact.
type UploadStatus string

const (
	UploadInitialized UploadStatus = "initialized"
	UploadProcessing  UploadStatus = "processing"
	UploadSucceeded   UploadStatus = "succeeded"
	UploadFailed      UploadStatus = "failed"
)

// RunStatus is the status of a remote test run.
type RunStatus string

const (
	RunSubmitted RunStatus = "submitted"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunErrored   RunStatus = "errored"
)

// Terminal reports whether no further transition occurs from s.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunErrored
}

// TestType selects the remote test harness.
type TestType string

// TestTypeInstrumentation runs an application instrumentation test package.
const TestTypeInstrumentation TestType = "INSTRUMENTATION"

// ArtifactCategory filters the artifacts listed for a test.
type ArtifactCategory string

const (
	CategoryLog        ArtifactCategory = "LOG"
	CategoryFile       ArtifactCategory = "FILE"
	CategoryScreenshot ArtifactCategory = "SCREENSHOT"
)

// Rule attributes and operators understood by pool verification.
const (
	AttributeARN = "ARN"
	OperatorIn   = "IN"
)

// RunSpec describes one run. It is passed by value and never mutated.
type RunSpec struct {
	PoolAlias string
	PoolRef   string
	AppPath   string
	TestsPath string
	ID        string
}

// NewRunSpec builds a RunSpec whose ID is derived from the pool alias and t.
func NewRunSpec(poolAlias, poolRef, appPath, testsPath, infix string, t time.Time) RunSpec {
	return RunSpec{
		PoolAlias: poolAlias,
		PoolRef:   poolRef,
		AppPath:   appPath,
		TestsPath: testsPath,
		ID:        RunID(poolAlias, infix, t),
	}
}

// RunID returns "<alias>-<infix>-<YYYY-MM-DD-HHMMSS>".
func RunID(poolAlias, infix string, t time.Time) string {
	if infix == "" {
		return poolAlias + "-" + t.Format("2006-01-02-150405")
	}
	return poolAlias + "-" + infix + "-" + t.Format("2006-01-02-150405")
}

// UploadHandle is the local view of a remote upload.
type UploadHandle struct {
	Ref    string
	Name   string
	Kind   ArtifactKind
	Status UploadStatus
}

// RunHandle is the local view of a remote run.
type RunHandle struct {
	Ref    string
	Name   string
	Status RunStatus
}

// Rule is one device selection rule of a device pool.
type Rule struct {
	Attribute string
	Operator  string
	Value     string
}

// DevicePool is a remotely defined set of devices.
type DevicePool struct {
	Ref   string
	Name  string
	Rules []Rule
}

// Upload is the remote record of an uploaded artifact.
type Upload struct {
	Ref     string
	Name    string
	URL     string // pre-signed write location, only set on creation
	Status  UploadStatus
	Message string
}

// Run is the remote record of a test run.
type Run struct {
	Ref    string
	Name   string
	Status RunStatus
}

// Job is the execution of a run on one device.
type Job struct {
	Ref    string
	Name   string
	Device json.RawMessage
}

// Suite groups tests within a job.
type Suite struct {
	Ref  string
	Name string
}

// Test is a single test case within a suite.
type Test struct {
	Ref  string
	Name string
}

// Artifact is an output file produced by a test.
type Artifact struct {
	Name      string
	URL       string
	Extension string
}

// ResultTree is a read-only snapshot of a terminal run's results.
type ResultTree struct {
	Jobs []JobResult
}

// JobResult holds the suites of one job.
type JobResult struct {
	Job
	Suites []SuiteResult
}

// SuiteResult holds the tests of one suite.
type SuiteResult struct {
	Suite
	Tests []TestResult
}

// TestResult holds the artifacts of one test.
type TestResult struct {
	Test
	Artifacts []Artifact
}

// DownloadTask is a remote artifact and the local path it is stored at.
type DownloadTask struct {
	URL  string
	Path string
}
