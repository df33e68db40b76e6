package farm

import "context"

// CreateUploadInput registers a new artifact upload.
type CreateUploadInput struct {
	Project     string
	Name        string
	Kind        ArtifactKind
	ContentType string
}

// TestConfig selects the test harness and test package of a run.
type TestConfig struct {
	Type       TestType
	PackageRef string
}

// ScheduleRunInput requests creation of a run.
type ScheduleRunInput struct {
	Project string
	AppRef  string
	PoolRef string
	Name    string
	Test    TestConfig
}

// Service is the remote device farm consumed by the orchestration core.
type Service interface {
	GetDevicePool(ctx context.Context, ref string) (*DevicePool, error)

	CreateUpload(ctx context.Context, in CreateUploadInput) (*Upload, error)
	GetUpload(ctx context.Context, ref string) (*Upload, error)

	ScheduleRun(ctx context.Context, in ScheduleRunInput) (*Run, error)
	GetRun(ctx context.Context, ref string) (*Run, error)
	StopRun(ctx context.Context, ref string) error

	ListJobs(ctx context.Context, runRef string) ([]Job, error)
	ListSuites(ctx context.Context, jobRef string) ([]Suite, error)
	ListTests(ctx context.Context, suiteRef string) ([]Test, error)
	ListArtifacts(ctx context.Context, testRef string, category ArtifactCategory) ([]Artifact, error)
}
