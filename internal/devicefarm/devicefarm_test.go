package devicefarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm/types"
	"github.com/aws/smithy-go"
	"github.com/google/go-cmp/cmp"

	"github.com/ligustah/farmrun/internal/farm"
)

// fakeAPI answers with canned responses. List calls are split into pages of
// pageSize entries chained by NextToken.
type fakeAPI struct {
	API

	pool        *types.DevicePool
	upload      *types.Upload
	run         *types.Run
	scheduleErr error

	jobs      []types.Job
	artifacts []types.Artifact
	pageSize  int

	scheduled *devicefarm.ScheduleRunInput
	created   *devicefarm.CreateUploadInput
	stopped   []string
	listCalls int
}

func page[T any](items []T, size int, token *string) ([]T, *string) {
	start := 0
	if token != nil {
		fmt.Sscanf(*token, "%d", &start)
	}
	end := start + size
	if size <= 0 || end >= len(items) {
		return items[start:], nil
	}
	return items[start:end], aws.String(fmt.Sprint(end))
}

func (f *fakeAPI) GetDevicePool(ctx context.Context, in *devicefarm.GetDevicePoolInput, _ ...func(*devicefarm.Options)) (*devicefarm.GetDevicePoolOutput, error) {
	return &devicefarm.GetDevicePoolOutput{DevicePool: f.pool}, nil
}

func (f *fakeAPI) CreateUpload(ctx context.Context, in *devicefarm.CreateUploadInput, _ ...func(*devicefarm.Options)) (*devicefarm.CreateUploadOutput, error) {
	f.created = in
	return &devicefarm.CreateUploadOutput{Upload: f.upload}, nil
}

func (f *fakeAPI) GetUpload(ctx context.Context, in *devicefarm.GetUploadInput, _ ...func(*devicefarm.Options)) (*devicefarm.GetUploadOutput, error) {
	return &devicefarm.GetUploadOutput{Upload: f.upload}, nil
}

func (f *fakeAPI) ScheduleRun(ctx context.Context, in *devicefarm.ScheduleRunInput, _ ...func(*devicefarm.Options)) (*devicefarm.ScheduleRunOutput, error) {
	f.scheduled = in
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return &devicefarm.ScheduleRunOutput{Run: f.run}, nil
}

func (f *fakeAPI) GetRun(ctx context.Context, in *devicefarm.GetRunInput, _ ...func(*devicefarm.Options)) (*devicefarm.GetRunOutput, error) {
	return &devicefarm.GetRunOutput{Run: f.run}, nil
}

func (f *fakeAPI) StopRun(ctx context.Context, in *devicefarm.StopRunInput, _ ...func(*devicefarm.Options)) (*devicefarm.StopRunOutput, error) {
	f.stopped = append(f.stopped, aws.ToString(in.Arn))
	return &devicefarm.StopRunOutput{}, nil
}

func (f *fakeAPI) ListJobs(ctx context.Context, in *devicefarm.ListJobsInput, _ ...func(*devicefarm.Options)) (*devicefarm.ListJobsOutput, error) {
	f.listCalls++
	jobs, next := page(f.jobs, f.pageSize, in.NextToken)
	return &devicefarm.ListJobsOutput{Jobs: jobs, NextToken: next}, nil
}

func (f *fakeAPI) ListArtifacts(ctx context.Context, in *devicefarm.ListArtifactsInput, _ ...func(*devicefarm.Options)) (*devicefarm.ListArtifactsOutput, error) {
	f.listCalls++
	if in.Type != types.ArtifactCategoryLog {
		return &devicefarm.ListArtifactsOutput{}, nil
	}
	artifacts, next := page(f.artifacts, f.pageSize, in.NextToken)
	return &devicefarm.ListArtifactsOutput{Artifacts: artifacts, NextToken: next}, nil
}

func TestGetDevicePool(t *testing.T) {
	api := &fakeAPI{pool: &types.DevicePool{
		Arn:  aws.String("arn:pool:small"),
		Name: aws.String("small"),
		Rules: []types.Rule{{
			Attribute: types.DeviceAttributeArn,
			Operator:  types.RuleOperatorIn,
			Value:     aws.String(`["arn:device:a"]`),
		}},
	}}

	got, err := New(api).GetDevicePool(context.Background(), "arn:pool:small")
	if err != nil {
		t.Fatalf("GetDevicePool: %v", err)
	}
	want := &farm.DevicePool{
		Ref:   "arn:pool:small",
		Name:  "small",
		Rules: []farm.Rule{{Attribute: farm.AttributeARN, Operator: farm.OperatorIn, Value: `["arn:device:a"]`}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pool mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateUpload(t *testing.T) {
	api := &fakeAPI{upload: &types.Upload{
		Arn:    aws.String("arn:upload:1"),
		Name:   aws.String("small-app-debug.apk"),
		Url:    aws.String("https://uploads.example/1"),
		Status: types.UploadStatusInitialized,
	}}

	got, err := New(api).CreateUpload(context.Background(), farm.CreateUploadInput{
		Project:     "arn:project:bench",
		Name:        "small-app-debug.apk",
		Kind:        farm.KindAndroidApp,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	if api.created.Type != types.UploadTypeAndroidApp {
		t.Errorf("upload type = %s, want ANDROID_APP", api.created.Type)
	}
	if aws.ToString(api.created.ContentType) != "application/octet-stream" {
		t.Errorf("content type = %q", aws.ToString(api.created.ContentType))
	}
	want := &farm.Upload{
		Ref:    "arn:upload:1",
		Name:   "small-app-debug.apk",
		URL:    "https://uploads.example/1",
		Status: farm.UploadInitialized,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("upload mismatch (-want +got):\n%s", diff)
	}
}

func TestGetUploadFailed(t *testing.T) {
	api := &fakeAPI{upload: &types.Upload{
		Arn:     aws.String("arn:upload:1"),
		Status:  types.UploadStatusFailed,
		Message: aws.String("invalid apk"),
	}}
	got, err := New(api).GetUpload(context.Background(), "arn:upload:1")
	if err != nil {
		t.Fatalf("GetUpload: %v", err)
	}
	if got.Status != farm.UploadFailed || got.Message != "invalid apk" {
		t.Errorf("got %+v", got)
	}
}

func TestScheduleRun(t *testing.T) {
	api := &fakeAPI{run: &types.Run{
		Arn:    aws.String("arn:run:1"),
		Name:   aws.String("small-hw-support"),
		Status: types.ExecutionStatusScheduling,
	}}

	got, err := New(api).ScheduleRun(context.Background(), farm.ScheduleRunInput{
		Project: "arn:project:bench",
		AppRef:  "arn:upload:1",
		PoolRef: "arn:pool:small",
		Name:    "small-hw-support",
		Test:    farm.TestConfig{Type: farm.TestTypeInstrumentation, PackageRef: "arn:upload:2"},
	})
	if err != nil {
		t.Fatalf("ScheduleRun: %v", err)
	}
	if got.Ref != "arn:run:1" || got.Status != farm.RunSubmitted {
		t.Errorf("got %+v", got)
	}
	if api.scheduled.Test.Type != types.TestTypeInstrumentation {
		t.Errorf("test type = %s", api.scheduled.Test.Type)
	}
	if aws.ToString(api.scheduled.Test.TestPackageArn) != "arn:upload:2" {
		t.Errorf("test package = %s", aws.ToString(api.scheduled.Test.TestPackageArn))
	}
}

func TestScheduleRunRejected(t *testing.T) {
	api := &fakeAPI{scheduleErr: &smithy.GenericAPIError{Code: "LimitExceededException", Message: "too many runs"}}

	_, err := New(api).ScheduleRun(context.Background(), farm.ScheduleRunInput{Name: "run"})
	var se *farm.ScheduleError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScheduleError, got %v", err)
	}
	if se.Code != "LimitExceededException" || se.Name != "run" {
		t.Errorf("got %+v", se)
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status types.ExecutionStatus
		result types.ExecutionResult
		want   farm.RunStatus
	}{
		{types.ExecutionStatusPending, types.ExecutionResultPending, farm.RunSubmitted},
		{types.ExecutionStatusPendingDevice, types.ExecutionResultPending, farm.RunSubmitted},
		{types.ExecutionStatusScheduling, types.ExecutionResultPending, farm.RunSubmitted},
		{types.ExecutionStatusPreparing, types.ExecutionResultPending, farm.RunRunning},
		{types.ExecutionStatusRunning, types.ExecutionResultPending, farm.RunRunning},
		{types.ExecutionStatusStopping, types.ExecutionResultPending, farm.RunRunning},
		{types.ExecutionStatusCompleted, types.ExecutionResultPassed, farm.RunCompleted},
		{types.ExecutionStatusCompleted, types.ExecutionResultFailed, farm.RunCompleted},
		{types.ExecutionStatusCompleted, types.ExecutionResultStopped, farm.RunCompleted},
		{types.ExecutionStatusCompleted, types.ExecutionResultErrored, farm.RunErrored},
	}
	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+string(tt.result), func(t *testing.T) {
			if got := RunStatus(tt.status, tt.result); got != tt.want {
				t.Errorf("RunStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUploadStatus(t *testing.T) {
	tests := map[types.UploadStatus]farm.UploadStatus{
		types.UploadStatusInitialized: farm.UploadInitialized,
		types.UploadStatusProcessing:  farm.UploadProcessing,
		types.UploadStatusSucceeded:   farm.UploadSucceeded,
		types.UploadStatusFailed:      farm.UploadFailed,
	}
	for in, want := range tests {
		if got := UploadStatus(in); got != want {
			t.Errorf("UploadStatus(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestStopRun(t *testing.T) {
	api := &fakeAPI{}
	if err := New(api).StopRun(context.Background(), "arn:run:1"); err != nil {
		t.Fatalf("StopRun: %v", err)
	}
	if diff := cmp.Diff([]string{"arn:run:1"}, api.stopped); diff != "" {
		t.Errorf("stopped mismatch (-want +got):\n%s", diff)
	}
}

func TestListJobsPaginates(t *testing.T) {
	api := &fakeAPI{pageSize: 2}
	for i := 0; i < 5; i++ {
		api.jobs = append(api.jobs, types.Job{
			Arn:  aws.String(fmt.Sprintf("arn:job:%d", i)),
			Name: aws.String(fmt.Sprintf("Pixel %d", i)),
			Device: &types.Device{
				Model:      aws.String(fmt.Sprintf("Pixel %d", i)),
				Os:         aws.String("14"),
				Platform:   types.DevicePlatformAndroid,
				Resolution: &types.Resolution{Width: aws.Int32(1080), Height: aws.Int32(2400)},
			},
		})
	}

	jobs, err := New(api).ListJobs(context.Background(), "arn:run:1")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 5 {
		t.Fatalf("got %d jobs, want 5", len(jobs))
	}
	if api.listCalls != 3 {
		t.Errorf("ListJobs called %d times, want 3", api.listCalls)
	}
	if jobs[4].Ref != "arn:job:4" {
		t.Errorf("last job = %s", jobs[4].Ref)
	}

	var device map[string]any
	if err := json.Unmarshal(jobs[0].Device, &device); err != nil {
		t.Fatalf("device descriptor: %v", err)
	}
	if device["model"] != "Pixel 0" || device["platform"] != "ANDROID" {
		t.Errorf("device = %v", device)
	}
	if res, ok := device["resolution"].(map[string]any); !ok || res["width"] != float64(1080) {
		t.Errorf("resolution = %v", device["resolution"])
	}
}

func TestListArtifacts(t *testing.T) {
	api := &fakeAPI{pageSize: 1, artifacts: []types.Artifact{
		{Name: aws.String("Logcat"), Url: aws.String("https://a.example/1"), Extension: aws.String("logcat")},
		{Name: aws.String("TestSpec Output"), Url: aws.String("https://a.example/2"), Extension: aws.String("txt")},
	}}

	got, err := New(api).ListArtifacts(context.Background(), "arn:test:1", farm.CategoryLog)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	want := []farm.Artifact{
		{Name: "Logcat", URL: "https://a.example/1", Extension: "logcat"},
		{Name: "TestSpec Output", URL: "https://a.example/2", Extension: "txt"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}

	files, err := New(api).ListArtifacts(context.Background(), "arn:test:1", farm.CategoryFile)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no file artifacts, got %v", files)
	}
}
