package devicefarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm"
	"github.com/aws/aws-sdk-go-v2/service/devicefarm/types"
	"github.com/aws/smithy-go"

	"github.com/ligustah/farmrun/internal/farm"
)

// DefaultRegion is the only region Device Farm is offered in.
const DefaultRegion = "us-west-2"

// API is the subset of the Device Farm client used by Service.
type API interface {
	GetDevicePool(ctx context.Context, in *devicefarm.GetDevicePoolInput, optFns ...func(*devicefarm.Options)) (*devicefarm.GetDevicePoolOutput, error)
	CreateUpload(ctx context.Context, in *devicefarm.CreateUploadInput, optFns ...func(*devicefarm.Options)) (*devicefarm.CreateUploadOutput, error)
	GetUpload(ctx context.Context, in *devicefarm.GetUploadInput, optFns ...func(*devicefarm.Options)) (*devicefarm.GetUploadOutput, error)
	ScheduleRun(ctx context.Context, in *devicefarm.ScheduleRunInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ScheduleRunOutput, error)
	GetRun(ctx context.Context, in *devicefarm.GetRunInput, optFns ...func(*devicefarm.Options)) (*devicefarm.GetRunOutput, error)
	StopRun(ctx context.Context, in *devicefarm.StopRunInput, optFns ...func(*devicefarm.Options)) (*devicefarm.StopRunOutput, error)
	ListJobs(ctx context.Context, in *devicefarm.ListJobsInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ListJobsOutput, error)
	ListSuites(ctx context.Context, in *devicefarm.ListSuitesInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ListSuitesOutput, error)
	ListTests(ctx context.Context, in *devicefarm.ListTestsInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ListTestsOutput, error)
	ListArtifacts(ctx context.Context, in *devicefarm.ListArtifactsInput, optFns ...func(*devicefarm.Options)) (*devicefarm.ListArtifactsOutput, error)
}

// Service adapts API to farm.Service.
type Service struct {
	api API
}

var _ farm.Service = (*Service)(nil)

// New wraps api.
func New(api API) *Service {
	return &Service{api: api}
}

// NewFromConfig builds a client from the default AWS credential chain. An
// empty region means DefaultRegion.
func NewFromConfig(ctx context.Context, region string, retryAttempts int) (*Service, error) {
	if region == "" {
		region = DefaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if retryAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(retryAttempts))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(devicefarm.NewFromConfig(cfg)), nil
}

// GetDevicePool implements farm.Service.
func (s *Service) GetDevicePool(ctx context.Context, ref string) (*farm.DevicePool, error) {
	out, err := s.api.GetDevicePool(ctx, &devicefarm.GetDevicePoolInput{Arn: aws.String(ref)})
	if err != nil {
		return nil, err
	}
	if out.DevicePool == nil {
		return nil, fmt.Errorf("device pool %s: empty response", ref)
	}

	pool := &farm.DevicePool{
		Ref:  aws.ToString(out.DevicePool.Arn),
		Name: aws.ToString(out.DevicePool.Name),
	}
	for _, r := range out.DevicePool.Rules {
		pool.Rules = append(pool.Rules, farm.Rule{
			Attribute: string(r.Attribute),
			Operator:  string(r.Operator),
			Value:     aws.ToString(r.Value),
		})
	}
	return pool, nil
}

// CreateUpload implements farm.Service.
func (s *Service) CreateUpload(ctx context.Context, in farm.CreateUploadInput) (*farm.Upload, error) {
	out, err := s.api.CreateUpload(ctx, &devicefarm.CreateUploadInput{
		ProjectArn:  aws.String(in.Project),
		Name:        aws.String(in.Name),
		Type:        types.UploadType(in.Kind),
		ContentType: aws.String(in.ContentType),
	})
	if err != nil {
		return nil, err
	}
	if out.Upload == nil {
		return nil, fmt.Errorf("create upload %s: empty response", in.Name)
	}
	return convertUpload(out.Upload), nil
}

// GetUpload implements farm.Service.
func (s *Service) GetUpload(ctx context.Context, ref string) (*farm.Upload, error) {
	out, err := s.api.GetUpload(ctx, &devicefarm.GetUploadInput{Arn: aws.String(ref)})
	if err != nil {
		return nil, err
	}
	if out.Upload == nil {
		return nil, fmt.Errorf("upload %s: empty response", ref)
	}
	return convertUpload(out.Upload), nil
}

// ScheduleRun implements farm.Service. Rejections by the service are
// returned as *farm.ScheduleError carrying the service error code.
func (s *Service) ScheduleRun(ctx context.Context, in farm.ScheduleRunInput) (*farm.Run, error) {
	out, err := s.api.ScheduleRun(ctx, &devicefarm.ScheduleRunInput{
		ProjectArn:    aws.String(in.Project),
		AppArn:        aws.String(in.AppRef),
		DevicePoolArn: aws.String(in.PoolRef),
		Name:          aws.String(in.Name),
		Test: &types.ScheduleRunTest{
			Type:           types.TestType(in.Test.Type),
			TestPackageArn: aws.String(in.Test.PackageRef),
		},
	})
	if err != nil {
		se := &farm.ScheduleError{Name: in.Name, Err: err}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			se.Code = apiErr.ErrorCode()
		}
		return nil, se
	}
	if out.Run == nil {
		return nil, &farm.ScheduleError{Name: in.Name, Err: errors.New("empty response")}
	}
	return convertRun(out.Run), nil
}

// GetRun implements farm.Service.
func (s *Service) GetRun(ctx context.Context, ref string) (*farm.Run, error) {
	out, err := s.api.GetRun(ctx, &devicefarm.GetRunInput{Arn: aws.String(ref)})
	if err != nil {
		return nil, err
	}
	if out.Run == nil {
		return nil, fmt.Errorf("run %s: empty response", ref)
	}
	return convertRun(out.Run), nil
}

// StopRun implements farm.Service.
func (s *Service) StopRun(ctx context.Context, ref string) error {
	_, err := s.api.StopRun(ctx, &devicefarm.StopRunInput{Arn: aws.String(ref)})
	return err
}

// ListJobs implements farm.Service.
func (s *Service) ListJobs(ctx context.Context, runRef string) ([]farm.Job, error) {
	var jobs []farm.Job
	p := devicefarm.NewListJobsPaginator(s.api, &devicefarm.ListJobsInput{Arn: aws.String(runRef)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, j := range page.Jobs {
			device, err := deviceJSON(j.Device)
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", aws.ToString(j.Name), err)
			}
			jobs = append(jobs, farm.Job{
				Ref:    aws.ToString(j.Arn),
				Name:   aws.ToString(j.Name),
				Device: device,
			})
		}
	}
	return jobs, nil
}

// ListSuites implements farm.Service.
func (s *Service) ListSuites(ctx context.Context, jobRef string) ([]farm.Suite, error) {
	var suites []farm.Suite
	p := devicefarm.NewListSuitesPaginator(s.api, &devicefarm.ListSuitesInput{Arn: aws.String(jobRef)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, su := range page.Suites {
			suites = append(suites, farm.Suite{Ref: aws.ToString(su.Arn), Name: aws.ToString(su.Name)})
		}
	}
	return suites, nil
}

// ListTests implements farm.Service.
func (s *Service) ListTests(ctx context.Context, suiteRef string) ([]farm.Test, error) {
	var tests []farm.Test
	p := devicefarm.NewListTestsPaginator(s.api, &devicefarm.ListTestsInput{Arn: aws.String(suiteRef)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range page.Tests {
			tests = append(tests, farm.Test{Ref: aws.ToString(t.Arn), Name: aws.ToString(t.Name)})
		}
	}
	return tests, nil
}

// ListArtifacts implements farm.Service.
func (s *Service) ListArtifacts(ctx context.Context, testRef string, category farm.ArtifactCategory) ([]farm.Artifact, error) {
	var artifacts []farm.Artifact
	p := devicefarm.NewListArtifactsPaginator(s.api, &devicefarm.ListArtifactsInput{
		Arn:  aws.String(testRef),
		Type: types.ArtifactCategory(category),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range page.Artifacts {
			artifacts = append(artifacts, farm.Artifact{
				Name:      aws.ToString(a.Name),
				URL:       aws.ToString(a.Url),
				Extension: aws.ToString(a.Extension),
			})
		}
	}
	return artifacts, nil
}

func convertUpload(u *types.Upload) *farm.Upload {
	return &farm.Upload{
		Ref:     aws.ToString(u.Arn),
		Name:    aws.ToString(u.Name),
		URL:     aws.ToString(u.Url),
		Status:  UploadStatus(u.Status),
		Message: aws.ToString(u.Message),
	}
}

func convertRun(r *types.Run) *farm.Run {
	return &farm.Run{
		Ref:    aws.ToString(r.Arn),
		Name:   aws.ToString(r.Name),
		Status: RunStatus(r.Status, r.Result),
	}
}

// UploadStatus maps a Device Farm upload status.
func UploadStatus(s types.UploadStatus) farm.UploadStatus {
	switch s {
	case types.UploadStatusInitialized:
		return farm.UploadInitialized
	case types.UploadStatusSucceeded:
		return farm.UploadSucceeded
	case types.UploadStatusFailed:
		return farm.UploadFailed
	default:
		return farm.UploadProcessing
	}
}

// RunStatus maps a Device Farm execution status and result. A completed run
// whose result is ERRORED is errored; every other completed run is
// completed. Pending phases are submitted and everything else is running.
func RunStatus(s types.ExecutionStatus, r types.ExecutionResult) farm.RunStatus {
	switch s {
	case types.ExecutionStatusCompleted:
		if r == types.ExecutionResultErrored {
			return farm.RunErrored
		}
		return farm.RunCompleted
	case types.ExecutionStatusPending,
		types.ExecutionStatusPendingConcurrnecy,
		types.ExecutionStatusPendingDevice,
		types.ExecutionStatusProcessing,
		types.ExecutionStatusScheduling:
		return farm.RunSubmitted
	default:
		return farm.RunRunning
	}
}

// device is the descriptor written next to each job's results.
type device struct {
	Arn                 string `json:"arn,omitempty"`
	Name                string `json:"name,omitempty"`
	Manufacturer        string `json:"manufacturer,omitempty"`
	Model               string `json:"model,omitempty"`
	ModelID             string `json:"modelId,omitempty"`
	FormFactor          string `json:"formFactor,omitempty"`
	Platform            string `json:"platform,omitempty"`
	OS                  string `json:"os,omitempty"`
	CPU                 *cpu   `json:"cpu,omitempty"`
	Memory              int64  `json:"memory,omitempty"`
	HeapSize            int64  `json:"heapSize,omitempty"`
	Resolution          *res   `json:"resolution,omitempty"`
	FleetType           string `json:"fleetType,omitempty"`
	Availability        string `json:"availability,omitempty"`
	RemoteAccessEnabled bool   `json:"remoteAccessEnabled"`
}

type cpu struct {
	Architecture string  `json:"architecture,omitempty"`
	Clock        float64 `json:"clock,omitempty"`
	Frequency    string  `json:"frequency,omitempty"`
}

type res struct {
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

func deviceJSON(d *types.Device) (json.RawMessage, error) {
	if d == nil {
		return nil, nil
	}
	out := device{
		Arn:                 aws.ToString(d.Arn),
		Name:                aws.ToString(d.Name),
		Manufacturer:        aws.ToString(d.Manufacturer),
		Model:               aws.ToString(d.Model),
		ModelID:             aws.ToString(d.ModelId),
		FormFactor:          string(d.FormFactor),
		Platform:            string(d.Platform),
		OS:                  aws.ToString(d.Os),
		Memory:              aws.ToInt64(d.Memory),
		HeapSize:            aws.ToInt64(d.HeapSize),
		FleetType:           aws.ToString(d.FleetType),
		Availability:        string(d.Availability),
		RemoteAccessEnabled: aws.ToBool(d.RemoteAccessEnabled),
	}
	if d.Cpu != nil {
		out.CPU = &cpu{
			Architecture: aws.ToString(d.Cpu.Architecture),
			Clock:        aws.ToFloat64(d.Cpu.Clock),
			Frequency:    aws.ToString(d.Cpu.Frequency),
		}
	}
	if d.Resolution != nil {
		out.Resolution = &res{Width: aws.ToInt32(d.Resolution.Width), Height: aws.ToInt32(d.Resolution.Height)}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode device: %w", err)
	}
	return data, nil
}
