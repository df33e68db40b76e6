// Package farmtest provides a scripted, in-memory farm.Service for tests.
package farmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ligustah/farmrun/internal/farm"
)

// ErrNotFound is returned for unknown references.
var ErrNotFound = errors.New("farmtest: not found")

// Service is a farm.Service whose responses are scripted by the test.
//
// Status scripts are consumed one entry per call; once a script is exhausted
// its last entry keeps being returned.
type Service struct {
	// Pools maps device pool references to their definitions.
	Pools map[string]*farm.DevicePool

	// UploadURL is the base of the write locations handed out by CreateUpload.
	UploadURL string

	// UploadStatuses scripts the statuses reported for uploads of each kind.
	// The first entry is returned by CreateUpload, the rest by GetUpload.
	// Kinds without a script report initialized, then succeeded.
	UploadStatuses map[farm.ArtifactKind][]farm.UploadStatus

	// UploadMessage is reported alongside a failed upload status.
	UploadMessage string

	// RunStatuses scripts the statuses returned by GetRun.
	RunStatuses []farm.RunStatus

	// ScheduleErr, if set, is returned by ScheduleRun.
	ScheduleErr error

	// StopErr, if set, is returned by StopRun.
	StopErr error

	// OnGetRun is called with the 1-based call count before GetRun answers.
	OnGetRun func(call int)

	// GetRunErr, if set, is returned by GetRun.
	GetRunErr error

	// Results is the result tree served by the List methods.
	Results []farm.JobResult

	mu         sync.Mutex
	uploads    map[string]*uploadState
	created    []farm.CreateUploadInput
	scheduled  []farm.ScheduleRunInput
	stopped    []string
	getRuns    int
	getUploads int
}

type uploadState struct {
	upload farm.Upload
	script []farm.UploadStatus
	next   int
}

// GetDevicePool implements farm.Service.
func (s *Service) GetDevicePool(ctx context.Context, ref string) (*farm.DevicePool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.Pools[ref]
	if !ok {
		return nil, fmt.Errorf("device pool %s: %w", ref, ErrNotFound)
	}
	cp := *pool
	return &cp, nil
}

// CreateUpload implements farm.Service.
func (s *Service) CreateUpload(ctx context.Context, in farm.CreateUploadInput) (*farm.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploads == nil {
		s.uploads = make(map[string]*uploadState)
	}
	s.created = append(s.created, in)

	n := len(s.created)
	script := s.UploadStatuses[in.Kind]
	if len(script) == 0 {
		script = []farm.UploadStatus{farm.UploadInitialized, farm.UploadSucceeded}
	}

	st := &uploadState{
		upload: farm.Upload{
			Ref:  fmt.Sprintf("arn:upload:%d", n),
			Name: in.Name,
			URL:  fmt.Sprintf("%s/uploads/%d", s.UploadURL, n),
		},
		script: script,
	}
	s.advance(st)
	s.uploads[st.upload.Ref] = st

	up := st.upload
	return &up, nil
}

// GetUpload implements farm.Service.
func (s *Service) GetUpload(ctx context.Context, ref string) (*farm.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getUploads++
	st, ok := s.uploads[ref]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", ref, ErrNotFound)
	}
	s.advance(st)

	up := st.upload
	up.URL = ""
	return &up, nil
}

func (s *Service) advance(st *uploadState) {
	i := st.next
	if i >= len(st.script) {
		i = len(st.script) - 1
	} else {
		st.next++
	}
	st.upload.Status = st.script[i]
	if st.upload.Status == farm.UploadFailed {
		st.upload.Message = s.UploadMessage
	}
}

// ScheduleRun implements farm.Service.
func (s *Service) ScheduleRun(ctx context.Context, in farm.ScheduleRunInput) (*farm.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ScheduleErr != nil {
		return nil, s.ScheduleErr
	}
	s.scheduled = append(s.scheduled, in)
	return &farm.Run{
		Ref:    fmt.Sprintf("arn:run:%d", len(s.scheduled)),
		Name:   in.Name,
		Status: farm.RunSubmitted,
	}, nil
}

// GetRun implements farm.Service.
func (s *Service) GetRun(ctx context.Context, ref string) (*farm.Run, error) {
	s.mu.Lock()
	s.getRuns++
	call := s.getRuns
	hook := s.OnGetRun
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetRunErr != nil {
		return nil, s.GetRunErr
	}
	if len(s.RunStatuses) == 0 {
		return &farm.Run{Ref: ref, Status: farm.RunRunning}, nil
	}
	i := call - 1
	if i >= len(s.RunStatuses) {
		i = len(s.RunStatuses) - 1
	}
	return &farm.Run{Ref: ref, Status: s.RunStatuses[i]}, nil
}

// StopRun implements farm.Service.
func (s *Service) StopRun(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, ref)
	return s.StopErr
}

// ListJobs implements farm.Service.
func (s *Service) ListJobs(ctx context.Context, runRef string) ([]farm.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]farm.Job, 0, len(s.Results))
	for _, j := range s.Results {
		jobs = append(jobs, j.Job)
	}
	return jobs, nil
}

// ListSuites implements farm.Service.
func (s *Service) ListSuites(ctx context.Context, jobRef string) ([]farm.Suite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.Results {
		if j.Ref != jobRef {
			continue
		}
		suites := make([]farm.Suite, 0, len(j.Suites))
		for _, su := range j.Suites {
			suites = append(suites, su.Suite)
		}
		return suites, nil
	}
	return nil, fmt.Errorf("job %s: %w", jobRef, ErrNotFound)
}

// ListTests implements farm.Service.
func (s *Service) ListTests(ctx context.Context, suiteRef string) ([]farm.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.Results {
		for _, su := range j.Suites {
			if su.Ref != suiteRef {
				continue
			}
			tests := make([]farm.Test, 0, len(su.Tests))
			for _, tr := range su.Tests {
				tests = append(tests, tr.Test)
			}
			return tests, nil
		}
	}
	return nil, fmt.Errorf("suite %s: %w", suiteRef, ErrNotFound)
}

// ListArtifacts implements farm.Service. Only log artifacts are scripted, so
// other categories return an empty list.
func (s *Service) ListArtifacts(ctx context.Context, testRef string, category farm.ArtifactCategory) ([]farm.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.Results {
		for _, su := range j.Suites {
			for _, tr := range su.Tests {
				if tr.Ref != testRef {
					continue
				}
				if category != farm.CategoryLog {
					return nil, nil
				}
				return append([]farm.Artifact(nil), tr.Artifacts...), nil
			}
		}
	}
	return nil, fmt.Errorf("test %s: %w", testRef, ErrNotFound)
}

// CreatedUploads returns the upload registrations seen so far.
func (s *Service) CreatedUploads() []farm.CreateUploadInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]farm.CreateUploadInput(nil), s.created...)
}

// ScheduledRuns returns the run requests seen so far.
func (s *Service) ScheduledRuns() []farm.ScheduleRunInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]farm.ScheduleRunInput(nil), s.scheduled...)
}

// StoppedRuns returns the references passed to StopRun.
func (s *Service) StoppedRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stopped...)
}

// GetRunCalls returns how many times GetRun was called.
func (s *Service) GetRunCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRuns
}

// GetUploadCalls returns how many times GetUpload was called.
func (s *Service) GetUploadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUploads
}

// StaticPool returns a device pool with a single "ARN IN [...]" rule.
func StaticPool(ref string, devices ...string) *farm.DevicePool {
	value, _ := json.Marshal(devices)
	return &farm.DevicePool{
		Ref:   ref,
		Name:  "static",
		Rules: []farm.Rule{{Attribute: farm.AttributeARN, Operator: farm.OperatorIn, Value: string(value)}},
	}
}

// Tree builds a result tree with the given fan-out. Artifact URLs are rooted
// at baseURL and their extensions cycle through "logcat", "txt", "log".
func Tree(baseURL string, jobs, suitesPerJob, testsPerSuite, artifactsPerTest int) []farm.JobResult {
	exts := []string{"logcat", "txt", "log"}

	results := make([]farm.JobResult, 0, jobs)
	for j := 0; j < jobs; j++ {
		jr := farm.JobResult{Job: farm.Job{
			Ref:    fmt.Sprintf("arn:job:%d", j),
			Name:   fmt.Sprintf("Pixel %d (API 3%d)", j+6, j),
			Device: json.RawMessage(fmt.Sprintf(`{"model":"Pixel %d","os":"1%d"}`, j+6, j)),
		}}
		for su := 0; su < suitesPerJob; su++ {
			sr := farm.SuiteResult{Suite: farm.Suite{
				Ref:  fmt.Sprintf("arn:suite:%d:%d", j, su),
				Name: fmt.Sprintf("Suite %d", su),
			}}
			for te := 0; te < testsPerSuite; te++ {
				tr := farm.TestResult{Test: farm.Test{
					Ref:  fmt.Sprintf("arn:test:%d:%d:%d", j, su, te),
					Name: fmt.Sprintf("Bench Test %d.%d", su, te),
				}}
				for a := 0; a < artifactsPerTest; a++ {
					tr.Artifacts = append(tr.Artifacts, farm.Artifact{
						Name:      fmt.Sprintf("Log %d", a),
						URL:       fmt.Sprintf("%s/artifacts/%d/%d/%d/%d", baseURL, j, su, te, a),
						Extension: exts[a%len(exts)],
					})
				}
				sr.Tests = append(sr.Tests, tr)
			}
			jr.Suites = append(jr.Suites, sr)
		}
		results = append(results, jr)
	}
	return results
}
