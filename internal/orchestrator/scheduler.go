package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ligustah/farmrun/internal/farm"
)

// Scheduler creates remote runs.
type Scheduler struct {
	svc     farm.Service
	project string
	log     *slog.Logger
}

// NewScheduler creates a Scheduler for runs in project.
func NewScheduler(svc farm.Service, project string, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{svc: svc, project: project, log: log}
}

// Schedule requests an instrumentation run of tests against app on the
// devices of poolRef. Both uploads must have succeeded. Failures are not
// retried.
func (s *Scheduler) Schedule(ctx context.Context, name, poolRef string, app, tests farm.UploadHandle) (farm.RunHandle, error) {
	for _, h := range []farm.UploadHandle{app, tests} {
		if h.Status != farm.UploadSucceeded {
			return farm.RunHandle{}, &farm.ScheduleError{
				Name: name,
				Err:  fmt.Errorf("upload %s is %s, not %s", h.Name, h.Status, farm.UploadSucceeded),
			}
		}
	}

	run, err := s.svc.ScheduleRun(ctx, farm.ScheduleRunInput{
		Project: s.project,
		AppRef:  app.Ref,
		PoolRef: poolRef,
		Name:    name,
		Test: farm.TestConfig{
			Type:       farm.TestTypeInstrumentation,
			PackageRef: tests.Ref,
		},
	})
	if err != nil {
		var se *farm.ScheduleError
		if errors.As(err, &se) {
			return farm.RunHandle{}, err
		}
		return farm.RunHandle{}, &farm.ScheduleError{Name: name, Err: err}
	}

	handle := farm.RunHandle{Ref: run.Ref, Name: run.Name, Status: run.Status}
	if handle.Name == "" {
		handle.Name = name
	}
	if handle.Status == "" {
		handle.Status = farm.RunSubmitted
	}
	s.log.Info("run scheduled", "ref", handle.Ref, "name", handle.Name)
	return handle, nil
}
