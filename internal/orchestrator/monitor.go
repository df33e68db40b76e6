package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ligustah/farmrun/internal/farm"
	"github.com/ligustah/farmrun/internal/poll"
)

// Monitor waits for runs to finish.
type Monitor struct {
	svc  farm.Service
	opts poll.Options
	log  *slog.Logger
}

// NewMonitor creates a Monitor polling with opts.
func NewMonitor(svc farm.Service, opts poll.Options, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{svc: svc, opts: opts, log: log}
}

// AwaitTerminal polls run until it is completed or errored and records every
// observed status in run.
func (m *Monitor) AwaitTerminal(ctx context.Context, run *farm.RunHandle) (farm.RunStatus, error) {
	polls := 0
	err := poll.Until(ctx, m.opts, func(ctx context.Context) (bool, error) {
		r, err := m.svc.GetRun(ctx, run.Ref)
		if err != nil {
			return false, fmt.Errorf("get run %s: %w", run.Ref, err)
		}
		polls++
		run.Status = r.Status

		if r.Status.Terminal() {
			return true, nil
		}
		m.log.Info("run status", "ref", run.Ref, "status", string(r.Status), "poll", polls)
		return false, nil
	})
	if err != nil {
		return run.Status, err
	}

	m.log.Info("run finished", "ref", run.Ref, "status", string(run.Status), "polls", polls)
	return run.Status, nil
}
