package activities

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"

	"dev/bravebird/site-smoke/pkg/browser"
	"dev/bravebird/site-smoke/pkg/metrics"
	"dev/bravebird/site-smoke/pkg/models"
	"dev/bravebird/site-smoke/pkg/smoke"
	"dev/bravebird/site-smoke/pkg/temporal/workflows"
)

// DefaultHeartbeatInterval keeps well inside the workflow's heartbeat timeout
const DefaultHeartbeatInterval = 10 * time.Second

// RunStore is the persistence the activities need
type RunStore interface {
	UpdateRunProgress(ctx context.Context, id string, progress int) error
	SaveRunResult(ctx context.Context, result *models.RunResult) error
}

// Signaler delivers progress to the workflow that started the activity.
// client.Client satisfies it.
type Signaler interface {
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
}

// Activities holds activity implementations
type Activities struct {
	Options       smoke.Options
	LaunchOptions browser.LaunchOptions
	Store         RunStore
	Signaler      Signaler
	Metrics       *metrics.Metrics

	// HeartbeatInterval is how often a running smoke test heartbeats
	// while no run events arrive
	HeartbeatInterval time.Duration

	// launch and heartbeat are replaced in tests
	launch    func(browser.LaunchOptions) smoke.Launcher
	heartbeat func(ctx context.Context, details ...interface{})
}

// NewActivities creates new activities. store, signaler and m may be nil.
func NewActivities(opts smoke.Options, launchOpts browser.LaunchOptions, store RunStore, signaler Signaler, m *metrics.Metrics) *Activities {
	return &Activities{
		Options:           opts,
		LaunchOptions:     launchOpts,
		Store:             store,
		Signaler:          signaler,
		Metrics:           m,
		HeartbeatInterval: DefaultHeartbeatInterval,
		launch:            smoke.RodLauncher,
		heartbeat:         activity.RecordHeartbeat,
	}
}

// RunSmokeTestActivity performs one smoke run with the worker's configuration,
// overridden by the input's URL and headless flag
func (a *Activities) RunSmokeTestActivity(ctx context.Context, input models.SmokeInput) (models.RunResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Running smoke test", "runID", input.RunID, "url", input.URL)

	opts := a.Options
	opts.RunID = input.RunID
	if input.URL != "" {
		opts.URL = input.URL
	}

	launchOpts := a.LaunchOptions
	if input.Headless != nil {
		launchOpts.Headless = *input.Headless
	}

	launch := a.launch
	if launch == nil {
		launch = smoke.RodLauncher
	}

	progress := &runProgress{update: models.RunUpdate{
		RunID:        input.RunID,
		Status:       models.StatusRunning,
		LastProgress: -1,
	}}

	stopHeartbeat := a.keepAlive(ctx, progress)
	defer stopHeartbeat()

	observers := []smoke.Observer{
		func(ev models.RunEvent) {
			if ev.Type == models.EventProgress {
				progress.set(ev.Progress)
			}
			a.recordHeartbeat(ctx, progress.get())
		},
		a.Metrics.Observe,
	}
	if a.Signaler != nil {
		info := activity.GetInfo(ctx)
		observers = append(observers, func(ev models.RunEvent) {
			if ev.Type != models.EventProgress {
				return
			}
			err := a.Signaler.SignalWorkflow(ctx, info.WorkflowExecution.ID, info.WorkflowExecution.RunID,
				workflows.ProgressSignal, progress.get())
			if err != nil {
				logger.Warn("Failed to signal progress", "runID", ev.RunID, "error", err)
			}
		})
	}
	if a.Store != nil {
		observers = append(observers, func(ev models.RunEvent) {
			if ev.Type != models.EventProgress {
				return
			}
			if err := a.Store.UpdateRunProgress(ctx, ev.RunID, ev.Progress); err != nil {
				logger.Warn("Failed to store progress", "runID", ev.RunID, "error", err)
			}
		})
	}

	runner := smoke.NewRunner(opts, launch(launchOpts), observers...)
	result := runner.Run(ctx)
	a.Metrics.ObserveResult(result)

	if ctx.Err() != nil {
		return *result, fmt.Errorf("smoke run interrupted: %w", ctx.Err())
	}

	logger.Info("Smoke test finished", "runID", input.RunID, "outcome", result.Outcome)
	return *result, nil
}

// RecordRunActivity persists a finished run
func (a *Activities) RecordRunActivity(ctx context.Context, result models.RunResult) error {
	if a.Store == nil {
		return nil
	}

	logger := activity.GetLogger(ctx)
	logger.Info("Recording run result", "runID", result.RunID, "status", result.Status)

	if err := a.Store.SaveRunResult(ctx, &result); err != nil {
		return fmt.Errorf("failed to record run %s: %w", result.RunID, err)
	}
	return nil
}

// keepAlive heartbeats on a ticker until the returned stop func is called.
// Long waits inside a step emit no run events.
func (a *Activities) keepAlive(ctx context.Context, progress *runProgress) func() {
	interval := a.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.recordHeartbeat(ctx, progress.get())
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (a *Activities) recordHeartbeat(ctx context.Context, details models.RunUpdate) {
	heartbeat := a.heartbeat
	if heartbeat == nil {
		heartbeat = activity.RecordHeartbeat
	}
	heartbeat(ctx, details)
}

// runProgress is the latest progress of a run, shared with the heartbeat ticker
type runProgress struct {
	mu     sync.Mutex
	update models.RunUpdate
}

func (p *runProgress) set(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update.LastProgress = v
}

func (p *runProgress) get() models.RunUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.update
}
