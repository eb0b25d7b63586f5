package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/site-smoke/pkg/models"
)

const (
	// ProgressQuery returns the run result as known to the workflow
	ProgressQuery = "getProgress"
	// ProgressSignal carries a models.RunUpdate from the running activity
	ProgressSignal = "progress"

	RunSmokeTestActivityName = "RunSmokeTestActivity"
	RecordRunActivityName    = "RecordRunActivity"

	defaultTimeoutSeconds = 300
)

// SmokeTestWorkflow runs one smoke test in a worker and stores the result.
// A failed run is a successful workflow; only the result carries the failure.
// A canceled run is recorded and then returns the cancellation.
func SmokeTestWorkflow(ctx workflow.Context, input models.SmokeInput) (models.RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting smoke test workflow", "runID", input.RunID, "url", input.URL)

	result := models.RunResult{
		RunID:        input.RunID,
		URL:          input.URL,
		Status:       models.StatusRunning,
		LastProgress: -1,
	}

	// Register query handler for real-time progress
	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.RunResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	// Progress arrives while the run activity is still executing
	progressCh := workflow.GetSignalChannel(ctx, ProgressSignal)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var update models.RunUpdate
			if more := progressCh.Receive(gctx, &update); !more {
				return
			}
			if result.Status == models.StatusRunning && update.LastProgress > result.LastProgress {
				result.LastProgress = update.LastProgress
			}
		}
	})

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	// The run drives a real browser; it is never retried
	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(timeout) * time.Second,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var runResult models.RunResult
	runErr := workflow.ExecuteActivity(runCtx, RunSmokeTestActivityName, input).Get(ctx, &runResult)
	canceled := runErr != nil && temporal.IsCanceledError(runErr)
	switch {
	case canceled:
		logger.Info("Smoke run canceled", "runID", input.RunID)
		now := workflow.Now(ctx)
		result.Status = models.StatusCanceled
		result.ErrorMessage = "smoke run canceled"
		result.CompletedAt = &now
	case runErr != nil:
		logger.Error("Smoke run activity failed", "runID", input.RunID, "error", runErr)
		now := workflow.Now(ctx)
		result.Status = models.StatusFailed
		result.Outcome = models.OutcomeFailed
		result.ErrorMessage = "smoke run did not complete: " + runErr.Error()
		result.CompletedAt = &now
	default:
		result = runResult
	}

	// A canceled workflow context cannot schedule activities
	recordBase := ctx
	if canceled {
		recordBase, _ = workflow.NewDisconnectedContext(ctx)
	}
	recordCtx := workflow.WithActivityOptions(recordBase, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(recordCtx, RecordRunActivityName, result).Get(ctx, nil); err != nil {
		logger.Warn("Failed to record run result", "runID", input.RunID, "error", err)
	}

	logger.Info("Workflow completed", "status", result.Status, "outcome", result.Outcome, "duration", result.TotalDuration)
	if canceled {
		return result, runErr
	}
	return result, nil
}
