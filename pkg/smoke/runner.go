package smoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dev/bravebird/site-smoke/pkg/browser"
	"dev/bravebird/site-smoke/pkg/models"
)

const (
	DefaultURL             = "http://localhost:3000"
	DefaultLoaderXPath     = "//*[@role='progressbar']"
	DefaultProgressXPath   = "//*[contains(text(), '%')]"
	DefaultHeaderSelector  = "header"
	DefaultExpectedHeader  = "VIJAY CONSTRUCTIONS"
	DefaultNavLinkText     = "SERVICES"
	DefaultExpectedPath    = "/services"
	DefaultWaitTimeout     = 10 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultProgressTimeout = 60 * time.Second
	DefaultSettleDelay     = 3 * time.Second
)

var (
	// ErrLoaderMissing ends the run early when the loading indicator never shows up
	ErrLoaderMissing = errors.New("loader not found")
	// ErrProgressTimeout is returned when progress never completes within ProgressTimeout
	ErrProgressTimeout = errors.New("progress did not complete")
	// ErrHeaderMismatch is returned when the header lacks the expected brand text
	ErrHeaderMismatch = errors.New("header does not contain expected text")
)

// errProgressPending keeps the poll loop going
var errProgressPending = errors.New("progress pending")

// Options configures a smoke run
type Options struct {
	RunID string
	URL   string

	LoaderXPath    string
	ProgressXPath  string
	HeaderSelector string
	ExpectedHeader string
	NavLinkText    string
	ExpectedPath   string

	WaitTimeout     time.Duration
	PollInterval    time.Duration
	ProgressTimeout time.Duration
	SettleDelay     time.Duration

	// ScreenshotDir receives a screenshot of the page when a run fails; empty disables it
	ScreenshotDir string
}

// DefaultOptions returns the options for exercising the site at url
func DefaultOptions(url string) Options {
	if url == "" {
		url = DefaultURL
	}
	return Options{
		URL:             url,
		LoaderXPath:     DefaultLoaderXPath,
		ProgressXPath:   DefaultProgressXPath,
		HeaderSelector:  DefaultHeaderSelector,
		ExpectedHeader:  DefaultExpectedHeader,
		NavLinkText:     DefaultNavLinkText,
		ExpectedPath:    DefaultExpectedPath,
		WaitTimeout:     DefaultWaitTimeout,
		PollInterval:    DefaultPollInterval,
		ProgressTimeout: DefaultProgressTimeout,
		SettleDelay:     DefaultSettleDelay,
	}
}

// Driver is the browser surface the runner needs
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitPresent(ctx context.Context, xpath string, timeout time.Duration) error
	WaitHidden(ctx context.Context, xpath string, timeout time.Duration) error
	Text(ctx context.Context, xpath string) (string, error)
	WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error)
	ClickLink(ctx context.Context, text string, timeout time.Duration) error
	WaitURLContains(ctx context.Context, substr string, timeout time.Duration) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher acquires a browser session
type Launcher func(ctx context.Context) (Driver, error)

// RodLauncher returns a Launcher backed by a rod browser
func RodLauncher(opts browser.LaunchOptions) Launcher {
	return func(ctx context.Context) (Driver, error) {
		s, err := browser.Launch(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Observer receives run events as they happen
type Observer func(models.RunEvent)

// Runner performs one smoke run against a site
type Runner struct {
	opts      Options
	launch    Launcher
	observers []Observer
}

// NewRunner creates a runner. Zero-valued options fall back to the defaults,
// except SettleDelay where zero means no delay.
func NewRunner(opts Options, launch Launcher, observers ...Observer) *Runner {
	def := DefaultOptions(opts.URL)
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.LoaderXPath == "" {
		opts.LoaderXPath = def.LoaderXPath
	}
	if opts.ProgressXPath == "" {
		opts.ProgressXPath = def.ProgressXPath
	}
	if opts.HeaderSelector == "" {
		opts.HeaderSelector = def.HeaderSelector
	}
	if opts.ExpectedHeader == "" {
		opts.ExpectedHeader = def.ExpectedHeader
	}
	if opts.NavLinkText == "" {
		opts.NavLinkText = def.NavLinkText
	}
	if opts.ExpectedPath == "" {
		opts.ExpectedPath = def.ExpectedPath
	}
	if opts.URL == "" {
		opts.URL = def.URL
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = def.WaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ProgressTimeout <= 0 {
		opts.ProgressTimeout = def.ProgressTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}

	return &Runner{
		opts:      opts,
		launch:    launch,
		observers: observers,
	}
}

// Options returns the effective options
func (r *Runner) Options() Options {
	return r.opts
}

// run holds the state of a single Run call
type run struct {
	*Runner
	result *models.RunResult
	drv    Driver
}

// Run executes the smoke run. Failures are reported through events and the
// returned result; the browser session is always released before Run returns.
func (r *Runner) Run(ctx context.Context) *models.RunResult {
	started := time.Now()
	result := &models.RunResult{
		RunID:        r.opts.RunID,
		URL:          r.opts.URL,
		Status:       models.StatusRunning,
		LastProgress: -1,
		StartedAt:    &started,
	}
	rn := &run{Runner: r, result: result}

	logger := log.With().Str("runID", r.opts.RunID).Str("url", r.opts.URL).Logger()
	logger.Info().Msg("Starting smoke run")

	rn.emit(models.RunEvent{Type: models.EventRunStarted, URL: r.opts.URL})

	err := rn.step(models.StepAcquire, func() (string, error) {
		drv, err := r.launch(ctx)
		if err != nil {
			return "", err
		}
		rn.drv = drv
		return "", nil
	})
	if err != nil {
		rn.finish(models.OutcomeFailed, err)
		rn.complete(started)
		logger.Error().Err(err).Msg("Failed to acquire browser")
		return result
	}

	runErr := rn.steps(ctx)
	switch {
	case runErr == nil:
		rn.finish(models.OutcomePassed, nil)
	case errors.Is(runErr, ErrLoaderMissing):
		rn.finish(models.OutcomeLoaderMissing, runErr)
	default:
		rn.captureScreenshot(ctx)
		rn.finish(models.OutcomeFailed, runErr)
	}

	rn.release(ctx)
	rn.complete(started)

	logger.Info().
		Str("outcome", string(result.Outcome)).
		Int64("durationMs", result.TotalDuration).
		Msg("Smoke run finished")

	return result
}

func (rn *run) steps(ctx context.Context) error {
	o := rn.opts

	if err := rn.step(models.StepNavigate, func() (string, error) {
		return "", rn.drv.Navigate(ctx, o.URL)
	}); err != nil {
		return err
	}

	if err := rn.step(models.StepWaitLoader, func() (string, error) {
		if err := rn.drv.WaitPresent(ctx, o.LoaderXPath, o.WaitTimeout); err != nil {
			if errors.Is(err, browser.ErrTimeout) {
				return "", fmt.Errorf("%w: %v", ErrLoaderMissing, err)
			}
			return "", err
		}
		return "", nil
	}); err != nil {
		return err
	}

	if err := rn.step(models.StepPollProgress, func() (string, error) {
		return rn.pollProgress(ctx)
	}); err != nil {
		return err
	}

	if err := rn.step(models.StepWaitLoaderGone, func() (string, error) {
		return "", rn.drv.WaitHidden(ctx, o.LoaderXPath, o.WaitTimeout)
	}); err != nil {
		return err
	}

	if err := rn.step(models.StepVerifyHeader, func() (string, error) {
		text, err := rn.drv.WaitText(ctx, o.HeaderSelector, o.WaitTimeout)
		if err != nil {
			return "", err
		}
		if !strings.Contains(text, o.ExpectedHeader) {
			return o.ExpectedHeader, fmt.Errorf("%w: want %q, got %q", ErrHeaderMismatch, o.ExpectedHeader, strings.TrimSpace(text))
		}
		return o.ExpectedHeader, nil
	}); err != nil {
		return err
	}

	return rn.step(models.StepNavigateLink, func() (string, error) {
		if err := rn.drv.ClickLink(ctx, o.NavLinkText, o.WaitTimeout); err != nil {
			return "", err
		}
		url, err := rn.drv.WaitURLContains(ctx, o.ExpectedPath, o.WaitTimeout)
		if err != nil {
			return "", err
		}
		rn.result.FinalURL = url
		return url, nil
	})
}

// pollProgress reads the percentage text until it reaches 100, the element goes
// away, or ProgressTimeout expires
func (rn *run) pollProgress(ctx context.Context) (string, error) {
	o := rn.opts
	pctx, cancel := context.WithTimeout(ctx, o.ProgressTimeout)
	defer cancel()

	tracker := NewProgressTracker()
	reason := "indicator removed"

	err := retry.Do(
		func() error {
			text, err := rn.drv.Text(pctx, o.ProgressXPath)
			if errors.Is(err, browser.ErrElementNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			v, ok := ParseProgress(text)
			if !ok {
				log.Debug().Str("runID", o.RunID).Str("text", text).Msg("Progress text is not a percentage, stopping poll")
				reason = "unreadable progress text"
				return nil
			}

			if tracker.Observe(v) {
				rn.result.LastProgress = v
				rn.emit(models.RunEvent{Type: models.EventProgress, Step: models.StepPollProgress, Progress: v})
			}

			if v >= 100 {
				reason = "complete"
				return nil
			}
			return errProgressPending
		},
		retry.Context(pctx),
		retry.Attempts(0),
		retry.Delay(o.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errProgressPending)
		}),
	)
	if err != nil {
		if pctx.Err() != nil && ctx.Err() == nil {
			return "", fmt.Errorf("%w within %s (last value %d%%)", ErrProgressTimeout, o.ProgressTimeout, tracker.Last())
		}
		return "", err
	}
	return reason, nil
}

// step runs fn as the named step, recording its result and emitting events
func (rn *run) step(name models.StepName, fn func() (string, error)) error {
	rn.emit(models.RunEvent{Type: models.EventStepStarted, Step: name})
	start := time.Now()

	detail, err := fn()

	sr := models.StepResult{
		Sequence: len(rn.result.Steps) + 1,
		Step:     name,
		Message:  detail,
		Duration: time.Since(start).Milliseconds(),
	}
	if err != nil {
		sr.Status = models.StatusFailed
		sr.ErrorMessage = err.Error()
		rn.result.Steps = append(rn.result.Steps, sr)
		rn.emit(models.RunEvent{Type: models.EventStepFailed, Step: name, Detail: detail, Error: err.Error()})
		return err
	}

	sr.Status = models.StatusSuccess
	rn.result.Steps = append(rn.result.Steps, sr)
	ev := models.RunEvent{Type: models.EventStepPassed, Step: name, Detail: detail}
	if name == models.StepPollProgress {
		ev.Progress = rn.result.LastProgress
	}
	if name == models.StepNavigateLink {
		ev.URL = rn.result.FinalURL
	}
	rn.emit(ev)
	return nil
}

// finish records the outcome and emits the summary event
func (rn *run) finish(outcome models.Outcome, err error) {
	rn.result.Outcome = outcome
	if outcome == models.OutcomePassed {
		rn.result.Status = models.StatusSuccess
	} else {
		rn.result.Status = models.StatusFailed
	}
	ev := models.RunEvent{Type: models.EventRunFinished, Outcome: outcome, URL: rn.result.FinalURL}
	if err != nil {
		rn.result.ErrorMessage = err.Error()
		ev.Error = err.Error()
	}
	rn.emit(ev)
}

// release waits for the settle delay and closes the browser
func (rn *run) release(ctx context.Context) {
	if rn.opts.SettleDelay > 0 {
		t := time.NewTimer(rn.opts.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	start := time.Now()
	sr := models.StepResult{
		Sequence: len(rn.result.Steps) + 1,
		Step:     models.StepRelease,
		Status:   models.StatusSuccess,
	}
	if err := rn.drv.Close(); err != nil {
		sr.ErrorMessage = err.Error()
		log.Warn().Err(err).Str("runID", rn.opts.RunID).Msg("Failed to close browser")
	}
	sr.Duration = time.Since(start).Milliseconds()
	rn.result.Steps = append(rn.result.Steps, sr)
}

func (rn *run) captureScreenshot(ctx context.Context) {
	if rn.opts.ScreenshotDir == "" {
		return
	}
	if err := os.MkdirAll(rn.opts.ScreenshotDir, 0755); err != nil {
		log.Warn().Err(err).Str("dir", rn.opts.ScreenshotDir).Msg("Failed to create screenshot dir")
		return
	}
	data, err := rn.drv.Screenshot(ctx)
	if err != nil {
		log.Warn().Err(err).Str("runID", rn.opts.RunID).Msg("Failed to take failure screenshot")
		return
	}
	path := filepath.Join(rn.opts.ScreenshotDir, rn.opts.RunID+"_failure.png")
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to save failure screenshot")
		return
	}
	rn.result.ScreenshotPath = path
}

func (rn *run) complete(started time.Time) {
	done := time.Now()
	rn.result.CompletedAt = &done
	rn.result.TotalDuration = done.Sub(started).Milliseconds()
}

func (rn *run) emit(ev models.RunEvent) {
	ev.RunID = rn.opts.RunID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, o := range rn.observers {
		o(ev)
	}
}
