package smoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/site-smoke/pkg/browser"
	"dev/bravebird/site-smoke/pkg/models"
)

// fakeDriver plays back a scripted page
type fakeDriver struct {
	mu sync.Mutex

	navigateErr   error
	loaderPresent bool
	progress      []string // successive progress texts; exhausted means the node is gone
	repeatLast    bool     // keep returning the last text instead of disappearing
	hiddenErr     error
	header        string
	headerErr     error
	linkErr       error
	finalURL      string
	urlErr        error

	calls      []string
	polls      int
	closeCalls int
}

func (f *fakeDriver) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.record("navigate " + url)
	return f.navigateErr
}

func (f *fakeDriver) WaitPresent(ctx context.Context, xpath string, timeout time.Duration) error {
	f.record("wait_present " + xpath)
	if !f.loaderPresent {
		return fmt.Errorf("%w: element %s to be present", browser.ErrTimeout, xpath)
	}
	return nil
}

func (f *fakeDriver) WaitHidden(ctx context.Context, xpath string, timeout time.Duration) error {
	f.record("wait_hidden " + xpath)
	return f.hiddenErr
}

func (f *fakeDriver) Text(ctx context.Context, xpath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.progress) == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, xpath)
	}
	text := f.progress[0]
	if len(f.progress) > 1 || !f.repeatLast {
		f.progress = f.progress[1:]
	}
	return text, nil
}

func (f *fakeDriver) WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	f.record("wait_text " + selector)
	return f.header, f.headerErr
}

func (f *fakeDriver) ClickLink(ctx context.Context, text string, timeout time.Duration) error {
	f.record("click " + text)
	return f.linkErr
}

func (f *fakeDriver) WaitURLContains(ctx context.Context, substr string, timeout time.Duration) (string, error) {
	f.record("wait_url " + substr)
	return f.finalURL, f.urlErr
}

func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	f.record("screenshot")
	return []byte("png"), nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeDriver) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// healthySite is scenario A: 0% -> 45% -> 100%, then the home page renders
func healthySite() *fakeDriver {
	return &fakeDriver{
		loaderPresent: true,
		progress:      []string{"0%", "0%", "45%", "45%", "100%"},
		header:        "VIJAY CONSTRUCTIONS LTD\nHome About Us SERVICES",
		finalURL:      "http://localhost:3000/services",
	}
}

func testOptions() Options {
	opts := DefaultOptions("http://localhost:3000")
	opts.RunID = "run-1"
	opts.PollInterval = time.Millisecond
	opts.SettleDelay = 0
	return opts
}

func runWith(t *testing.T, opts Options, drv *fakeDriver) (*models.RunResult, string) {
	t.Helper()
	var out bytes.Buffer
	printer := NewConsolePrinter(&out)
	r := NewRunner(opts, func(ctx context.Context) (Driver, error) {
		return drv, nil
	}, printer.Observe)
	return r.Run(context.Background()), out.String()
}

func TestRun_HealthySite(t *testing.T) {
	drv := healthySite()
	result, out := runWith(t, testOptions(), drv)

	want := strings.Join([]string{
		"Opening http://localhost:3000...",
		"✓ Loader found.",
		"Monitoring loading progress...",
		"  Progress: 0%",
		"  Progress: 45%",
		"  Progress: 100%",
		"✓ Progress hit 100%.",
		"Waiting for homepage transition...",
		"✓ Homepage loaded: 'VIJAY CONSTRUCTIONS' header visible.",
		"Testing Services navigation...",
		"✓ Navigation successful. Current URL: http://localhost:3000/services",
		"",
		"--- ALL TESTS PASSED ---",
		"The building logo and loading sequence are functional.",
		"",
	}, "\n")
	assert.Equal(t, want, out)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, models.OutcomePassed, result.Outcome)
	assert.Equal(t, 100, result.LastProgress)
	assert.Equal(t, "http://localhost:3000/services", result.FinalURL)
	assert.Empty(t, result.ErrorMessage)
	assert.Equal(t, 1, drv.closeCalls)
	require.NotNil(t, result.CompletedAt)

	release, ok := result.Step(models.StepRelease)
	require.True(t, ok)
	assert.Equal(t, models.StatusSuccess, release.Status)
	assert.Len(t, result.Steps, 8)
}

func TestRun_LoaderMissing(t *testing.T) {
	drv := healthySite()
	drv.loaderPresent = false

	result, out := runWith(t, testOptions(), drv)

	assert.Equal(t, "Opening http://localhost:3000...\n✗ Loader not found or already disappeared.\n", out)
	assert.Equal(t, models.OutcomeLoaderMissing, result.Outcome)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Zero(t, drv.polls, "progress must not be polled")
	assert.False(t, drv.called("wait_hidden"))
	assert.False(t, drv.called("click"))
	assert.False(t, drv.called("screenshot"))
	assert.Equal(t, 1, drv.closeCalls)
	assert.Equal(t, -1, result.LastProgress)
}

func TestRun_CaughtFailures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*fakeDriver)
		failStep models.StepName
		wantErr  error
		wantLine string
	}{
		{
			name:     "navigation error",
			mutate:   func(f *fakeDriver) { f.navigateErr = errors.New("net::ERR_CONNECTION_REFUSED") },
			failStep: models.StepNavigate,
			wantLine: "✗ Test failed: net::ERR_CONNECTION_REFUSED",
		},
		{
			name:     "loader never hides",
			mutate:   func(f *fakeDriver) { f.hiddenErr = fmt.Errorf("%w: loader", browser.ErrTimeout) },
			failStep: models.StepWaitLoaderGone,
			wantErr:  browser.ErrTimeout,
			wantLine: "✗ Test failed: timed out waiting for condition: loader",
		},
		{
			name:     "header mismatch",
			mutate:   func(f *fakeDriver) { f.header = "ACME BUILDERS" },
			failStep: models.StepVerifyHeader,
			wantErr:  ErrHeaderMismatch,
			wantLine: "✗ Homepage header does not contain 'VIJAY CONSTRUCTIONS'.",
		},
		{
			name:     "header missing",
			mutate:   func(f *fakeDriver) { f.headerErr = fmt.Errorf("%w: header", browser.ErrTimeout) },
			failStep: models.StepVerifyHeader,
			wantErr:  browser.ErrTimeout,
			wantLine: "✗ Test failed:",
		},
		{
			name:     "link missing",
			mutate:   func(f *fakeDriver) { f.linkErr = fmt.Errorf("%w: link", browser.ErrTimeout) },
			failStep: models.StepNavigateLink,
			wantErr:  browser.ErrTimeout,
			wantLine: "✗ Test failed:",
		},
		{
			name:     "route never changes",
			mutate:   func(f *fakeDriver) { f.urlErr = fmt.Errorf("%w: url", browser.ErrTimeout) },
			failStep: models.StepNavigateLink,
			wantErr:  browser.ErrTimeout,
			wantLine: "✗ Test failed:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := healthySite()
			tt.mutate(drv)

			result, out := runWith(t, testOptions(), drv)

			assert.Equal(t, models.OutcomeFailed, result.Outcome)
			assert.Equal(t, models.StatusFailed, result.Status)
			assert.Contains(t, out, tt.wantLine)
			assert.NotContains(t, out, "ALL TESTS PASSED")
			assert.Equal(t, 1, drv.closeCalls)

			step, ok := result.Step(tt.failStep)
			require.True(t, ok)
			assert.Equal(t, models.StatusFailed, step.Status)
			assert.NotEmpty(t, result.ErrorMessage)
			if tt.wantErr != nil {
				assert.Contains(t, result.ErrorMessage, tt.wantErr.Error())
			}
		})
	}
}

func TestRun_ProgressDisappears(t *testing.T) {
	drv := healthySite()
	drv.progress = []string{"10%", "60%"}

	result, out := runWith(t, testOptions(), drv)

	assert.Contains(t, out, "  Progress: 10%\n  Progress: 60%\n")
	assert.NotContains(t, out, "Progress hit 100%")
	assert.Equal(t, models.OutcomePassed, result.Outcome)
	assert.Equal(t, 60, result.LastProgress)

	step, ok := result.Step(models.StepPollProgress)
	require.True(t, ok)
	assert.Equal(t, "indicator removed", step.Message)
}

func TestRun_ProgressTimeout(t *testing.T) {
	drv := healthySite()
	drv.progress = []string{"30%"}
	drv.repeatLast = true

	opts := testOptions()
	opts.ProgressTimeout = 50 * time.Millisecond

	result, out := runWith(t, opts, drv)

	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Contains(t, result.ErrorMessage, ErrProgressTimeout.Error())
	assert.Contains(t, result.ErrorMessage, "last value 30%")
	assert.Equal(t, 1, strings.Count(out, "Progress: 30%"))
	assert.Greater(t, drv.polls, 1)
	assert.False(t, drv.called("wait_hidden"))
	assert.Equal(t, 1, drv.closeCalls)
}

func TestRun_ProgressPrintsOnlyIncreases(t *testing.T) {
	drv := healthySite()
	drv.progress = []string{"5%", "5%", "40%", "20%", "40%", "75%", "100%"}

	_, out := runWith(t, testOptions(), drv)

	var printed []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "  Progress: ") {
			printed = append(printed, strings.TrimPrefix(line, "  Progress: "))
		}
	}
	assert.Equal(t, []string{"5%", "40%", "75%", "100%"}, printed)
}

func TestRun_AcquireFailure(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(testOptions(), func(ctx context.Context) (Driver, error) {
		return nil, errors.New("chrome not installed")
	}, NewConsolePrinter(&out).Observe)

	result := r.Run(context.Background())

	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Contains(t, out.String(), "✗ Test failed: chrome not installed")
	_, released := result.Step(models.StepRelease)
	assert.False(t, released)
}

func TestRun_FailureScreenshot(t *testing.T) {
	dir := t.TempDir()
	drv := healthySite()
	drv.linkErr = errors.New("link detached")

	opts := testOptions()
	opts.ScreenshotDir = dir

	result, _ := runWith(t, opts, drv)

	want := filepath.Join(dir, "run-1_failure.png")
	assert.Equal(t, want, result.ScreenshotPath)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestRun_SettleDelayHonoursCancel(t *testing.T) {
	drv := healthySite()
	opts := testOptions()
	opts.SettleDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(opts, func(ctx context.Context) (Driver, error) {
		return drv, nil
	}, func(ev models.RunEvent) {
		if ev.Type == models.EventRunFinished {
			cancel()
		}
	})

	done := make(chan *models.RunResult)
	go func() { done <- r.Run(ctx) }()

	select {
	case result := <-done:
		assert.Equal(t, models.OutcomePassed, result.Outcome)
		assert.Equal(t, 1, drv.closeCalls)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(Options{}, nil)
	o := r.Options()

	assert.Equal(t, DefaultURL, o.URL)
	assert.Equal(t, DefaultLoaderXPath, o.LoaderXPath)
	assert.Equal(t, DefaultWaitTimeout, o.WaitTimeout)
	assert.Equal(t, DefaultPollInterval, o.PollInterval)
	assert.Equal(t, DefaultProgressTimeout, o.ProgressTimeout)
	assert.Equal(t, time.Duration(0), o.SettleDelay)
	assert.NotEmpty(t, o.RunID)
}
