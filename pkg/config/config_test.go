package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.Smoke.URL)
	assert.Equal(t, "//*[@role='progressbar']", cfg.Smoke.LoaderXPath)
	assert.Equal(t, "//*[contains(text(), '%')]", cfg.Smoke.ProgressXPath)
	assert.Equal(t, "VIJAY CONSTRUCTIONS", cfg.Smoke.ExpectedHeader)
	assert.Equal(t, "SERVICES", cfg.Smoke.NavLinkText)
	assert.Equal(t, "/services", cfg.Smoke.ExpectedPath)
	assert.Equal(t, 10*time.Second, cfg.Smoke.WaitTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Smoke.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Smoke.SettleDelay)
	assert.False(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.NoSandbox)
	assert.Equal(t, "site-smoke", cfg.Server.TaskQueue)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SMOKE_URL", "http://staging.example:8080")
	t.Setenv("SMOKE_WAIT_TIMEOUT", "2s")
	t.Setenv("SMOKE_SETTLE_DELAY", "0s")
	t.Setenv("BROWSER_HEADLESS", "true")
	t.Setenv("CHROME_BIN", "/usr/bin/chromium")
	t.Setenv("TEMPORAL_HOST", "temporal:7233")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://staging.example:8080", cfg.Smoke.URL)
	assert.Equal(t, 2*time.Second, cfg.Smoke.WaitTimeout)
	assert.Equal(t, time.Duration(0), cfg.Smoke.SettleDelay)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "temporal:7233", cfg.Server.TemporalHost)

	opts := cfg.Smoke.Options()
	assert.Equal(t, "http://staging.example:8080", opts.URL)
	assert.Equal(t, 2*time.Second, opts.WaitTimeout)

	lo := cfg.Browser.LaunchOptions()
	assert.Equal(t, "/usr/bin/chromium", lo.Bin)
	assert.True(t, lo.Headless)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "bad duration", key: "SMOKE_WAIT_TIMEOUT", val: "soon"},
		{name: "zero poll interval", key: "SMOKE_POLL_INTERVAL", val: "0s"},
		{name: "bad bool", key: "BROWSER_HEADLESS", val: "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
