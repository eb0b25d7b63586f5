package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"dev/bravebird/site-smoke/pkg/browser"
	"dev/bravebird/site-smoke/pkg/smoke"
)

// Config is loaded from the environment
type Config struct {
	Smoke   Smoke
	Browser Browser
	Server  Server
	Logging Logging
}

// Smoke configures what the runner checks
type Smoke struct {
	URL             string        `envconfig:"SMOKE_URL" default:"http://localhost:3000"`
	LoaderXPath     string        `envconfig:"SMOKE_LOADER_XPATH" default:"//*[@role='progressbar']"`
	ProgressXPath   string        `envconfig:"SMOKE_PROGRESS_XPATH" default:"//*[contains(text(), '%')]"`
	HeaderSelector  string        `envconfig:"SMOKE_HEADER_SELECTOR" default:"header"`
	ExpectedHeader  string        `envconfig:"SMOKE_EXPECTED_HEADER" default:"VIJAY CONSTRUCTIONS"`
	NavLinkText     string        `envconfig:"SMOKE_NAV_LINK_TEXT" default:"SERVICES"`
	ExpectedPath    string        `envconfig:"SMOKE_EXPECTED_PATH" default:"/services"`
	WaitTimeout     time.Duration `envconfig:"SMOKE_WAIT_TIMEOUT" default:"10s"`
	PollInterval    time.Duration `envconfig:"SMOKE_POLL_INTERVAL" default:"100ms"`
	ProgressTimeout time.Duration `envconfig:"SMOKE_PROGRESS_TIMEOUT" default:"60s"`
	SettleDelay     time.Duration `envconfig:"SMOKE_SETTLE_DELAY" default:"3s"`
	ScreenshotDir   string        `envconfig:"SCREENSHOT_DIR" default:"/tmp/screenshots"`
}

// Browser configures how Chrome is started
type Browser struct {
	Bin        string `envconfig:"CHROME_BIN"`
	Headless   bool   `envconfig:"BROWSER_HEADLESS" default:"false"`
	NoSandbox  bool   `envconfig:"BROWSER_NO_SANDBOX" default:"true"`
	ControlURL string `envconfig:"BROWSER_CONTROL_URL"`
}

// Server configures the API server and the worker
type Server struct {
	Port         string `envconfig:"PORT" default:"8080"`
	MySQLDSN     string `envconfig:"MYSQL_DSN" default:"smoke:smoke@tcp(localhost:3306)/smoke?parseTime=true"`
	TemporalHost string `envconfig:"TEMPORAL_HOST" default:"localhost:7233"`
	TaskQueue    string `envconfig:"TASK_QUEUE" default:"site-smoke"`
	MetricsAddr  string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Logging configures zerolog
type Logging struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"console"`
}

// Load reads the configuration from the environment
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Smoke.URL == "" {
		return Config{}, fmt.Errorf("SMOKE_URL must not be empty")
	}
	if cfg.Smoke.WaitTimeout <= 0 || cfg.Smoke.PollInterval <= 0 || cfg.Smoke.ProgressTimeout <= 0 {
		return Config{}, fmt.Errorf("smoke timeouts and poll interval must be positive")
	}
	return cfg, nil
}

// Options converts the smoke settings into runner options
func (s Smoke) Options() smoke.Options {
	return smoke.Options{
		URL:             s.URL,
		LoaderXPath:     s.LoaderXPath,
		ProgressXPath:   s.ProgressXPath,
		HeaderSelector:  s.HeaderSelector,
		ExpectedHeader:  s.ExpectedHeader,
		NavLinkText:     s.NavLinkText,
		ExpectedPath:    s.ExpectedPath,
		WaitTimeout:     s.WaitTimeout,
		PollInterval:    s.PollInterval,
		ProgressTimeout: s.ProgressTimeout,
		SettleDelay:     s.SettleDelay,
		ScreenshotDir:   s.ScreenshotDir,
	}
}

// LaunchOptions converts the browser settings into launch options
func (b Browser) LaunchOptions() browser.LaunchOptions {
	return browser.LaunchOptions{
		Bin:        b.Bin,
		Headless:   b.Headless,
		NoSandbox:  b.NoSandbox,
		ControlURL: b.ControlURL,
	}
}
