package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTimeout is returned when a bounded wait expires before its condition holds
	ErrTimeout = errors.New("timed out waiting for condition")
	// ErrElementNotFound is returned when an element cannot be located without waiting
	ErrElementNotFound = errors.New("element not found")
)

// LaunchOptions configures how the browser is started
type LaunchOptions struct {
	// Bin is the Chrome binary; empty lets rod find or download one
	Bin string
	// Headless runs Chrome without a window
	Headless bool
	// NoSandbox adds the flags needed to run Chrome inside containers
	NoSandbox bool
	// ControlURL connects to an already running browser instead of launching one
	ControlURL string
}

// Session is an exclusively owned browser with a single page
type Session struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher

	closeOnce sync.Once
	closeErr  error
}

// Launch starts (or connects to) a browser and opens a blank page
func Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	s := &Session{}

	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Context(ctx)

		// Use CHROME_BIN if set (Docker environment)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}

		l = l.Headless(opts.Headless)

		if opts.NoSandbox {
			l = l.Set("no-sandbox")
			l = l.Set("disable-gpu")
			l = l.Set("disable-dev-shm-usage")
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		s.launcher = l
		controlURL = u
	}

	log.Debug().Str("controlURL", controlURL).Bool("headless", opts.Headless).Msg("Connecting to browser")

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		s.cleanupLauncher()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	s.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	s.page = page

	return s, nil
}

// Navigate loads url and waits for the load event
func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for %s to load: %w", url, err)
	}
	return nil
}

// WaitPresent waits until an element matching xpath is in the DOM
func (s *Session) WaitPresent(ctx context.Context, xpath string, timeout time.Duration) error {
	page, release := bounded(ctx, s.page, timeout)
	defer release()

	_, err := page.ElementX(xpath)
	if err != nil {
		return waitError(err, "element %s to be present", xpath)
	}
	return nil
}

// WaitHidden waits until no element matches xpath or the match is not rendered
func (s *Session) WaitHidden(ctx context.Context, xpath string, timeout time.Duration) error {
	page, release := bounded(ctx, s.page, timeout)
	defer release()

	err := page.Wait(rod.Eval(hiddenJS, xpath))
	if err != nil {
		return waitError(err, "element %s to be hidden", xpath)
	}
	return nil
}

// Text returns the text of the first element matching xpath without waiting for it
func (s *Session) Text(ctx context.Context, xpath string) (string, error) {
	has, el, err := s.page.Context(ctx).HasX(xpath)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("failed to query %s: %w", xpath, err)
	}
	if !has {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, xpath)
	}

	text, err := el.Text()
	if err != nil {
		// The node went away between lookup and read
		return "", fmt.Errorf("%w: %s: %v", ErrElementNotFound, xpath, err)
	}
	return text, nil
}

// WaitText waits for an element matching the css selector and returns its rendered text
func (s *Session) WaitText(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	page, release := bounded(ctx, s.page, timeout)
	defer release()

	el, err := page.Element(selector)
	if err != nil {
		return "", waitError(err, "element %s to be present", selector)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", selector, err)
	}
	return text, nil
}

// ClickLink clicks the anchor whose visible text is exactly text
func (s *Session) ClickLink(ctx context.Context, text string, timeout time.Duration) error {
	page, release := bounded(ctx, s.page, timeout)
	defer release()

	el, err := page.ElementR("a", exactTextRegex(text))
	if err != nil {
		return waitError(err, "link %q", text)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click link %q: %w", text, err)
	}
	return nil
}

// WaitURLContains waits until the page URL contains substr and returns the URL
func (s *Session) WaitURLContains(ctx context.Context, substr string, timeout time.Duration) (string, error) {
	page, release := bounded(ctx, s.page, timeout)
	defer release()

	if err := page.Wait(rod.Eval(`(s) => location.href.includes(s)`, substr)); err != nil {
		return "", waitError(err, "url to contain %q", substr)
	}
	return s.CurrentURL(ctx)
}

// CurrentURL returns the URL of the page
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to get page info: %w", err)
	}
	return info.URL, nil
}

// Screenshot captures the viewport as PNG
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := s.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

// Close closes the browser and removes the launcher's profile directory.
// Calling it more than once returns the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			s.closeErr = s.browser.Close()
		}
		s.cleanupLauncher()
	})
	return s.closeErr
}

// cleanupLauncher waits for the launched process to exit, so it is killed first
func (s *Session) cleanupLauncher() {
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
}

// bounded returns page limited to timeout; release stops its timer
func bounded(ctx context.Context, page *rod.Page, timeout time.Duration) (*rod.Page, func()) {
	p := page.Context(ctx).Timeout(timeout)
	return p, func() { p.CancelTimeout() }
}

// waitError maps context expiry to ErrTimeout
func waitError(err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, what)
	}
	return fmt.Errorf("failed waiting for %s: %w", what, err)
}

// exactTextRegex builds a JS regex literal matching the whole trimmed text
func exactTextRegex(text string) string {
	return "/^\\s*" + regexp.QuoteMeta(text) + "\\s*$/"
}

const hiddenJS = `(xp) => {
	const el = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return true;
	const style = window.getComputedStyle(el);
	return style.display === 'none' || style.visibility === 'hidden' || el.getClientRects().length === 0;
}`
