package smoke

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/site-smoke/pkg/browser"
	"dev/bravebird/site-smoke/pkg/models"
)

// The loader script avoids the percent character so only the counter node matches the progress XPath.
const loadingSitePage = `<!DOCTYPE html>
<html>
<head><title>Vijay Constructions</title></head>
<body>
	<div id="loader" role="progressbar" aria-label="Loading">
		<span id="pct"></span>
	</div>
	<header id="site-header" style="display:none">
		<span>VIJAY CONSTRUCTIONS LTD</span>
		<nav>
			<a href="/">HOME</a>
			<a href="/services" id="services">SERVICES</a>
		</nav>
	</header>
	<script>
		const steps = [0, 45, 100];
		const pct = document.getElementById('pct');
		let i = 0;
		function tick() {
			pct.textContent = steps[i] + String.fromCharCode(37);
			i++;
			if (i < steps.length) {
				setTimeout(tick, 300);
			} else {
				setTimeout(() => {
					document.getElementById('loader').remove();
					document.getElementById('site-header').style.display = 'block';
				}, 300);
			}
		}
		tick();
		document.getElementById('services').addEventListener('click', (e) => {
			e.preventDefault();
			history.pushState({}, '', '/services');
		});
	</script>
</body>
</html>`

const noLoaderPage = `<!DOCTYPE html>
<html>
<body>
	<header>VIJAY CONSTRUCTIONS LTD <a href="/services">SERVICES</a></header>
</body>
</html>`

func skipWithoutBrowser(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
	if os.Getenv("SMOKE_BROWSER_TESTS") != "1" {
		t.Skip("Set SMOKE_BROWSER_TESTS=1 to run tests against a real browser")
	}
}

func serve(t *testing.T, page string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func e2eOptions(url string) Options {
	opts := DefaultOptions(url)
	opts.RunID = "e2e"
	opts.SettleDelay = 0
	opts.WaitTimeout = 5 * time.Second
	opts.ProgressTimeout = 20 * time.Second
	return opts
}

func e2eLauncher() Launcher {
	return RodLauncher(browser.LaunchOptions{
		Bin:       os.Getenv("CHROME_BIN"),
		Headless:  true,
		NoSandbox: true,
	})
}

func TestE2E_LoadingSite(t *testing.T) {
	skipWithoutBrowser(t)
	srv := serve(t, loadingSitePage)

	var out bytes.Buffer
	r := NewRunner(e2eOptions(srv.URL), e2eLauncher(), NewConsolePrinter(&out).Observe)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	result := r.Run(ctx)

	t.Log(out.String())
	require.Equal(t, models.OutcomePassed, result.Outcome, result.ErrorMessage)
	assert.Contains(t, out.String(), "✓ Loader found.")
	assert.Contains(t, out.String(), "✓ Progress hit 100%.")
	assert.Contains(t, out.String(), "✓ Homepage loaded: 'VIJAY CONSTRUCTIONS' header visible.")
	assert.Contains(t, result.FinalURL, "/services")
	assert.Contains(t, out.String(), "--- ALL TESTS PASSED ---")
}

func TestE2E_NoLoader(t *testing.T) {
	skipWithoutBrowser(t)
	srv := serve(t, noLoaderPage)

	opts := e2eOptions(srv.URL)
	opts.WaitTimeout = 2 * time.Second

	var out bytes.Buffer
	r := NewRunner(opts, e2eLauncher(), NewConsolePrinter(&out).Observe)
	result := r.Run(context.Background())

	assert.Equal(t, models.OutcomeLoaderMissing, result.Outcome)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "✗ Loader not found or already disappeared.", lines[1])
}
