package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"dev/bravebird/site-smoke/pkg/config"
	"dev/bravebird/site-smoke/pkg/logging"
	"dev/bravebird/site-smoke/pkg/smoke"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	fmt.Println("Pre-requisites:")
	fmt.Println("1. Start your server: npm run dev")
	fmt.Printf("2. Make sure Chrome is installed or set CHROME_BIN (target: %s)\n", cfg.Smoke.URL)
	fmt.Println(strings.Repeat("-", 30))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := smoke.NewConsolePrinter(os.Stdout)
	runner := smoke.NewRunner(
		cfg.Smoke.Options(),
		smoke.RodLauncher(cfg.Browser.LaunchOptions()),
		printer.Observe,
	)

	result := runner.Run(ctx)

	// Failures are reported on stdout only; the exit status stays zero.
	log.Debug().
		Str("runID", result.RunID).
		Str("outcome", string(result.Outcome)).
		Str("screenshot", result.ScreenshotPath).
		Msg("Run complete")
}
