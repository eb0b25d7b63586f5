package smoke

import (
	"fmt"
	"io"
	"sync"

	"dev/bravebird/site-smoke/pkg/models"
)

const (
	markPass = "✓"
	markFail = "✗"
)

// ConsolePrinter renders run events as human-readable status lines
type ConsolePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsolePrinter creates a printer writing to w
func NewConsolePrinter(w io.Writer) *ConsolePrinter {
	return &ConsolePrinter{w: w}
}

// Observe implements Observer
func (p *ConsolePrinter) Observe(ev models.RunEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case models.EventRunStarted:
		p.printf("Opening %s...\n", ev.URL)

	case models.EventStepStarted:
		switch ev.Step {
		case models.StepPollProgress:
			p.printf("Monitoring loading progress...\n")
		case models.StepWaitLoaderGone:
			p.printf("Waiting for homepage transition...\n")
		case models.StepNavigateLink:
			p.printf("Testing Services navigation...\n")
		}

	case models.EventProgress:
		p.printf("  Progress: %d%%\n", ev.Progress)

	case models.EventStepPassed:
		switch ev.Step {
		case models.StepWaitLoader:
			p.printf("%s Loader found.\n", markPass)
		case models.StepPollProgress:
			if ev.Progress >= 100 {
				p.printf("%s Progress hit 100%%.\n", markPass)
			}
		case models.StepVerifyHeader:
			p.printf("%s Homepage loaded: '%s' header visible.\n", markPass, ev.Detail)
		case models.StepNavigateLink:
			p.printf("%s Navigation successful. Current URL: %s\n", markPass, ev.URL)
		}

	case models.EventStepFailed:
		if ev.Step == models.StepVerifyHeader && ev.Detail != "" {
			p.printf("%s Homepage header does not contain '%s'.\n", markFail, ev.Detail)
		}

	case models.EventRunFinished:
		switch ev.Outcome {
		case models.OutcomePassed:
			p.printf("\n--- ALL TESTS PASSED ---\n")
			p.printf("The building logo and loading sequence are functional.\n")
		case models.OutcomeLoaderMissing:
			p.printf("%s Loader not found or already disappeared.\n", markFail)
		default:
			p.printf("\n%s Test failed: %s\n", markFail, ev.Error)
		}
	}
}

func (p *ConsolePrinter) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}
