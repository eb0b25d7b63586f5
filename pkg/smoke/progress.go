package smoke

import (
	"strconv"
	"strings"
)

// ParseProgress extracts the percentage from a loader text node such as "45%".
// It returns false when the text does not hold a non-negative integer.
func ParseProgress(text string) (int, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(text, "%", ""))
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// ProgressTracker remembers the last reported value so that only increases are reported
type ProgressTracker struct {
	last int
}

// NewProgressTracker creates a tracker that has reported nothing yet
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{last: -1}
}

// Observe records v and reports whether it should be printed
func (t *ProgressTracker) Observe(v int) bool {
	if v <= t.last {
		return false
	}
	t.last = v
	return true
}

// Last returns the highest value observed, or -1
func (t *ProgressTracker) Last() int {
	return t.last
}
