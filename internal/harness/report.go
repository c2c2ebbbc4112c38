package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// FailureKind classifies why a backend's result failed.
type FailureKind string

const (
	FailureLaunch   FailureKind = "launch"
	FailureNotReady FailureKind = "not-ready"
	FailureScenario FailureKind = "scenario"
)

// Result is the outcome of one backend's pipeline.
type Result struct {
	Backend     string        `json:"backend"`
	Succeeded   bool          `json:"succeeded"`
	FailureKind FailureKind   `json:"failure_kind,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	Output      string        `json:"output,omitempty"`
	Duration    time.Duration `json:"duration_ns"`

	// TeardownFailure notes a teardown error without overwriting the
	// scenario outcome; stale resources stay visible to the operator.
	TeardownFailure string `json:"teardown_failure,omitempty"`

	State State `json:"-"`
}

func (r *Result) fail(kind FailureKind, err error) {
	r.Succeeded = false
	r.FailureKind = kind
	r.Detail = err.Error()
}

// Report is the ordered outcome of one harness invocation.
type Report struct {
	RunID     string        `json:"run_id"`
	Scenario  string        `json:"scenario"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Results   []Result      `json:"results"`
}

// OK reports whether every backend passed and every teardown succeeded.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if !res.Succeeded || res.TeardownFailure != "" {
			return false
		}
	}
	return true
}

// Write renders the report for humans.
func (r Report) Write(w io.Writer) {
	fmt.Fprintf(w, "scenario %s, run %s\n", r.Scenario, r.RunID)
	passed := 0
	for _, res := range r.Results {
		status := "FAIL"
		if res.Succeeded {
			status = "PASS"
			passed++
		}
		fmt.Fprintf(w, "  %-4s %-20s %8s", status, res.Backend, res.Duration.Round(time.Millisecond))
		if res.FailureKind != "" {
			fmt.Fprintf(w, "  (%s: %s)", res.FailureKind, res.Detail)
		}
		fmt.Fprintln(w)
		if !res.Succeeded && res.Output != "" {
			for _, line := range strings.Split(strings.TrimRight(res.Output, "\n"), "\n") {
				fmt.Fprintf(w, "       | %s\n", line)
			}
		}
		if res.TeardownFailure != "" {
			fmt.Fprintf(w, "       ! teardown: %s\n", res.TeardownFailure)
		}
	}
	fmt.Fprintf(w, "%d of %d backends passed in %s\n", passed, len(r.Results), r.Duration.Round(time.Millisecond))
}

// WriteJSON renders the report as JSON for machine consumers.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
