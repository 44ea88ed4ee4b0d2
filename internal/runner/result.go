package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/scenario"
)

// State is a run lifecycle state.
//
//	Created -> SessionAcquired -> Executing(i) -> {Passed|Failed|Errored} -> Released -> Terminal
//
// A run whose acquisition fails goes from Created straight to Errored.
type State string

const (
	StateCreated         State = "created"
	StateSessionAcquired State = "session_acquired"
	StateExecuting       State = "executing"
	StatePassed          State = "passed"
	StateFailed          State = "failed"
	StateErrored         State = "errored"
	StateReleased        State = "released"
	StateTerminal        State = "terminal"
)

// StateHook observes run state transitions. stepIndex is -1 outside
// Executing. Hooks run synchronously on the scenario's goroutine.
type StateHook func(runID string, state State, stepIndex int)

// Result is the externally visible outcome of one scenario run.
type Result struct {
	RunID           string           `json:"run_id"`
	ScenarioID      string           `json:"scenario_id"`
	Outcome         scenario.Outcome `json:"outcome"`
	ExpectedOutcome scenario.Outcome `json:"expected_outcome"`
	Code            errs.Code        `json:"code,omitempty"`
	Message         string           `json:"message,omitempty"`
	// StepIndex is the failing step, or -1 when no step failed.
	StepIndex int    `json:"step_index"`
	Step      string `json:"step,omitempty"`
	// Expected and Actual hold the literal mismatch of an assertion failure.
	Expected       string        `json:"expected,omitempty"`
	Actual         string        `json:"actual,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Elapsed        time.Duration `json:"elapsed"`
	StepsRun       int           `json:"steps_run"`
	SoftTimeouts   int           `json:"soft_timeouts"`
	LastURL        string        `json:"last_url,omitempty"`
	LastTitle      string        `json:"last_title,omitempty"`
	ContentPreview string        `json:"content_preview,omitempty"`
	ReleaseError   string        `json:"release_error,omitempty"`
	Screenshot     []byte        `json:"-"`
	Err            error         `json:"-"`
}

// Matched reports whether the run ended the way the scenario expected.
func (r Result) Matched() bool {
	return r.Outcome == r.ExpectedOutcome
}

// String renders the one-line diagnostic printed by the CLI.
func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)", strings.ToUpper(string(r.Outcome)), r.ScenarioID, r.Elapsed.Round(time.Millisecond))
	if !r.Matched() {
		fmt.Fprintf(&b, " expected %s", r.ExpectedOutcome)
	}
	if r.Message != "" {
		fmt.Fprintf(&b, ": %s", r.Message)
	}
	if r.StepIndex >= 0 {
		fmt.Fprintf(&b, " [step %d: %s]", r.StepIndex, r.Step)
	}
	return b.String()
}

// Summary aggregates a batch of results.
type Summary struct {
	Total      int           `json:"total"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	Errored    int           `json:"errored"`
	Mismatched int           `json:"mismatched"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Summarize counts outcomes. Elapsed is the sum of scenario run times.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case scenario.Passed:
			s.Passed++
		case scenario.Failed:
			s.Failed++
		default:
			s.Errored++
		}
		if !r.Matched() {
			s.Mismatched++
		}
		s.Elapsed += r.Elapsed
	}
	return s
}

// OK reports whether every scenario matched its expected outcome.
func (s Summary) OK() bool {
	return s.Mismatched == 0
}
