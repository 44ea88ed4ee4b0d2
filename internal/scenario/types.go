// Package scenario defines scenarios and their steps, and loads them from
// YAML files.
//
// A Scenario owns its steps: constructors copy the slice they are given and
// accessors hand out copies, so a step list never changes after New returns.
package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/uiscenario/internal/errs"
)

// StepKind identifies the action a step performs.
type StepKind string

const (
	KindNavigate  StepKind = "navigate"
	KindLocate    StepKind = "locate"
	KindFill      StepKind = "fill"
	KindClick     StepKind = "click"
	KindWaitText  StepKind = "wait_text"
	KindWaitState StepKind = "wait_state"
	KindAssert    StepKind = "assert"
)

// WaitCondition is the navigation milestone a navigate step waits for.
type WaitCondition string

const (
	WaitCommit           WaitCondition = "commit"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitLoad             WaitCondition = "load"
	WaitNetworkIdle      WaitCondition = "networkidle"
)

// ElementState is the state a wait_state step waits for.
type ElementState string

const (
	StateAttached ElementState = "attached"
	StateDetached ElementState = "detached"
	StateVisible  ElementState = "visible"
	StateHidden   ElementState = "hidden"
)

// PredicateKind names an assertion check.
type PredicateKind string

const (
	TextContains  PredicateKind = "text_contains"
	TextEquals    PredicateKind = "text_equals"
	Visible       PredicateKind = "visible"
	URLContains   PredicateKind = "url_contains"
	TitleContains PredicateKind = "title_contains"
	Enabled       PredicateKind = "enabled"

	// ContentNotContains fails when the serialized page markup contains
	// Expected. It is how sanitization checks look for unescaped input.
	ContentNotContains PredicateKind = "content_not_contains"
)

// Predicate is evaluated against the active page by an assert step.
// Selector is unused for URL, title and content checks.
type Predicate struct {
	Kind     PredicateKind `json:"kind"`
	Selector string        `json:"selector,omitempty"`
	Expected string        `json:"expected,omitempty"`
}

// Outcome is the terminal kind of a scenario run.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Errored Outcome = "errored"
)

// Step is one atomic browser action or assertion. A zero Timeout means the
// runner's configured default applies.
type Step struct {
	Kind      StepKind      `json:"kind"`
	Label     string        `json:"label,omitempty"`
	URL       string        `json:"url,omitempty"`
	WaitUntil WaitCondition `json:"wait_until,omitempty"`
	Selector  string        `json:"selector,omitempty"`
	Index     int           `json:"index,omitempty"`
	Value     string        `json:"-"`
	Secret    bool          `json:"secret,omitempty"`
	Text      string        `json:"text,omitempty"`
	State     ElementState  `json:"state,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Predicate Predicate     `json:"predicate,omitzero"`
	Message   string        `json:"message,omitempty"`
}

// Navigate opens url (absolute, or relative to the configured base URL) and
// waits for the request to commit.
func Navigate(url string) Step {
	return Step{Kind: KindNavigate, URL: url, WaitUntil: WaitCommit}
}

// Locate resolves the index-th match of selector on the active page and makes
// it the target of following fill and click steps.
func Locate(selector string, index int) Step {
	return Step{Kind: KindLocate, Selector: selector, Index: index}
}

// Fill types value into the located element.
func Fill(value string) Step {
	return Step{Kind: KindFill, Value: value}
}

// FillSecret is Fill for values that must never be logged or reported.
func FillSecret(value string) Step {
	return Step{Kind: KindFill, Value: value, Secret: true}
}

// Click clicks the located element.
func Click(timeout time.Duration) Step {
	return Step{Kind: KindClick, Timeout: timeout}
}

// WaitForText waits until text is visible on the active page.
func WaitForText(text string, timeout time.Duration) Step {
	return Step{Kind: KindWaitText, Text: text, Timeout: timeout}
}

// WaitForState waits until selector reaches state.
func WaitForState(selector string, state ElementState, timeout time.Duration) Step {
	return Step{Kind: KindWaitState, Selector: selector, State: state, Timeout: timeout}
}

// Assert checks predicate; message explains the expectation in reports.
func Assert(predicate Predicate, message string) Step {
	return Step{Kind: KindAssert, Predicate: predicate, Message: message}
}

// Describe returns a short human-readable description of the step. Secret
// values are never included.
func (s Step) Describe() string {
	if s.Label != "" {
		return s.Label
	}
	switch s.Kind {
	case KindNavigate:
		return fmt.Sprintf("navigate %s", s.URL)
	case KindLocate:
		return fmt.Sprintf("locate %s[%d]", s.Selector, s.Index)
	case KindFill:
		return "fill"
	case KindClick:
		return "click"
	case KindWaitText:
		return fmt.Sprintf("wait for text %q", s.Text)
	case KindWaitState:
		return fmt.Sprintf("wait for %s to be %s", s.Selector, s.State)
	case KindAssert:
		if s.Message != "" {
			return "assert " + s.Message
		}
		return fmt.Sprintf("assert %s %q", s.Predicate.Kind, s.Predicate.Expected)
	default:
		return string(s.Kind)
	}
}

// Validate checks that the step carries the fields its kind needs.
func (s Step) Validate() error {
	var problems []string
	switch s.Kind {
	case KindNavigate:
		if strings.TrimSpace(s.URL) == "" {
			problems = append(problems, "navigate requires url")
		}
		switch s.WaitUntil {
		case "", WaitCommit, WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
		default:
			problems = append(problems, fmt.Sprintf("unknown wait condition %q", s.WaitUntil))
		}
	case KindLocate:
		if strings.TrimSpace(s.Selector) == "" {
			problems = append(problems, "locate requires selector")
		}
		if s.Index < 0 {
			problems = append(problems, "locate index must be >= 0")
		}
	case KindFill, KindClick:
	case KindWaitText:
		if s.Text == "" {
			problems = append(problems, "wait_text requires text")
		}
	case KindWaitState:
		if strings.TrimSpace(s.Selector) == "" {
			problems = append(problems, "wait_state requires selector")
		}
		switch s.State {
		case StateAttached, StateDetached, StateVisible, StateHidden:
		default:
			problems = append(problems, fmt.Sprintf("unknown element state %q", s.State))
		}
	case KindAssert:
		problems = append(problems, s.Predicate.problems()...)
	default:
		problems = append(problems, fmt.Sprintf("unknown step kind %q", s.Kind))
	}
	if s.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if len(problems) > 0 {
		return errs.New(errs.InvalidArgument, strings.Join(problems, "; "))
	}
	return nil
}

func (p Predicate) problems() []string {
	switch p.Kind {
	case TextContains, TextEquals:
		var out []string
		if strings.TrimSpace(p.Selector) == "" {
			out = append(out, fmt.Sprintf("%s requires selector", p.Kind))
		}
		if p.Expected == "" {
			out = append(out, fmt.Sprintf("%s requires expected", p.Kind))
		}
		return out
	case Visible, Enabled:
		if strings.TrimSpace(p.Selector) == "" {
			return []string{fmt.Sprintf("%s requires selector", p.Kind)}
		}
	case URLContains, TitleContains, ContentNotContains:
		if p.Expected == "" {
			return []string{fmt.Sprintf("%s requires expected", p.Kind)}
		}
	default:
		return []string{fmt.Sprintf("unknown predicate %q", p.Kind)}
	}
	return nil
}

// Scenario is one ordered, independent browser-driven test case.
type Scenario struct {
	id          string
	description string
	tags        []string
	expect      Outcome
	steps       []Step

	permissions []string
	geolocation *Geolocation
}

// Geolocation is the position a scenario's browser context reports.
type Geolocation struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Option customizes a Scenario at construction time.
type Option func(*Scenario)

// WithDescription sets the human-readable description.
func WithDescription(d string) Option {
	return func(s *Scenario) { s.description = d }
}

// WithTags attaches tags used for filtering.
func WithTags(tags ...string) Option {
	return func(s *Scenario) { s.tags = append([]string(nil), tags...) }
}

// ExpectOutcome declares the terminal outcome the scenario should produce.
// Negative tests (e.g. login with a wrong password) expect Failed.
func ExpectOutcome(o Outcome) Option {
	return func(s *Scenario) { s.expect = o }
}

// WithPermissions grants browser permissions such as "geolocation" to the
// scenario's context.
func WithPermissions(permissions ...string) Option {
	return func(s *Scenario) { s.permissions = append([]string(nil), permissions...) }
}

// WithGeolocation fixes the position reported to the page.
func WithGeolocation(g Geolocation) Option {
	return func(s *Scenario) { s.geolocation = &g }
}

// New validates and builds a scenario. The steps slice is copied.
func New(id string, steps []Step, opts ...Option) (*Scenario, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errs.New(errs.InvalidArgument, "scenario id is required")
	}
	if len(steps) == 0 {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %s has no steps", id))
	}
	located := false
	for i, step := range steps {
		if err := step.Validate(); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("scenario %s step %d", id, i), err)
		}
		switch step.Kind {
		case KindLocate:
			located = true
		case KindFill, KindClick:
			if !located {
				return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %s step %d: %s has no preceding locate", id, i, step.Kind))
			}
		}
	}

	s := &Scenario{
		id:     id,
		expect: Passed,
		steps:  append([]Step(nil), steps...),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.expect != Passed && s.expect != Failed {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %s: expect must be passed or failed, got %q", id, s.expect))
	}
	for _, p := range s.permissions {
		if strings.TrimSpace(p) == "" {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %s: empty permission", id))
		}
	}
	if g := s.geolocation; g != nil {
		if g.Latitude < -90 || g.Latitude > 90 || g.Longitude < -180 || g.Longitude > 180 {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario %s: geolocation %v,%v out of range", id, g.Latitude, g.Longitude))
		}
	}
	return s, nil
}

// MustNew is New for statically known scenarios; it panics on invalid input.
func MustNew(id string, steps []Step, opts ...Option) *Scenario {
	s, err := New(id, steps, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Scenario) ID() string          { return s.id }
func (s *Scenario) Description() string { return s.description }
func (s *Scenario) Expect() Outcome     { return s.expect }
func (s *Scenario) Len() int            { return len(s.steps) }
func (s *Scenario) Step(i int) Step     { return s.steps[i] }

// Steps returns a copy of the step list.
func (s *Scenario) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Tags returns a copy of the scenario's tags.
func (s *Scenario) Tags() []string {
	return append([]string(nil), s.tags...)
}

// Permissions returns a copy of the browser permissions the scenario grants.
func (s *Scenario) Permissions() []string {
	return append([]string(nil), s.permissions...)
}

// Geolocation returns the fixed position, if the scenario sets one.
func (s *Scenario) Geolocation() (Geolocation, bool) {
	if s.geolocation == nil {
		return Geolocation{}, false
	}
	return *s.geolocation, true
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
