package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kuitang/uiscenario/internal/automation"
	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/logutil"
	"github.com/kuitang/uiscenario/internal/scenario"
)

const elementNotFound = "<element not found>"

// execution is the mutable state of one run's step loop.
type execution struct {
	sess *session
	log  *slog.Logger

	index    int
	step     scenario.Step
	stepsRun int
	soft     int

	current         automation.Locator
	currentSelector string
}

// mismatch carries the literal expected and actual values of a failed check.
type mismatch struct {
	expected string
	actual   string
}

func (m *mismatch) Error() string {
	return fmt.Sprintf("expected %q, got %q", m.expected, m.actual)
}

func (r *Runner) runStep(ctx context.Context, ex *execution, step scenario.Step) error {
	page := ex.sess.tracker.Active()
	if page == nil {
		return errs.New(errs.SessionFault, "no open page")
	}
	ex.log.Debug("step", "index", ex.index, "kind", step.Kind, "step", step.Describe())

	switch step.Kind {
	case scenario.KindNavigate:
		return r.navigate(ctx, ex, page, step)
	case scenario.KindLocate:
		return r.locate(ctx, ex, page, step)
	case scenario.KindFill:
		return r.fill(ctx, ex, step)
	case scenario.KindClick:
		return r.click(ctx, ex, step)
	case scenario.KindWaitText:
		return r.waitText(ctx, page, step)
	case scenario.KindWaitState:
		return r.waitState(ctx, page, step)
	case scenario.KindAssert:
		return r.assert(ctx, page, step)
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown step kind %q", step.Kind))
	}
}

func (r *Runner) navigate(ctx context.Context, ex *execution, page automation.Page, step scenario.Step) error {
	target := r.cfg.resolveURL(step.URL)
	wait := automation.LoadState(step.WaitUntil)
	if wait == "" {
		wait = automation.LoadCommit
	}
	if err := page.Goto(ctx, target, automation.GotoOptions{
		WaitUntil: wait,
		Timeout:   r.cfg.navigationTimeout(step.Timeout),
	}); err != nil {
		return errs.Wrap(errs.HardInteraction, "navigate to "+target, err)
	}
	ex.sess.tracker.Activate(page)
	ex.current, ex.currentSelector = nil, ""
	return r.stabilize(ctx, ex, page)
}

// stabilize evaluates the stabilization policy once. Optional probes that
// fail are counted and otherwise ignored.
func (r *Runner) stabilize(ctx context.Context, ex *execution, page automation.Page) error {
	for _, probe := range r.cfg.stabilization() {
		var err error
		switch probe.Scope {
		case ScopeFrames:
			var failures []error
			for _, f := range page.Frames() {
				if ferr := f.WaitForLoadState(ctx, probe.State, probe.Timeout); ferr != nil {
					failures = append(failures, fmt.Errorf("frame %q: %w", f.Name(), ferr))
					if ctx.Err() != nil {
						break
					}
				}
			}
			err = errors.Join(failures...)
		default:
			err = page.WaitForLoadState(ctx, probe.State, probe.Timeout)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return errs.Wrap(errs.Canceled, "run canceled during "+probe.Name, err)
		}
		if probe.Required {
			return errs.Wrap(errs.HardInteraction, "stabilization probe "+probe.Name, err)
		}
		ex.soft++
		ex.log.Debug("stabilization probe timed out", "probe", probe.Name, "code", errs.SoftTimeout, "error", err)
	}
	return nil
}

func (r *Runner) locate(ctx context.Context, ex *execution, page automation.Page, step scenario.Step) error {
	loc := page.Locator(step.Selector).Nth(step.Index)
	if err := loc.WaitFor(ctx, automation.ElementAttached, r.cfg.stepTimeout(step.Timeout)); err != nil {
		return errs.Wrap(errs.HardInteraction, fmt.Sprintf("locate %s[%d]", step.Selector, step.Index), err)
	}
	ex.current, ex.currentSelector = loc, step.Selector
	return nil
}

func (r *Runner) settle(ctx context.Context) error {
	if r.cfg.SettleDelay <= 0 {
		return nil
	}
	if err := r.sleep(ctx, r.cfg.SettleDelay); err != nil {
		return errs.Wrap(errs.Canceled, "run canceled while settling", err)
	}
	return nil
}

func (r *Runner) fill(ctx context.Context, ex *execution, step scenario.Step) error {
	if ex.current == nil {
		return errs.New(errs.HardInteraction, "fill without a located element")
	}
	if err := r.settle(ctx); err != nil {
		return err
	}
	ex.log.Debug("fill", "selector", ex.currentSelector,
		"value", logutil.RedactFillValue(ex.currentSelector, step.Value, step.Secret))
	if err := ex.current.Fill(ctx, step.Value, r.cfg.stepTimeout(step.Timeout)); err != nil {
		return errs.Wrap(errs.HardInteraction, "fill "+ex.currentSelector, err)
	}
	return nil
}

func (r *Runner) click(ctx context.Context, ex *execution, step scenario.Step) error {
	if ex.current == nil {
		return errs.New(errs.HardInteraction, "click without a located element")
	}
	if err := r.settle(ctx); err != nil {
		return err
	}
	if err := ex.current.Click(ctx, r.cfg.stepTimeout(step.Timeout)); err != nil {
		return errs.Wrap(errs.HardInteraction, "click "+ex.currentSelector, err)
	}
	return nil
}

func (r *Runner) waitText(ctx context.Context, page automation.Page, step scenario.Step) error {
	err := page.Locator("text="+step.Text).First().WaitFor(ctx, automation.ElementVisible, r.cfg.stepTimeout(step.Timeout))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || automation.IsSessionFault(err) {
		return err
	}
	if errors.Is(err, automation.ErrStrictViolation) {
		return errs.Wrap(errs.HardInteraction, fmt.Sprintf("wait for text %q", step.Text), err)
	}
	return errs.Wrap(errs.Assertion, fmt.Sprintf("text %q never became visible", step.Text),
		&mismatch{expected: step.Text, actual: r.bodyPreview(ctx, page)})
}

func (r *Runner) waitState(ctx context.Context, page automation.Page, step scenario.Step) error {
	err := page.Locator(step.Selector).First().WaitFor(ctx, automation.ElementState(step.State), r.cfg.stepTimeout(step.Timeout))
	if err != nil {
		return errs.Wrap(errs.HardInteraction, fmt.Sprintf("wait for %s to be %s", step.Selector, step.State), err)
	}
	return nil
}

func (r *Runner) assert(ctx context.Context, page automation.Page, step scenario.Step) error {
	pred := step.Predicate
	fail := func(expected, actual string) error {
		return errs.Wrap(errs.Assertion, "assertion failed: "+step.Describe(),
			&mismatch{expected: expected, actual: actual})
	}

	switch pred.Kind {
	case scenario.URLContains:
		if got := page.URL(); !strings.Contains(got, pred.Expected) {
			return fail(pred.Expected, got)
		}
	case scenario.TitleContains:
		got, err := page.Title(ctx)
		if err != nil {
			return errs.Wrap(errs.HardInteraction, "read title", err)
		}
		if !strings.Contains(got, pred.Expected) {
			return fail(pred.Expected, got)
		}
	case scenario.Visible:
		visible, err := page.Locator(pred.Selector).First().IsVisible(ctx)
		if err != nil {
			return errs.Wrap(errs.HardInteraction, "check visibility of "+pred.Selector, err)
		}
		if !visible {
			return fail("visible", "hidden or absent")
		}
	case scenario.TextContains, scenario.TextEquals:
		got, err := page.Locator(pred.Selector).First().InnerText(ctx, r.cfg.stepTimeout(step.Timeout))
		if err != nil {
			if ctx.Err() != nil || automation.IsSessionFault(err) {
				return err
			}
			if automation.IsTimeout(err) || errors.Is(err, automation.ErrNotFound) {
				return fail(pred.Expected, elementNotFound)
			}
			return errs.Wrap(errs.HardInteraction, "read text of "+pred.Selector, err)
		}
		if pred.Kind == scenario.TextEquals && strings.TrimSpace(got) != pred.Expected {
			return fail(pred.Expected, got)
		}
		if pred.Kind == scenario.TextContains && !strings.Contains(got, pred.Expected) {
			return fail(pred.Expected, got)
		}
	case scenario.Enabled:
		enabled, err := page.Locator(pred.Selector).First().IsEnabled(ctx, r.cfg.stepTimeout(step.Timeout))
		if err != nil {
			if ctx.Err() != nil || automation.IsSessionFault(err) {
				return err
			}
			if automation.IsTimeout(err) || errors.Is(err, automation.ErrNotFound) {
				return fail("enabled", elementNotFound)
			}
			return errs.Wrap(errs.HardInteraction, "check enabled state of "+pred.Selector, err)
		}
		if !enabled {
			return fail("enabled", "disabled")
		}
	case scenario.ContentNotContains:
		content, err := page.Content(ctx)
		if err != nil {
			return errs.Wrap(errs.HardInteraction, "read page content", err)
		}
		if at := strings.Index(content, pred.Expected); at >= 0 {
			return fail("content without "+pred.Expected, excerpt(content, at, len(pred.Expected)))
		}
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown predicate %q", pred.Kind))
	}
	return nil
}

// bodyPreview returns the truncated visible text of the page, or "" when it
// cannot be read.
func (r *Runner) bodyPreview(ctx context.Context, page automation.Page) string {
	text, err := page.Locator("body").First().InnerText(ctx, diagnosticsTimeout)
	if err != nil {
		return ""
	}
	return logutil.Truncate(text, contentPreviewMax)
}

// excerptRadius is how much markup on each side of a forbidden match is
// reported.
const excerptRadius = 80

func excerpt(content string, at, n int) string {
	start := max(at-excerptRadius, 0)
	end := min(at+n+excerptRadius, len(content))
	return logutil.Truncate(strings.ToValidUTF8(content[start:end], ""), contentPreviewMax)
}
