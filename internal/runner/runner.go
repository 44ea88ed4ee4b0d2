// Package runner executes scenarios against a browser automation backend.
//
// Every run owns exactly one session (driver, browser, context) and releases
// it exactly once on every exit path: success, failure, backend fault, caller
// cancellation, or a panic inside a step.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/uiscenario/internal/automation"
	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/logutil"
	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/scenario"
)

// Runner executes scenarios. It is safe for concurrent use; each Run acquires
// its own session.
type Runner struct {
	cfg      Config
	launcher automation.Launcher
	hook     StateHook
	newID    func() string
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes a Runner.
type Option func(*Runner)

// WithStateHook observes every lifecycle transition.
func WithStateHook(h StateHook) Option {
	return func(r *Runner) { r.hook = h }
}

// WithIDGenerator replaces the run ID source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) { r.newID = fn }
}

// WithClock replaces the clock used for StartedAt and Elapsed.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithSleep replaces the settle and linger sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// New returns a runner driving sessions obtained from launcher.
func New(launcher automation.Launcher, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		launcher: launcher,
		newID:    uuid.NewString,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the runner's configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// session is the browser state one run owns.
type session struct {
	driver   automation.Driver
	browser  automation.Browser
	bctx     automation.BrowserContext
	tracker  *surfaceTracker
	released bool
}

// release closes context, browser and driver in that order. Only the first
// call does anything; errors from every stage are joined.
func (s *session) release() error {
	if s.released {
		return nil
	}
	s.released = true
	var failures []error
	if s.bctx != nil {
		if err := s.bctx.Close(); err != nil {
			failures = append(failures, fmt.Errorf("close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			failures = append(failures, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.driver != nil {
		if err := s.driver.Stop(); err != nil {
			failures = append(failures, fmt.Errorf("stop driver: %w", err))
		}
	}
	return errors.Join(failures...)
}

// Run executes sc and returns its result. Run never returns an error: every
// failure, including an invalid backend or a panic, is reported through the
// Result.
func (r *Runner) Run(ctx context.Context, sc *scenario.Scenario) (res Result) {
	runID := r.newID()
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: runID, ScenarioID: sc.ID()})
	log := obs.From(ctx)
	start := r.now()

	res = Result{
		RunID:           runID,
		ScenarioID:      sc.ID(),
		ExpectedOutcome: sc.Expect(),
		StepIndex:       -1,
		StartedAt:       start.UTC(),
	}
	r.transition(runID, StateCreated, -1)
	log.Info("scenario started", "steps", sc.Len(), "expect", sc.Expect())

	sess := &session{tracker: &surfaceTracker{}}
	ex := &execution{sess: sess, log: log, index: -1}

	defer func() {
		if p := recover(); p != nil {
			log.Error("scenario panicked", "panic", p, "stack", string(debug.Stack()))
			err := errs.New(errs.Internal, fmt.Sprintf("panic: %v", p))
			r.conclude(&res, ex.index, ex.step, err)
		}
		r.finish(ctx, sess, &res, log)
		res.StepsRun = ex.stepsRun
		res.SoftTimeouts = ex.soft
		res.Elapsed = r.now().Sub(start)
		r.transition(runID, StateTerminal, -1)

		level := slog.LevelInfo
		if !res.Matched() {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "scenario finished",
			"outcome", res.Outcome,
			"expected", res.ExpectedOutcome,
			"code", res.Code,
			"step_index", res.StepIndex,
			"elapsed", res.Elapsed,
			"soft_timeouts", res.SoftTimeouts,
		)
	}()

	if err := r.acquire(ctx, sess, sc); err != nil {
		r.conclude(&res, -1, scenario.Step{}, r.classify(ctx, errs.Wrap(errs.SessionFault, "acquire browser session", err)))
		return res
	}
	r.transition(runID, StateSessionAcquired, -1)

	for i := 0; i < sc.Len(); i++ {
		step := sc.Step(i)
		ex.index, ex.step = i, step
		if err := ctx.Err(); err != nil {
			r.conclude(&res, i, step, errs.Wrap(errs.Canceled, "run canceled", err))
			return res
		}
		r.transition(runID, StateExecuting, i)
		err := r.runStep(ctx, ex, step)
		ex.stepsRun = i + 1
		if err != nil {
			r.conclude(&res, i, step, r.classify(ctx, err))
			return res
		}
	}

	res.Outcome = scenario.Passed
	r.transition(runID, StatePassed, -1)
	ex.index, ex.step = -1, scenario.Step{}
	if r.cfg.Linger > 0 {
		// Linger is cosmetic; cancellation just cuts it short.
		_ = r.sleep(ctx, r.cfg.Linger)
	}
	return res
}

// acquire starts the driver, launches a browser, and opens a context and its
// first page. Whatever was acquired before a failure stays on sess so release
// can close it.
func (r *Runner) acquire(ctx context.Context, sess *session, sc *scenario.Scenario) error {
	driver, err := r.launcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("start driver: %w", err)
	}
	sess.driver = driver

	browser, err := driver.Launch(ctx, automation.LaunchOptions{
		Headless: r.cfg.Headless,
		Args:     r.cfg.launchArgs(),
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	sess.browser = browser

	opts := automation.ContextOptions{
		DefaultTimeout:           r.cfg.stepTimeout(0),
		DefaultNavigationTimeout: r.cfg.navigationTimeout(0),
		Viewport:                 r.cfg.Viewport,
		Permissions:              sc.Permissions(),
	}
	if g, ok := sc.Geolocation(); ok {
		opts.Geolocation = &automation.Geolocation{Latitude: g.Latitude, Longitude: g.Longitude}
	}
	bctx, err := browser.NewContext(ctx, opts)
	if err != nil {
		return fmt.Errorf("new context: %w", err)
	}
	sess.bctx = bctx
	bctx.OnPage(sess.tracker.Opened)

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("new page: %w", err)
	}
	sess.tracker.Opened(page)
	return nil
}

// classify maps a step failure onto the terminal taxonomy. Caller
// cancellation wins over everything, then backend faults, then the code the
// step assigned.
func (r *Runner) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errs.CodeOf(err) == errs.Canceled {
			return err
		}
		return errs.Wrap(errs.Canceled, "run canceled", errors.Join(ctxErr, err))
	}
	if automation.IsSessionFault(err) && errs.CodeOf(err) != errs.SessionFault {
		return errs.Wrap(errs.SessionFault, "browser session lost", err)
	}
	return err
}

// conclude records a terminal failure on res and emits the outcome transition.
func (r *Runner) conclude(res *Result, index int, step scenario.Step, err error) {
	res.Err = err
	res.Code = errs.CodeOf(err)
	res.Message = err.Error()
	res.StepIndex = index
	if index >= 0 {
		res.Step = step.Describe()
	}
	var mm *mismatch
	if errors.As(err, &mm) {
		res.Expected = mm.expected
		res.Actual = mm.actual
	}
	if !errs.IsHarnessFault(res.Code) {
		res.Outcome = scenario.Failed
		r.transition(res.RunID, StateFailed, index)
		return
	}
	res.Outcome = scenario.Errored
	r.transition(res.RunID, StateErrored, index)
}

// finish collects last-known page state, then releases the session. It runs
// detached from ctx so a canceled run still reports where it stopped.
func (r *Runner) finish(ctx context.Context, sess *session, res *Result, log *slog.Logger) {
	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsTimeout)
	defer cancel()

	if page := sess.tracker.Active(); page != nil {
		res.LastURL = page.URL()
		if title, err := page.Title(diagCtx); err == nil {
			res.LastTitle = title
		}
		if res.Outcome != scenario.Passed {
			if text, err := page.Locator("body").First().InnerText(diagCtx, diagnosticsTimeout); err == nil {
				res.ContentPreview = logutil.Truncate(text, contentPreviewMax)
			}
			if r.cfg.CaptureScreenshot {
				shot, err := page.Screenshot(diagCtx)
				if err != nil {
					log.Debug("screenshot failed", "error", err)
				} else {
					res.Screenshot = shot
				}
			}
		}
	}

	if err := sess.release(); err != nil {
		res.ReleaseError = err.Error()
		log.Warn("session release failed", "error", err)
	}
	r.transition(res.RunID, StateReleased, -1)
}

func (r *Runner) transition(runID string, state State, stepIndex int) {
	if r.hook != nil {
		r.hook(runID, state, stepIndex)
	}
}
