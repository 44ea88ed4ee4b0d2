package runner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/scenario"
)

// SuiteOptions bounds a batch run.
type SuiteOptions struct {
	// Name tags every log line of the batch.
	Name string
	// Parallelism caps concurrently open sessions. Values below 1 mean 1.
	Parallelism int
	// LaunchRate caps session launches per second. Zero means unlimited.
	LaunchRate  float64
	LaunchBurst int
}

// RunAll runs scenarios concurrently, each in its own session, and returns
// their results in input order. A scenario that never got a launch slot
// because ctx ended is reported as Errored with code canceled.
func (r *Runner) RunAll(ctx context.Context, scenarios []*scenario.Scenario, opts SuiteOptions) []Result {
	if opts.Name != "" {
		ctx = obs.WithCorrelation(ctx, obs.Correlation{Suite: opts.Name})
	}
	limit := rate.Inf
	if opts.LaunchRate > 0 {
		limit = rate.Limit(opts.LaunchRate)
	}
	burst := opts.LaunchBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]Result, len(scenarios))
	// Workers never return errors: a failing scenario must not cancel its
	// siblings, so the group is used only for its concurrency limit.
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, sc := range scenarios {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				results[i] = r.notStarted(sc, err)
				return nil
			}
			results[i] = r.Run(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()

	obs.From(ctx).Info("suite finished", "scenarios", len(scenarios), "parallelism", parallelism)
	return results
}

func (r *Runner) notStarted(sc *scenario.Scenario, cause error) Result {
	err := errs.Wrap(errs.Canceled, "scenario not started", cause)
	return Result{
		RunID:           r.newID(),
		ScenarioID:      sc.ID(),
		Outcome:         scenario.Errored,
		ExpectedOutcome: sc.Expect(),
		Code:            errs.Canceled,
		Message:         err.Error(),
		StepIndex:       -1,
		StartedAt:       r.now().UTC(),
		Elapsed:         time.Duration(0),
		Err:             err,
	}
}
