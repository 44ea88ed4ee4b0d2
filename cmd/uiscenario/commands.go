package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kuitang/uiscenario/internal/automation"
	"github.com/kuitang/uiscenario/internal/automation/fake"
	"github.com/kuitang/uiscenario/internal/automation/pwauto"
	"github.com/kuitang/uiscenario/internal/config"
	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/mcp"
	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/report"
	"github.com/kuitang/uiscenario/internal/runner"
	"github.com/kuitang/uiscenario/internal/scenario"
	"github.com/kuitang/uiscenario/scenarios"
)

const flakyWindow = 10

// loadScenarios reads paths (files or directories), or the built-in suite
// when paths is empty, and keeps the scenarios matching tags.
func loadScenarios(paths []string, tags []string) ([]*scenario.Scenario, error) {
	loader := scenario.NewLoader()
	var all []*scenario.Scenario
	if len(paths) == 0 {
		builtin, err := loader.LoadFS(scenarios.FS, ".")
		if err != nil {
			return nil, err
		}
		all = builtin
	}
	seen := make(map[string]string)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, "scenario path", err)
		}
		var loaded []*scenario.Scenario
		if info.IsDir() {
			loaded, err = loader.LoadFS(os.DirFS(p), ".")
		} else {
			loaded, err = loader.LoadFile(p)
		}
		if err != nil {
			return nil, err
		}
		for _, sc := range loaded {
			if prev, dup := seen[sc.ID()]; dup {
				return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("duplicate scenario id %q in %s and %s", sc.ID(), prev, p))
			}
			seen[sc.ID()] = p
		}
		all = append(all, loaded...)
	}

	if len(tags) == 0 {
		return all, nil
	}
	var out []*scenario.Scenario
	for _, sc := range all {
		for _, tag := range tags {
			if sc.HasTag(tag) {
				out = append(out, sc)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("no scenario carries tags %s", strings.Join(tags, ", ")))
	}
	return out, nil
}

// newRunner builds the runner over the real browser, or the permissive
// in-memory backend for --dry-run.
func newRunner(cfg *config.Config) *runner.Runner {
	rc := cfg.RunnerConfig()
	var launcher automation.Launcher
	if cfg.DryRun {
		launcher = fake.NewLauncher(fake.App{Permissive: true})
		rc.SettleDelay, rc.Linger = 0, 0
	} else {
		launcher = &pwauto.Launcher{Browser: cfg.Browser, Install: cfg.InstallBrowsers}
	}
	log := obs.Pkg("runner")
	return runner.New(launcher, rc, runner.WithStateHook(func(runID string, state runner.State, stepIndex int) {
		log.Debug("run state", "run_id", runID, "state", state, "step_index", stepIndex)
	}))
}

func runCommand(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	scs, err := loadScenarios(args, cfg.Tags)
	if err != nil {
		return failure(stderr, err)
	}
	cfg.PrintStartupSummary()

	sk, err := openSinks(ctx, cfg)
	if err != nil {
		return failure(stderr, err)
	}
	defer sk.Close()

	suite := "suite-" + time.Now().UTC().Format("20060102T150405Z")
	opts := cfg.SuiteOptions(suite)
	if cfg.DryRun {
		opts.LaunchRate = 0
	}
	results := newRunner(cfg).RunAll(ctx, scs, opts)

	// Sinks still run after an interrupt.
	sinkCtx := obs.WithCorrelation(context.WithoutCancel(ctx), obs.Correlation{Suite: suite})
	rep := report.New(suite, results, time.Now())
	for _, res := range results {
		if link := sk.recordResult(sinkCtx, suite, res); link != "" {
			rep.Link(res.RunID, link)
		}
	}
	sk.warnFlaky(sinkCtx, results)

	body, ext, err := rep.Render(cfg.Format)
	if err != nil {
		return failure(stderr, err)
	}
	if err := writeReport(cfg.ReportPath, body, stdout); err != nil {
		return failure(stderr, err)
	}
	reportURL := sk.publishReport(sinkCtx, suite, rep, ext, body)
	sk.notify(sinkCtx, cfg, rep, reportURL)

	if cfg.Format != config.FormatText && cfg.ReportPath == "" {
		s := rep.Summary
		fmt.Fprintf(stderr, "%d scenarios: %d passed, %d failed, %d errored, %d unexpected\n",
			s.Total, s.Passed, s.Failed, s.Errored, s.Mismatched)
	}
	return exitStatus(cfg, results)
}

// exitStatus is 0 when every scenario matched. A dry run only checks that
// every scenario executes, since assertions have nothing real to read.
func exitStatus(cfg *config.Config, results []runner.Result) int {
	for _, res := range results {
		if cfg.DryRun {
			if res.Outcome == scenario.Errored {
				return exitMismatch
			}
			continue
		}
		if !res.Matched() {
			return exitMismatch
		}
	}
	return exitOK
}

func writeReport(path string, body []byte, stdout io.Writer) error {
	if path == "" {
		_, err := stdout.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func listCommand(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	scs, err := loadScenarios(args, cfg.Tags)
	if err != nil {
		return failure(stderr, err)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEXPECT\tSTEPS\tTAGS\tDESCRIPTION")
	for _, sc := range scs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", sc.ID(), sc.Expect(), sc.Len(), strings.Join(sc.Tags(), ","), sc.Description())
	}
	if err := tw.Flush(); err != nil {
		return failure(stderr, err)
	}
	return exitOK
}

func historyCommand(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: uiscenario history <scenario id>")
		return exitUsage
	}
	if !cfg.HistoryEnabled() {
		fmt.Fprintln(stderr, "history is disabled (set HISTORY_KEY, without --no-history)")
		return exitUsage
	}
	sk, err := openSinks(ctx, cfg)
	if err != nil {
		return failure(stderr, err)
	}
	defer sk.Close()

	entries, err := sk.history.Recent(ctx, args[0], flakyWindow)
	if err != nil {
		return failure(stderr, err)
	}
	st, err := sk.history.Stability(ctx, args[0], flakyWindow)
	if err != nil {
		return failure(stderr, err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOUTCOME\tEXPECTED\tELAPSED\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.StartedAt.Format(time.RFC3339), e.Outcome, e.ExpectedOutcome,
			e.Elapsed.Round(time.Millisecond), e.Message)
	}
	if err := tw.Flush(); err != nil {
		return failure(stderr, err)
	}
	fmt.Fprintf(stdout, "\n%s: %d of %d recent runs matched", st.ScenarioID, st.Matched, st.Runs)
	if st.Flaky {
		fmt.Fprint(stdout, " (flaky)")
	}
	fmt.Fprintln(stdout)
	return exitOK
}

func mcpCommand(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	scs, err := loadScenarios(args, cfg.Tags)
	if err != nil {
		return failure(stderr, err)
	}
	sk, err := openSinks(ctx, cfg)
	if err != nil {
		return failure(stderr, err)
	}
	defer sk.Close()

	suite := "mcp-" + time.Now().UTC().Format("20060102T150405Z")
	srv := mcp.NewServer(scs, newRunner(cfg), func(ctx context.Context, res runner.Result) {
		sk.recordResult(context.WithoutCancel(ctx), suite, res)
	})
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return failure(stderr, err)
	}
	return exitOK
}
