package runner

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/uiscenario/internal/automation"
)

const (
	DefaultStepTimeout       = 5 * time.Second
	DefaultNavigationTimeout = 10 * time.Second
	DefaultStabilizeTimeout  = 3 * time.Second
	DefaultSettleDelay       = 3 * time.Second

	diagnosticsTimeout = 2 * time.Second
	contentPreviewMax  = 500
)

// DefaultLaunchArgs keep Chromium stable inside containers.
var DefaultLaunchArgs = []string{
	"--disable-dev-shm-usage",
	"--ipc=host",
	"--single-process",
}

// ProbeScope selects what a stabilization probe waits on.
type ProbeScope string

const (
	// ScopeDocument waits on the main document of the active page.
	ScopeDocument ProbeScope = "document"
	// ScopeFrames waits on every frame attached at probe time, one by one.
	ScopeFrames ProbeScope = "frames"
)

// Probe is one post-navigation stabilization wait. A probe that is not
// Required may fail without affecting the run; it is tried exactly once.
type Probe struct {
	Name     string
	Scope    ProbeScope
	State    automation.LoadState
	Timeout  time.Duration
	Required bool
}

// StabilizationPolicy is evaluated in order after every navigation.
type StabilizationPolicy []Probe

// DefaultStabilization waits best-effort for DOMContentLoaded on the main
// document and then on each attached frame.
func DefaultStabilization(timeout time.Duration) StabilizationPolicy {
	if timeout <= 0 {
		timeout = DefaultStabilizeTimeout
	}
	return StabilizationPolicy{
		{Name: "document-content-parsed", Scope: ScopeDocument, State: automation.LoadDOMContentLoaded, Timeout: timeout},
		{Name: "frames-content-parsed", Scope: ScopeFrames, State: automation.LoadDOMContentLoaded, Timeout: timeout},
	}
}

// Config controls one runner. The zero value is usable: every unset duration
// falls back to its default, and a nil Stabilization uses
// DefaultStabilization. Use an empty, non-nil policy to disable probes.
type Config struct {
	BaseURL           string
	StepTimeout       time.Duration
	NavigationTimeout time.Duration
	Headless          bool
	Viewport          automation.Viewport
	LaunchArgs        []string
	// SettleDelay is slept before every fill and click to absorb animations.
	// Zero disables it.
	SettleDelay   time.Duration
	Stabilization StabilizationPolicy
	// Linger keeps a passing session open briefly before release.
	Linger            time.Duration
	CaptureScreenshot bool
}

func (c Config) stepTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if c.StepTimeout > 0 {
		return c.StepTimeout
	}
	return DefaultStepTimeout
}

func (c Config) navigationTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if c.NavigationTimeout > 0 {
		return c.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

func (c Config) stabilization() StabilizationPolicy {
	if c.Stabilization == nil {
		return DefaultStabilization(DefaultStabilizeTimeout)
	}
	return c.Stabilization
}

// launchArgs appends the window size flag so headless screenshots match the
// configured viewport.
func (c Config) launchArgs() []string {
	args := append([]string(nil), c.LaunchArgs...)
	if c.Viewport.Width > 0 && c.Viewport.Height > 0 {
		hasSize := false
		for _, a := range args {
			if strings.HasPrefix(a, "--window-size=") {
				hasSize = true
				break
			}
		}
		if !hasSize {
			args = append(args, fmt.Sprintf("--window-size=%d,%d", c.Viewport.Width, c.Viewport.Height))
		}
	}
	return args
}

// resolveURL joins a relative scenario URL onto the base URL. Absolute URLs
// pass through unchanged.
func (c Config) resolveURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if raw == "" || raw == "/" {
		return base + "/"
	}
	return base + "/" + strings.TrimLeft(raw, "/")
}
