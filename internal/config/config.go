// Package config provides centralized configuration for the uiscenario CLI.
// It loads configuration from CLI flags and environment variables, validates
// it, and provides sensible defaults.
//
// CLI flags select what runs and which integrations are disabled (--no-s3,
// --no-email, --no-history, --test). Environment variables carry secrets,
// timing and service configuration.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/uiscenario/internal/automation"
	"github.com/kuitang/uiscenario/internal/runner"
)

const (
	defaultBaseURL     = "http://localhost:3000"
	defaultRegion      = "auto"
	defaultHistoryPath = "./uiscenario-history.db"
	defaultNotifyFrom  = "uiscenario@localhost"
)

// Report formats accepted by --format.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// Config holds all CLI configuration.
type Config struct {
	// Target and browser
	BaseURL         string
	Browser         string   // chromium, firefox or webkit
	InstallBrowsers bool     // download the driver and browser on first start
	Headless        bool
	ViewportWidth   int
	ViewportHeight  int
	BrowserArgs     []string // BROWSER_ARGS, comma separated
	DryRun          bool     // run against the in-memory backend

	// Timing
	StepTimeout       time.Duration
	NavigationTimeout time.Duration
	StabilizeTimeout  time.Duration
	SettleDelay       time.Duration
	Linger            time.Duration

	// Suite
	Parallelism         int
	LaunchRPS           float64
	LaunchBurst         int
	Tags                []string
	ScreenshotOnFailure bool

	// Output
	Format     string
	ReportPath string

	// Disabled integrations (controlled by CLI flags, not env vars)
	NoHistory bool
	NoS3      bool
	NoEmail   bool

	// Run history (SQLCipher)
	HistoryPath string
	HistoryKey  string // 64 hex characters (32 bytes)

	// Artifact storage (S3-compatible)
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL

	// Failure notification (Resend)
	ResendAPIKey string
	NotifyFrom   string
	NotifyTo     []string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Flags holds parsed CLI flag values. Zero values leave the environment in
// charge.
type Flags struct {
	BaseURL     string
	Parallelism int
	Headed      bool
	DryRun      bool
	Install     bool
	Tags        string
	Format      string
	ReportPath  string
	NoHistory   bool
	NoS3        bool
	NoEmail     bool
	Test        bool
}

// RegisterFlags registers the shared flags on fs and returns the destination.
// --test is shorthand for --no-history --no-s3 --no-email and is folded in
// by LoadConfig.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.BaseURL, "base-url", "", "Application base URL (overrides BASE_URL)")
	fs.IntVar(&f.Parallelism, "parallel", 0, "Scenarios run concurrently (overrides PARALLELISM)")
	fs.BoolVar(&f.Headed, "headed", false, "Show the browser window")
	fs.BoolVar(&f.DryRun, "dry-run", false, "Run against the in-memory browser backend")
	fs.BoolVar(&f.Install, "install", false, "Install the playwright driver and browser before running")
	fs.StringVar(&f.Tags, "tag", "", "Only run scenarios carrying one of these comma-separated tags")
	fs.StringVar(&f.Format, "format", "", "Report format: text, json, markdown or html")
	fs.StringVar(&f.ReportPath, "report", "", "Write the report to this file instead of stdout")
	fs.BoolVar(&f.NoHistory, "no-history", false, "Do not record runs in the history database")
	fs.BoolVar(&f.NoS3, "no-s3", false, "Do not upload artifacts")
	fs.BoolVar(&f.NoEmail, "no-email", false, "Do not send failure notifications")
	fs.BoolVar(&f.Test, "test", false, "Shorthand for --no-history --no-s3 --no-email")
	return f
}

// LoadConfig loads configuration from environment variables and flag values.
// A nil f behaves like no flags were given.
func LoadConfig(f *Flags) (*Config, error) {
	if f == nil {
		f = &Flags{}
	}
	cfg := &Config{}

	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("BASE_URL", defaultBaseURL), "/")
	if f.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(f.BaseURL, "/")
	}
	cfg.Browser = getEnvOrDefault("BROWSER", "chromium")
	cfg.InstallBrowsers = parseBoolOrDefault("INSTALL_BROWSERS", false) || f.Install
	cfg.Headless = parseBoolOrDefault("HEADLESS", true) && !f.Headed
	cfg.ViewportWidth = parseIntOrDefault("VIEWPORT_WIDTH", 1280)
	cfg.ViewportHeight = parseIntOrDefault("VIEWPORT_HEIGHT", 720)
	cfg.BrowserArgs = runner.DefaultLaunchArgs
	if raw, ok := os.LookupEnv("BROWSER_ARGS"); ok {
		cfg.BrowserArgs = splitList(raw)
	}
	cfg.DryRun = f.DryRun

	cfg.StepTimeout = parseDurationOrDefault("STEP_TIMEOUT", runner.DefaultStepTimeout)
	cfg.NavigationTimeout = parseDurationOrDefault("NAVIGATION_TIMEOUT", runner.DefaultNavigationTimeout)
	cfg.StabilizeTimeout = parseDurationOrDefault("STABILIZE_TIMEOUT", runner.DefaultStabilizeTimeout)
	cfg.SettleDelay = parseDurationOrDefault("SETTLE_DELAY", runner.DefaultSettleDelay)
	cfg.Linger = parseDurationOrDefault("LINGER", 0)

	cfg.Parallelism = parseIntOrDefault("PARALLELISM", 1)
	if f.Parallelism != 0 {
		cfg.Parallelism = f.Parallelism
	}
	cfg.LaunchRPS = parseFloat64OrDefault("LAUNCH_RPS", 2)
	cfg.LaunchBurst = parseIntOrDefault("LAUNCH_BURST", 1)
	cfg.Tags = splitList(f.Tags)
	cfg.ScreenshotOnFailure = parseBoolOrDefault("SCREENSHOT_ON_FAILURE", true)

	cfg.Format = FormatText
	if f.Format != "" {
		cfg.Format = strings.ToLower(f.Format)
	}
	cfg.ReportPath = f.ReportPath

	cfg.NoHistory = f.NoHistory || f.Test
	cfg.NoS3 = f.NoS3 || f.Test
	cfg.NoEmail = f.NoEmail || f.Test

	cfg.HistoryPath = getEnvOrDefault("HISTORY_DB", defaultHistoryPath)
	cfg.HistoryKey = strings.TrimSpace(os.Getenv("HISTORY_KEY"))

	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))
	cfg.AWSPublicURL = strings.TrimSpace(os.Getenv("S3_PUBLIC_URL"))
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}

	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.NotifyFrom = getEnvOrDefault("NOTIFY_FROM", defaultNotifyFrom)
	cfg.NotifyTo = splitList(os.Getenv("NOTIFY_EMAIL"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete and consistent. An
// integration is only validated when it is enabled.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL))
	}
	switch c.Browser {
	case "chromium", "firefox", "webkit":
	default:
		errs = append(errs, fmt.Sprintf("BROWSER must be chromium, firefox or webkit, got %q", c.Browser))
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, "VIEWPORT_WIDTH and VIEWPORT_HEIGHT must be positive")
	}

	if c.StepTimeout <= 0 {
		errs = append(errs, "STEP_TIMEOUT must be positive")
	}
	if c.NavigationTimeout <= 0 {
		errs = append(errs, "NAVIGATION_TIMEOUT must be positive")
	}
	if c.StabilizeTimeout <= 0 {
		errs = append(errs, "STABILIZE_TIMEOUT must be positive")
	}
	if c.SettleDelay < 0 {
		errs = append(errs, "SETTLE_DELAY must not be negative")
	}
	if c.Linger < 0 {
		errs = append(errs, "LINGER must not be negative")
	}

	if c.Parallelism < 1 {
		errs = append(errs, "PARALLELISM must be at least 1")
	}
	if c.LaunchRPS < 0 {
		errs = append(errs, "LAUNCH_RPS must not be negative (0 disables pacing)")
	}
	if c.LaunchBurst < 1 {
		errs = append(errs, "LAUNCH_BURST must be at least 1")
	}

	switch c.Format {
	case FormatText, FormatJSON, FormatMarkdown, FormatHTML:
	default:
		errs = append(errs, fmt.Sprintf("--format must be text, json, markdown or html, got %q", c.Format))
	}

	if c.HistoryEnabled() {
		if _, err := hex.DecodeString(c.HistoryKey); err != nil || len(c.HistoryKey) != 64 {
			errs = append(errs, "HISTORY_KEY must be 64 hex characters (32 bytes); generate with: openssl rand -hex 32")
		}
	}

	if c.ArtifactsEnabled() {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when BUCKET_NAME is set (or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when BUCKET_NAME is set (or use --no-s3)")
		}
	}

	if c.NotifyEnabled() && c.ResendAPIKey == "" {
		errs = append(errs, "RESEND_API_KEY is required when NOTIFY_EMAIL is set (or use --no-email)")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// HistoryEnabled reports whether runs are recorded. History is opt-in: it
// needs HISTORY_KEY and is turned off by --no-history.
func (c *Config) HistoryEnabled() bool {
	return !c.NoHistory && c.HistoryKey != ""
}

// ArtifactsEnabled reports whether reports and screenshots are uploaded.
func (c *Config) ArtifactsEnabled() bool {
	return !c.NoS3 && c.AWSBucketName != ""
}

// NotifyEnabled reports whether failure emails are sent.
func (c *Config) NotifyEnabled() bool {
	return !c.NoEmail && len(c.NotifyTo) > 0
}

// RunnerConfig converts the CLI configuration into the runner's.
func (c *Config) RunnerConfig() runner.Config {
	return runner.Config{
		BaseURL:           c.BaseURL,
		StepTimeout:       c.StepTimeout,
		NavigationTimeout: c.NavigationTimeout,
		Headless:          c.Headless,
		Viewport:          automation.Viewport{Width: c.ViewportWidth, Height: c.ViewportHeight},
		LaunchArgs:        append([]string(nil), c.BrowserArgs...),
		SettleDelay:       c.SettleDelay,
		Stabilization:     runner.DefaultStabilization(c.StabilizeTimeout),
		Linger:            c.Linger,
		CaptureScreenshot: c.ScreenshotOnFailure,
	}
}

// SuiteOptions returns the batch limits for RunAll.
func (c *Config) SuiteOptions(name string) runner.SuiteOptions {
	return runner.SuiteOptions{
		Name:        name,
		Parallelism: c.Parallelism,
		LaunchRate:  c.LaunchRPS,
		LaunchBurst: c.LaunchBurst,
	}
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "uiscenario starting...")
	fmt.Fprintf(os.Stderr, "  Target:    %s\n", c.BaseURL)

	if c.DryRun {
		fmt.Fprintln(os.Stderr, "  Browser:   in-memory (--dry-run)")
	} else {
		mode := "headless"
		if !c.Headless {
			mode = "headed"
		}
		fmt.Fprintf(os.Stderr, "  Browser:   %s (%s, %dx%d)\n", c.Browser, mode, c.ViewportWidth, c.ViewportHeight)
	}
	fmt.Fprintf(os.Stderr, "  Timing:    step %s, navigation %s, settle %s\n", c.StepTimeout, c.NavigationTimeout, c.SettleDelay)
	fmt.Fprintf(os.Stderr, "  Suite:     parallelism %d, %.1f launches/s\n", c.Parallelism, c.LaunchRPS)

	if c.HistoryEnabled() {
		fmt.Fprintf(os.Stderr, "  History:   %s (encrypted)\n", c.HistoryPath)
	} else if c.NoHistory {
		fmt.Fprintln(os.Stderr, "  History:   disabled (--no-history)")
	} else {
		fmt.Fprintln(os.Stderr, "  History:   disabled (HISTORY_KEY not set)")
	}
	if c.ArtifactsEnabled() {
		fmt.Fprintf(os.Stderr, "  Artifacts: s3://%s (endpoint: %s)\n", c.AWSBucketName, c.AWSEndpointS3)
	} else {
		fmt.Fprintln(os.Stderr, "  Artifacts: disabled")
	}
	if c.NotifyEnabled() {
		fmt.Fprintf(os.Stderr, "  Notify:    Resend (from: %s, to: %s)\n", c.NotifyFrom, strings.Join(c.NotifyTo, ", "))
	} else {
		fmt.Fprintln(os.Stderr, "  Notify:    disabled")
	}
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsValidationError reports whether err is a configuration problem the user
// can fix, as opposed to an I/O failure.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
