// Package automation describes the browser-automation capability set the
// runner consumes. Backends implement it; the runner never sees a concrete
// browser product.
//
// Every blocking call takes a context. Backends must return promptly once the
// context is done, and must translate their own timeout and closed-target
// failures into ErrTimeout and ErrTargetClosed so callers can classify them.
package automation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout reports that an operation's explicit timeout elapsed.
	ErrTimeout = errors.New("automation: timeout")
	// ErrTargetClosed reports that the page, context or browser went away.
	ErrTargetClosed = errors.New("automation: target closed")
	// ErrNotFound reports that a locator matched nothing.
	ErrNotFound = errors.New("automation: element not found")
	// ErrStrictViolation reports that a strict locator matched more than one
	// element.
	ErrStrictViolation = errors.New("automation: strict mode violation")
)

// LoadState is a document lifecycle milestone.
type LoadState string

const (
	LoadCommit           LoadState = "commit"
	LoadDOMContentLoaded LoadState = "domcontentloaded"
	LoadLoad             LoadState = "load"
	LoadNetworkIdle      LoadState = "networkidle"
)

// ElementState is an element lifecycle state a locator can wait for.
type ElementState string

const (
	ElementAttached ElementState = "attached"
	ElementDetached ElementState = "detached"
	ElementVisible  ElementState = "visible"
	ElementHidden   ElementState = "hidden"
)

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	Headless bool
	Args     []string
}

// Geolocation is the position reported to pages through navigator.geolocation.
type Geolocation struct {
	Latitude  float64
	Longitude float64
}

// ContextOptions configures an isolated browser context. Permissions are
// granted to every origin; "geolocation" is the common one.
type ContextOptions struct {
	DefaultTimeout           time.Duration
	DefaultNavigationTimeout time.Duration
	Viewport                 Viewport
	Permissions              []string
	Geolocation              *Geolocation
}

// GotoOptions bounds a navigation.
type GotoOptions struct {
	WaitUntil LoadState
	Timeout   time.Duration
}

// Cookie is a browser cookie as read back from a context.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Launcher starts the automation driver.
type Launcher interface {
	Start(ctx context.Context) (Driver, error)
}

// Driver owns the automation backend process.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	Stop() error
}

// Browser is one launched browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Close() error
}

// BrowserContext is an isolated cookie/storage jar holding pages.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	// Pages returns open pages in the order they were opened.
	Pages() []Page
	// OnPage registers a callback for pages opened by the application, e.g.
	// via target=_blank or window.open.
	OnPage(fn func(Page))
	Cookies(ctx context.Context) ([]Cookie, error)
	Close() error
}

// Surface is anything locators can be resolved against.
type Surface interface {
	Locator(selector string) Locator
}

// Page is a top-level browsing surface.
type Page interface {
	Surface
	Goto(ctx context.Context, url string, opts GotoOptions) error
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
	Frames() []Frame
	URL() string
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	IsClosed() bool
}

// Frame is a document attached to a page, including the main frame.
type Frame interface {
	Name() string
	URL() string
	WaitForLoadState(ctx context.Context, state LoadState, timeout time.Duration) error
}

// Locator lazily identifies elements. Resolution happens when an action runs.
//
// A locator from Surface.Locator is strict: an action on it fails with
// ErrStrictViolation when the selector matches more than one element. Nth and
// First narrow it to a single match.
type Locator interface {
	Nth(index int) Locator
	First() Locator
	Fill(ctx context.Context, value string, timeout time.Duration) error
	Click(ctx context.Context, timeout time.Duration) error
	WaitFor(ctx context.Context, state ElementState, timeout time.Duration) error
	InnerText(ctx context.Context, timeout time.Duration) (string, error)
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context, timeout time.Duration) (bool, error)
}

// IsTimeout reports whether err is a backend timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsSessionFault reports whether err means the backend itself is gone.
func IsSessionFault(err error) bool {
	return errors.Is(err, ErrTargetClosed)
}
