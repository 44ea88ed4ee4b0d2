// Package pwauto implements the automation capability set on top of
// playwright-go.
//
// playwright-go calls are synchronous and not context-aware, so each blocking
// call runs on its own goroutine and the caller stops waiting once ctx is
// done. The abandoned call finishes (or fails) when the session is released.
package pwauto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uiscenario/internal/automation"
)

// Launcher starts a playwright driver per session.
type Launcher struct {
	// Browser selects the engine: chromium (default), firefox or webkit.
	Browser string
	// Install downloads the driver and browser before the first start.
	Install bool

	installOnce sync.Once
	installErr  error
}

// Start runs the playwright driver.
func (l *Launcher) Start(ctx context.Context) (automation.Driver, error) {
	if l.Install {
		l.installOnce.Do(func() {
			l.installErr = playwright.Install(&playwright.RunOptions{
				Browsers: []string{l.engine()},
			})
		})
		if l.installErr != nil {
			return nil, fmt.Errorf("pwauto: install %s: %w", l.engine(), l.installErr)
		}
	}
	pw, err := call(ctx, func() (*playwright.Playwright, error) {
		return playwright.Run()
	})
	if err != nil {
		return nil, fmt.Errorf("pwauto: start driver: %w", err)
	}
	return &driver{pw: pw, engine: l.engine()}, nil
}

func (l *Launcher) engine() string {
	if l.Browser == "" {
		return "chromium"
	}
	return l.Browser
}

type driver struct {
	pw     *playwright.Playwright
	engine string
}

func (d *driver) Launch(ctx context.Context, opts automation.LaunchOptions) (automation.Browser, error) {
	var bt playwright.BrowserType
	switch d.engine {
	case "firefox":
		bt = d.pw.Firefox
	case "webkit":
		bt = d.pw.WebKit
	default:
		bt = d.pw.Chromium
	}
	b, err := call(ctx, func() (playwright.Browser, error) {
		return bt.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
			Args:     opts.Args,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("pwauto: launch %s: %w", d.engine, err)
	}
	return &browser{b: b}, nil
}

func (d *driver) Stop() error {
	return translate(d.pw.Stop())
}

type browser struct {
	b playwright.Browser
}

func (b *browser) NewContext(ctx context.Context, opts automation.ContextOptions) (automation.BrowserContext, error) {
	options := playwright.BrowserNewContextOptions{}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		options.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	if len(opts.Permissions) > 0 {
		options.Permissions = opts.Permissions
	}
	if g := opts.Geolocation; g != nil {
		options.Geolocation = &playwright.Geolocation{Latitude: g.Latitude, Longitude: g.Longitude}
	}
	bc, err := call(ctx, func() (playwright.BrowserContext, error) {
		return b.b.NewContext(options)
	})
	if err != nil {
		return nil, fmt.Errorf("pwauto: new context: %w", err)
	}
	if opts.DefaultTimeout > 0 {
		bc.SetDefaultTimeout(ms(opts.DefaultTimeout))
	}
	if opts.DefaultNavigationTimeout > 0 {
		bc.SetDefaultNavigationTimeout(ms(opts.DefaultNavigationTimeout))
	}
	return newBrowserContext(bc), nil
}

func (b *browser) Close() error {
	return translate(b.b.Close())
}

type browserContext struct {
	bc playwright.BrowserContext

	mu    sync.Mutex
	pages map[playwright.Page]*page
}

func newBrowserContext(bc playwright.BrowserContext) *browserContext {
	return &browserContext{bc: bc, pages: make(map[playwright.Page]*page)}
}

// wrap keeps page identity stable so callers can compare pages.
func (c *browserContext) wrap(p playwright.Page) *page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.pages[p]; ok {
		return w
	}
	w := &page{p: p}
	c.pages[p] = w
	return w
}

func (c *browserContext) NewPage(ctx context.Context) (automation.Page, error) {
	p, err := call(ctx, func() (playwright.Page, error) {
		return c.bc.NewPage()
	})
	if err != nil {
		return nil, fmt.Errorf("pwauto: new page: %w", err)
	}
	return c.wrap(p), nil
}

func (c *browserContext) Pages() []automation.Page {
	raw := c.bc.Pages()
	out := make([]automation.Page, 0, len(raw))
	for _, p := range raw {
		out = append(out, c.wrap(p))
	}
	return out
}

func (c *browserContext) OnPage(fn func(automation.Page)) {
	c.bc.OnPage(func(p playwright.Page) {
		fn(c.wrap(p))
	})
}

func (c *browserContext) Cookies(ctx context.Context) ([]automation.Cookie, error) {
	raw, err := call(ctx, func() ([]playwright.Cookie, error) {
		return c.bc.Cookies()
	})
	if err != nil {
		return nil, fmt.Errorf("pwauto: cookies: %w", err)
	}
	out := make([]automation.Cookie, 0, len(raw))
	for _, ck := range raw {
		out = append(out, automation.Cookie{Name: ck.Name, Value: ck.Value, Domain: ck.Domain, Path: ck.Path})
	}
	return out, nil
}

func (c *browserContext) Close() error {
	return translate(c.bc.Close())
}

type page struct {
	p playwright.Page
}

func (p *page) Locator(selector string) automation.Locator {
	return &locator{l: p.p.Locator(selector)}
}

func (p *page) Goto(ctx context.Context, url string, opts automation.GotoOptions) error {
	options := playwright.PageGotoOptions{WaitUntil: waitUntil(opts.WaitUntil)}
	if opts.Timeout > 0 {
		options.Timeout = playwright.Float(ms(opts.Timeout))
	}
	_, err := call(ctx, func() (playwright.Response, error) {
		return p.p.Goto(url, options)
	})
	return err
}

func (p *page) WaitForLoadState(ctx context.Context, state automation.LoadState, timeout time.Duration) error {
	ls := loadState(state)
	if ls == nil {
		return nil
	}
	return run(ctx, func() error {
		return p.p.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: ls, Timeout: timeoutPtr(timeout)})
	})
}

func (p *page) Frames() []automation.Frame {
	raw := p.p.Frames()
	out := make([]automation.Frame, 0, len(raw))
	for _, f := range raw {
		out = append(out, &frame{f: f})
	}
	return out
}

func (p *page) URL() string { return p.p.URL() }

func (p *page) Title(ctx context.Context) (string, error) {
	return call(ctx, p.p.Title)
}

func (p *page) Content(ctx context.Context) (string, error) {
	return call(ctx, p.p.Content)
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	return call(ctx, func() ([]byte, error) {
		return p.p.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	})
}

func (p *page) IsClosed() bool { return p.p.IsClosed() }

type frame struct {
	f playwright.Frame
}

func (f *frame) Name() string { return f.f.Name() }
func (f *frame) URL() string  { return f.f.URL() }

func (f *frame) WaitForLoadState(ctx context.Context, state automation.LoadState, timeout time.Duration) error {
	ls := loadState(state)
	if ls == nil {
		return nil
	}
	return run(ctx, func() error {
		return f.f.WaitForLoadState(playwright.FrameWaitForLoadStateOptions{State: ls, Timeout: timeoutPtr(timeout)})
	})
}

type locator struct {
	l playwright.Locator
}

func (l *locator) Nth(index int) automation.Locator {
	return &locator{l: l.l.Nth(index)}
}

func (l *locator) First() automation.Locator {
	return &locator{l: l.l.First()}
}

func (l *locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	return run(ctx, func() error {
		return l.l.Fill(value, playwright.LocatorFillOptions{Timeout: timeoutPtr(timeout)})
	})
}

func (l *locator) Click(ctx context.Context, timeout time.Duration) error {
	return run(ctx, func() error {
		return l.l.Click(playwright.LocatorClickOptions{Timeout: timeoutPtr(timeout)})
	})
}

func (l *locator) WaitFor(ctx context.Context, state automation.ElementState, timeout time.Duration) error {
	return run(ctx, func() error {
		return l.l.WaitFor(playwright.LocatorWaitForOptions{State: selectorState(state), Timeout: timeoutPtr(timeout)})
	})
}

func (l *locator) InnerText(ctx context.Context, timeout time.Duration) (string, error) {
	return call(ctx, func() (string, error) {
		return l.l.InnerText(playwright.LocatorInnerTextOptions{Timeout: timeoutPtr(timeout)})
	})
}

func (l *locator) IsVisible(ctx context.Context) (bool, error) {
	return call(ctx, func() (bool, error) {
		return l.l.IsVisible()
	})
}

func (l *locator) IsEnabled(ctx context.Context, timeout time.Duration) (bool, error) {
	return call(ctx, func() (bool, error) {
		return l.l.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: timeoutPtr(timeout)})
	})
}

func run(ctx context.Context, fn func() error) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v: v, err: err}
	}()
	select {
	case r := <-done:
		return r.v, translate(r.err)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// translate maps playwright's sentinel errors onto the automation ones while
// keeping the original message.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %w", automation.ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %w", automation.ErrTargetClosed, err)
	case strings.Contains(err.Error(), "strict mode violation"):
		return fmt.Errorf("%w: %w", automation.ErrStrictViolation, err)
	default:
		return err
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

func timeoutPtr(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(ms(d))
}

func waitUntil(s automation.LoadState) *playwright.WaitUntilState {
	switch s {
	case automation.LoadDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case automation.LoadLoad:
		return playwright.WaitUntilStateLoad
	case automation.LoadNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateCommit
	}
}

// loadState returns nil for commit, which is a navigation milestone rather
// than a document load state; a committed document has already passed it.
func loadState(s automation.LoadState) *playwright.LoadState {
	switch s {
	case automation.LoadDOMContentLoaded:
		return playwright.LoadStateDomcontentloaded
	case automation.LoadLoad:
		return playwright.LoadStateLoad
	case automation.LoadNetworkIdle:
		return playwright.LoadStateNetworkidle
	default:
		return nil
	}
}

func selectorState(s automation.ElementState) *playwright.WaitForSelectorState {
	switch s {
	case automation.ElementAttached:
		return playwright.WaitForSelectorStateAttached
	case automation.ElementDetached:
		return playwright.WaitForSelectorStateDetached
	case automation.ElementHidden:
		return playwright.WaitForSelectorStateHidden
	default:
		return playwright.WaitForSelectorStateVisible
	}
}
