// Package fake is an in-memory automation backend. It models pages as a set of
// selector-addressed elements plus visible text, lets tests script how the
// application reacts to navigation, fills and clicks, and counts every
// acquisition and release so lifecycle invariants can be asserted.
//
// Waits never sleep: a wait whose condition does not hold when it is called
// fails immediately with automation.ErrTimeout, as if the timeout elapsed.
// Locators are strict like Playwright's: an un-narrowed locator matching more
// than one element fails with automation.ErrStrictViolation.
package fake

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/uiscenario/internal/automation"
)

// Op names a backend operation for fault injection.
type Op string

const (
	OpStart        Op = "start"
	OpLaunch       Op = "launch"
	OpNewContext   Op = "new_context"
	OpNewPage      Op = "new_page"
	OpGoto         Op = "goto"
	OpLoadState    Op = "load_state"
	OpFrameLoad    Op = "frame_load_state"
	OpFill         Op = "fill"
	OpClick        Op = "click"
	OpWaitFor      Op = "wait_for"
	OpInnerText    Op = "inner_text"
	OpIsEnabled    Op = "is_enabled"
	OpTitle        Op = "title"
	OpScreenshot   Op = "screenshot"
	OpCloseContext Op = "close_context"
	OpCloseBrowser Op = "close_browser"
	OpStop         Op = "stop"
)

// FaultFunc returns a non-nil error to make op on target fail.
type FaultFunc func(op Op, target string) error

// Element is one addressable element on a fake page.
type Element struct {
	Text     string
	Value    string
	Visible  bool
	Disabled bool
}

// entry keeps elements in the order they were added, as document order.
type entry struct {
	selector string
	el       *Element
}

// App scripts the application under test.
type App struct {
	// Routes set up a page after navigation, keyed by URL path ("/" for root).
	// Unknown paths yield an empty page.
	Routes map[string]func(p *Page)
	// OnClick runs after an element matched by selector is clicked.
	OnClick map[string]func(p *Page)
	// OnFill runs after a value is typed into selector.
	OnFill map[string]func(p *Page, value string)
	// Permissive makes every selector resolve: unknown elements are created
	// visible and empty, and "text=X" always finds X. Used by --dry-run.
	Permissive bool
}

// Stats counts lifecycle events across all sessions of a Launcher.
type Stats struct {
	Started         int
	Stopped         int
	BrowsersOpened  int
	BrowsersClosed  int
	ContextsOpened  int
	ContextsClosed  int
	PagesOpened     int
	Clicks          int
	Fills           int
	Navigations     int
	LastLaunch      automation.LaunchOptions
	LastContextOpts automation.ContextOptions
}

// Launcher is the fake automation entry point.
type Launcher struct {
	App   App
	Fault FaultFunc

	mu    sync.Mutex
	stats Stats
	// Executed records every action in order as "op target".
	executed []string
}

// NewLauncher returns a launcher serving app.
func NewLauncher(app App) *Launcher {
	return &Launcher{App: app}
}

// Stats returns a snapshot of the lifecycle counters.
func (l *Launcher) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Executed returns the ordered action log.
func (l *Launcher) Executed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.executed...)
}

func (l *Launcher) record(op Op, target string, update func(*Stats)) error {
	if l.Fault != nil {
		if err := l.Fault(op, target); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if update != nil {
		update(&l.stats)
	}
	switch op {
	case OpGoto, OpFill, OpClick, OpWaitFor, OpInnerText:
		l.executed = append(l.executed, string(op)+" "+target)
	}
	return nil
}

// Start implements automation.Launcher.
func (l *Launcher) Start(ctx context.Context) (automation.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.record(OpStart, "", func(s *Stats) { s.Started++ }); err != nil {
		return nil, err
	}
	return &driver{l: l}, nil
}

type driver struct {
	l       *Launcher
	stopped bool
}

func (d *driver) Launch(ctx context.Context, opts automation.LaunchOptions) (automation.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.l.record(OpLaunch, "", func(s *Stats) {
		s.BrowsersOpened++
		s.LastLaunch = opts
	}); err != nil {
		return nil, err
	}
	return &browser{l: d.l}, nil
}

func (d *driver) Stop() error {
	if d.stopped {
		return fmt.Errorf("fake: driver stopped twice")
	}
	d.stopped = true
	d.l.mu.Lock()
	d.l.stats.Stopped++
	d.l.mu.Unlock()
	if d.l.Fault != nil {
		return d.l.Fault(OpStop, "")
	}
	return nil
}

type browser struct {
	l      *Launcher
	closed bool
}

func (b *browser) NewContext(ctx context.Context, opts automation.ContextOptions) (automation.BrowserContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.l.record(OpNewContext, "", func(s *Stats) {
		s.ContextsOpened++
		s.LastContextOpts = opts
	}); err != nil {
		return nil, err
	}
	return &Context{l: b.l, opts: opts}, nil
}

func (b *browser) Close() error {
	if b.closed {
		return fmt.Errorf("fake: browser closed twice")
	}
	b.closed = true
	b.l.mu.Lock()
	b.l.stats.BrowsersClosed++
	b.l.mu.Unlock()
	if b.l.Fault != nil {
		return b.l.Fault(OpCloseBrowser, "")
	}
	return nil
}

// Context is a fake isolated browser context.
type Context struct {
	l    *Launcher
	opts automation.ContextOptions

	mu      sync.Mutex
	pages   []*Page
	onPage  []func(automation.Page)
	cookies []automation.Cookie
	closed  bool
}

func (c *Context) NewPage(ctx context.Context) (automation.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.l.record(OpNewPage, "", func(s *Stats) { s.PagesOpened++ }); err != nil {
		return nil, err
	}
	return c.addPage(), nil
}

func (c *Context) addPage() *Page {
	p := &Page{ctx: c}
	p.frames = []*Frame{{name: "", page: p}}
	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	return p
}

// OpenPage simulates the application opening a new tab at url. Registered
// OnPage callbacks fire before it returns.
func (c *Context) OpenPage(url string) *Page {
	p := c.addPage()
	p.navigate(url)
	c.mu.Lock()
	handlers := slices.Clone(c.onPage)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(p)
	}
	return p
}

// Options returns the options the context was created with, so scripted
// handlers can honour granted permissions.
func (c *Context) Options() automation.ContextOptions {
	return c.opts
}

// Granted reports whether permission was granted to the context.
func (c *Context) Granted(permission string) bool {
	return slices.Contains(c.opts.Permissions, permission)
}

// SetCookie stores a cookie, as a login response would.
func (c *Context) SetCookie(ck automation.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, ck)
}

func (c *Context) Pages() []automation.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]automation.Page, 0, len(c.pages))
	for _, p := range c.pages {
		out = append(out, p)
	}
	return out
}

func (c *Context) OnPage(fn func(automation.Page)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPage = append(c.onPage, fn)
}

func (c *Context) Cookies(ctx context.Context) ([]automation.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]automation.Cookie(nil), c.cookies...), nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("fake: context closed twice")
	}
	c.closed = true
	pages := append([]*Page(nil), c.pages...)
	c.mu.Unlock()
	for _, p := range pages {
		p.Close()
	}
	c.l.mu.Lock()
	c.l.stats.ContextsClosed++
	c.l.mu.Unlock()
	if c.l.Fault != nil {
		return c.l.Fault(OpCloseContext, "")
	}
	return nil
}

// Page is a fake page. Test callbacks mutate it through its exported methods.
type Page struct {
	ctx *Context

	mu       sync.Mutex
	url      string
	title    string
	texts    []string
	elements []entry
	rawHTML  []string
	frames   []*Frame
	closed   bool
}

// Context returns the owning context.
func (p *Page) Context() *Context { return p.ctx }

// SetTitle sets the document title.
func (p *Page) SetTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
}

// SetURL changes the current URL without a navigation, as client-side
// routing does.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// ShowText renders free text on the page.
func (p *Page) ShowText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
}

// Add appends an element matched by selector.
func (p *Page) Add(selector string, el Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := &el
	p.elements = append(p.elements, entry{selector: selector, el: e})
	return e
}

// Remove deletes every element matched by selector.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = slices.DeleteFunc(p.elements, func(e entry) bool { return e.selector == selector })
}

// InjectHTML adds markup to the serialized document verbatim, as an
// application that renders user input unescaped would.
func (p *Page) InjectHTML(markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rawHTML = append(p.rawHTML, markup)
}

// Clear empties the page, as a full navigation does.
func (p *Page) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = nil
	p.title = ""
	p.elements = nil
	p.rawHTML = nil
	p.frames = []*Frame{{name: "", page: p}}
}

// AttachFrame adds a sub-frame whose load-state waits return loadErr.
func (p *Page) AttachFrame(name string, loadErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, &Frame{name: name, page: p, loadErr: loadErr})
}

// Value returns what was typed into the first element matched by selector.
func (p *Page) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.elements {
		if e.selector == selector {
			return e.el.Value
		}
	}
	return ""
}

// VisibleText joins every visible text on the page.
func (p *Page) VisibleText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.visibleTextsLocked(), "\n")
}

func (p *Page) visibleTextsLocked() []string {
	parts := slices.Clone(p.texts)
	for _, e := range p.elements {
		if e.el.Visible && e.el.Text != "" {
			parts = append(parts, e.el.Text)
		}
	}
	return parts
}

func (p *Page) navigate(rawURL string) {
	p.Clear()
	p.SetURL(rawURL)
	if route := p.ctx.l.App.Routes[pathOf(rawURL)]; route != nil {
		route(p)
	}
}

func pathOf(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			rest = rest[j:]
		} else {
			rest = "/"
		}
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "/"
	}
	return rest
}

func (p *Page) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("fake: page closed: %w", automation.ErrTargetClosed)
	}
	return nil
}

func (p *Page) Locator(selector string) automation.Locator {
	return &Locator{page: p, selector: selector, index: -1}
}

func (p *Page) Goto(ctx context.Context, url string, opts automation.GotoOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.ctx.l.record(OpGoto, url, func(s *Stats) { s.Navigations++ }); err != nil {
		return err
	}
	p.navigate(url)
	return nil
}

func (p *Page) WaitForLoadState(ctx context.Context, state automation.LoadState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.ctx.l.record(OpLoadState, string(state), nil)
}

func (p *Page) Frames() []automation.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]automation.Frame, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f)
	}
	return out
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := p.ctx.l.record(OpTitle, "", nil); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	b.WriteString("<html><head><title>" + html.EscapeString(p.title) + "</title></head><body>")
	for _, t := range p.visibleTextsLocked() {
		b.WriteString("<div>" + html.EscapeString(t) + "</div>")
	}
	for _, raw := range p.rawHTML {
		b.WriteString(raw)
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ctx.l.record(OpScreenshot, "", nil); err != nil {
		return nil, err
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes the page, as the application closing a tab would.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Frame is a fake frame.
type Frame struct {
	name    string
	page    *Page
	loadErr error
}

func (f *Frame) Name() string { return f.name }
func (f *Frame) URL() string  { return f.page.URL() }

func (f *Frame) WaitForLoadState(ctx context.Context, state automation.LoadState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.page.ctx.l.record(OpFrameLoad, f.name, nil); err != nil {
		return err
	}
	return f.loadErr
}

// Locator resolves selectors against a fake page. "text=X" matches any
// visible text or element text containing X, in document order. index is -1
// until Nth or First narrows the locator.
type Locator struct {
	page     *Page
	selector string
	index    int
}

func (l *Locator) Nth(index int) automation.Locator {
	return &Locator{page: l.page, selector: l.selector, index: index}
}

func (l *Locator) First() automation.Locator {
	return l.Nth(0)
}

func (l *Locator) target() string {
	if l.index <= 0 {
		return l.selector
	}
	return fmt.Sprintf("%s[%d]", l.selector, l.index)
}

func (l *Locator) matchesLocked() []*Element {
	p := l.page
	var matches []*Element
	if text, ok := strings.CutPrefix(l.selector, "text="); ok {
		for _, t := range p.texts {
			if strings.Contains(t, text) {
				matches = append(matches, &Element{Text: t, Visible: true})
			}
		}
		for _, e := range p.elements {
			if e.el.Visible && strings.Contains(e.el.Text, text) {
				matches = append(matches, e.el)
			}
		}
		return matches
	}
	for _, e := range p.elements {
		if e.selector == l.selector {
			matches = append(matches, e.el)
		}
	}
	return matches
}

func (l *Locator) resolve() (*Element, error) {
	return l.resolveWith(l.page.ctx.l.App.Permissive)
}

// resolveWith finds the element; create makes a missing one, as permissive
// apps do.
func (l *Locator) resolveWith(create bool) (*Element, error) {
	if err := l.page.checkOpen(); err != nil {
		return nil, err
	}
	p := l.page
	p.mu.Lock()
	defer p.mu.Unlock()

	matches := l.matchesLocked()
	index := l.index
	if index < 0 {
		if len(matches) > 1 {
			return nil, fmt.Errorf("fake: %s resolved to %d elements: %w", l.selector, len(matches), automation.ErrStrictViolation)
		}
		index = 0
	}
	if index < len(matches) {
		return matches[index], nil
	}
	if !create {
		return nil, fmt.Errorf("fake: %s: %w", l.target(), automation.ErrNotFound)
	}
	if text, ok := strings.CutPrefix(l.selector, "text="); ok {
		return &Element{Text: text, Visible: true}, nil
	}
	var el *Element
	for n := len(matches); n <= index; n++ {
		el = &Element{Visible: true}
		p.elements = append(p.elements, entry{selector: l.selector, el: el})
	}
	return el, nil
}

// failFast reports errors a real backend raises without waiting out the
// timeout.
func failFast(err error) bool {
	return automation.IsSessionFault(err) || errors.Is(err, automation.ErrStrictViolation)
}

func (l *Locator) timeoutErr(cause error, timeout time.Duration) error {
	return fmt.Errorf("fake: %s not ready after %s: %w (%w)", l.target(), timeout, automation.ErrTimeout, cause)
}

func (l *Locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.page.ctx.l.record(OpFill, l.target(), func(s *Stats) { s.Fills++ }); err != nil {
		return err
	}
	el, err := l.resolve()
	if err != nil {
		if failFast(err) {
			return err
		}
		return l.timeoutErr(err, timeout)
	}
	l.page.mu.Lock()
	el.Value = value
	l.page.mu.Unlock()
	if fn := l.page.ctx.l.App.OnFill[l.selector]; fn != nil {
		fn(l.page, value)
	}
	return nil
}

func (l *Locator) Click(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.page.ctx.l.record(OpClick, l.target(), func(s *Stats) { s.Clicks++ }); err != nil {
		return err
	}
	el, err := l.resolve()
	if err != nil {
		if failFast(err) {
			return err
		}
		return l.timeoutErr(err, timeout)
	}
	l.page.mu.Lock()
	visible, disabled := el.Visible, el.Disabled
	l.page.mu.Unlock()
	if !visible {
		return l.timeoutErr(fmt.Errorf("element is not visible"), timeout)
	}
	if disabled {
		return l.timeoutErr(fmt.Errorf("element is not enabled"), timeout)
	}
	if fn := l.page.ctx.l.App.OnClick[l.selector]; fn != nil {
		fn(l.page)
	}
	return nil
}

func (l *Locator) WaitFor(ctx context.Context, state automation.ElementState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.page.ctx.l.record(OpWaitFor, l.target(), nil); err != nil {
		return err
	}
	absent := state == automation.ElementDetached || state == automation.ElementHidden
	el, err := l.resolveWith(l.page.ctx.l.App.Permissive && !absent)
	if failFast(err) {
		return err
	}
	var ok bool
	switch state {
	case automation.ElementAttached:
		ok = err == nil
	case automation.ElementDetached:
		ok = err != nil
	case automation.ElementHidden:
		ok = err != nil || !el.Visible
	default:
		ok = err == nil && el.Visible
	}
	if ok {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("element not %s", state)
	}
	return l.timeoutErr(err, timeout)
}

func (l *Locator) InnerText(ctx context.Context, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := l.page.ctx.l.record(OpInnerText, l.target(), nil); err != nil {
		return "", err
	}
	if l.selector == "body" {
		return l.page.VisibleText(), nil
	}
	el, err := l.resolve()
	if err != nil {
		if failFast(err) {
			return "", err
		}
		return "", l.timeoutErr(err, timeout)
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.Text, nil
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	el, err := l.resolve()
	if err != nil {
		if failFast(err) {
			return false, err
		}
		return false, nil
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return el.Visible, nil
}

func (l *Locator) IsEnabled(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := l.page.ctx.l.record(OpIsEnabled, l.target(), nil); err != nil {
		return false, err
	}
	el, err := l.resolve()
	if err != nil {
		if failFast(err) {
			return false, err
		}
		return false, l.timeoutErr(err, timeout)
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return !el.Disabled, nil
}
