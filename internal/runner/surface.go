package runner

import (
	"sync"

	"github.com/kuitang/uiscenario/internal/automation"
)

// surfaceTracker follows the pages of one session. The active surface is the
// most recently opened or navigated page that is still open.
type surfaceTracker struct {
	mu    sync.Mutex
	pages []automation.Page
}

// Opened records a page the session or the application just opened. It is
// safe to call from backend event goroutines.
func (t *surfaceTracker) Opened(p automation.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.pages {
		if existing == p {
			return
		}
	}
	t.pages = append(t.pages, p)
}

// Activate moves p to the top so later steps resolve against it.
func (t *surfaceTracker) Activate(p automation.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.pages {
		if existing == p {
			t.pages = append(t.pages[:i], t.pages[i+1:]...)
			break
		}
	}
	t.pages = append(t.pages, p)
}

// Active returns the newest open page, or nil when every page is closed.
func (t *surfaceTracker) Active() automation.Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.pages) - 1; i >= 0; i-- {
		if !t.pages[i].IsClosed() {
			return t.pages[i]
		}
	}
	return nil
}
