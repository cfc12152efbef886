package sim

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/engine"
)

// defaultPollTick is how often a blocked wait re-checks the page model.
const defaultPollTick = 25 * time.Millisecond

// Options tunes the simulated session.
type Options struct {
	// StartURL is the URL the session starts on. Empty starts off-page.
	StartURL string

	// Latency is artificial latency added to every backend call.
	Latency time.Duration

	// PollTick is how often blocked waits re-check the page model. Zero
	// selects the default.
	PollTick time.Duration
}

// Backend is an in-memory engine.Backend over a declared set of pages. It is
// safe for the single-writer engine plus concurrent control calls from a
// test or daemon goroutine.
type Backend struct {
	logger  zerolog.Logger
	latency time.Duration
	tick    time.Duration

	mu         sync.Mutex
	pages      map[string]*Page
	currentURL string
	loadedAt   time.Time
	filled     map[string]string
	clicks     map[string]int
	shots      []string
	authIssue  *engine.AuthIssue
	freshCreds bool
}

// New creates an empty simulated session. Pages are declared with AddPage
// before the engine runs against it.
func New(logger zerolog.Logger, opts Options) *Backend {
	tick := opts.PollTick
	if tick <= 0 {
		tick = defaultPollTick
	}
	b := &Backend{
		logger:  logger.With().Str("component", "sim-backend").Logger(),
		latency: opts.Latency,
		tick:    tick,
		pages:   make(map[string]*Page),
		filled:  make(map[string]string),
		clicks:  make(map[string]int),
	}
	if opts.StartURL != "" {
		b.currentURL = opts.StartURL
		b.loadedAt = time.Now()
	}
	return b
}

// Page is one navigable page of the simulated site.
type Page struct {
	url      string
	elements map[string]*Element
}

// Element is one locatable element on a page.
type Element struct {
	appearAfter time.Duration
	hidden      bool
	attrs       map[string]string
	clickTarget string
}

// AddPage declares a page at the given URL and returns it for element setup.
// Declaring the same URL again replaces the page.
func (b *Backend) AddPage(url string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &Page{url: url, elements: make(map[string]*Element)}
	b.pages[url] = p
	return p
}

// AddElement declares an element reachable by the given selector and returns
// it for further setup.
func (p *Page) AddElement(selector string) *Element {
	e := &Element{attrs: make(map[string]string)}
	p.elements[selector] = e
	return e
}

// AppearAfter delays the element's visibility for d after page load.
func (e *Element) AppearAfter(d time.Duration) *Element {
	e.appearAfter = d
	return e
}

// Hidden keeps the element attached but never visible.
func (e *Element) Hidden() *Element {
	e.hidden = true
	return e
}

// WithAttr sets an attribute matched by [name="value"] selector conditions.
func (e *Element) WithAttr(name, value string) *Element {
	e.attrs[name] = value
	return e
}

// NavigatesTo makes clicking the element load the given URL.
func (e *Element) NavigatesTo(url string) *Element {
	e.clickTarget = url
	return e
}

// ExpireSession marks the session broken, as a driver would after observing
// an intercepted auth failure. The guard sees it through AuthIssue.
func (b *Backend) ExpireSession(code, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authIssue = &engine.AuthIssue{
		Code:       code,
		Message:    message,
		DetectedAt: time.Now().UTC(),
	}
	b.logger.Debug().Str("code", code).Msg("session expired")
}

// StageFreshCredentials makes the next RefreshAuthIfChanged succeed and heal
// the session.
func (b *Backend) StageFreshCredentials() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freshCreds = true
}

// FilledValue returns the last text filled into the given selector.
func (b *Backend) FilledValue(selector string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text, ok := b.filled[selector]
	return text, ok
}

// ClickCount returns how often the given selector was clicked.
func (b *Backend) ClickCount(selector string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clicks[selector]
}

// Screenshots returns the paths captured so far.
func (b *Backend) Screenshots() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.shots...)
}

// Navigate implements engine.Backend. Navigation to an undeclared URL
// reports false, the way a driver reports a failed load.
func (b *Backend) Navigate(ctx context.Context, url string, timeout time.Duration) (bool, error) {
	if err := b.pause(ctx); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pages[url]; !ok {
		b.logger.Debug().Str("url", url).Msg("navigation to undeclared url")
		return false, nil
	}
	b.currentURL = url
	b.loadedAt = time.Now()
	b.logger.Debug().Str("url", url).Msg("navigated")
	return true, nil
}

// WaitForSelector implements engine.Backend. It blocks until the selector
// reaches the requested state or the timeout expires, re-checking the page
// model on every tick.
func (b *Backend) WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) (bool, error) {
	wantVisible := state != "hidden"
	return b.waitUntil(ctx, timeout, func() bool {
		return b.visible(selector) == wantVisible
	})
}

// Click implements engine.Backend. The element must become visible within
// the timeout; a click target on the element triggers a navigation.
func (b *Backend) Click(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	matched, err := b.waitUntil(ctx, timeout, func() bool {
		return b.visible(selector)
	})
	if err != nil || !matched {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.clicks[selector]++
	if e := b.lookupLocked(selector); e != nil && e.clickTarget != "" {
		if _, ok := b.pages[e.clickTarget]; ok {
			b.currentURL = e.clickTarget
			b.loadedAt = time.Now()
			b.logger.Debug().
				Str("selector", selector).
				Str("url", e.clickTarget).
				Msg("click navigated")
		}
	}
	return true, nil
}

// Fill implements engine.Backend. The filled text is recorded and exposed
// as the element's value attribute.
func (b *Backend) Fill(ctx context.Context, selector, text string, timeout time.Duration) (bool, error) {
	matched, err := b.waitUntil(ctx, timeout, func() bool {
		return b.visible(selector)
	})
	if err != nil || !matched {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.filled[selector] = text
	if e := b.lookupLocked(selector); e != nil {
		e.attrs["value"] = text
	}
	return true, nil
}

// Screenshot implements engine.Backend by writing a tiny placeholder PNG.
func (b *Backend) Screenshot(ctx context.Context, path string, fullPage bool, timeout time.Duration) (bool, error) {
	if err := b.pause(ctx); err != nil {
		return false, err
	}
	if err := writePlaceholderPNG(path); err != nil {
		return false, err
	}

	b.mu.Lock()
	b.shots = append(b.shots, path)
	b.mu.Unlock()
	b.logger.Debug().Str("path", path).Bool("full_page", fullPage).Msg("screenshot written")
	return true, nil
}

// CurrentURL implements engine.Backend.
func (b *Backend) CurrentURL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentURL, nil
}

// AuthIssue implements engine.Backend.
func (b *Backend) AuthIssue() *engine.AuthIssue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authIssue
}

// RefreshAuthIfChanged implements engine.Backend. Staged fresh credentials
// heal the session; without them the refresh is a no-op.
func (b *Backend) RefreshAuthIfChanged(ctx context.Context) (bool, error) {
	if err := b.pause(ctx); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.freshCreds {
		return false, nil
	}
	b.freshCreds = false
	b.authIssue = nil
	b.logger.Debug().Msg("credentials refreshed")
	return true, nil
}

// attrCondition matches the trailing [name="value"] condition the selector
// poller appends for attribute waits.
var attrCondition = regexp.MustCompile(`^(.*)\[([\w-]+)="([^"]*)"\]$`)

// visible reports whether the selector currently matches a visible element
// on the loaded page, honoring appear-after delays and attribute conditions.
func (b *Backend) visible(selector string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	base := selector
	attrName, attrValue := "", ""
	if m := attrCondition.FindStringSubmatch(selector); m != nil {
		base, attrName, attrValue = m[1], m[2], m[3]
	}

	e := b.lookupLocked(base)
	if e == nil || e.hidden {
		return false
	}
	if time.Since(b.loadedAt) < e.appearAfter {
		return false
	}
	if attrName != "" && e.attrs[attrName] != attrValue {
		return false
	}
	return true
}

// lookupLocked finds the element for a bare selector on the current page.
func (b *Backend) lookupLocked(selector string) *Element {
	page, ok := b.pages[b.currentURL]
	if !ok {
		return nil
	}
	return page.elements[selector]
}

// waitUntil polls pred every tick until it holds, the timeout expires, or
// ctx is done. The first check happens immediately so an already-satisfied
// predicate never waits.
func (b *Backend) waitUntil(ctx context.Context, timeout time.Duration, pred func() bool) (bool, error) {
	if err := b.pause(ctx); err != nil {
		return false, err
	}

	deadline := time.Now().Add(timeout)
	for {
		if pred() {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		wait := b.tick
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
}

// pause applies the configured artificial latency.
func (b *Backend) pause(ctx context.Context) error {
	if b.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(b.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
