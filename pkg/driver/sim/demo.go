package sim

import (
	"time"

	"github.com/rs/zerolog"
)

// Demo site URLs served by NewDemo.
const (
	DemoLoginURL     = "https://demo.webpilot.dev/login"
	DemoDashboardURL = "https://demo.webpilot.dev/dashboard"
	DemoResultsURL   = "https://demo.webpilot.dev/results"
)

// NewDemo creates a simulated three-page site: a login form, a dashboard
// with a search box, and a results page. The selectors line up with the
// login and search composite action defaults, so scaffolded workflows run
// against it unchanged.
func NewDemo(logger zerolog.Logger, opts Options) *Backend {
	b := New(logger, opts)

	login := b.AddPage(DemoLoginURL)
	login.AddElement("#username").WithAttr("type", "text")
	login.AddElement("#password").WithAttr("type", "password")
	login.AddElement(`button[type="submit"]`).NavigatesTo(DemoDashboardURL)

	dashboard := b.AddPage(DemoDashboardURL)
	dashboard.AddElement("#welcome").AppearAfter(300 * time.Millisecond).
		WithAttr("data-state", "ready")
	dashboard.AddElement(".nav-menu")
	dashboard.AddElement(`input[type="search"]`)
	dashboard.AddElement(`button[type="submit"]`).NavigatesTo(DemoResultsURL)

	results := b.AddPage(DemoResultsURL)
	results.AddElement(".result-item").AppearAfter(200 * time.Millisecond)
	results.AddElement("#results-count").WithAttr("data-count", "3")

	return b
}
