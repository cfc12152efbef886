package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/webpilot/webpilot/pkg/telemetry"
)

// minCandidateSlice is the floor for one candidate's share of a polling round.
const minCandidateSlice = 250 * time.Millisecond

// LocateRequest describes one locate operation over a selector expression
// that may carry several comma-separated alternative locators.
type LocateRequest struct {
	// Selector is the selector expression, possibly multi-candidate.
	Selector string

	// Kind selects the backend operation to poll with.
	Kind SelectorKind

	// Timeout is the total budget across all candidates and rounds.
	Timeout time.Duration

	// State is the wait state for wait-kind locates (default "visible").
	State string

	// Text is the input content for fill-kind locates.
	Text string

	// AttrName and AttrValue add an attribute-value condition to wait-kind
	// locates, checked once a structural match is found.
	AttrName  string
	AttrValue string
}

// SelectorPoller allocates a timeout budget fairly across alternative element
// locators. Trying each candidate sequentially with the full budget would let
// the first failing candidate starve the rest; the poller instead time-slices
// the budget round-robin so every candidate is attempted in every round while
// budget remains.
type SelectorPoller struct {
	backend Backend
	opts    Options
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewSelectorPoller creates a poller over the given backend.
func NewSelectorPoller(backend Backend, opts Options, logger zerolog.Logger, metrics *telemetry.Metrics) *SelectorPoller {
	return &SelectorPoller{
		backend: backend,
		opts:    opts.normalized(),
		logger:  logger,
		metrics: metrics,
	}
}

// SplitCandidates splits a selector expression into its comma-separated
// alternative locators, dropping empty entries.
func SplitCandidates(selectorExpr string) []string {
	parts := strings.Split(selectorExpr, ",")
	candidates := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			candidates = append(candidates, trimmed)
		}
	}
	return candidates
}

// Locate attempts the request until one candidate matches or the budget is
// exhausted. It returns the candidate that matched.
//
// With a single candidate, or a budget no larger than the poll quantum, each
// candidate gets one attempt with the remaining budget. Otherwise the budget
// is consumed in rounds of per-candidate slices of max(250ms, quantum/N).
func (p *SelectorPoller) Locate(ctx context.Context, req LocateRequest) (string, error) {
	candidates := SplitCandidates(req.Selector)
	if len(candidates) == 0 {
		return "", NewConfigurationError("selector expression is empty", nil).
			WithCode(ErrCodeValidation)
	}
	if err := req.Kind.Validate(); err != nil {
		return "", NewConfigurationError("invalid selector kind", err)
	}
	if req.Timeout <= 0 {
		req.Timeout = p.opts.MaxWaitForTimeout
	}

	deadline := time.Now().Add(req.Timeout)
	quantum := p.opts.pollQuantum(req.Kind)

	if len(candidates) == 1 || req.Timeout <= quantum {
		return p.locateSinglePass(ctx, req, candidates, deadline)
	}
	return p.locateRounds(ctx, req, candidates, deadline, quantum)
}

// locateSinglePass tries each candidate once with the remaining budget.
func (p *SelectorPoller) locateSinglePass(
	ctx context.Context,
	req LocateRequest,
	candidates []string,
	deadline time.Time,
) (string, error) {
	for _, candidate := range candidates {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		matched, err := p.attempt(ctx, req, candidate, remaining)
		if err != nil {
			return "", err
		}
		if matched {
			return candidate, nil
		}
	}
	return "", p.exhausted(req, candidates, deadline)
}

// locateRounds consumes the budget in rounds of per-candidate slices.
func (p *SelectorPoller) locateRounds(
	ctx context.Context,
	req LocateRequest,
	candidates []string,
	deadline time.Time,
	quantum time.Duration,
) (string, error) {
	perCandidate := quantum / time.Duration(len(candidates))
	if perCandidate < minCandidateSlice {
		perCandidate = minCandidateSlice
	}

	for round := 0; ; round++ {
		for _, candidate := range candidates {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return "", p.exhausted(req, candidates, deadline)
			}
			slice := perCandidate
			if remaining < slice {
				slice = remaining
			}

			started := time.Now()
			matched, err := p.attempt(ctx, req, candidate, slice)
			if err != nil {
				return "", err
			}
			if matched {
				p.logger.Debug().
					Str("selector", candidate).
					Int("round", round).
					Msg("candidate matched")
				return candidate, nil
			}

			// A probe that returns early sleeps out its slice so rounds keep
			// their cadence instead of spinning.
			if leftover := slice - time.Since(started); leftover > 0 {
				if err := p.sleep(ctx, leftover, deadline); err != nil {
					return "", err
				}
			}
		}
	}
}

// attempt performs one backend probe of a single candidate.
func (p *SelectorPoller) attempt(
	ctx context.Context,
	req LocateRequest,
	candidate string,
	timeout time.Duration,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.metrics.RecordSelectorPoll(string(req.Kind))

	switch req.Kind {
	case SelectorKindWait:
		state := req.State
		if state == "" {
			state = "visible"
		}
		matched, err := p.backend.WaitForSelector(ctx, candidate, state, timeout)
		if err != nil || !matched {
			return false, err
		}
		if req.AttrName == "" {
			return true, nil
		}
		// Attribute conditions get their own slice once the structural match
		// lands, expressed as an attribute selector on the same element.
		conditioned := fmt.Sprintf("%s[%s=%q]", candidate, req.AttrName, req.AttrValue)
		return p.backend.WaitForSelector(ctx, conditioned, state, timeout)
	case SelectorKindClick:
		return p.backend.Click(ctx, candidate, timeout)
	case SelectorKindFill:
		return p.backend.Fill(ctx, candidate, req.Text, timeout)
	default:
		return false, NewConfigurationError("invalid selector kind", nil)
	}
}

// sleep pauses for d without overrunning the budget deadline.
func (p *SelectorPoller) sleep(ctx context.Context, d time.Duration, deadline time.Time) error {
	if remaining := time.Until(deadline); d > remaining {
		d = remaining
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exhausted builds the terminal timeout error naming all candidates tried.
func (p *SelectorPoller) exhausted(req LocateRequest, candidates []string, deadline time.Time) error {
	p.metrics.RecordSelectorExhausted(string(req.Kind))
	p.logger.Debug().
		Strs("candidates", candidates).
		Str("kind", string(req.Kind)).
		Msg("selector budget exhausted")
	return NewSelectorExhaustedError(candidates, req.Timeout.String()).
		WithDetail("kind", string(req.Kind))
}
