package engine

import (
	"fmt"
	"time"
)

// Options are the recognized execution policy knobs of the engine. Zero
// values are replaced with defaults when the engine is constructed.
type Options struct {
	// MaxWaitForTimeout is the total locate budget for wait/click/fill steps
	// without an explicit timeout.
	MaxWaitForTimeout time.Duration `json:"max_wait_for_timeout_ms"`

	// MaxStepDuration is the per-step execution deadline. Exceeding it fails
	// that step with an action timeout, never the whole run.
	MaxStepDuration time.Duration `json:"max_step_duration_ms"`

	// FailFast breaks the phase loop on the first required-step failure
	// instead of letting later steps recover the phase.
	FailFast bool `json:"fail_fast"`

	// PhaseSuccessMode selects strict or recover phase outcome semantics.
	PhaseSuccessMode PhaseSuccessMode `json:"phase_success_mode"`

	// StopOnPhaseFailure stops the workflow after a failed phase instead of
	// isolating the failure and continuing.
	StopOnPhaseFailure bool `json:"stop_on_phase_failure"`

	// WaitPollInterval is the poll quantum for wait-kind locates: the budget
	// slice shared by one candidate round.
	WaitPollInterval time.Duration `json:"wait_poll_interval_ms"`

	// ClickPollInterval is the poll quantum for click- and fill-kind locates.
	ClickPollInterval time.Duration `json:"click_poll_interval_ms"`

	// ScreenshotOnError captures a best-effort failure screenshot before a
	// step is recorded as failed or skipped.
	ScreenshotOnError bool `json:"screenshot_on_error"`

	// ArtifactDir is where failure screenshots are written. Empty disables
	// capture even when ScreenshotOnError is set.
	ArtifactDir string `json:"artifact_dir,omitempty"`
}

// Default option values.
const (
	DefaultMaxWaitForTimeout = 10 * time.Second
	DefaultMaxStepDuration   = 30 * time.Second
	DefaultPollInterval      = 2 * time.Second
)

// DefaultOptions returns the options used when the caller configures nothing.
func DefaultOptions() Options {
	return Options{
		MaxWaitForTimeout: DefaultMaxWaitForTimeout,
		MaxStepDuration:   DefaultMaxStepDuration,
		PhaseSuccessMode:  PhaseSuccessRecover,
		WaitPollInterval:  DefaultPollInterval,
		ClickPollInterval: DefaultPollInterval,
		ScreenshotOnError: true,
	}
}

// normalized returns a copy with zero fields replaced by defaults.
func (o Options) normalized() Options {
	defaults := DefaultOptions()
	if o.MaxWaitForTimeout <= 0 {
		o.MaxWaitForTimeout = defaults.MaxWaitForTimeout
	}
	if o.MaxStepDuration <= 0 {
		o.MaxStepDuration = defaults.MaxStepDuration
	}
	if o.PhaseSuccessMode == "" {
		o.PhaseSuccessMode = defaults.PhaseSuccessMode
	}
	if o.WaitPollInterval <= 0 {
		o.WaitPollInterval = defaults.WaitPollInterval
	}
	if o.ClickPollInterval <= 0 {
		o.ClickPollInterval = defaults.ClickPollInterval
	}
	return o
}

// Validate checks that the options are coherent.
func (o Options) Validate() error {
	if o.MaxWaitForTimeout < 0 {
		return fmt.Errorf("max wait-for timeout must not be negative")
	}
	if o.MaxStepDuration < 0 {
		return fmt.Errorf("max step duration must not be negative")
	}
	if o.WaitPollInterval < 0 {
		return fmt.Errorf("wait poll interval must not be negative")
	}
	if o.ClickPollInterval < 0 {
		return fmt.Errorf("click poll interval must not be negative")
	}
	if o.PhaseSuccessMode != "" {
		if err := o.PhaseSuccessMode.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// pollQuantum returns the poll quantum for the given selector kind.
func (o Options) pollQuantum(kind SelectorKind) time.Duration {
	if kind == SelectorKindWait {
		return o.WaitPollInterval
	}
	return o.ClickPollInterval
}
