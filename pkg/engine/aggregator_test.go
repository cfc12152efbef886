package engine

import (
	"errors"
	"testing"
)

func TestAggregator_RecordStepAssignsID(t *testing.T) {
	agg := NewAggregator("run-1", &Workflow{Name: "wf"})

	agg.RecordStep(StepRecord{Action: ActionClick})
	agg.RecordStep(StepRecord{ID: "fixed", Action: ActionFill})

	history := agg.Result().ExecutionHistory
	if history[0].ID == "" {
		t.Error("Expected generated ID for first record")
	}
	if history[1].ID != "fixed" {
		t.Errorf("Expected provided ID kept, got %q", history[1].ID)
	}
	if agg.Steps() != 2 {
		t.Errorf("Expected 2 steps, got %d", agg.Steps())
	}
}

func TestAggregator_RecordErrorExtractsCode(t *testing.T) {
	agg := NewAggregator("run-1", &Workflow{Name: "wf"})

	agg.RecordError("login", ActionClick, NewSelectorExhaustedError([]string{"#a"}, "5s"))
	agg.RecordError("login", ActionSleep, errors.New("plain failure"))

	history := agg.Result().ErrorHistory
	if len(history) != 2 {
		t.Fatalf("Expected 2 error records, got %d", len(history))
	}
	if history[0].Code != ErrCodeSelectorExhausted {
		t.Errorf("Expected selector exhausted code, got %q", history[0].Code)
	}
	if history[0].Class != ErrorClassSelectorExhausted {
		t.Errorf("Expected selector_exhausted class, got %s", history[0].Class)
	}
	if history[1].Class != ErrorClassSystem {
		t.Errorf("Expected plain errors classified as system, got %s", history[1].Class)
	}
	if history[1].Message != "plain failure" {
		t.Errorf("Expected raw message kept, got %q", history[1].Message)
	}
}

func TestAggregator_Finalize(t *testing.T) {
	agg := NewAggregator("run-1", &Workflow{Name: "wf"})
	agg.RecordPhase(PhaseResult{Name: "a", Success: true})
	agg.RecordPhase(PhaseResult{Name: "b", Success: false})

	if !agg.AnyPhaseFailed() {
		t.Error("Expected AnyPhaseFailed true")
	}

	result := agg.Finalize(NewContext("wf"))
	if result.OverallSuccess {
		t.Error("Expected overall failure when any phase failed")
	}
	if result.FinalState != RunStateFinalized {
		t.Errorf("Expected finalized state, got %s", result.FinalState)
	}
	if result.Duration < 0 {
		t.Errorf("Expected non-negative duration, got %s", result.Duration)
	}
}

func TestAggregator_Finalize_VacuousSuccess(t *testing.T) {
	agg := NewAggregator("run-1", &Workflow{Name: "wf"})

	result := agg.Finalize(nil)
	if !result.OverallSuccess {
		t.Error("Expected vacuous success with zero phases")
	}
}

func TestAggregator_Finalize_SetupFailureForcesFailure(t *testing.T) {
	agg := NewAggregator("run-1", &Workflow{Name: "wf"})
	agg.MarkSetupFailed()

	result := agg.Finalize(nil)
	if result.OverallSuccess {
		t.Error("Expected setup failure to force overall failure")
	}
}
