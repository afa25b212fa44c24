package domain

// Outcome classifies how a pipeline step ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoop    Outcome = "noop"
	OutcomeFailure Outcome = "failure"
)

// Reason refines a noop or failure outcome so monitoring can tell "nothing
// to do" apart from "something broke".
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonMissingInput      Reason = "missing_input"
	ReasonNotConfigured     Reason = "not_configured"
	ReasonDependencyFailed  Reason = "dependency_failed"
	ReasonPersistenceFailed Reason = "persistence_failed"
	ReasonNoPendingSignal   Reason = "no_pending_signal"
	ReasonBelowThreshold    Reason = "below_threshold"
	ReasonDisabled          Reason = "disabled"
	ReasonLockHeld          Reason = "lock_held"
	ReasonInternal          Reason = "internal_error"
)

// StepResult is the common envelope returned by every pipeline step.
type StepResult struct {
	Outcome Outcome `json:"outcome"`
	Reason  Reason  `json:"reason,omitempty"`
	Text    string  `json:"text"`
}

// OK reports whether the step did not fail.
func (r StepResult) OK() bool {
	return r.Outcome != OutcomeFailure
}
