package lifecycle

// State is the lifecycle phase of one payment attempt. Exactly one attempt
// owns a state at a time; a new attempt always re-enters at ValidatingPayer.
type State string

const (
	StateIdle               State = "IDLE"
	StateValidatingPayer    State = "VALIDATING_PAYER"
	StateCreatingSession    State = "CREATING_SESSION"
	StateAwaitingResult     State = "AWAITING_RESULT"
	StateReconciling        State = "RECONCILING"
	StateConfirmed          State = "CONFIRMED"
	StateFailed             State = "FAILED"
	StateCancelled          State = "CANCELLED"
	StateUnknownResult      State = "UNKNOWN_RESULT"
	StateVerificationFailed State = "VERIFICATION_FAILED"
	StateAbortedByUser      State = "ABORTED_BY_USER"
)

// Terminal reports whether the state ends the current attempt.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateCancelled, StateUnknownResult, StateVerificationFailed, StateAbortedByUser:
		return true
	default:
		return false
	}
}

// Navigation is the signal the controller hands the surrounding screen layer
// once a terminal state is reached. The destination UI is the host's concern.
type Navigation string

const (
	NavigateNone         Navigation = ""
	NavigateConfirmation Navigation = "confirmation"
	NavigateReturn       Navigation = "return"
)

func navigationFor(s State) Navigation {
	switch {
	case s == StateConfirmed:
		return NavigateConfirmation
	case s.Terminal():
		return NavigateReturn
	default:
		return NavigateNone
	}
}
