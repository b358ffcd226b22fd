package checkout

import (
	"errors"
	"fmt"
)

// State is the wizard position of one checkout attempt.
type State string

const (
	StateShipping   State = "shipping"
	StatePayment    State = "payment"
	StateReview     State = "review"
	StateSubmitting State = "submitting"
	StateFailed     State = "failed"
	StateCompleted  State = "completed"
)

// Event drives a state change.
type Event string

const (
	EventAdvance         Event = "advance"
	EventBack            Event = "back"
	EventConfirm         Event = "confirm"
	EventSubmitSucceeded Event = "submit_succeeded"
	EventSubmitFailed    Event = "submit_failed"
	EventRecover         Event = "recover"
)

// ErrTransitionRejected is returned for any state/event pair missing from the table.
var ErrTransitionRejected = errors.New("checkout: transition rejected")

type transitionKey struct {
	from  State
	event Event
}

// transitions is the complete set of legal moves. Anything else is rejected.
var transitions = map[transitionKey]State{
	{StateShipping, EventAdvance}:           StatePayment,
	{StatePayment, EventAdvance}:            StateReview,
	{StatePayment, EventBack}:               StateShipping,
	{StateReview, EventBack}:                StatePayment,
	{StateReview, EventConfirm}:             StateSubmitting,
	{StateSubmitting, EventSubmitSucceeded}: StateCompleted,
	{StateSubmitting, EventSubmitFailed}:    StateFailed,
	{StateFailed, EventRecover}:             StateReview,
}

// Transition looks up the next state for event fired in from.
func Transition(from State, event Event) (State, error) {
	next, ok := transitions[transitionKey{from: from, event: event}]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", ErrTransitionRejected, event, from)
	}
	return next, nil
}

// Step is the 1-based wizard step shown to the user.
func (s State) Step() int {
	switch s {
	case StateShipping:
		return 1
	case StatePayment:
		return 2
	default:
		return 3
	}
}

// Terminal reports whether the attempt is finished.
func (s State) Terminal() bool {
	return s == StateCompleted
}

func (s State) acceptsOptionChange() bool {
	return s == StateShipping || s == StatePayment || s == StateReview
}
