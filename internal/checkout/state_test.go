package checkout

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		from  State
		event Event
		to    State
	}{
		{StateShipping, EventAdvance, StatePayment},
		{StatePayment, EventAdvance, StateReview},
		{StatePayment, EventBack, StateShipping},
		{StateReview, EventBack, StatePayment},
		{StateReview, EventConfirm, StateSubmitting},
		{StateSubmitting, EventSubmitSucceeded, StateCompleted},
		{StateSubmitting, EventSubmitFailed, StateFailed},
		{StateFailed, EventRecover, StateReview},
	}
	for _, tc := range allowed {
		got, err := Transition(tc.from, tc.event)
		if err != nil {
			t.Fatalf("%s on %s: unexpected error %v", tc.event, tc.from, err)
		}
		if got != tc.to {
			t.Fatalf("%s on %s: expected %s, got %s", tc.event, tc.from, tc.to, got)
		}
	}
}

func TestTransitionRejectsEverythingElse(t *testing.T) {
	states := []State{StateShipping, StatePayment, StateReview, StateSubmitting, StateFailed, StateCompleted}
	events := []Event{EventAdvance, EventBack, EventConfirm, EventSubmitSucceeded, EventSubmitFailed, EventRecover}
	legal := 0
	for _, s := range states {
		for _, e := range events {
			got, err := Transition(s, e)
			if err == nil {
				legal++
				continue
			}
			if !errors.Is(err, ErrTransitionRejected) {
				t.Fatalf("expected ErrTransitionRejected, got %v", err)
			}
			if got != s {
				t.Fatalf("rejected transition must keep state %s, got %s", s, got)
			}
		}
	}
	if legal != len(transitions) {
		t.Fatalf("expected %d legal transitions, found %d", len(transitions), legal)
	}

	for _, tc := range []struct {
		from  State
		event Event
	}{
		{StateShipping, EventConfirm},
		{StateShipping, EventBack},
		{StateShipping, EventSubmitSucceeded},
		{StatePayment, EventConfirm},
		{StateCompleted, EventBack},
		{StateSubmitting, EventBack},
	} {
		if _, err := Transition(tc.from, tc.event); err == nil {
			t.Fatalf("expected %s from %s to be rejected", tc.event, tc.from)
		}
	}
}

func TestStateStep(t *testing.T) {
	if StateShipping.Step() != 1 || StatePayment.Step() != 2 || StateReview.Step() != 3 || StateCompleted.Step() != 3 {
		t.Fatalf("unexpected step numbering")
	}
	if !StateCompleted.Terminal() || StateReview.Terminal() {
		t.Fatalf("only completed is terminal")
	}
}
