package rx

import (
	"errors"
	"testing"
)

var allStatuses = []Status{
	StatusDraft, StatusPendingReview, StatusSigned, StatusSent,
	StatusFilling, StatusReady, StatusPickedUp, StatusShipped,
	StatusDelivered, StatusCancelled,
}

func TestTransitionTableLegalEdges(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusDraft, StatusPendingReview},
		{StatusPendingReview, StatusSigned},
		{StatusSigned, StatusSent},
		{StatusSent, StatusFilling},
		{StatusFilling, StatusReady},
		{StatusReady, StatusPickedUp},
		{StatusReady, StatusShipped},
		{StatusShipped, StatusDelivered},
	}
	for _, e := range legal {
		if !CanTransition(e.from, e.to) {
			t.Errorf("%s -> %s must be legal", e.from, e.to)
		}
		if err := CheckTransition(e.from, e.to); err != nil {
			t.Errorf("CheckTransition(%s, %s): %v", e.from, e.to, err)
		}
	}
}

func TestTransitionTableRejectsEverythingElse(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if CanTransition(from, to) {
				continue
			}
			err := CheckTransition(from, to)
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("CheckTransition(%s, %s): expected illegal transition, got %v", from, to, err)
			}
		}
	}
}

func TestSelfLoopIsIllegal(t *testing.T) {
	for _, s := range allStatuses {
		if CanTransition(s, s) {
			t.Errorf("%s -> %s self-loop must be illegal", s, s)
		}
	}
}

func TestSkipAndReversalAreIllegal(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusSent, StatusReady},     // skip
		{StatusFilling, StatusSent},   // reversal
		{StatusReady, StatusDraft},    // long reversal
		{StatusDraft, StatusSigned},   // authoring skip
		{StatusSent, StatusDelivered}, // skip across fulfillment
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("%s -> %s must be illegal", c.from, c.to)
		}
	}
}

func TestUnknownStatusIsIllegal(t *testing.T) {
	err := CheckTransition(StatusSent, Status("hacked_status"))
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition for unknown status, got %v", err)
	}
	if ValidStatus("hacked_status") {
		t.Fatal("unknown status must not validate")
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusPickedUp, StatusDelivered, StatusCancelled} {
		if !Terminal(s) {
			t.Errorf("%s must be terminal", s)
		}
		for _, to := range allStatuses {
			if CanTransition(s, to) {
				t.Errorf("terminal %s must have no outbound edge to %s", s, to)
			}
		}
	}
	for _, s := range []Status{StatusDraft, StatusSent, StatusReady, StatusShipped} {
		if Terminal(s) {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestCancellableWindow(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusPendingReview, StatusSigned, StatusSent, StatusFilling, StatusReady} {
		if !Cancellable(s) {
			t.Errorf("%s must be cancellable", s)
		}
	}
	for _, s := range []Status{StatusPickedUp, StatusShipped, StatusDelivered, StatusCancelled} {
		if Cancellable(s) {
			t.Errorf("%s must not be cancellable", s)
		}
	}
}
