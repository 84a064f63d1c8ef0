package rx

import "fmt"

// transitions is the closed next-state table for the prescription
// lifecycle: authoring (draft through sent) and fulfillment (sent through
// delivery, with the ready fan-out). A requested status is legal iff it
// appears in the set for the current status. Terminal states have no
// outbound edges. Cancellation is a separate operation, not an edge here.
var transitions = map[Status][]Status{
	StatusDraft:         {StatusPendingReview},
	StatusPendingReview: {StatusSigned},
	StatusSigned:        {StatusSent},
	StatusSent:          {StatusFilling},
	StatusFilling:       {StatusReady},
	StatusReady:         {StatusPickedUp, StatusShipped},
	StatusShipped:       {StatusDelivered},
	StatusPickedUp:      {},
	StatusDelivered:     {},
	StatusCancelled:     {},
}

// ValidStatus reports whether s belongs to the enumeration.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func Terminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether current -> requested is a legal move.
// Skips, reversals, self-loops, moves out of terminal states and statuses
// outside the enumeration are all illegal.
func CanTransition(current, requested Status) bool {
	for _, next := range transitions[current] {
		if next == requested {
			return true
		}
	}
	return false
}

// CheckTransition returns a coded error describing why current -> requested
// is rejected, or nil when it is legal. Store implementations call this
// inside their atomic read-modify-write.
func CheckTransition(current, requested Status) error {
	if !ValidStatus(requested) {
		return fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, requested)
	}
	if !CanTransition(current, requested) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, requested)
	}
	return nil
}

// Cancellable reports whether a prescription in state s may still be
// cancelled: anything up to and including ready, before handoff.
func Cancellable(s Status) bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusSigned, StatusSent, StatusFilling, StatusReady:
		return true
	default:
		return false
	}
}
