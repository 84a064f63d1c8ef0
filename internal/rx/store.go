package rx

import (
	"context"
	"time"
)

// Store persists prescriptions. Transition and Cancel must run as a single
// atomic read-modify-write against the currently stored status (serializable
// per record): the legality check via CheckTransition/Cancellable happens
// inside the same critical section as the write, and a rejected move leaves
// the row untouched.
type Store interface {
	Create(ctx context.Context, p *Prescription) error
	Find(ctx context.Context, id string) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID string) ([]*Prescription, error)

	// Transition moves the prescription to requested when the table allows
	// it. Entering ready stamps filled_at if unset; every success refreshes
	// updated_at. Returns ErrNotFound or a wrapped ErrIllegalTransition.
	Transition(ctx context.Context, id string, requested Status, at time.Time) (*Prescription, error)

	// Cancel moves the prescription to cancelled when Cancellable allows it.
	Cancel(ctx context.Context, id string, at time.Time) (*Prescription, error)
}
