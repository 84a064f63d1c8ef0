package rx

import (
	"time"

	"caremesh.org/internal/auth"
)

// Status is a prescription's lifecycle state.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusSigned        Status = "signed"
	StatusSent          Status = "sent"
	StatusFilling       Status = "filling"
	StatusReady         Status = "ready"
	StatusPickedUp      Status = "picked_up"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
)

// Prescription is a governed resource: immutable identity, ownership
// references, and a status that only ever moves along the transition table.
type Prescription struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patient_id"`
	ProviderID     string     `json:"provider_id"`
	PharmacyID     string     `json:"pharmacy_id,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Medication     string     `json:"medication"`
	Quantity       int        `json:"quantity"`
	Refills        int        `json:"refills"`
	Status         Status     `json:"status"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

var (
	// ErrNotFound is returned for an unknown prescription identity; it is
	// deliberately distinct from authorization failures.
	ErrNotFound = &auth.Error{Code: auth.CodeNotFound, Message: "rx: prescription not found"}

	// ErrIllegalTransition rejects any move not in the transition table.
	ErrIllegalTransition = &auth.Error{Code: auth.CodeForbidden, Message: "rx: illegal status transition"}

	ErrInvalidInput = &auth.Error{Code: auth.CodeInvalidInput, Message: "rx: invalid input"}
)
