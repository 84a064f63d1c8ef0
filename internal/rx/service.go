package rx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"caremesh.org/internal/audit"
	"caremesh.org/internal/auth"
	"caremesh.org/internal/ids"
	"caremesh.org/internal/obs"
)

// Service guards every prescription operation behind the policy enforcement
// point before the store is touched.
type Service struct {
	store Store
	auth  *auth.Service
	audit *audit.Recorder
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithAuditRecorder wires the audit sink for sensitive denials.
func WithAuditRecorder(rec *audit.Recorder) ServiceOption {
	return func(s *Service) { s.audit = rec }
}

// NewService constructs a Service.
func NewService(store Store, authSvc *auth.Service, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("rx store is required")
	}
	if authSvc == nil {
		return nil, errors.New("auth service is required")
	}
	svc := &Service{store: store, auth: authSvc, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateInput describes a prescription to author.
type CreateInput struct {
	PatientID      string
	PharmacyID     string
	OrganizationID string
	Medication     string
	Quantity       int
	Refills        int
}

// Create authors a prescription in draft. Requires RX_WRITE, plus the
// tenancy guard when org-scoped. The caller becomes the provider of record.
func (s *Service) Create(ctx context.Context, actor *auth.Member, input CreateInput) (*Prescription, error) {
	if err := s.auth.RequireCap(ctx, actor, auth.CapRxWrite); err != nil {
		return nil, err
	}
	if input.OrganizationID != "" {
		if err := s.auth.RequireOrgMember(actor, input.OrganizationID); err != nil {
			return nil, err
		}
	}
	input.PatientID = strings.TrimSpace(input.PatientID)
	input.Medication = strings.TrimSpace(input.Medication)
	if input.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if input.Medication == "" {
		return nil, fmt.Errorf("%w: medication is required", ErrInvalidInput)
	}
	if input.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if input.Refills < 0 {
		return nil, fmt.Errorf("%w: refills must not be negative", ErrInvalidInput)
	}

	now := s.now().UTC()
	p := &Prescription{
		ID:             ids.New(),
		PatientID:      input.PatientID,
		ProviderID:     actor.ID,
		PharmacyID:     strings.TrimSpace(input.PharmacyID),
		OrganizationID: input.OrganizationID,
		Medication:     input.Medication,
		Quantity:       input.Quantity,
		Refills:        input.Refills,
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one prescription. Requires RX_VIEW; beyond that the caller
// must be a party to the record (patient, provider, same tenant) or hold
// PATIENT_VIEW_ANY.
func (s *Service) Get(ctx context.Context, actor *auth.Member, id string) (*Prescription, error) {
	if err := s.auth.RequireCap(ctx, actor, auth.CapRxView); err != nil {
		return nil, err
	}
	p, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canSee(ctx, actor, p) {
		return nil, fmt.Errorf("%w: not a party to this prescription", auth.ErrForbidden)
	}
	return p, nil
}

// ListByPatient returns a patient's prescriptions. The caller must be that
// patient or hold PATIENT_VIEW_ANY; querying an arbitrary identifier
// without either is rejected.
func (s *Service) ListByPatient(ctx context.Context, actor *auth.Member, patientID string) ([]*Prescription, error) {
	if err := s.auth.RequireCap(ctx, actor, auth.CapRxView); err != nil {
		return nil, err
	}
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	}
	if actor.ID != patientID {
		if err := s.auth.RequireCap(ctx, actor, auth.CapPatientViewAny); err != nil {
			return nil, err
		}
	}
	return s.store.ListByPatient(ctx, patientID)
}

// Transition requests a lifecycle move. The PEP runs first: a caller
// without the fulfillment capability (or the provider/admin override) is
// rejected before the record is consulted, no matter what was requested.
// The legality check and write then execute atomically in the store against
// the current stored status.
func (s *Service) Transition(ctx context.Context, actor *auth.Member, id string, requested Status) (*Prescription, error) {
	if err := s.auth.RequireAnyCap(ctx, actor, auth.CapRxFulfill, auth.CapRxWrite); err != nil {
		obs.ObserveAuthzDenial(auth.CodeOf(err))
		s.recordDenial(ctx, actor, id, requested, err)
		return nil, err
	}

	p, err := s.store.Transition(ctx, id, requested, s.now().UTC())
	switch {
	case errors.Is(err, ErrNotFound):
		obs.ObserveRxTransition("not_found")
		return nil, err
	case errors.Is(err, ErrIllegalTransition):
		obs.ObserveRxTransition("rejected")
		s.recordDenial(ctx, actor, id, requested, err)
		return nil, err
	case err != nil:
		return nil, err
	}
	obs.ObserveRxTransition("applied")
	return p, nil
}

// Cancel moves a not-yet-dispensed prescription to cancelled. Requires
// RX_WRITE.
func (s *Service) Cancel(ctx context.Context, actor *auth.Member, id string) (*Prescription, error) {
	if err := s.auth.RequireCap(ctx, actor, auth.CapRxWrite); err != nil {
		obs.ObserveAuthzDenial(auth.CodeOf(err))
		s.recordDenial(ctx, actor, id, StatusCancelled, err)
		return nil, err
	}
	p, err := s.store.Cancel(ctx, id, s.now().UTC())
	if errors.Is(err, ErrIllegalTransition) {
		obs.ObserveRxTransition("rejected")
		s.recordDenial(ctx, actor, id, StatusCancelled, err)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	obs.ObserveRxTransition("applied")
	return p, nil
}

func (s *Service) canSee(ctx context.Context, actor *auth.Member, p *Prescription) bool {
	if actor.IsPlatformOwner {
		return true
	}
	if actor.ID == p.PatientID || actor.ID == p.ProviderID {
		return true
	}
	set, err := s.auth.EffectiveCapabilities(ctx, actor)
	if err == nil && set.Has(auth.CapPatientViewAny) {
		return true
	}
	if p.OrganizationID != "" && actor.OrganizationID == p.OrganizationID {
		return true
	}
	return false
}

func (s *Service) recordDenial(ctx context.Context, actor *auth.Member, id string, requested Status, cause error) {
	if s.audit == nil {
		return
	}
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	s.audit.Record(ctx, audit.Event{
		Action:   "rx.status.transition",
		ActorID:  actorID,
		TargetID: id,
		Diff:     map[string]string{"requested": string(requested)},
		Success:  false,
		Reason:   cause.Error(),
	})
}
