package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caremesh.org/internal/rx"
)

var _ rx.Store = (*Store)(nil)

const rxColumns = `id, patient_id, provider_id, pharmacy_id, organization_id,
	medication, quantity, refills, status, filled_at, created_at, updated_at`

func scanRx(row interface{ Scan(...any) error }) (*rx.Prescription, error) {
	var (
		p        rx.Prescription
		pharmacy sql.NullString
		orgID    sql.NullString
		filledAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.PatientID, &p.ProviderID, &pharmacy, &orgID,
		&p.Medication, &p.Quantity, &p.Refills, &p.Status, &filledAt,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rx.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if pharmacy.Valid {
		p.PharmacyID = pharmacy.String
	}
	if orgID.Valid {
		p.OrganizationID = orgID.String
	}
	if filledAt.Valid {
		filled := filledAt.Time
		p.FilledAt = &filled
	}
	return &p, nil
}

func (s *Store) Create(ctx context.Context, p *rx.Prescription) error {
	_, err := s.db.ExecContext(ctx, `
		insert into prescriptions (id, patient_id, provider_id, pharmacy_id,
			organization_id, medication, quantity, refills, status,
			created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.PatientID, p.ProviderID, nullableString(p.PharmacyID),
		nullableString(p.OrganizationID), p.Medication, p.Quantity, p.Refills,
		p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) Find(ctx context.Context, id string) (*rx.Prescription, error) {
	return scanRx(s.db.QueryRowContext(ctx,
		`select `+rxColumns+` from prescriptions where id = $1`, id))
}

func (s *Store) ListByPatient(ctx context.Context, patientID string) ([]*rx.Prescription, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+rxColumns+` from prescriptions where patient_id = $1 order by created_at desc`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rx.Prescription
	for rows.Next() {
		p, err := scanRx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Transition runs the legality check and the write in one serializable
// transaction. The row is locked first, so the check always sees the
// current stored status and exactly one write happens per successful call.
func (s *Store) Transition(ctx context.Context, id string, requested rx.Status, at time.Time) (*rx.Prescription, error) {
	return s.mutateStatus(ctx, id, at, func(current rx.Status) error {
		return rx.CheckTransition(current, requested)
	}, requested)
}

// Cancel moves a not-yet-dispensed prescription to cancelled, under the
// same locking discipline as Transition.
func (s *Store) Cancel(ctx context.Context, id string, at time.Time) (*rx.Prescription, error) {
	return s.mutateStatus(ctx, id, at, func(current rx.Status) error {
		if !rx.Cancellable(current) {
			return fmt.Errorf("%w: %s -> %s", rx.ErrIllegalTransition, current, rx.StatusCancelled)
		}
		return nil
	}, rx.StatusCancelled)
}

func (s *Store) mutateStatus(ctx context.Context, id string, at time.Time, check func(rx.Status) error, next rx.Status) (*rx.Prescription, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current rx.Status
	err = tx.QueryRowContext(ctx,
		`select status from prescriptions where id = $1 for update`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rx.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := check(current); err != nil {
		return nil, err
	}

	p, err := scanRx(tx.QueryRowContext(ctx, `
		update prescriptions
		set status = $2,
			updated_at = $3,
			filled_at = case when $2 = 'ready' then coalesce(filled_at, $3) else filled_at end
		where id = $1
		returning `+rxColumns, id, next, at))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}
