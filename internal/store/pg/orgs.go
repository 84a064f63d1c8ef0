package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caremesh.org/internal/auth"
)

type orgStore Store

const orgColumns = `id, name, capability_allow, capability_deny, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (*auth.Organization, error) {
	var (
		o        auth.Organization
		rawAllow []byte
		rawDeny  []byte
	)
	err := row.Scan(&o.ID, &o.Name, &rawAllow, &rawDeny, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.CapabilityAllow, err = decodeCaps(rawAllow); err != nil {
		return nil, err
	}
	if o.CapabilityDeny, err = decodeCaps(rawDeny); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *orgStore) Create(ctx context.Context, o *auth.Organization) error {
	allow, err := encodeCaps(o.CapabilityAllow)
	if err != nil {
		return err
	}
	deny, err := encodeCaps(o.CapabilityDeny)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into organizations (id, name, capability_allow, capability_deny, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.Name, allow, deny, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: organization name taken", auth.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *orgStore) Find(ctx context.Context, id string) (*auth.Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where id = $1`, id))
}

func (s *orgStore) UpdateOverrides(ctx context.Context, id string, allow, deny []auth.Capability) (*auth.Organization, error) {
	rawAllow, err := encodeCaps(allow)
	if err != nil {
		return nil, err
	}
	rawDeny, err := encodeCaps(deny)
	if err != nil {
		return nil, err
	}
	return scanOrg(s.db.QueryRowContext(ctx, `
		update organizations set capability_allow = $2, capability_deny = $3, updated_at = now()
		where id = $1
		returning `+orgColumns, id, rawAllow, rawDeny))
}
