package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"caremesh.org/internal/auth"
)

var _ auth.Store = (*Store)(nil)

func (s *Store) Members() auth.MemberStore             { return (*memberStore)(s) }
func (s *Store) Organizations() auth.OrganizationStore { return (*orgStore)(s) }
func (s *Store) Sessions() auth.SessionStore           { return (*sessionStore)(s) }

type memberStore Store

const memberColumns = `id, organization_id, email, password_hash, role,
	capability_allow, capability_deny, is_platform_owner, status,
	created_at, updated_at`

func encodeCaps(caps []auth.Capability) ([]byte, error) {
	if len(caps) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(caps)
}

func decodeCaps(raw []byte) ([]auth.Capability, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var caps []auth.Capability
	if err := json.Unmarshal(raw, &caps); err != nil {
		return nil, fmt.Errorf("decode capability list: %w", err)
	}
	if len(caps) == 0 {
		return nil, nil
	}
	return caps, nil
}

func scanMember(row interface{ Scan(...any) error }) (*auth.Member, error) {
	var (
		m        auth.Member
		orgID    sql.NullString
		rawAllow []byte
		rawDeny  []byte
	)
	err := row.Scan(&m.ID, &orgID, &m.Email, &m.PasswordHash, &m.Role,
		&rawAllow, &rawDeny, &m.IsPlatformOwner, &m.Status,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		m.OrganizationID = orgID.String
	}
	if m.CapabilityAllow, err = decodeCaps(rawAllow); err != nil {
		return nil, err
	}
	if m.CapabilityDeny, err = decodeCaps(rawDeny); err != nil {
		return nil, err
	}
	return &m, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *memberStore) Create(ctx context.Context, m *auth.Member) error {
	allow, err := encodeCaps(m.CapabilityAllow)
	if err != nil {
		return err
	}
	deny, err := encodeCaps(m.CapabilityDeny)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into members (id, organization_id, email, password_hash, role,
			capability_allow, capability_deny, is_platform_owner, status,
			created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, nullableString(m.OrganizationID), m.Email, m.PasswordHash, m.Role,
		allow, deny, m.IsPlatformOwner, m.Status, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: email already registered", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: organization does not exist", auth.ErrInvalidInput)
			}
		}
		return err
	}
	return nil
}

func (s *memberStore) Find(ctx context.Context, id string) (*auth.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx,
		`select `+memberColumns+` from members where id = $1`, id))
}

func (s *memberStore) FindByEmail(ctx context.Context, email string) (*auth.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx,
		`select `+memberColumns+` from members where email = $1`, email))
}

func (s *memberStore) ListByOrg(ctx context.Context, orgID string) ([]*auth.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+memberColumns+` from members where organization_id = $1 order by email`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *memberStore) UpdateRole(ctx context.Context, id string, role auth.Role) (*auth.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, `
		update members set role = $2, updated_at = now()
		where id = $1
		returning `+memberColumns, id, role))
}

func (s *memberStore) UpdateOverrides(ctx context.Context, id string, allow, deny []auth.Capability) (*auth.Member, error) {
	rawAllow, err := encodeCaps(allow)
	if err != nil {
		return nil, err
	}
	rawDeny, err := encodeCaps(deny)
	if err != nil {
		return nil, err
	}
	return scanMember(s.db.QueryRowContext(ctx, `
		update members set capability_allow = $2, capability_deny = $3, updated_at = now()
		where id = $1
		returning `+memberColumns, id, rawAllow, rawDeny))
}

func (s *memberStore) SetPlatformOwner(ctx context.Context, id string, owner bool) (*auth.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, `
		update members set is_platform_owner = $2, updated_at = now()
		where id = $1
		returning `+memberColumns, id, owner))
}

func (s *memberStore) UpdateStatus(ctx context.Context, id, status string) (*auth.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, `
		update members set status = $2, updated_at = now()
		where id = $1
		returning `+memberColumns, id, status))
}

// RoleCapabilities loads the deployed role-bundle table.
func (s *Store) RoleCapabilities(ctx context.Context) (auth.RoleCapabilityTable, error) {
	rows, err := s.db.QueryContext(ctx,
		`select role, capability from role_capabilities order by role, capability`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := make(auth.RoleCapabilityTable)
	for rows.Next() {
		var (
			role auth.Role
			cap  auth.Capability
		)
		if err := rows.Scan(&role, &cap); err != nil {
			return nil, err
		}
		table[role] = append(table[role], cap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Roles seeded with empty bundles have no rows; make them explicit.
	for _, role := range auth.Roles() {
		if _, ok := table[role]; !ok {
			table[role] = []auth.Capability{}
		}
	}
	return table, nil
}
