package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"caremesh.org/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// Append writes one immutable audit row. There is deliberately no update or
// delete path for audit_events anywhere in this package.
func (s *Store) Append(ctx context.Context, e *audit.Event) error {
	diff := []byte("{}")
	if len(e.Diff) > 0 {
		raw, err := json.Marshal(e.Diff)
		if err != nil {
			return fmt.Errorf("marshal audit diff: %w", err)
		}
		diff = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, action, actor_id, target_id, diff, success, reason, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.Action, nullableString(e.ActorID), nullableString(e.TargetID),
		diff, e.Success, e.Reason, e.OccurredAt)
	return err
}
