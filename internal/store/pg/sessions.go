package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"caremesh.org/internal/auth"
)

type sessionStore Store

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, member_id, token_hash, issued_at, expires_at, last_used_at)
		values ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.MemberID, sess.TokenHash, sess.IssuedAt, sess.ExpiresAt, sess.LastUsedAt)
	return err
}

func (s *sessionStore) FindByTokenHash(ctx context.Context, hash string) (*auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, member_id, token_hash, issued_at, expires_at, last_used_at
		from sessions where token_hash = $1
	`, hash).Scan(&sess.ID, &sess.MemberID, &sess.TokenHash,
		&sess.IssuedAt, &sess.ExpiresAt, &sess.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_used_at = $2 where id = $1`, id, at)
	return err
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where id = $1`, id)
	return err
}

func (s *sessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
