package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"farm-access/internal/domain"
)

var _ domain.LoginRepository = (*LoginRepo)(nil)

// LoginRepo tracks each subject's most recent authentication per tenant.
type LoginRepo struct {
	db *sql.DB
}

// NewLoginRepo creates a LoginRepo.
func NewLoginRepo(db *sql.DB) *LoginRepo {
	return &LoginRepo{db: db}
}

// RecordLogin stores at as the last login unless a later one is already known.
func (r *LoginRepo) RecordLogin(ctx context.Context, subjectID, tenantID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subject_logins (subject_id, tenant_id, last_login_at) VALUES (?, ?, ?)
		ON CONFLICT (subject_id, tenant_id) DO UPDATE SET last_login_at = excluded.last_login_at
		WHERE excluded.last_login_at > subject_logins.last_login_at
	`, subjectID, tenantID, utc(at))
	return mapDBError(err)
}

// LastLogin returns the last recorded login. The boolean is false when the
// subject has never been seen in the tenant.
func (r *LoginRepo) LastLogin(ctx context.Context, subjectID, tenantID string) (time.Time, bool, error) {
	var at time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT last_login_at FROM subject_logins WHERE subject_id = ? AND tenant_id = ?
	`, subjectID, tenantID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at.UTC(), true, nil
}
