package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"farm-access/internal/domain"
)

var _ domain.GrantRepository = (*GrantRepo)(nil)

const grantColumns = `
	g.id, g.subject_id, g.tenant_id, g.role_id, g.permission_set_id, ps.permissions,
	g.expires_at, g.is_active, g.reason, g.granted_by, g.created_at`

const grantFrom = `
	FROM grants g
	JOIN permission_sets ps ON ps.id = g.permission_set_id`

// GrantRepo stores grants and the permission sets they reference.
// Writes go to db; lookups that feed authorization decisions use readDB.
type GrantRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewGrantRepo creates a GrantRepo. readDB may equal db.
func NewGrantRepo(db, readDB *sql.DB) *GrantRepo {
	if readDB == nil {
		readDB = db
	}
	return &GrantRepo{db: db, readDB: readDB}
}

// Create inserts a permission set and a grant referencing it.
func (r *GrantRepo) Create(ctx context.Context, g domain.NewGrant) (*domain.Grant, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id, err := insertGrant(ctx, tx, g, time.Now())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grant: %w", err)
	}
	return r.getOne(ctx, r.db, `SELECT `+grantColumns+grantFrom+` WHERE g.id = ?`, id)
}

// insertGrant writes the permission set and grant rows through q and
// returns the new grant id.
func insertGrant(ctx context.Context, q queryer, g domain.NewGrant, now time.Time) (string, error) {
	perms, err := json.Marshal(g.Permissions)
	if err != nil {
		return "", fmt.Errorf("marshal permissions: %w", err)
	}

	setID := domain.NewID()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO permission_sets (id, permissions, created_at) VALUES (?, ?, ?)
	`, setID, string(perms), utc(now)); err != nil {
		return "", mapDBError(err)
	}

	id := domain.NewID()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO grants (id, subject_id, tenant_id, role_id, permission_set_id, expires_at,
		                    is_active, reason, granted_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
	`, id, g.SubjectID, g.TenantID, g.RoleID, setID, nullTime(g.ExpiresAt),
		g.Reason, g.GrantedBy, utc(now)); err != nil {
		return "", mapDBError(err)
	}
	return id, nil
}

// GetByID returns a grant regardless of its active flag.
func (r *GrantRepo) GetByID(ctx context.Context, id string) (*domain.Grant, error) {
	g, err := r.getOne(ctx, r.readDB, `SELECT `+grantColumns+grantFrom+` WHERE g.id = ?`, id)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.ErrNotFound("grant %q not found", id)
		}
		return nil, err
	}
	return g, nil
}

// ListForSubject returns the flag-active grants of a subject in creation order.
func (r *GrantRepo) ListForSubject(ctx context.Context, subjectID, tenantID string) ([]domain.Grant, error) {
	return r.list(ctx, r.readDB, `SELECT `+grantColumns+grantFrom+`
		WHERE g.subject_id = ? AND g.tenant_id = ? AND g.is_active = 1
		ORDER BY g.created_at, g.rowid`, subjectID, tenantID)
}

// SnapshotTenant reads a tenant's flag-active grants and its subjects' last
// logins inside one read transaction.
func (r *GrantRepo) SnapshotTenant(ctx context.Context, tenantID string) (*domain.TenantSnapshot, error) {
	tx, err := r.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	grants, err := r.list(ctx, tx, `SELECT `+grantColumns+grantFrom+`
		WHERE g.tenant_id = ? AND g.is_active = 1
		ORDER BY g.created_at, g.rowid`, tenantID)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT l.subject_id, l.last_login_at
		FROM subject_logins l
		WHERE l.tenant_id = ?
		  AND EXISTS (SELECT 1 FROM grants g
		              WHERE g.tenant_id = l.tenant_id AND g.subject_id = l.subject_id AND g.is_active = 1)
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query logins: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	logins := make(map[string]time.Time)
	for rows.Next() {
		var subject string
		var at time.Time
		if err := rows.Scan(&subject, &at); err != nil {
			return nil, fmt.Errorf("scan login: %w", err)
		}
		logins[subject] = at.UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.TenantSnapshot{TenantID: tenantID, Grants: grants, LastLogins: logins}, nil
}

// Deactivate clears the active flag of a grant.
func (r *GrantRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE grants SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("grant %q not found", id)
	}
	return nil
}

// DeactivateExpired clears the active flag on grants whose expiry is at or
// before now. An empty tenantID covers every tenant.
func (r *GrantRepo) DeactivateExpired(ctx context.Context, tenantID string, now time.Time) ([]domain.Grant, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	candidates, err := r.list(ctx, tx, `SELECT `+grantColumns+grantFrom+`
		WHERE (? = '' OR g.tenant_id = ?) AND g.is_active = 1 AND g.expires_at IS NOT NULL
		ORDER BY g.created_at, g.rowid`, tenantID, tenantID)
	if err != nil {
		return nil, err
	}

	var out []domain.Grant
	for _, g := range candidates {
		if !g.ExpiredButActive(now) {
			continue
		}
		res, err := tx.ExecContext(ctx, `UPDATE grants SET is_active = 0 WHERE id = ? AND is_active = 1`, g.ID)
		if err != nil {
			return nil, mapDBError(err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			g.IsActive = false
			out = append(out, g)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deactivation: %w", err)
	}
	return out, nil
}

func (r *GrantRepo) list(ctx context.Context, q queryer, stmt string, args ...any) ([]domain.Grant, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (r *GrantRepo) getOne(ctx context.Context, q queryer, stmt string, args ...any) (*domain.Grant, error) {
	return scanGrant(q.QueryRowContext(ctx, stmt, args...))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(s rowScanner) (*domain.Grant, error) {
	var (
		g         domain.Grant
		perms     string
		expiresAt sql.NullTime
		active    int64
	)
	if err := s.Scan(&g.ID, &g.SubjectID, &g.TenantID, &g.RoleID, &g.PermissionSetID, &perms,
		&expiresAt, &active, &g.Reason, &g.GrantedBy, &g.CreatedAt); err != nil {
		return nil, mapDBError(err)
	}
	if err := json.Unmarshal([]byte(perms), &g.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshal permission set %s: %w", g.PermissionSetID, err)
	}
	g.ExpiresAt = timePtr(expiresAt)
	g.IsActive = active == 1
	g.CreatedAt = g.CreatedAt.UTC()
	return &g, nil
}
