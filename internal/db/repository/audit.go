package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"farm-access/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo appends and queries access audit entries. The table rejects
// updates and deletes at the schema level.
type AuditRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewAuditRepo creates an AuditRepo. readDB may equal db.
func NewAuditRepo(db, readDB *sql.DB) *AuditRepo {
	if readDB == nil {
		readDB = db
	}
	return &AuditRepo{db: db, readDB: readDB}
}

// Insert appends e, assigning an id and timestamp when missing.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AccessAuditEntry) error {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_audit (id, subject_id, tenant_id, permission, resource_id, kind, source,
		                          outcome, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SubjectID, e.TenantID, e.Permission, nullString(e.ResourceID), string(e.Kind), e.Source,
		string(e.Outcome), e.Reason, utc(e.CreatedAt))
	return mapDBError(err)
}

// List returns entries matching filter in insertion order.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AccessAuditEntry, error) {
	var where []string
	var args []any
	if filter.SubjectID != nil {
		where = append(where, "subject_id = ?")
		args = append(args, *filter.SubjectID)
	}
	if filter.TenantID != nil {
		where = append(where, "tenant_id = ?")
		args = append(args, *filter.TenantID)
	}
	if filter.Source != nil {
		where = append(where, "source = ?")
		args = append(args, *filter.Source)
	}
	if filter.Kind != nil {
		where = append(where, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, utc(*filter.Since))
	}

	stmt := `SELECT id, subject_id, tenant_id, permission, resource_id, kind, source, outcome, reason, created_at
		FROM access_audit`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY seq LIMIT ?"
	args = append(args, domain.ClampLimit(filter.Limit))

	rows, err := r.readDB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AccessAuditEntry
	for rows.Next() {
		var (
			e             domain.AccessAuditEntry
			resourceID    sql.NullString
			kind, outcome string
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.TenantID, &e.Permission, &resourceID, &kind,
			&e.Source, &outcome, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ResourceID = stringPtr(resourceID)
		e.Kind = domain.AuditKind(kind)
		e.Outcome = domain.AuditOutcome(outcome)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ActivityBySubject counts permission checks per subject of a tenant since
// the given instant, busiest first.
func (r *AuditRepo) ActivityBySubject(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.SubjectActivity, error) {
	rows, err := r.readDB.QueryContext(ctx, `
		SELECT subject_id,
		       COUNT(*) AS checks,
		       COALESCE(SUM(CASE WHEN outcome = 'denied' THEN 1 ELSE 0 END), 0)
		FROM access_audit
		WHERE tenant_id = ? AND kind = ? AND created_at >= ?
		GROUP BY subject_id
		ORDER BY checks DESC, subject_id
		LIMIT ?
	`, tenantID, string(domain.AuditPermissionCheck), utc(since), domain.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.SubjectActivity
	for rows.Next() {
		var a domain.SubjectActivity
		if err := rows.Scan(&a.SubjectID, &a.Checks, &a.Denied); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
