package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"farm-access/internal/domain"
)

var _ domain.AccessRequestRepository = (*AccessRequestRepo)(nil)

const requestColumns = `
	id, subject_id, tenant_id, permission, resource_type, resource_id, justification, emergency,
	status, requested_at, review_deadline, reviewed_at, reviewer, notes, grant_id`

const topPermissionsLimit = 5

// AccessRequestRepo stores access requests. Every transition out of pending
// goes through Resolve, which compares and sets the status in one statement.
type AccessRequestRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewAccessRequestRepo creates an AccessRequestRepo. readDB may equal db.
func NewAccessRequestRepo(db, readDB *sql.DB) *AccessRequestRepo {
	if readDB == nil {
		readDB = db
	}
	return &AccessRequestRepo{db: db, readDB: readDB}
}

// Create inserts a pending request.
func (r *AccessRequestRepo) Create(ctx context.Context, req *domain.AccessRequest) (*domain.AccessRequest, error) {
	if req == nil {
		return nil, domain.ErrValidation("access request is required")
	}
	if req.ID == "" {
		req.ID = domain.NewID()
	}
	if req.Status == "" {
		req.Status = domain.RequestPending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_requests (id, subject_id, tenant_id, permission, resource_type, resource_id,
		                             justification, emergency, status, requested_at, review_deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.SubjectID, req.TenantID, req.Permission, req.ResourceType, nullString(req.ResourceID),
		req.Justification, boolToInt(req.Emergency), string(req.Status),
		utc(req.RequestedAt), utc(req.ReviewDeadline))
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.get(ctx, r.db, req.ID)
}

// GetByID returns a request by id.
func (r *AccessRequestRepo) GetByID(ctx context.Context, id string) (*domain.AccessRequest, error) {
	return r.get(ctx, r.readDB, id)
}

func (r *AccessRequestRepo) get(ctx context.Context, q queryer, id string) (*domain.AccessRequest, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM access_requests WHERE id = ?`, id))
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return nil, domain.ErrNotFound("access request %q not found", id)
		}
		return nil, err
	}
	return req, nil
}

// List returns requests matching filter, newest first.
func (r *AccessRequestRepo) List(ctx context.Context, filter domain.AccessRequestFilter) ([]domain.AccessRequest, error) {
	where := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}
	if filter.SubjectID != nil {
		where = append(where, "subject_id = ?")
		args = append(args, *filter.SubjectID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "requested_at >= ?")
		args = append(args, utc(*filter.Since))
	}
	args = append(args, domain.ClampLimit(filter.Limit))

	return r.list(ctx, r.readDB, `SELECT `+requestColumns+` FROM access_requests
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY requested_at DESC, rowid DESC
		LIMIT ?`, args...)
}

// ListPending returns every pending request across tenants, oldest first.
func (r *AccessRequestRepo) ListPending(ctx context.Context) ([]domain.AccessRequest, error) {
	return r.list(ctx, r.readDB, `SELECT `+requestColumns+` FROM access_requests
		WHERE status = 'pending'
		ORDER BY requested_at, rowid`)
}

// Resolve moves a pending request to res.Status. When res.Grant is set the
// grant is created in the same transaction and linked to the request. If the
// request already left pending nothing is written and an InvalidStateError
// is returned.
func (r *AccessRequestRepo) Resolve(ctx context.Context, id string, res domain.RequestResolution) (*domain.AccessRequest, error) {
	if !res.Status.Valid() || !res.Status.IsTerminal() {
		return nil, domain.ErrValidation("cannot resolve access request to %q", res.Status)
	}
	if res.Grant != nil && res.Status != domain.RequestApproved {
		return nil, domain.ErrValidation("only approved requests issue grants")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var reviewedAt sql.NullTime
	if res.Status != domain.RequestExpired {
		reviewedAt = sql.NullTime{Time: utc(res.ResolvedAt), Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE access_requests
		SET status = ?, reviewed_at = ?, reviewer = ?, notes = ?
		WHERE id = ? AND status = 'pending'
	`, string(res.Status), reviewedAt, nullString(res.Reviewer), nullString(res.Notes), id)
	if err != nil {
		return nil, mapDBError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		current, err := r.get(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidState("access request %q already resolved (%s)", id, current.Status)
	}

	if res.Grant != nil {
		grantID, err := insertGrant(ctx, tx, *res.Grant, res.ResolvedAt)
		if err != nil {
			return nil, fmt.Errorf("issue grant: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE access_requests SET grant_id = ? WHERE id = ?`, grantID, id); err != nil {
			return nil, mapDBError(err)
		}
	}

	resolved, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolution: %w", err)
	}
	return resolved, nil
}

// Stats aggregates a tenant's requests made at or after since.
func (r *AccessRequestRepo) Stats(ctx context.Context, tenantID string, since time.Time) (*domain.RequestStats, error) {
	tx, err := r.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin stats: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var stats domain.RequestStats
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'denied' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(emergency), 0)
		FROM access_requests
		WHERE tenant_id = ? AND requested_at >= ?
	`, tenantID, utc(since)).Scan(&stats.Total, &stats.Approved, &stats.Denied, &stats.Emergency)
	if err != nil {
		return nil, fmt.Errorf("request totals: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT permission, COUNT(*) AS n
		FROM access_requests
		WHERE tenant_id = ? AND requested_at >= ?
		GROUP BY permission
		ORDER BY n DESC, permission
		LIMIT ?
	`, tenantID, utc(since), topPermissionsLimit)
	if err != nil {
		return nil, fmt.Errorf("top permissions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var pc domain.PermissionCount
		if err := rows.Scan(&pc.Permission, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan permission count: %w", err)
		}
		stats.ByPermission = append(stats.ByPermission, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *AccessRequestRepo) list(ctx context.Context, q queryer, stmt string, args ...any) ([]domain.AccessRequest, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query access requests: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(s rowScanner) (*domain.AccessRequest, error) {
	var (
		req                         domain.AccessRequest
		resourceID, reviewer, notes sql.NullString
		grantID                     sql.NullString
		status                      string
		emergency                   int64
		reviewedAt                  sql.NullTime
	)
	if err := s.Scan(&req.ID, &req.SubjectID, &req.TenantID, &req.Permission, &req.ResourceType,
		&resourceID, &req.Justification, &emergency, &status, &req.RequestedAt, &req.ReviewDeadline,
		&reviewedAt, &reviewer, &notes, &grantID); err != nil {
		return nil, mapDBError(err)
	}
	req.Status = domain.AccessRequestStatus(status)
	req.Emergency = emergency == 1
	req.RequestedAt = req.RequestedAt.UTC()
	req.ReviewDeadline = req.ReviewDeadline.UTC()
	req.ResourceID = stringPtr(resourceID)
	req.ReviewedAt = timePtr(reviewedAt)
	req.Reviewer = stringPtr(reviewer)
	req.Notes = stringPtr(notes)
	req.GrantID = stringPtr(grantID)
	return &req, nil
}
