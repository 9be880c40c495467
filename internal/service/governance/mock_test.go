package governance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"farm-access/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockAuditRepo struct {
	InsertFn            func(ctx context.Context, e *domain.AccessAuditEntry) error
	ListFn              func(ctx context.Context, filter domain.AuditFilter) ([]domain.AccessAuditEntry, error)
	ActivityBySubjectFn func(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.SubjectActivity, error)

	mu       sync.Mutex
	inserted []domain.AccessAuditEntry
}

func (m *mockAuditRepo) Insert(ctx context.Context, e *domain.AccessAuditEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, *e)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AccessAuditEntry, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("List unexpected call")
}

func (m *mockAuditRepo) ActivityBySubject(ctx context.Context, tenantID string, since time.Time, limit int) ([]domain.SubjectActivity, error) {
	if m.ActivityBySubjectFn != nil {
		return m.ActivityBySubjectFn(ctx, tenantID, since, limit)
	}
	panic("ActivityBySubject unexpected call")
}

func (m *mockAuditRepo) stored() []domain.AccessAuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AccessAuditEntry(nil), m.inserted...)
}

type mockRequestRepo struct {
	domain.AccessRequestRepository
	StatsFn func(ctx context.Context, tenantID string, since time.Time) (*domain.RequestStats, error)
}

func (m *mockRequestRepo) Stats(ctx context.Context, tenantID string, since time.Time) (*domain.RequestStats, error) {
	return m.StatsFn(ctx, tenantID, since)
}

type mockGrantRepo struct {
	domain.GrantRepository
	SnapshotTenantFn func(ctx context.Context, tenantID string) (*domain.TenantSnapshot, error)
}

func (m *mockGrantRepo) SnapshotTenant(ctx context.Context, tenantID string) (*domain.TenantSnapshot, error) {
	return m.SnapshotTenantFn(ctx, tenantID)
}
