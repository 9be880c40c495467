package security

import (
	"context"
	"sync"
	"time"

	"farm-access/internal/domain"
)

// memAudit collects recorded entries in memory.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AccessAuditEntry
}

func (m *memAudit) Record(e domain.AccessAuditEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *memAudit) byKind(kind domain.AuditKind) []domain.AccessAuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AccessAuditEntry
	for _, e := range m.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// memGrants is an in-memory GrantRepository for resolver-only tests.
type memGrants struct {
	ListForSubjectFn func(ctx context.Context, subjectID, tenantID string) ([]domain.Grant, error)
	grants           []domain.Grant
}

func (m *memGrants) Create(_ context.Context, g domain.NewGrant) (*domain.Grant, error) {
	out := domain.Grant{
		ID: domain.NewID(), SubjectID: g.SubjectID, TenantID: g.TenantID, RoleID: g.RoleID,
		Permissions: g.Permissions, ExpiresAt: g.ExpiresAt, IsActive: true, Reason: g.Reason,
		GrantedBy: g.GrantedBy, CreatedAt: time.Now(),
	}
	m.grants = append(m.grants, out)
	return &out, nil
}

func (m *memGrants) GetByID(_ context.Context, id string) (*domain.Grant, error) {
	for _, g := range m.grants {
		if g.ID == id {
			return &g, nil
		}
	}
	return nil, domain.ErrNotFound("grant %q not found", id)
}

func (m *memGrants) ListForSubject(ctx context.Context, subjectID, tenantID string) ([]domain.Grant, error) {
	if m.ListForSubjectFn != nil {
		return m.ListForSubjectFn(ctx, subjectID, tenantID)
	}
	var out []domain.Grant
	for _, g := range m.grants {
		if g.SubjectID == subjectID && g.TenantID == tenantID && g.IsActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memGrants) SnapshotTenant(context.Context, string) (*domain.TenantSnapshot, error) {
	panic("SnapshotTenant unexpected call")
}

func (m *memGrants) Deactivate(context.Context, string) error {
	panic("Deactivate unexpected call")
}

func (m *memGrants) DeactivateExpired(context.Context, string, time.Time) ([]domain.Grant, error) {
	panic("DeactivateExpired unexpected call")
}

// mockNotifier captures notified requests.
type mockNotifier struct {
	mu       sync.Mutex
	notified []domain.AccessRequest
	err      error
}

func (m *mockNotifier) NotifyReviewers(_ context.Context, req domain.AccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, req)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notified)
}
