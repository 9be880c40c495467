package security

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"farm-access/internal/catalog"
	internaldb "farm-access/internal/db"
	"farm-access/internal/db/repository"
	"farm-access/internal/domain"
)

// t0 is the fixed instant services see as "now" unless a test moves it.
var t0 = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	clock    *fakeClock
	audit    *memAudit
	notifier *mockNotifier
	catalog  *catalog.Catalog
	grants   *repository.GrantRepo
	requests *repository.AccessRequestRepo
	resolver *Resolver
	ledger   *Ledger
	workflow *Workflow
}

func newHarness(t *testing.T, window GrantWindow) *harness {
	t.Helper()
	store := internaldb.OpenTestStore(t)
	cat, err := catalog.Default()
	require.NoError(t, err)

	h := &harness{
		clock:    &fakeClock{t: t0},
		audit:    &memAudit{},
		notifier: &mockNotifier{},
		catalog:  cat,
		grants:   repository.NewGrantRepo(store.Write, store.Read),
		requests: repository.NewAccessRequestRepo(store.Write, store.Read),
	}
	log := discardLogger()
	h.resolver = NewResolver(h.grants, cat, h.audit, log).WithClock(h.clock.Now)
	h.ledger = NewLedger(h.grants, cat, h.resolver, h.audit, log).WithClock(h.clock.Now)
	h.workflow = NewWorkflow(h.requests, cat, h.resolver, h.audit, h.notifier, window, log).WithClock(h.clock.Now)
	return h
}

// assignRole seeds a role grant through the operator path.
func (h *harness) assignRole(t *testing.T, subject, tenant, role string, expiresAt *time.Time) string {
	t.Helper()
	r, ok := h.catalog.Role(role)
	require.True(t, ok, "role %s", role)
	id, err := h.ledger.CreateGrant(context.Background(), domain.NewGrant{
		SubjectID:   subject,
		TenantID:    tenant,
		RoleID:      r.ID,
		Permissions: r.Permissions,
		ExpiresAt:   expiresAt,
		Reason:      "seed",
		GrantedBy:   "operator",
	})
	require.NoError(t, err)
	return id
}
