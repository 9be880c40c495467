package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-access/internal/catalog"
	internaldb "farm-access/internal/db"
	"farm-access/internal/db/repository"
	"farm-access/internal/domain"
	"farm-access/internal/middleware"
	"farm-access/internal/service/governance"
	"farm-access/internal/service/security"
)

const tenant = "farm-1"

type testServer struct {
	srv    *httptest.Server
	ledger *security.Ledger
	audit  *governance.AuditLog
	cat    *catalog.Catalog
}

// headerAuth trusts X-Subject and X-Tenant; it stands in for token validation.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ten := r.Header.Get("X-Subject"), r.Header.Get("X-Tenant")
		if sub == "" || ten == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(r.Context(), domain.ContextPrincipal{Subject: sub, Tenant: ten})))
	})
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := internaldb.OpenTestStore(t)
	cat, err := catalog.Default()
	require.NoError(t, err)

	grants := repository.NewGrantRepo(store.Write, store.Read)
	requests := repository.NewAccessRequestRepo(store.Write, store.Read)
	auditLog := governance.NewAuditLog(repository.NewAuditRepo(store.Write, store.Read), governance.AuditLogConfig{}, logger)
	t.Cleanup(auditLog.Close)

	resolver := security.NewResolver(grants, cat, auditLog, logger)
	ledger := security.NewLedger(grants, cat, resolver, auditLog, logger)
	workflow := security.NewWorkflow(requests, cat, resolver, auditLog, nopNotifier{},
		security.GrantWindow{Mode: security.WindowReviewDeadline}, logger)
	t.Cleanup(workflow.WaitNotifications)

	h := NewHandler(resolver, workflow, ledger,
		governance.NewDriftDetector(grants, logger),
		governance.NewAnalytics(requests, repository.NewAuditRepo(store.Write, store.Read)),
		auditLog, logger)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{
		Auth:           headerAuth,
		AllowedOrigins: []string{"*"},
		Logger:         logger,
	}))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, ledger: ledger, audit: auditLog, cat: cat}
}

type nopNotifier struct{}

func (nopNotifier) NotifyReviewers(context.Context, domain.AccessRequest) error { return nil }

func (ts *testServer) seedRole(t *testing.T, subject, role string) string {
	t.Helper()
	r, ok := ts.cat.Role(role)
	require.True(t, ok)
	id, err := ts.ledger.CreateGrant(context.Background(), domain.NewGrant{
		SubjectID: subject, TenantID: tenant, RoleID: r.ID, Permissions: r.Permissions,
		Reason: "seed", GrantedBy: "operator",
	})
	require.NoError(t, err)
	return id
}

func (ts *testServer) do(t *testing.T, method, path, subject string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(t, err)
	if subject != "" {
		req.Header.Set("X-Subject", subject)
		req.Header.Set("X-Tenant", tenant)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/drift", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckPermission(t *testing.T) {
	ts := newTestServer(t)
	ts.seedRole(t, "vera", "viewer")
	ts.seedRole(t, "olga", "owner")

	resp := ts.do(t, http.MethodPost, "/v1/permissions/check", "vera", map[string]any{"permission": "farms.delete"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[decisionResponse](t, resp)
	assert.False(t, d.Allowed)
	assert.Equal(t, security.ReasonNotFound, d.Reason)

	resp = ts.do(t, http.MethodPost, "/v1/permissions/check", "vera", map[string]any{"permission": "farms.read"})
	assert.True(t, decode[decisionResponse](t, resp).Allowed)

	// checking someone else needs audit.read
	resp = ts.do(t, http.MethodPost, "/v1/permissions/check", "vera",
		map[string]any{"subject_id": "olga", "permission": "farms.read"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/permissions/check", "olga",
		map[string]any{"subject_id": "vera", "permission": "crops.read"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[decisionResponse](t, resp).Allowed)

	resp = ts.do(t, http.MethodPost, "/v1/permissions/check", "vera", map[string]any{"permision": "typo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAccessRequestLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.seedRole(t, "vera", "viewer")
	ts.seedRole(t, "olga", "owner")

	resp := ts.do(t, http.MethodPost, "/v1/access-requests", "vera", map[string]any{
		"permission":    "crops.update",
		"resource_type": "crop",
		"justification": "harvest logging this week",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[accessRequest](t, resp)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "vera", created.SubjectID)

	// the requester cannot review
	resp = ts.do(t, http.MethodPost, "/v1/access-requests/"+created.ID+"/review", "vera", map[string]any{"approve": true})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/access-requests/"+created.ID+"/review", "olga", map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reviewed := decode[accessRequest](t, resp)
	assert.Equal(t, "approved", reviewed.Status)
	require.NotNil(t, reviewed.GrantID)

	// second review conflicts
	resp = ts.do(t, http.MethodPost, "/v1/access-requests/"+created.ID+"/review", "olga", map[string]any{"approve": false})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/permissions/check", "vera", map[string]any{"permission": "crops.update"})
	assert.True(t, decode[decisionResponse](t, resp).Allowed)

	resp = ts.do(t, http.MethodGet, "/v1/access-requests/"+created.ID, "vera", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/access-requests/does-not-exist", "olga", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAccessRequests_ScopedToCaller(t *testing.T) {
	ts := newTestServer(t)
	ts.seedRole(t, "olga", "owner")
	for _, who := range []string{"vera", "walt"} {
		resp := ts.do(t, http.MethodPost, "/v1/access-requests", who, map[string]any{
			"permission": "farms.update", "resource_type": "farm", "justification": "fence repairs",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.do(t, http.MethodGet, "/v1/access-requests", "vera", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	own := decode[listResponse[accessRequest]](t, resp)
	require.Len(t, own.Items, 1)
	assert.Equal(t, "vera", own.Items[0].SubjectID)

	resp = ts.do(t, http.MethodGet, "/v1/access-requests?subject_id=walt", "vera", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/access-requests?status=pending", "olga", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[listResponse[accessRequest]](t, resp).Items, 2)

	resp = ts.do(t, http.MethodGet, "/v1/access-requests?status=bogus", "olga", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGrantEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedRole(t, "olga", "owner")
	ts.seedRole(t, "vera", "viewer")
	expires := time.Now().Add(2 * time.Hour).UTC()

	resp := ts.do(t, http.MethodPost, "/v1/grants/temporary", "vera", map[string]any{
		"subject_id": "walt", "permission": "farms.read", "expires_at": expires, "reason": "audit visit",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/grants/temporary", "olga", map[string]any{
		"subject_id": "walt", "permission": "farms.read", "expires_at": expires, "reason": "audit visit",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tempID := decode[idResponse](t, resp).ID

	resp = ts.do(t, http.MethodPost, "/v1/grants/roles", "olga", map[string]any{
		"subject_id": "walt", "role_id": "worker", "reason": "seasonal hire",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/grants/roles", "olga", map[string]any{
		"subject_id": "walt", "role_id": "nonexistent", "reason": "typo",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/grants", "walt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[listResponse[grant]](t, resp).Items, 2)

	resp = ts.do(t, http.MethodDelete, "/v1/grants/"+tempID, "olga", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/grants?subject_id=walt", "olga", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[listResponse[grant]](t, resp).Items, 1)

	resp = ts.do(t, http.MethodGet, "/v1/grants?subject_id=walt", "vera", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/grants/delegations", "olga", map[string]any{
		"subject_id": "vera", "permissions": []string{"crops.update"}, "expires_at": expires, "reason": "cover for a week",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestGovernanceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedRole(t, "olga", "owner")
	ts.seedRole(t, "vera", "viewer")

	for _, path := range []string{"/v1/drift", "/v1/analytics", "/v1/audit"} {
		resp := ts.do(t, http.MethodGet, path, "vera", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
	}
	resp := ts.do(t, http.MethodPost, "/v1/drift/remediate", "vera", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/drift", "olga", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, decode[listResponse[driftFinding]](t, resp).Items)

	resp = ts.do(t, http.MethodPost, "/v1/drift/remediate", "olga", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[map[string]int](t, resp)["remediated"])

	resp = ts.do(t, http.MethodGet, "/v1/analytics?window_days=7", "olga", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[accessSummary](t, resp)
	assert.Equal(t, 7, summary.WindowDays)
	assert.Equal(t, 0, summary.RiskScore)

	resp = ts.do(t, http.MethodGet, "/v1/analytics?window_days=0", "olga", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/analytics?window_days=abc", "olga", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, ts.audit.Flush(context.Background()))
	resp = ts.do(t, http.MethodGet, "/v1/audit?subject_id=vera&kind=permission_check", "olga", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[listResponse[auditEntry]](t, resp).Items
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "vera", e.SubjectID)
		assert.Equal(t, tenant, e.TenantID)
	}

	resp = ts.do(t, http.MethodGet, "/v1/audit?since=yesterday", "olga", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_RateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(nil, nil, nil, nil, nil, nil, logger)
	router := NewRouter(h, RouterConfig{
		Auth:      func(http.Handler) http.Handler { return http.NotFoundHandler() },
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
		Logger:    logger,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/drift", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/drift", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
