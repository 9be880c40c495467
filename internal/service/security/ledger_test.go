package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-access/internal/domain"
)

func TestLedger_CreateAndListActive(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	soon := t0.Add(time.Hour)

	h.assignRole(t, "alice", "farm-1", "viewer", nil)
	h.assignRole(t, "alice", "farm-1", "worker", &soon)

	active, err := h.ledger.ListActiveGrants(ctx, "alice", "farm-1", t0)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	active, err = h.ledger.ListActiveGrants(ctx, "alice", "farm-1", t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "viewer", active[0].RoleID)

	granted := h.audit.byKind(domain.AuditPermissionGranted)
	assert.Len(t, granted, 2)
	assert.Equal(t, domain.SourceLedger, granted[0].Source)
}

func TestLedger_CreateGrantValidates(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	_, err := h.ledger.CreateGrant(context.Background(), domain.NewGrant{SubjectID: "alice", TenantID: "farm-1"})
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestLedger_AssignRole(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	h.assignRole(t, "olivia", "farm-1", "owner", nil)

	t.Run("authorized", func(t *testing.T) {
		id, err := h.ledger.AssignRole(ctx, "olivia", "walt", "farm-1", "worker", nil, "harvest crew")
		require.NoError(t, err)
		g, err := h.grants.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "worker", g.RoleID)
		assert.Equal(t, "olivia", g.GrantedBy)
		assert.True(t, h.resolver.CheckPermission(ctx, "walt", "farm-1", "crops.update", nil, nil))
	})

	t.Run("unknown_role", func(t *testing.T) {
		_, err := h.ledger.AssignRole(ctx, "olivia", "walt", "farm-1", "janitor", nil, "")
		var nf *domain.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("past_expiry", func(t *testing.T) {
		past := t0.Add(-time.Minute)
		_, err := h.ledger.AssignRole(ctx, "olivia", "walt", "farm-1", "worker", &past, "")
		var validation *domain.ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("unauthorized_actor", func(t *testing.T) {
		_, err := h.ledger.AssignRole(ctx, "walt", "mallory", "farm-1", "owner", nil, "")
		var denied *domain.AccessDeniedError
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("actor_in_other_tenant", func(t *testing.T) {
		_, err := h.ledger.AssignRole(ctx, "olivia", "walt", "farm-2", "worker", nil, "")
		var denied *domain.AccessDeniedError
		assert.ErrorAs(t, err, &denied)
	})
}

func TestLedger_GrantTemporaryPermission(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	h.assignRole(t, "root", "farm-1", "admin", nil)

	_, err := h.ledger.GrantTemporaryPermission(ctx, "root", "alice", "farm-1", "system.backup", t0.Add(-time.Second), "late")
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = h.ledger.GrantTemporaryPermission(ctx, "root", "alice", "farm-1", "system.nuke", t0.Add(time.Hour), "")
	require.ErrorAs(t, err, &validation)

	id, err := h.ledger.GrantTemporaryPermission(ctx, "root", "alice", "farm-1", "system.backup", t0.Add(time.Hour), "restore test")
	require.NoError(t, err)
	g, err := h.grants.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleTemporaryAccess, g.RoleID)
	assert.Equal(t, []string{"system.backup"}, g.Permissions)

	assert.True(t, h.resolver.CheckPermission(ctx, "alice", "farm-1", "system.backup", nil, nil))
	h.clock.Advance(time.Hour)
	assert.False(t, h.resolver.CheckPermission(ctx, "alice", "farm-1", "system.backup", nil, nil))
}

func TestLedger_Delegate(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	managerUntil := t0.Add(48 * time.Hour)
	h.assignRole(t, "maria", "farm-1", "manager", &managerUntil)
	h.assignRole(t, "walt", "farm-1", "worker", nil)

	t.Run("within_scope", func(t *testing.T) {
		id, err := h.ledger.Delegate(ctx, "maria", "vic", "farm-1", []string{"crops.update"}, t0.Add(24*time.Hour), "cover")
		require.NoError(t, err)
		g, err := h.grants.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleDelegatedAccess, g.RoleID)
		assert.Equal(t, "maria", g.GrantedBy)
	})

	t.Run("outlives_delegator", func(t *testing.T) {
		_, err := h.ledger.Delegate(ctx, "maria", "vic", "farm-1", []string{"crops.update"}, t0.Add(72*time.Hour), "")
		var validation *domain.ValidationError
		assert.ErrorAs(t, err, &validation)
	})

	t.Run("permission_not_held", func(t *testing.T) {
		_, err := h.ledger.Delegate(ctx, "maria", "vic", "farm-1", []string{"system.backup"}, t0.Add(time.Hour), "")
		var denied *domain.AccessDeniedError
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("role_cannot_delegate", func(t *testing.T) {
		_, err := h.ledger.Delegate(ctx, "walt", "vic", "farm-1", []string{"crops.read"}, t0.Add(time.Hour), "")
		var denied *domain.AccessDeniedError
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("self_delegation", func(t *testing.T) {
		_, err := h.ledger.Delegate(ctx, "maria", "maria", "farm-1", []string{"crops.read"}, t0.Add(time.Hour), "")
		var validation *domain.ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}

func TestLedger_DelegateIgnoresTemporaryGrants(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	h.assignRole(t, "mona", "farm-1", "manager", nil)
	backupUntil := t0.Add(time.Hour)
	_, err := h.ledger.CreateGrant(ctx, domain.NewGrant{
		SubjectID:   "mona",
		TenantID:    "farm-1",
		RoleID:      domain.RoleTemporaryAccess,
		Permissions: []string{"system.backup"},
		ExpiresAt:   &backupUntil,
		Reason:      "break glass",
		GrantedBy:   "operator",
	})
	require.NoError(t, err)
	require.True(t, h.resolver.CheckPermission(ctx, "mona", "farm-1", "system.backup", nil, nil))

	for _, until := range []time.Time{t0.Add(30 * 24 * time.Hour), t0.Add(30 * time.Minute)} {
		_, err := h.ledger.Delegate(ctx, "mona", "bob", "farm-1", []string{"system.backup"}, until, "handover")
		var denied *domain.AccessDeniedError
		assert.ErrorAs(t, err, &denied, "until %s", until)
	}

	h.clock.Advance(2 * time.Hour)
	assert.False(t, h.resolver.CheckPermission(ctx, "bob", "farm-1", "system.backup", nil, nil))
}

func TestLedger_DelegateCappedByCoveringGrant(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	ownerUntil := t0.Add(24 * time.Hour)
	managerUntil := t0.Add(48 * time.Hour)
	h.assignRole(t, "maria", "farm-1", "owner", &ownerUntil)
	h.assignRole(t, "maria", "farm-1", "manager", &managerUntil)

	// crops.update is covered by the manager grant and may run past the owner grant.
	_, err := h.ledger.Delegate(ctx, "maria", "vic", "farm-1", []string{"crops.update"}, t0.Add(36*time.Hour), "")
	require.NoError(t, err)

	// permissions.assign only comes from the owner grant.
	_, err = h.ledger.Delegate(ctx, "maria", "vic", "farm-1", []string{"permissions.assign"}, t0.Add(36*time.Hour), "")
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = h.ledger.Delegate(ctx, "maria", "vic", "farm-1", []string{"crops.update", "permissions.assign"}, t0.Add(12*time.Hour), "")
	require.NoError(t, err)
}

func TestLedger_RevokeOtherTenant(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	h.assignRole(t, "root", "farm-1", "admin", nil)
	h.assignRole(t, "root", "farm-2", "admin", nil)
	other := h.assignRole(t, "bob", "farm-2", "viewer", nil)

	err := h.ledger.Revoke(ctx, "root", "farm-1", other)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.True(t, h.resolver.CheckPermission(ctx, "bob", "farm-2", "farms.read", nil, nil))

	require.NoError(t, h.ledger.Revoke(ctx, "root", "farm-2", other))
	assert.False(t, h.resolver.CheckPermission(ctx, "bob", "farm-2", "farms.read", nil, nil))
}

func TestLedger_RemediateExpiredAndRevoke(t *testing.T) {
	h := newHarness(t, GrantWindow{Mode: WindowReviewDeadline})
	ctx := context.Background()
	h.assignRole(t, "root", "farm-1", "admin", nil)
	soon := t0.Add(time.Minute)
	expiring := h.assignRole(t, "alice", "farm-1", "viewer", &soon)
	keep := h.assignRole(t, "bob", "farm-1", "viewer", nil)

	h.clock.Advance(time.Hour)
	n, err := h.ledger.RemediateExpired(ctx, "farm-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err := h.grants.GetByID(ctx, expiring)
	require.NoError(t, err)
	assert.False(t, g.IsActive)

	n, err = h.ledger.RemediateExpired(ctx, "farm-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	err = h.ledger.Revoke(ctx, "bob", "farm-1", keep)
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)

	require.NoError(t, h.ledger.Revoke(ctx, "root", "farm-1", keep))
	assert.False(t, h.resolver.CheckPermission(ctx, "bob", "farm-1", "farms.read", nil, nil))

	revoked := h.audit.byKind(domain.AuditPermissionRevoked)
	assert.Len(t, revoked, 2)

	err = h.ledger.Revoke(ctx, "root", "farm-1", "missing")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
