package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "farm-access/internal/db"
	"farm-access/internal/domain"
)

func setupGrantRepo(t *testing.T) (*GrantRepo, *LoginRepo) {
	t.Helper()
	store := internaldb.OpenTestStore(t)
	return NewGrantRepo(store.Write, store.Read), NewLoginRepo(store.Write)
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestGrantRepo_CreateAndGet(t *testing.T) {
	repo, _ := setupGrantRepo(t)
	ctx := context.Background()
	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g, err := repo.Create(ctx, domain.NewGrant{
		SubjectID:   "alice",
		TenantID:    "farm-1",
		RoleID:      domain.RoleTemporaryAccess,
		Permissions: []string{"system.backup"},
		ExpiresAt:   &exp,
		Reason:      "backup rotation",
		GrantedBy:   "bob",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.NotEmpty(t, g.PermissionSetID)
	assert.True(t, g.IsActive)
	assert.Equal(t, []string{"system.backup"}, g.Permissions)
	require.NotNil(t, g.ExpiresAt)
	assert.True(t, exp.Equal(*g.ExpiresAt))

	loaded, err := repo.GetByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, loaded.ID)
	assert.Equal(t, "bob", loaded.GrantedBy)
}

func TestGrantRepo_CreateValidates(t *testing.T) {
	repo, _ := setupGrantRepo(t)
	_, err := repo.Create(context.Background(), domain.NewGrant{SubjectID: "alice", TenantID: "farm-1", RoleID: "viewer"})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestGrantRepo_GetByID_NotFound(t *testing.T) {
	repo, _ := setupGrantRepo(t)
	_, err := repo.GetByID(context.Background(), "missing")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Message, "missing")
}

func TestGrantRepo_ListForSubject_SkipsDeactivated(t *testing.T) {
	repo, _ := setupGrantRepo(t)
	ctx := context.Background()

	first, err := repo.Create(ctx, domain.NewGrant{SubjectID: "alice", TenantID: "farm-1", RoleID: "viewer", Permissions: []string{"farms.read"}})
	require.NoError(t, err)
	second, err := repo.Create(ctx, domain.NewGrant{SubjectID: "alice", TenantID: "farm-1", RoleID: "worker", Permissions: []string{"crops.update"}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.NewGrant{SubjectID: "alice", TenantID: "farm-2", RoleID: "owner", Permissions: []string{"farms.*"}})
	require.NoError(t, err)

	require.NoError(t, repo.Deactivate(ctx, first.ID))

	grants, err := repo.ListForSubject(ctx, "alice", "farm-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, second.ID, grants[0].ID)
}

func TestGrantRepo_Deactivate_NotFound(t *testing.T) {
	repo, _ := setupGrantRepo(t)
	err := repo.Deactivate(context.Background(), "missing")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGrantRepo_DeactivateExpired(t *testing.T) {
	repo, _ := setupGrantRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	expired, err := repo.Create(ctx, domain.NewGrant{SubjectID: "alice", TenantID: "farm-1", RoleID: domain.RoleTemporaryAccess,
		Permissions: []string{"system.backup"}, ExpiresAt: ptrTime(now.Add(-time.Hour))})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.NewGrant{SubjectID: "bob", TenantID: "farm-1", RoleID: domain.RoleTemporaryAccess,
		Permissions: []string{"system.backup"}, ExpiresAt: ptrTime(now.Add(time.Hour))})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.NewGrant{SubjectID: "carol", TenantID: "farm-2", RoleID: domain.RoleTemporaryAccess,
		Permissions: []string{"system.backup"}, ExpiresAt: ptrTime(now.Add(-time.Hour))})
	require.NoError(t, err)

	out, err := repo.DeactivateExpired(ctx, "farm-1", now)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, expired.ID, out[0].ID)
	assert.False(t, out[0].IsActive)

	again, err := repo.DeactivateExpired(ctx, "farm-1", now)
	require.NoError(t, err)
	assert.Empty(t, again)

	all, err := repo.DeactivateExpired(ctx, "", now)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "carol", all[0].SubjectID)
}

func TestGrantRepo_SnapshotTenant(t *testing.T) {
	repo, logins := setupGrantRepo(t)
	ctx := context.Background()
	seen := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	_, err := repo.Create(ctx, domain.NewGrant{SubjectID: "alice", TenantID: "farm-1", RoleID: "viewer", Permissions: []string{"farms.read"}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.NewGrant{SubjectID: "bob", TenantID: "farm-1", RoleID: "viewer", Permissions: []string{"farms.read"}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.NewGrant{SubjectID: "carol", TenantID: "farm-2", RoleID: "viewer", Permissions: []string{"farms.read"}})
	require.NoError(t, err)

	require.NoError(t, logins.RecordLogin(ctx, "alice", "farm-1", seen))
	require.NoError(t, logins.RecordLogin(ctx, "dave", "farm-1", seen))

	snap, err := repo.SnapshotTenant(ctx, "farm-1")
	require.NoError(t, err)
	require.Len(t, snap.Grants, 2)
	assert.Equal(t, "alice", snap.Grants[0].SubjectID)
	assert.Equal(t, "bob", snap.Grants[1].SubjectID)
	require.Len(t, snap.LastLogins, 1)
	assert.True(t, seen.Equal(snap.LastLogins["alice"]))
}
