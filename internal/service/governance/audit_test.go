package governance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "farm-access/internal/db"
	"farm-access/internal/db/repository"
	"farm-access/internal/domain"
)

func checkEntry(subject, tenant string, i int) domain.AccessAuditEntry {
	return domain.AccessAuditEntry{
		SubjectID:  subject,
		TenantID:   tenant,
		Permission: fmt.Sprintf("farms.read.%d", i),
		Kind:       domain.AuditPermissionCheck,
		Source:     domain.SourceResolver,
		Outcome:    domain.OutcomeGranted,
		Reason:     "permission granted",
	}
}

func TestAuditLog_PreservesPerSubjectOrder(t *testing.T) {
	store := internaldb.OpenTestStore(t)
	repo := repository.NewAuditRepo(store.Write, store.Read)
	log := NewAuditLog(repo, AuditLogConfig{Shards: 3, QueueSize: 256}, discardLogger())
	defer log.Close()

	for i := 0; i < 20; i++ {
		log.Record(checkEntry("alice", "farm-1", i))
		log.Record(checkEntry("bob", "farm-2", i))
	}
	require.NoError(t, log.Flush(context.Background()))

	subject := "alice"
	entries, err := log.Query(context.Background(), domain.AuditFilter{SubjectID: &subject})
	require.NoError(t, err)
	require.Len(t, entries, 20)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("farms.read.%d", i), e.Permission)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestAuditLog_StoreFailureDoesNotBlock(t *testing.T) {
	repo := &mockAuditRepo{InsertFn: func(context.Context, *domain.AccessAuditEntry) error {
		return errors.New("disk full")
	}}
	log := NewAuditLog(repo, AuditLogConfig{Shards: 1, QueueSize: 4}, discardLogger())
	defer log.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			log.Record(checkEntry("alice", "farm-1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on a failing store")
	}
	require.NoError(t, log.Flush(context.Background()))
	assert.Empty(t, repo.stored())
}

func TestAuditLog_CloseDrainsAndRejects(t *testing.T) {
	repo := &mockAuditRepo{}
	log := NewAuditLog(repo, AuditLogConfig{Shards: 2, QueueSize: 64}, discardLogger())

	for i := 0; i < 10; i++ {
		log.Record(checkEntry("alice", "farm-1", i))
	}
	log.Close()
	assert.Len(t, repo.stored(), 10)

	log.Record(checkEntry("alice", "farm-1", 99))
	assert.Len(t, repo.stored(), 10)
	assert.NoError(t, log.Flush(context.Background()))
	log.Close()
}

func TestAuditLog_FlushHonoursContext(t *testing.T) {
	block := make(chan struct{})
	repo := &mockAuditRepo{InsertFn: func(context.Context, *domain.AccessAuditEntry) error {
		<-block
		return nil
	}}
	log := NewAuditLog(repo, AuditLogConfig{Shards: 1, QueueSize: 1}, discardLogger())
	defer func() {
		close(block)
		log.Close()
	}()

	log.Record(checkEntry("alice", "farm-1", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, log.Flush(ctx), context.DeadlineExceeded)
}

func TestAuditLog_QueryClampsLimit(t *testing.T) {
	repo := &mockAuditRepo{ListFn: func(_ context.Context, filter domain.AuditFilter) ([]domain.AccessAuditEntry, error) {
		assert.Equal(t, domain.MaxMaxResults, filter.Limit)
		return nil, nil
	}}
	log := NewAuditLog(repo, AuditLogConfig{}, discardLogger())
	defer log.Close()

	_, err := log.Query(context.Background(), domain.AuditFilter{Limit: 50000})
	require.NoError(t, err)
}
