// Package governance implements the audit trail, drift detection, access
// analytics and the periodic jobs that keep the ledger tidy.
package governance

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"farm-access/internal/domain"
	"farm-access/internal/metrics"
)

// Audit writer defaults.
const (
	DefaultAuditShards    = 4
	DefaultAuditQueueSize = 1024
	auditWriteTimeout     = 5 * time.Second
)

// AuditLogConfig sizes the asynchronous writers.
type AuditLogConfig struct {
	Shards    int
	QueueSize int
}

type auditItem struct {
	entry domain.AccessAuditEntry
	flush chan struct{}
}

var _ domain.AuditRecorder = (*AuditLog)(nil)

// AuditLog persists audit entries through tenant-sharded background writers.
// Record never blocks the caller. Entries of one tenant always go through the
// same shard, so each subject's entries are stored in the order recorded.
// Entries that cannot be stored are written to the logger at error level in
// full.
type AuditLog struct {
	repo   domain.AuditRepository
	logger *slog.Logger
	shards []chan auditItem

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAuditLog starts the shard writers. Call Close to stop them.
func NewAuditLog(repo domain.AuditRepository, cfg AuditLogConfig, logger *slog.Logger) *AuditLog {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultAuditShards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultAuditQueueSize
	}
	a := &AuditLog{
		repo:   repo,
		logger: logger.With("component", "audit-log"),
		shards: make([]chan auditItem, cfg.Shards),
	}
	for i := range a.shards {
		a.shards[i] = make(chan auditItem, cfg.QueueSize)
		a.wg.Add(1)
		go a.run(i)
	}
	return a
}

// Record enqueues entry for storage.
func (a *AuditLog) Record(entry domain.AccessAuditEntry) {
	if entry.ID == "" {
		entry.ID = domain.NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(entry, "closed", nil)
		return
	}
	select {
	case a.shards[a.shardFor(entry.TenantID)] <- auditItem{entry: entry}:
	default:
		a.drop(entry, "overflow", nil)
	}
}

// Flush waits until every entry recorded before the call has been handled
// by its writer, or ctx is done.
func (a *AuditLog) Flush(ctx context.Context) error {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil
	}
	markers := make([]chan struct{}, len(a.shards))
	for i, ch := range a.shards {
		markers[i] = make(chan struct{})
		select {
		case ch <- auditItem{flush: markers[i]}:
		case <-ctx.Done():
			a.mu.RUnlock()
			return ctx.Err()
		}
	}
	a.mu.RUnlock()

	for _, m := range markers {
		select {
		case <-m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting entries, drains the queues and stops the writers.
func (a *AuditLog) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	for _, ch := range a.shards {
		close(ch)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// Query returns stored entries matching filter.
func (a *AuditLog) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AccessAuditEntry, error) {
	filter.Limit = domain.ClampLimit(filter.Limit)
	return a.repo.List(ctx, filter)
}

func (a *AuditLog) shardFor(tenantID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	return int(h.Sum32() % uint32(len(a.shards)))
}

func (a *AuditLog) run(shard int) {
	defer a.wg.Done()
	label := strconv.Itoa(shard)
	ch := a.shards[shard]
	for item := range ch {
		if item.flush != nil {
			close(item.flush)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		err := a.repo.Insert(ctx, &item.entry)
		cancel()
		if err != nil {
			a.drop(item.entry, "store", err)
		}
		metrics.AuditQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
	}
}

func (a *AuditLog) drop(e domain.AccessAuditEntry, cause string, err error) {
	metrics.AuditDropped.WithLabelValues(cause).Inc()
	attrs := []any{
		"cause", cause,
		"audit_id", e.ID,
		"subject", e.SubjectID,
		"tenant", e.TenantID,
		"permission", e.Permission,
		"kind", e.Kind,
		"source", e.Source,
		"outcome", e.Outcome,
		"reason", e.Reason,
		"created_at", e.CreatedAt,
	}
	if e.ResourceID != nil {
		attrs = append(attrs, "resource_id", *e.ResourceID)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	a.logger.Error("audit entry not persisted", attrs...)
}
