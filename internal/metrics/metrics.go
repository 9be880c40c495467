// Package metrics holds the Prometheus collectors of the governance service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "access_governance"

var (
	// PermissionChecks counts resolver decisions by outcome and reason.
	PermissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_checks_total",
			Help:      "Permission checks evaluated by the resolver.",
		},
		[]string{"outcome", "reason"},
	)

	RequestsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_requests_created_total",
			Help:      "Access requests submitted.",
		},
		[]string{"emergency"},
	)

	// RequestsResolved counts transitions out of pending by target status.
	RequestsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_requests_resolved_total",
			Help:      "Access requests moved to a terminal state.",
		},
		[]string{"status"},
	)

	GrantsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_issued_total",
			Help:      "Grants written to the ledger.",
		},
		[]string{"role"},
	)

	GrantsRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_revoked_total",
			Help:      "Grants deactivated by revocation or remediation.",
		},
	)

	AuditDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_dropped_total",
			Help:      "Audit entries that could not be persisted.",
		},
		[]string{"cause"},
	)

	AuditQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Entries waiting in each audit writer shard.",
		},
		[]string{"shard"},
	)

	// DriftFindings is the latest number of drift findings per tenant and type.
	DriftFindings = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drift_findings",
			Help:      "Permission drift findings from the most recent scan.",
		},
		[]string{"tenant", "type"},
	)

	NotificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviewer_notifications_failed_total",
			Help:      "Reviewer notifications that could not be delivered.",
		},
		[]string{"backend"},
	)
)

var registerOnce sync.Once

// Register adds every collector plus the Go runtime collectors to reg.
// Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			PermissionChecks,
			RequestsCreated,
			RequestsResolved,
			GrantsIssued,
			GrantsRevoked,
			AuditDropped,
			AuditQueueDepth,
			DriftFindings,
			NotificationsFailed,
		)
	})
}
