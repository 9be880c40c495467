package domain

import "time"

// DriftType classifies a permission drift finding.
type DriftType string

// Drift types. Conflicting marks a grant whose active flag contradicts its
// expiry. No rule emits suspicious yet.
const (
	DriftStale       DriftType = "stale"
	DriftExcessive   DriftType = "excessive"
	DriftConflicting DriftType = "conflicting"
	DriftSuspicious  DriftType = "suspicious"
)

// Severity ranks a drift finding.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PermissionDrift is a derived, non-authoritative finding about one grant.
type PermissionDrift struct {
	SubjectID      string
	TenantID       string
	GrantID        string
	Type           DriftType
	Severity       Severity
	Description    string
	AutoRemediated bool
	DetectedAt     time.Time
}
