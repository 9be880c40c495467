// Package notify tells reviewers that an access request is waiting for them.
// Delivery is best effort: callers dispatch notifications in the background
// and only log failures.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"farm-access/internal/domain"
	"farm-access/internal/metrics"
)

// Backend names accepted by New.
const (
	BackendLog   = "log"
	BackendAMQP  = "amqp"
	BackendRedis = "redis"
)

// EventRequestCreated is the event type published for new access requests.
const EventRequestCreated = "access_request.created"

// Event is the JSON payload sent to reviewers.
type Event struct {
	EventType      string    `json:"event_type"`
	RequestID      string    `json:"request_id"`
	SubjectID      string    `json:"subject_id"`
	TenantID       string    `json:"tenant_id"`
	Permission     string    `json:"permission"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     *string   `json:"resource_id,omitempty"`
	Justification  string    `json:"justification"`
	Emergency      bool      `json:"emergency"`
	RequestedAt    time.Time `json:"requested_at"`
	ReviewDeadline time.Time `json:"review_deadline"`
}

// NewEvent builds the reviewer event for req.
func NewEvent(req domain.AccessRequest) Event {
	return Event{
		EventType:      EventRequestCreated,
		RequestID:      req.ID,
		SubjectID:      req.SubjectID,
		TenantID:       req.TenantID,
		Permission:     req.Permission,
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		Justification:  req.Justification,
		Emergency:      req.Emergency,
		RequestedAt:    req.RequestedAt.UTC(),
		ReviewDeadline: req.ReviewDeadline.UTC(),
	}
}

func encode(req domain.AccessRequest) ([]byte, error) {
	body, err := json.Marshal(NewEvent(req))
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return body, nil
}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	AMQPURL   string
	RedisAddr string
}

// Notifier is a ReviewerNotifier holding backend connections.
type Notifier interface {
	domain.ReviewerNotifier
	io.Closer
}

// New connects the configured backend. An empty backend means log.
func New(cfg Config, logger *slog.Logger) (Notifier, error) {
	var (
		n   Notifier
		err error
	)
	switch cfg.Backend {
	case "", BackendLog:
		return NewLogNotifier(logger), nil
	case BackendAMQP:
		n, err = DialAMQP(cfg.AMQPURL, logger)
	case BackendRedis:
		n, err = NewRedisNotifier(cfg.RedisAddr, logger)
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return &instrumented{backend: cfg.Backend, next: n}, nil
}

// instrumented counts delivery failures of a backend.
type instrumented struct {
	backend string
	next    Notifier
}

func (i *instrumented) NotifyReviewers(ctx context.Context, req domain.AccessRequest) error {
	err := i.next.NotifyReviewers(ctx, req)
	if err != nil {
		metrics.NotificationsFailed.WithLabelValues(i.backend).Inc()
	}
	return err
}

func (i *instrumented) Close() error { return i.next.Close() }

// LogNotifier writes reviewer notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// NotifyReviewers logs req at info level.
func (n *LogNotifier) NotifyReviewers(_ context.Context, req domain.AccessRequest) error {
	n.logger.Info("access request awaiting review",
		"request_id", req.ID, "subject", req.SubjectID, "tenant", req.TenantID,
		"permission", req.Permission, "deadline", req.ReviewDeadline)
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error { return nil }
