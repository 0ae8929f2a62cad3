package audit

import (
	"context"
	"time"
)

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(ctx context.Context, event *Event) error

	// LogAccessDecision logs the outcome of an access check made on
	// behalf of an authenticated identity.
	LogAccessDecision(ctx context.Context, subject string, roles []string, tenant, nodeID string, allowed bool, path string) error

	// Close closes the logger and flushes any buffered events.
	Close() error
}

// NewAccessEvent builds the event recorded for an access decision.
func NewAccessEvent(subject string, roles []string, tenant, nodeID string, allowed bool, path string) *Event {
	eventType := EventAccessGranted
	status := StatusSuccess
	if !allowed {
		eventType = EventAccessDenied
		status = StatusDenied
	}

	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Subject:   subject,
		Roles:     roles,
		Tenant:    tenant,
		NodeID:    nodeID,
		Path:      path,
	}
}

// NopLogger discards all events. Useful for tests and deployments that
// do not keep an audit trail.
type NopLogger struct{}

// NewNopLogger creates a logger that discards everything.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (n *NopLogger) LogAccessDecision(ctx context.Context, subject string, roles []string, tenant, nodeID string, allowed bool, path string) error {
	return nil
}

func (n *NopLogger) Close() error {
	return nil
}
