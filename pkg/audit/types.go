package audit

import (
	"encoding/json"
	"time"
)

// EventType classifies an audit event.
type EventType string

const (
	EventAccessGranted     EventType = "authz.access_granted"
	EventAccessDenied      EventType = "authz.access_denied"
	EventNodeCreated       EventType = "hierarchy.node_created"
	EventNodeUpdated       EventType = "hierarchy.node_updated"
	EventNodeDeleted       EventType = "hierarchy.node_deleted"
	EventNodeReparented    EventType = "hierarchy.node_reparented"
	EventFeatureToggled    EventType = "hierarchy.feature_toggled"
	EventAssignmentChanged EventType = "assignment.changed"
	EventAssignmentRemoved EventType = "assignment.removed"
	EventSeedLoaded        EventType = "bootstrap.seed_loaded"
)

// EventStatus indicates the outcome recorded by an event.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusDenied  EventStatus = "denied"
	StatusFailure EventStatus = "failure"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	Subject string   `json:"subject,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Tenant  string   `json:"tenant,omitempty"`

	// Target information
	NodeID    string `json:"node_id,omitempty"`
	Dimension string `json:"dimension,omitempty"`
	ScopeKey  string `json:"scope_key,omitempty"`

	// Request context
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the event to JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
