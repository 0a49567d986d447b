package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicRequestCreatedV1      = "maintenance.request.created.v1"
	TopicRequestTransitionedV1 = "maintenance.request.transitioned.v1"
	TopicRequestAssignedV1     = "maintenance.request.assigned.v1"
	TopicRequestUpdatedV1      = "maintenance.request.updated.v1"
	EventVersionV1             = 1
)

// Topics lists every topic the maintenance outbox emits.
var Topics = []string{
	TopicRequestCreatedV1,
	TopicRequestTransitionedV1,
	TopicRequestAssignedV1,
	TopicRequestUpdatedV1,
}

type AssignmentV1 struct {
	TechnicianID uuid.UUID `json:"technician_id"`
	DistanceKm   *string   `json:"distance_km,omitempty"`
}

// RequestEventV1 is the payload the notification gateway receives. It carries
// enough to render a message without reading the request store.
type RequestEventV1 struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventVersion    int             `json:"event_version"`
	Topic           string          `json:"topic"`
	RequestID       string          `json:"request_id"`
	TransactionTime time.Time       `json:"transaction_time"`
	ActorID         string          `json:"actor_id"`
	ActorRole       string          `json:"actor_role"`
	EntityID        uuid.UUID       `json:"entity_id"`
	EntityVersion   int64           `json:"entity_version"`
	CompanyID       uuid.UUID       `json:"company_id"`
	FromStatus      string          `json:"from_status,omitempty"`
	ToStatus        string          `json:"to_status"`
	Assignment      *AssignmentV1   `json:"assignment,omitempty"`
	OldValues       json.RawMessage `json:"old_values,omitempty"`
	NewValues       json.RawMessage `json:"new_values"`
}
