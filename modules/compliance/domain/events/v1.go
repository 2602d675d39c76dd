package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicPlanChangedV1 = "compliance.plan.changed.v1"
	EventVersionV1     = 1
	EntityTypePlan     = "compliance_plan"
)

// PlanEventV1 is published through the outbox after every persisted plan change.
type PlanEventV1 struct {
	EventID         uuid.UUID `json:"event_id"`
	EventVersion    int       `json:"event_version"`
	RequestID       string    `json:"request_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	TransactionTime time.Time `json:"transaction_time"`
	InitiatorID     uuid.UUID `json:"initiator_id"`
	ChangeType      string    `json:"change_type"`
	EntityType      string    `json:"entity_type"`
	EntityID        uuid.UUID `json:"entity_id"`
	EntityVersion   int64     `json:"entity_version"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	Completeness    int       `json:"completeness"`
}
