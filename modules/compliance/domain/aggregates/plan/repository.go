package plan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SortField string

const (
	SortUpdatedAt SortField = "updated_at"
	SortCreatedAt SortField = "created_at"
	SortTitle     SortField = "title"
)

type FindParams struct {
	Q        string
	Status   Status
	PlanType Type
	SortBy   SortField
	Desc     bool
	Limit    int
	Offset   int
}

// Repository persists plans. Implementations scope reads and writes to the organization id passed in.
type Repository interface {
	GetPaginated(ctx context.Context, organizationID uuid.UUID, params *FindParams) ([]Plan, int64, error)
	// GetByID returns ErrNotFound when no plan exists with the id, regardless of owner.
	GetByID(ctx context.Context, id uuid.UUID) (Plan, error)
	Create(ctx context.Context, p Plan) error
	// Update writes p only if the stored version equals expectedVersion, otherwise ErrConflictingEdit.
	Update(ctx context.Context, p Plan, expectedVersion int) error
	// Delete removes a DRAFT plan at expectedVersion, otherwise ErrConflictingEdit.
	Delete(ctx context.Context, organizationID, id uuid.UUID, expectedVersion int) error
}

// AuditEntry is an immutable record of one plan change.
type AuditEntry struct {
	ID             uuid.UUID         `json:"id"`
	OrganizationID uuid.UUID         `json:"organizationId"`
	PlanID         uuid.UUID         `json:"planId"`
	Action         Action            `json:"action"`
	FromStatus     Status            `json:"fromStatus,omitempty"`
	ToStatus       Status            `json:"toStatus"`
	Version        int               `json:"version"`
	ActorID        uuid.UUID         `json:"actorId"`
	ActorRole      string            `json:"actorRole,omitempty"`
	RequestID      string            `json:"requestId,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Changes        json.RawMessage   `json:"changes,omitempty"`
	TextDiffs      map[string]string `json:"textDiffs,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

type AuditRepository interface {
	Append(ctx context.Context, e AuditEntry) error
	ListByPlan(ctx context.Context, organizationID, planID uuid.UUID) ([]AuditEntry, error)
	// PurgeBefore removes entries older than cutoff and returns how many were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
