package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nzwater/compliance-core/pkg/serrors"
)

type Type string

const (
	TypeDWSP                  Type = "DWSP"
	TypeWaterSupplySafetyPlan Type = "WATER_SUPPLY_SAFETY_PLAN"
	TypeRiskManagementPlan    Type = "RISK_MANAGEMENT_PLAN"
	TypeAnnualCompliance      Type = "ANNUAL_COMPLIANCE"
	TypeImprovementPlan       Type = "IMPROVEMENT_PLAN"
	TypeOther                 Type = "OTHER"
)

var Types = []Type{
	TypeDWSP,
	TypeWaterSupplySafetyPlan,
	TypeRiskManagementPlan,
	TypeAnnualCompliance,
	TypeImprovementPlan,
	TypeOther,
}

func ParseType(v string) (Type, error) {
	t := strings.ToUpper(strings.TrimSpace(v))
	for _, pt := range Types {
		if string(pt) == t {
			return pt, nil
		}
	}
	return "", fmt.Errorf("unknown plan type %q", v)
}

const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 5000
	MaxReasonLength      = 2000
)

// Plan is a compliance plan owned by a single organization.
type Plan struct {
	id              uuid.UUID
	organizationID  uuid.UUID
	title           string
	description     string
	planType        Type
	version         int
	elements        Elements
	status          Status
	createdBy       uuid.UUID
	updatedBy       uuid.UUID
	createdAt       time.Time
	updatedAt       time.Time
	submittedAt     *time.Time
	approvedAt      *time.Time
	approvedBy      *uuid.UUID
	rejectedAt      *time.Time
	rejectionReason string
}

// Snapshot is the flat, exported view of a plan used by persistence and mapping.
type Snapshot struct {
	ID              uuid.UUID  `json:"id"`
	OrganizationID  uuid.UUID  `json:"organizationId"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	PlanType        Type       `json:"planType"`
	Version         int        `json:"version"`
	Elements        Elements   `json:"elements"`
	Status          Status     `json:"status"`
	CreatedBy       uuid.UUID  `json:"createdBy"`
	UpdatedBy       uuid.UUID  `json:"updatedBy"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy      *uuid.UUID `json:"approvedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
}

// New creates a DRAFT plan at version 1.
func New(organizationID, createdBy uuid.UUID, title, description string, planType Type, elements Elements, now time.Time) (Plan, error) {
	p := Plan{
		id:             uuid.New(),
		organizationID: organizationID,
		title:          strings.TrimSpace(title),
		description:    strings.TrimSpace(description),
		planType:       planType,
		version:        1,
		elements:       elements.Normalize(),
		status:         StatusDraft,
		createdBy:      createdBy,
		updatedBy:      createdBy,
		createdAt:      now,
		updatedAt:      now,
	}
	if p.planType == "" {
		p.planType = TypeDWSP
	}
	if organizationID == uuid.Nil {
		return Plan{}, serrors.ValidationErrors{
			"organizationId": serrors.NewFieldRequiredError("organizationId", "Compliance.Fields.OrganizationID"),
		}
	}
	if err := p.validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func Hydrate(s Snapshot) Plan {
	return Plan{
		id:              s.ID,
		organizationID:  s.OrganizationID,
		title:           s.Title,
		description:     s.Description,
		planType:        s.PlanType,
		version:         s.Version,
		elements:        s.Elements,
		status:          s.Status,
		createdBy:       s.CreatedBy,
		updatedBy:       s.UpdatedBy,
		createdAt:       s.CreatedAt,
		updatedAt:       s.UpdatedAt,
		submittedAt:     copyTime(s.SubmittedAt),
		approvedAt:      copyTime(s.ApprovedAt),
		approvedBy:      copyUUID(s.ApprovedBy),
		rejectedAt:      copyTime(s.RejectedAt),
		rejectionReason: s.RejectionReason,
	}
}

func (p Plan) Snapshot() Snapshot {
	return Snapshot{
		ID:              p.id,
		OrganizationID:  p.organizationID,
		Title:           p.title,
		Description:     p.description,
		PlanType:        p.planType,
		Version:         p.version,
		Elements:        p.elements,
		Status:          p.status,
		CreatedBy:       p.createdBy,
		UpdatedBy:       p.updatedBy,
		CreatedAt:       p.createdAt,
		UpdatedAt:       p.updatedAt,
		SubmittedAt:     copyTime(p.submittedAt),
		ApprovedAt:      copyTime(p.approvedAt),
		ApprovedBy:      copyUUID(p.approvedBy),
		RejectedAt:      copyTime(p.rejectedAt),
		RejectionReason: p.rejectionReason,
	}
}

func (p Plan) ID() uuid.UUID             { return p.id }
func (p Plan) OrganizationID() uuid.UUID { return p.organizationID }
func (p Plan) Title() string             { return p.title }
func (p Plan) Description() string       { return p.description }
func (p Plan) PlanType() Type            { return p.planType }
func (p Plan) Version() int              { return p.version }
func (p Plan) Elements() Elements        { return p.elements }
func (p Plan) Status() Status            { return p.status }
func (p Plan) CreatedBy() uuid.UUID      { return p.createdBy }
func (p Plan) UpdatedBy() uuid.UUID      { return p.updatedBy }
func (p Plan) CreatedAt() time.Time      { return p.createdAt }
func (p Plan) UpdatedAt() time.Time      { return p.updatedAt }
func (p Plan) SubmittedAt() *time.Time   { return copyTime(p.submittedAt) }
func (p Plan) ApprovedAt() *time.Time    { return copyTime(p.approvedAt) }
func (p Plan) ApprovedBy() *uuid.UUID    { return copyUUID(p.approvedBy) }
func (p Plan) RejectedAt() *time.Time    { return copyTime(p.rejectedAt) }
func (p Plan) RejectionReason() string   { return p.rejectionReason }
func (p Plan) IsZero() bool              { return p.id == uuid.Nil }

// Completeness evaluates the plan's current elements.
func (p Plan) Completeness() Report {
	return Evaluate(p.elements)
}

// BelongsTo reports whether the plan is owned by organizationID.
func (p Plan) BelongsTo(organizationID uuid.UUID) bool {
	return organizationID != uuid.Nil && p.organizationID == organizationID
}

// Changes is a partial content update. Nil fields are left unchanged.
type Changes struct {
	Title       *string
	Description *string
	PlanType    *Type
	Elements    *ElementsPatch
}

func (c Changes) IsEmpty() bool {
	return c.Title == nil && c.Description == nil && c.PlanType == nil && (c.Elements == nil || c.Elements.IsEmpty())
}

// Update applies content changes to a DRAFT plan, bumping the version.
func (p Plan) Update(changes Changes, actor uuid.UUID, now time.Time) (Plan, error) {
	if _, err := Transition(p.status, ActionUpdate); err != nil {
		return p, err
	}
	next := p
	if changes.Title != nil {
		next.title = strings.TrimSpace(*changes.Title)
	}
	if changes.Description != nil {
		next.description = strings.TrimSpace(*changes.Description)
	}
	if changes.PlanType != nil {
		next.planType = *changes.PlanType
	}
	if changes.Elements != nil {
		next.elements = next.elements.Apply(*changes.Elements).Normalize()
	}
	if err := next.validate(); err != nil {
		return p, err
	}
	return next.touch(actor, now), nil
}

// Submit moves a DRAFT plan to SUBMITTED and freezes its content.
func (p Plan) Submit(actor uuid.UUID, now time.Time) (Plan, error) {
	to, err := Transition(p.status, ActionSubmit)
	if err != nil {
		return p, err
	}
	next := p
	next.status = to
	next.submittedAt = timePtr(now)
	next.approvedAt, next.approvedBy = nil, nil
	next.rejectedAt, next.rejectionReason = nil, ""
	return next.touch(actor, now), nil
}

// Approve records the reviewer's approval of a SUBMITTED plan.
func (p Plan) Approve(reviewer uuid.UUID, now time.Time) (Plan, error) {
	to, err := Transition(p.status, ActionApprove)
	if err != nil {
		return p, err
	}
	if reviewer == uuid.Nil {
		return p, serrors.ValidationErrors{
			"reviewerId": serrors.NewFieldRequiredError("reviewerId", "Compliance.Fields.ReviewerID"),
		}
	}
	next := p
	next.status = to
	next.approvedAt = timePtr(now)
	next.approvedBy = &reviewer
	return next.touch(reviewer, now), nil
}

// Reject records the rejection of a SUBMITTED plan. A non-blank reason is required.
func (p Plan) Reject(actor uuid.UUID, reason string, now time.Time) (Plan, error) {
	to, err := Transition(p.status, ActionReject)
	if err != nil {
		return p, err
	}
	reason = strings.TrimSpace(reason)
	switch {
	case reason == "":
		return p, serrors.ValidationErrors{
			"reason": serrors.NewFieldRequiredError("reason", "Compliance.Fields.RejectionReason"),
		}
	case len([]rune(reason)) > MaxReasonLength:
		return p, serrors.ValidationErrors{
			"reason": serrors.NewFieldTooLongError("reason", MaxReasonLength, "Compliance.Fields.RejectionReason"),
		}
	}
	next := p
	next.status = to
	next.rejectedAt = timePtr(now)
	next.rejectionReason = reason
	return next.touch(actor, now), nil
}

// Revise reopens a REJECTED plan as a DRAFT and clears the previous submission cycle.
func (p Plan) Revise(actor uuid.UUID, now time.Time) (Plan, error) {
	to, err := Transition(p.status, ActionRevise)
	if err != nil {
		return p, err
	}
	next := p
	next.status = to
	next.submittedAt = nil
	next.rejectedAt, next.rejectionReason = nil, ""
	return next.touch(actor, now), nil
}

// CheckDeletable fails unless the plan is a DRAFT.
func (p Plan) CheckDeletable() error {
	_, err := Transition(p.status, ActionDelete)
	return err
}

func (p Plan) touch(actor uuid.UUID, now time.Time) Plan {
	p.version++
	p.updatedAt = now
	if actor != uuid.Nil {
		p.updatedBy = actor
	}
	return p
}

func (p Plan) validate() error {
	errs := make(serrors.ValidationErrors)
	switch n := len([]rune(p.title)); {
	case n == 0:
		errs["title"] = serrors.NewFieldRequiredError("title", "Compliance.Fields.Title")
	case n > MaxTitleLength:
		errs["title"] = serrors.NewFieldTooLongError("title", MaxTitleLength, "Compliance.Fields.Title")
	}
	if len([]rune(p.description)) > MaxDescriptionLength {
		errs["description"] = serrors.NewFieldTooLongError("description", MaxDescriptionLength, "Compliance.Fields.Description")
	}
	if _, err := ParseType(string(p.planType)); err != nil {
		errs["planType"] = serrors.NewFieldInvalidError("planType", "is not a known plan type", "Compliance.Fields.PlanType")
	}
	if err := p.elements.Validate(); err != nil {
		verrs, ok := err.(serrors.ValidationErrors)
		if !ok {
			return err
		}
		for k, v := range verrs {
			errs["elements."+k] = v
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func timePtr(t time.Time) *time.Time { return &t }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyUUID(u *uuid.UUID) *uuid.UUID {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}
