package models

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type CompliancePlan struct {
	ID              pgtype.UUID
	OrganizationID  pgtype.UUID
	Title           string
	Description     string
	PlanType        string
	Status          string
	Version         int32
	Elements        []byte
	CreatedBy       pgtype.UUID
	UpdatedBy       pgtype.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	SubmittedAt     pgtype.Timestamptz
	ApprovedAt      pgtype.Timestamptz
	ApprovedBy      pgtype.UUID
	RejectedAt      pgtype.Timestamptz
	RejectionReason string
}

type CompliancePlanAudit struct {
	ID             pgtype.UUID
	OrganizationID pgtype.UUID
	PlanID         pgtype.UUID
	Action         string
	FromStatus     string
	ToStatus       string
	Version        int32
	ActorID        pgtype.UUID
	ActorRole      string
	RequestID      string
	Reason         string
	Changes        []byte
	TextDiffs      []byte
	CreatedAt      time.Time
}
