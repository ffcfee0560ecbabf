package dto

import (
	"time"

	"github.com/noah-isme/sma-status-api/internal/models"
)

// CreateStatusAssignmentRequest payload for assigning a status to a subject.
type CreateStatusAssignmentRequest struct {
	SubjectID          string              `json:"subjectId" validate:"required"`
	StatusDefinitionID string              `json:"statusDefinitionId" validate:"required"`
	SessionID          *string             `json:"sessionId,omitempty" validate:"omitempty,min=1"`
	PromotionID        *string             `json:"promotionId,omitempty" validate:"omitempty,min=1"`
	SubjectDomain      models.StatusDomain `json:"subjectDomain,omitempty" validate:"omitempty,oneof=ADMIN STAFF STUDENT"`
	IsActive           *bool               `json:"isActive,omitempty"`
	Remarks            *string             `json:"remarks,omitempty" validate:"omitempty,max=500"`
}

// Active returns the requested activation flag, defaulting to active.
func (r CreateStatusAssignmentRequest) Active() bool {
	return r.IsActive == nil || *r.IsActive
}

// UpdateStatusAssignmentRequest carries a partial update. Nil fields keep their current value.
type UpdateStatusAssignmentRequest struct {
	StatusDefinitionID *string             `json:"statusDefinitionId,omitempty" validate:"omitempty,min=1"`
	SessionID          *string             `json:"sessionId,omitempty"`
	PromotionID        *string             `json:"promotionId,omitempty"`
	SubjectDomain      models.StatusDomain `json:"subjectDomain,omitempty" validate:"omitempty,oneof=ADMIN STAFF STUDENT"`
	IsActive           *bool               `json:"isActive,omitempty"`
	Remarks            *string             `json:"remarks,omitempty" validate:"omitempty,max=500"`
}

// AssignmentEventType enumerates notifications emitted after assignment writes.
type AssignmentEventType string

const (
	AssignmentCreated AssignmentEventType = "AssignmentCreated"
	AssignmentUpdated AssignmentEventType = "AssignmentUpdated"
	AssignmentDeleted AssignmentEventType = "AssignmentDeleted"
)

// AssignmentEvent is the payload published for each assignment change.
type AssignmentEvent struct {
	Type               AssignmentEventType `json:"type"`
	AssignmentID       string              `json:"assignmentId"`
	SubjectID          string              `json:"subjectId"`
	StatusDefinitionID string              `json:"statusDefinitionId"`
	StatusTag          string              `json:"statusTag"`
	ActorID            string              `json:"actorId,omitempty"`
	IsActive           bool                `json:"isActive"`
	RequestID          string              `json:"requestId,omitempty"`
	OccurredAt         time.Time           `json:"occurredAt"`
}

// CascadeTask is queued when a cascade could not finish after its trigger committed.
type CascadeTask struct {
	Transition models.CascadeTransition `json:"transition"`
	Reason     string                   `json:"reason,omitempty"`
}
