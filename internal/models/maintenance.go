package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaintenanceStatus is the approval state of a maintenance request.
type MaintenanceStatus string

const (
	StatusPending    MaintenanceStatus = "pending"
	StatusApproved   MaintenanceStatus = "approved"
	StatusRejected   MaintenanceStatus = "rejected"
	StatusInProgress MaintenanceStatus = "in_progress"
	StatusCompleted  MaintenanceStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s MaintenanceStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsActive reports whether work on the request is under way, which is the
// precondition for opening an inoperability record and for completion.
func (s MaintenanceStatus) IsActive() bool {
	return s == StatusApproved || s == StatusInProgress
}

// Urgency is the reported severity of a vehicle problem.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Valid reports whether u is one of the known urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	default:
		return false
	}
}

// MaintenanceRequest represents a reported vehicle problem moving through
// the approval workflow.
type MaintenanceRequest struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID       string             `json:"vehicle_id" bson:"vehicle_id"`
	Description     string             `json:"description" bson:"description"`
	Urgency         Urgency            `json:"urgency" bson:"urgency"`
	Status          MaintenanceStatus  `json:"status" bson:"status"`
	WorkshopID      *string            `json:"workshop_id,omitempty" bson:"workshop_id"`
	RequesterID     string             `json:"requester_id" bson:"requester_id"`
	AnalystID       *string            `json:"analyst_id,omitempty" bson:"analyst_id"`
	SupervisorID    *string            `json:"supervisor_id,omitempty" bson:"supervisor_id"`
	Location        *Location          `json:"location,omitempty" bson:"location,omitempty"`
	ApprovedAt      *time.Time         `json:"approved_at,omitempty" bson:"approved_at,omitempty"`
	RejectedAt      *time.Time         `json:"rejected_at,omitempty" bson:"rejected_at,omitempty"`
	RejectionReason *string            `json:"rejection_reason,omitempty" bson:"rejection_reason,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" bson:"updated_at"`
}
