package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BudgetStatus is the review state of a workshop budget.
type BudgetStatus string

const (
	BudgetPending  BudgetStatus = "pending"
	BudgetAccepted BudgetStatus = "accepted"
	BudgetDeclined BudgetStatus = "declined"
)

// Valid reports whether s is a known budget status.
func (s BudgetStatus) Valid() bool {
	return s == BudgetPending || s == BudgetAccepted || s == BudgetDeclined
}

// Budget is a workshop's cost estimate for a maintenance request.
type Budget struct {
	ID                 primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MaintenanceID      string             `json:"maintenance_id" bson:"maintenance_id"`
	WorkshopID         string             `json:"workshop_id" bson:"workshop_id"`
	ServiceDescription string             `json:"service_description" bson:"service_description"`
	LaborCost          float64            `json:"labor_cost" bson:"labor_cost"` // in BRL
	PartsCost          float64            `json:"parts_cost" bson:"parts_cost"`
	Status             BudgetStatus       `json:"status" bson:"status"`
	SentAt             time.Time          `json:"sent_at" bson:"sent_at"`
	Notes              string             `json:"notes" bson:"notes"`
	CreatedAt          time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" bson:"updated_at"`
}

// Total returns labor plus parts.
func (b *Budget) Total() float64 {
	return b.LaborCost + b.PartsCost
}
