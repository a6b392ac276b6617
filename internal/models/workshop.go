package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Workshop is a garage that carries out approved maintenance.
type Workshop struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Phone     string             `bson:"phone" json:"phone"`
	Street    string             `bson:"street" json:"street"`
	District  string             `bson:"district" json:"district"`
	City      string             `bson:"city" json:"city"`
	State     string             `bson:"state" json:"state"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// WorkshopSummary is the short form of a workshop embedded in phase views.
type WorkshopSummary struct {
	Name  string `json:"name"`
	City  string `json:"city"`
	State string `json:"state"`
}

// Summary returns the short form of w.
func (w *Workshop) Summary() *WorkshopSummary {
	return &WorkshopSummary{Name: w.Name, City: w.City, State: w.State}
}
