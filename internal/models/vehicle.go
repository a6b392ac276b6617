package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Plate           string             `bson:"plate" json:"plate"`
	Make            string             `bson:"make" json:"make"`
	Model           string             `bson:"model" json:"model"`
	Year            int                `bson:"year" json:"year"`
	Color           string             `bson:"color" json:"color"`
	Department      string             `bson:"department" json:"department"`
	SupervisorID    *string            `bson:"supervisor_id" json:"supervisor_id,omitempty"`
	CurrentLocation *Location          `bson:"current_location,omitempty" json:"current_location,omitempty"`
	Status          string             `bson:"status" json:"status"` // "active" or "inactive"
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

// VehicleSummary is the short form of a vehicle embedded in phase views.
type VehicleSummary struct {
	Plate string `json:"plate"`
	Make  string `json:"make"`
	Model string `json:"model"`
}

// Summary returns the short form of v.
func (v *Vehicle) Summary() *VehicleSummary {
	return &VehicleSummary{Plate: v.Plate, Make: v.Make, Model: v.Model}
}
