package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Phase is a step of the inoperability sequence. Phases are totally ordered
// from PhaseOne to PhaseFive; PhaseFive is terminal.
type Phase string

const (
	PhaseOne   Phase = "FASE1"
	PhaseTwo   Phase = "FASE2"
	PhaseThree Phase = "FASE3"
	PhaseFour  Phase = "FASE4"
	PhaseFive  Phase = "FASE5"
)

// Phases lists every phase in order.
var Phases = []Phase{PhaseOne, PhaseTwo, PhaseThree, PhaseFour, PhaseFive}

// ParsePhase converts a phase token to a Phase. Surrounding spaces and
// letter case are ignored.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	if p.index() < 0 {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

func (p Phase) index() int {
	for i, v := range Phases {
		if v == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a recognized phase.
func (p Phase) Valid() bool { return p.index() >= 0 }

// IsTerminal reports whether p ends the sequence.
func (p Phase) IsTerminal() bool { return p == PhaseFive }

// Next returns the phase following p. The terminal phase has no successor.
func (p Phase) Next() (Phase, bool) {
	i := p.index()
	if i < 0 || i+1 >= len(Phases) {
		return "", false
	}
	return Phases[i+1], true
}

// InoperabilityRecord tracks the period during which a vehicle is out of
// service. Active mirrors Phase != PhaseFive so storage can index it.
type InoperabilityRecord struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID     string             `json:"vehicle_id" bson:"vehicle_id"`
	WorkshopID    string             `json:"workshop_id" bson:"workshop_id"`
	ResponsibleID string             `json:"responsible_id" bson:"responsible_id"`
	MaintenanceID *string            `json:"maintenance_id,omitempty" bson:"maintenance_id"`
	Phase         Phase              `json:"phase" bson:"phase"`
	Active        bool               `json:"active" bson:"active"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

// ActiveRecord identifies an active inoperability record. It is returned
// with conflicts so callers can redirect instead of retrying.
type ActiveRecord struct {
	ID    string `json:"id"`
	Phase Phase  `json:"phase"`
}
