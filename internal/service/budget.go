package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var budgetSortFields = listing.SortFields{
	"id":                  "_id",
	"service_description": "service_description",
	"labor_cost":          "labor_cost",
	"status":              "status",
}

// BudgetInput is a workshop's estimate for a maintenance request. The
// workshop defaults to the one assigned to the request.
type BudgetInput struct {
	MaintenanceID      string     `json:"maintenance_id" validate:"required"`
	WorkshopID         string     `json:"workshop_id"`
	ServiceDescription string     `json:"service_description" validate:"required,max=2000"`
	LaborCost          float64    `json:"labor_cost" validate:"gte=0"`
	PartsCost          float64    `json:"parts_cost" validate:"gte=0"`
	SentAt             *time.Time `json:"sent_at"`
	Notes              string     `json:"notes" validate:"max=2000"`
}

// BudgetUpdate is a partial budget update.
type BudgetUpdate struct {
	ServiceDescription *string              `json:"service_description" validate:"omitempty,min=1,max=2000"`
	LaborCost          *float64             `json:"labor_cost" validate:"omitempty,gte=0"`
	PartsCost          *float64             `json:"parts_cost" validate:"omitempty,gte=0"`
	Status             *models.BudgetStatus `json:"status" validate:"omitempty,oneof=pending accepted declined"`
	Notes              *string              `json:"notes" validate:"omitempty,max=2000"`
}

// BudgetService manages cost estimates.
type BudgetService struct {
	store *db.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewBudgetService wires budget management.
func NewBudgetService(store *db.Store, log logrus.FieldLogger) *BudgetService {
	return &BudgetService{
		store: store,
		log:   log.WithField("component", "budget"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create records a pending budget for an existing maintenance request.
func (s *BudgetService) Create(ctx context.Context, in BudgetInput) (*models.Budget, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	mid, err := parseID("maintenance request", in.MaintenanceID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.Maintenance.FindMaintenanceByID(ctx, mid)
	if err != nil {
		return nil, notFound(err, "maintenance request", in.MaintenanceID)
	}

	workshopID := in.WorkshopID
	if workshopID == "" && m.WorkshopID != nil {
		workshopID = *m.WorkshopID
	}
	if workshopID == "" {
		return nil, apperr.Validation("workshop_id is required when the maintenance request has no workshop")
	}
	wid, err := parseID("workshop", workshopID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Workshops.FindWorkshopByID(ctx, wid); err != nil {
		return nil, notFound(err, "workshop", workshopID)
	}

	now := s.now()
	sentAt := now
	if in.SentAt != nil {
		sentAt = in.SentAt.UTC()
	}
	b := &models.Budget{
		ID:                 primitive.NewObjectID(),
		MaintenanceID:      mid.Hex(),
		WorkshopID:         wid.Hex(),
		ServiceDescription: in.ServiceDescription,
		LaborCost:          in.LaborCost,
		PartsCost:          in.PartsCost,
		Status:             models.BudgetPending,
		SentAt:             sentAt,
		Notes:              in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Budgets.InsertBudget(ctx, b); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"budget_id":      b.ID.Hex(),
		"maintenance_id": b.MaintenanceID,
		"total":          b.Total(),
	}).Info("budget created")
	return b, nil
}

// Get returns one budget.
func (s *BudgetService) Get(ctx context.Context, id string) (*models.Budget, error) {
	oid, err := parseID("budget", id)
	if err != nil {
		return nil, err
	}
	b, err := s.store.Budgets.FindBudgetByID(ctx, oid)
	if err != nil {
		return nil, notFound(err, "budget", id)
	}
	return b, nil
}

// List returns a page of budgets, optionally for one maintenance request.
func (s *BudgetService) List(ctx context.Context, p listing.Params, maintenanceID string) (listing.Page[models.Budget], error) {
	var f db.Filter
	if maintenanceID != "" {
		f = f.And(db.Eq("maintenance_id", maintenanceID))
	}
	items, total, err := s.store.Budgets.FindBudgets(ctx, budgetSortFields.Query(p, f))
	if err != nil {
		return listing.Page[models.Budget]{}, err
	}
	return listing.Paginate(items, total, p), nil
}

// Update applies a partial update.
func (s *BudgetService) Update(ctx context.Context, id string, in BudgetUpdate) (*models.Budget, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	set := db.Fields{}
	setString(set, "service_description", in.ServiceDescription)
	setString(set, "notes", in.Notes)
	if in.LaborCost != nil {
		set["labor_cost"] = *in.LaborCost
	}
	if in.PartsCost != nil {
		set["parts_cost"] = *in.PartsCost
	}
	if in.Status != nil {
		set["status"] = *in.Status
	}
	if len(set) == 0 {
		return nil, apperr.Validation("no fields to update")
	}
	set["updated_at"] = s.now()

	oid, err := parseID("budget", id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Budgets.UpdateBudget(ctx, oid, set); err != nil {
		return nil, notFound(err, "budget", id)
	}
	return s.Get(ctx, id)
}

// Delete removes a budget.
func (s *BudgetService) Delete(ctx context.Context, id string) error {
	oid, err := parseID("budget", id)
	if err != nil {
		return err
	}
	if err := s.store.Budgets.DeleteBudget(ctx, oid); err != nil {
		return notFound(err, "budget", id)
	}
	s.log.WithField("budget_id", id).Info("budget deleted")
	return nil
}
