package db

import (
	"context"

	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaintenanceCollection defines the interface for maintenance request operations.
type MaintenanceCollection interface {
	InsertMaintenance(ctx context.Context, m *models.MaintenanceRequest) error
	FindMaintenanceByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceRequest, error)
	FindMaintenance(ctx context.Context, q Query) ([]models.MaintenanceRequest, int64, error)
	FindOneMaintenance(ctx context.Context, f Filter) (*models.MaintenanceRequest, error)
	UpdateMaintenance(ctx context.Context, id primitive.ObjectID, guard Filter, set Fields) error
	DeleteMaintenance(ctx context.Context, id primitive.ObjectID) error
}

// InoperativeCollection defines the interface for inoperability record operations.
type InoperativeCollection interface {
	InsertInoperative(ctx context.Context, r *models.InoperabilityRecord) error
	FindInoperativeByID(ctx context.Context, id primitive.ObjectID) (*models.InoperabilityRecord, error)
	FindInoperatives(ctx context.Context, q Query) ([]models.InoperabilityRecord, int64, error)
	FindOneInoperative(ctx context.Context, f Filter) (*models.InoperabilityRecord, error)
	UpdateInoperative(ctx context.Context, id primitive.ObjectID, guard Filter, set Fields) error
}

// WorkshopCollection defines the interface for workshop data operations.
type WorkshopCollection interface {
	InsertWorkshop(ctx context.Context, w *models.Workshop) error
	FindWorkshopByID(ctx context.Context, id primitive.ObjectID) (*models.Workshop, error)
	FindWorkshops(ctx context.Context, q Query) ([]models.Workshop, int64, error)
	UpdateWorkshop(ctx context.Context, id primitive.ObjectID, set Fields) error
	DeleteWorkshop(ctx context.Context, id primitive.ObjectID) error
}

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, v *models.Vehicle) error
	FindVehicleByID(ctx context.Context, id primitive.ObjectID) (*models.Vehicle, error)
	FindVehicles(ctx context.Context, q Query) ([]models.Vehicle, int64, error)
	UpdateVehicle(ctx context.Context, id primitive.ObjectID, set Fields) error
	DeleteVehicle(ctx context.Context, id primitive.ObjectID) error
}

// BudgetCollection defines the interface for budget data operations.
type BudgetCollection interface {
	InsertBudget(ctx context.Context, b *models.Budget) error
	FindBudgetByID(ctx context.Context, id primitive.ObjectID) (*models.Budget, error)
	FindBudgets(ctx context.Context, q Query) ([]models.Budget, int64, error)
	UpdateBudget(ctx context.Context, id primitive.ObjectID, set Fields) error
	DeleteBudget(ctx context.Context, id primitive.ObjectID) error
}

// Store groups the collections used by the services.
type Store struct {
	Maintenance MaintenanceCollection
	Inoperative InoperativeCollection
	Workshops   WorkshopCollection
	Vehicles    VehicleCollection
	Budgets     BudgetCollection
	Users       UserCollection
}

// Collection names.
const (
	MaintenanceCollectionName = "maintenance_requests"
	InoperativeCollectionName = "inoperative_records"
	WorkshopCollectionName    = "workshops"
	VehicleCollectionName     = "vehicles"
	BudgetCollectionName      = "budgets"
	UserCollectionName        = "users"
)
