package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var workshopSortFields = listing.SortFields{
	"id":   "_id",
	"name": "name",
	"city": "city",
}

var vehicleSortFields = listing.SortFields{
	"id":    "_id",
	"plate": "plate",
	"make":  "make",
	"model": "model",
	"year":  "year",
}

// WorkshopInput creates or replaces a workshop.
type WorkshopInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"omitempty,max=30"`
	Street   string `json:"street" validate:"max=200"`
	District string `json:"district" validate:"max=120"`
	City     string `json:"city" validate:"required,max=120"`
	State    string `json:"state" validate:"required,max=60"`
}

// WorkshopUpdate is a partial workshop update.
type WorkshopUpdate struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=120"`
	Phone    *string `json:"phone" validate:"omitempty,max=30"`
	Street   *string `json:"street" validate:"omitempty,max=200"`
	District *string `json:"district" validate:"omitempty,max=120"`
	City     *string `json:"city" validate:"omitempty,min=1,max=120"`
	State    *string `json:"state" validate:"omitempty,min=1,max=60"`
}

// VehicleInput registers a vehicle.
type VehicleInput struct {
	Plate           string           `json:"plate" validate:"required,max=10"`
	Make            string           `json:"make" validate:"required,max=60"`
	Model           string           `json:"model" validate:"required,max=60"`
	Year            int              `json:"year" validate:"required,gte=1950,lte=2100"`
	Color           string           `json:"color" validate:"max=30"`
	Department      string           `json:"department" validate:"max=120"`
	SupervisorID    *string          `json:"supervisor_id"`
	CurrentLocation *models.Location `json:"current_location"`
	Status          string           `json:"status" validate:"omitempty,oneof=active inactive"`
}

// VehicleUpdate is a partial vehicle update.
type VehicleUpdate struct {
	Color        *string  `json:"color" validate:"omitempty,max=30"`
	Department   *string  `json:"department" validate:"omitempty,max=120"`
	SupervisorID *string  `json:"supervisor_id"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Status       *string  `json:"status" validate:"omitempty,oneof=active inactive"`
}

// CatalogService manages the reference data maintenance refers to.
type CatalogService struct {
	store *db.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewCatalogService wires workshop and vehicle management.
func NewCatalogService(store *db.Store, log logrus.FieldLogger) *CatalogService {
	return &CatalogService{
		store: store,
		log:   log.WithField("component", "catalog"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateWorkshop registers a workshop.
func (s *CatalogService) CreateWorkshop(ctx context.Context, in WorkshopInput) (*models.Workshop, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	now := s.now()
	w := &models.Workshop{
		ID:        primitive.NewObjectID(),
		Name:      in.Name,
		Phone:     in.Phone,
		Street:    in.Street,
		District:  in.District,
		City:      in.City,
		State:     in.State,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Workshops.InsertWorkshop(ctx, w); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"workshop_id": w.ID.Hex(), "name": w.Name}).Info("workshop created")
	return w, nil
}

// GetWorkshop returns one workshop.
func (s *CatalogService) GetWorkshop(ctx context.Context, id string) (*models.Workshop, error) {
	oid, err := parseID("workshop", id)
	if err != nil {
		return nil, err
	}
	w, err := s.store.Workshops.FindWorkshopByID(ctx, oid)
	if err != nil {
		return nil, notFound(err, "workshop", id)
	}
	return w, nil
}

// ListWorkshops returns a page of workshops, optionally those whose name
// contains name.
func (s *CatalogService) ListWorkshops(ctx context.Context, p listing.Params, name string) (listing.Page[models.Workshop], error) {
	var f db.Filter
	if name != "" {
		f = f.And(db.Contains("name", name))
	}
	items, total, err := s.store.Workshops.FindWorkshops(ctx, workshopSortFields.Query(p, f))
	if err != nil {
		return listing.Page[models.Workshop]{}, err
	}
	return listing.Paginate(items, total, p), nil
}

// UpdateWorkshop applies a partial update.
func (s *CatalogService) UpdateWorkshop(ctx context.Context, id string, in WorkshopUpdate) (*models.Workshop, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	set := db.Fields{}
	setString(set, "name", in.Name)
	setString(set, "phone", in.Phone)
	setString(set, "street", in.Street)
	setString(set, "district", in.District)
	setString(set, "city", in.City)
	setString(set, "state", in.State)
	if len(set) == 0 {
		return nil, apperr.Validation("no fields to update")
	}
	set["updated_at"] = s.now()

	oid, err := parseID("workshop", id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Workshops.UpdateWorkshop(ctx, oid, set); err != nil {
		return nil, notFound(err, "workshop", id)
	}
	return s.GetWorkshop(ctx, id)
}

// DeleteWorkshop removes a workshop unless an active inoperability record
// is still assigned to it.
func (s *CatalogService) DeleteWorkshop(ctx context.Context, id string) error {
	oid, err := parseID("workshop", id)
	if err != nil {
		return err
	}
	if err := s.refusedWhileActive(ctx, "workshop", id, db.Eq("workshop_id", oid.Hex())); err != nil {
		return err
	}
	if err := s.store.Workshops.DeleteWorkshop(ctx, oid); err != nil {
		return notFound(err, "workshop", id)
	}
	s.log.WithField("workshop_id", id).Info("workshop deleted")
	return nil
}

// CreateVehicle registers a vehicle. New vehicles are active unless told
// otherwise.
func (s *CatalogService) CreateVehicle(ctx context.Context, in VehicleInput) (*models.Vehicle, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.CurrentLocation != nil {
		if _, err := location(&in.CurrentLocation.Lat, &in.CurrentLocation.Lon); err != nil {
			return nil, err
		}
	}
	status := in.Status
	if status == "" {
		status = "active"
	}
	now := s.now()
	v := &models.Vehicle{
		ID:              primitive.NewObjectID(),
		Plate:           in.Plate,
		Make:            in.Make,
		Model:           in.Model,
		Year:            in.Year,
		Color:           in.Color,
		Department:      in.Department,
		SupervisorID:    in.SupervisorID,
		CurrentLocation: in.CurrentLocation,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Vehicles.InsertVehicle(ctx, v); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"vehicle_id": v.ID.Hex(), "plate": v.Plate}).Info("vehicle created")
	return v, nil
}

// GetVehicle returns one vehicle.
func (s *CatalogService) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	oid, err := parseID("vehicle", id)
	if err != nil {
		return nil, err
	}
	v, err := s.store.Vehicles.FindVehicleByID(ctx, oid)
	if err != nil {
		return nil, notFound(err, "vehicle", id)
	}
	return v, nil
}

// ListVehicles returns a page of vehicles filtered by plate fragment and
// status.
func (s *CatalogService) ListVehicles(ctx context.Context, p listing.Params, plate, status string) (listing.Page[models.Vehicle], error) {
	var f db.Filter
	if plate != "" {
		f = f.And(db.Contains("plate", plate))
	}
	if status != "" {
		f = f.And(db.Eq("status", status))
	}
	items, total, err := s.store.Vehicles.FindVehicles(ctx, vehicleSortFields.Query(p, f))
	if err != nil {
		return listing.Page[models.Vehicle]{}, err
	}
	return listing.Paginate(items, total, p), nil
}

// UpdateVehicle applies a partial update.
func (s *CatalogService) UpdateVehicle(ctx context.Context, id string, in VehicleUpdate) (*models.Vehicle, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	loc, err := location(in.Latitude, in.Longitude)
	if err != nil {
		return nil, err
	}
	set := db.Fields{}
	setString(set, "color", in.Color)
	setString(set, "department", in.Department)
	setString(set, "status", in.Status)
	if in.SupervisorID != nil {
		set["supervisor_id"] = in.SupervisorID
	}
	if loc != nil {
		set["current_location"] = loc
	}
	if len(set) == 0 {
		return nil, apperr.Validation("no fields to update")
	}
	set["updated_at"] = s.now()

	oid, err := parseID("vehicle", id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Vehicles.UpdateVehicle(ctx, oid, set); err != nil {
		return nil, notFound(err, "vehicle", id)
	}
	return s.GetVehicle(ctx, id)
}

// DeleteVehicle removes a vehicle unless it is currently inoperative.
func (s *CatalogService) DeleteVehicle(ctx context.Context, id string) error {
	oid, err := parseID("vehicle", id)
	if err != nil {
		return err
	}
	if err := s.refusedWhileActive(ctx, "vehicle", id, db.Eq("vehicle_id", oid.Hex())); err != nil {
		return err
	}
	if err := s.store.Vehicles.DeleteVehicle(ctx, oid); err != nil {
		return notFound(err, "vehicle", id)
	}
	s.log.WithField("vehicle_id", id).Info("vehicle deleted")
	return nil
}

func (s *CatalogService) refusedWhileActive(ctx context.Context, kind, id string, ref db.Condition) error {
	rec, err := s.store.Inoperative.FindOneInoperative(ctx, db.Where(db.Eq("active", true), ref))
	switch {
	case err == nil:
		return apperr.Conflict(models.ActiveRecord{ID: rec.ID.Hex(), Phase: rec.Phase},
			"%s %s is referenced by active inoperability record %s", kind, id, rec.ID.Hex())
	case errors.Is(err, db.ErrNotFound):
		return nil
	default:
		return err
	}
}

func setString(set db.Fields, field string, v *string) {
	if v != nil {
		set[field] = *v
	}
}
