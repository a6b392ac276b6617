// Package service implements the maintenance and inoperability workflows on
// top of the record store.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput runs struct tag validation and reports every failing field
// as a single validation failure.
func validateInput(in interface{}) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(err, apperr.KindValidation, "invalid input")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

// parseID converts a hex id to an ObjectID, failing with a validation error.
func parseID(kind, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid %s id %q", kind, id)
	}
	return oid, nil
}

// notFound turns db.ErrNotFound into a tagged failure and passes every
// other error through.
func notFound(err error, kind, id string) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("%s %s not found", kind, id)
	}
	return err
}

// location validates an optional coordinate pair. Both or neither must be set.
func location(lat, lon *float64) (*models.Location, error) {
	switch {
	case lat == nil && lon == nil:
		return nil, nil
	case lat == nil || lon == nil:
		return nil, apperr.Validation("latitude and longitude must be provided together")
	case *lat < -90 || *lat > 90:
		return nil, apperr.Validation("latitude %v out of range", *lat)
	case *lon < -180 || *lon > 180:
		return nil, apperr.Validation("longitude %v out of range", *lon)
	}
	return &models.Location{Lat: *lat, Lon: *lon}, nil
}

// summaries looks up the reference data embedded in views, caching each
// entity for the lifetime of one call. Missing references yield nil.
type summaries struct {
	store     *db.Store
	vehicles  map[string]*models.VehicleSummary
	workshops map[string]*models.WorkshopSummary
	users     map[string]*models.User
}

func newSummaries(store *db.Store) *summaries {
	return &summaries{
		store:     store,
		vehicles:  make(map[string]*models.VehicleSummary),
		workshops: make(map[string]*models.WorkshopSummary),
		users:     make(map[string]*models.User),
	}
}

func (s *summaries) vehicle(ctx context.Context, id string) (*models.VehicleSummary, error) {
	if v, ok := s.vehicles[id]; ok {
		return v, nil
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	v, err := s.store.Vehicles.FindVehicleByID(ctx, oid)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	var out *models.VehicleSummary
	if v != nil {
		out = v.Summary()
	}
	s.vehicles[id] = out
	return out, nil
}

func (s *summaries) workshop(ctx context.Context, id *string) (*models.WorkshopSummary, error) {
	if id == nil {
		return nil, nil
	}
	if w, ok := s.workshops[*id]; ok {
		return w, nil
	}
	oid, err := primitive.ObjectIDFromHex(*id)
	if err != nil {
		return nil, nil
	}
	w, err := s.store.Workshops.FindWorkshopByID(ctx, oid)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	var out *models.WorkshopSummary
	if w != nil {
		out = w.Summary()
	}
	s.workshops[*id] = out
	return out, nil
}

func (s *summaries) user(ctx context.Context, id *string) (*models.User, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	if u, ok := s.users[*id]; ok {
		return u, nil
	}
	if _, err := primitive.ObjectIDFromHex(*id); err != nil {
		return nil, nil
	}
	u, err := s.store.Users.FindUserByID(ctx, *id)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	s.users[*id] = u
	return u, nil
}
