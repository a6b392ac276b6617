package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/access"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/metrics"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"github.com/ukydev/fleet-inoperability/internal/notify"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNoEligibleRequest is returned by the completion hook when no
// maintenance request is left to complete for a record.
var ErrNoEligibleRequest = errors.New("no approved or in-progress maintenance request")

var maintenanceSortFields = listing.SortFields{
	"id":         "_id",
	"urgency":    "urgency",
	"status":     "status",
	"created_at": "created_at",
}

var inoperativeVehicleSortFields = listing.SortFields{
	"id":            "_id",
	"vehicle_id":    "vehicle_id",
	"workshop_id":   "workshop_id",
	"supervisor_id": "supervisor_id",
}

// CreateMaintenanceInput is a problem report for a vehicle.
type CreateMaintenanceInput struct {
	VehicleID    string         `json:"vehicle_id" validate:"required"`
	Description  string         `json:"description" validate:"required,max=2000"`
	Urgency      models.Urgency `json:"urgency" validate:"required,oneof=low medium high critical"`
	Latitude     *float64       `json:"latitude"`
	Longitude    *float64       `json:"longitude"`
	AnalystID    *string        `json:"analyst_id"`
	SupervisorID *string        `json:"supervisor_id"`
}

// UpdateMaintenanceInput is a partial update. Status is decoded only so that
// an attempt to set it can be rejected.
type UpdateMaintenanceInput struct {
	Description *string         `json:"description" validate:"omitempty,min=1,max=2000"`
	Urgency     *models.Urgency `json:"urgency" validate:"omitempty,oneof=low medium high critical"`
	Latitude    *float64        `json:"latitude"`
	Longitude   *float64        `json:"longitude"`
	AnalystID   *string         `json:"analyst_id"`
	Status      *string         `json:"status"`
}

// MaintenanceView is a maintenance request with its references resolved.
type MaintenanceView struct {
	models.MaintenanceRequest
	Vehicle    *models.VehicleSummary  `json:"vehicle,omitempty"`
	Workshop   *models.WorkshopSummary `json:"workshop,omitempty"`
	Supervisor *models.UserSummary     `json:"supervisor,omitempty"`
}

// MaintenanceService owns the status of maintenance requests.
type MaintenanceService struct {
	store    *db.Store
	notifier *notify.Dispatcher
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewMaintenanceService wires the maintenance workflow.
func NewMaintenanceService(store *db.Store, notifier *notify.Dispatcher, m *metrics.Metrics, log logrus.FieldLogger) *MaintenanceService {
	return &MaintenanceService{
		store:    store,
		notifier: notifier,
		metrics:  m,
		log:      log.WithField("component", "maintenance"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List returns a page of the requests visible to caller, optionally
// restricted to one status.
func (s *MaintenanceService) List(ctx context.Context, caller access.Caller, p listing.Params, status string) (listing.Page[models.MaintenanceRequest], error) {
	f := access.Resolve(caller, access.KindMaintenance)
	if status != "" {
		st := models.MaintenanceStatus(status)
		if !st.Valid() {
			return listing.Page[models.MaintenanceRequest]{}, apperr.Validation("unknown status %q", status)
		}
		f = f.And(db.Eq("status", st))
	}

	items, total, err := s.store.Maintenance.FindMaintenance(ctx, maintenanceSortFields.Query(p, f))
	if err != nil {
		return listing.Page[models.MaintenanceRequest]{}, err
	}
	return listing.Paginate(items, total, p), nil
}

// Get returns one request. Supervisors may only read their own.
func (s *MaintenanceService) Get(ctx context.Context, caller access.Caller, id string) (*models.MaintenanceRequest, error) {
	m, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanSee(caller, m.SupervisorID) {
		return nil, apperr.Forbidden("maintenance request %s is outside your scope", id)
	}
	return m, nil
}

// GetView returns one request with vehicle, workshop and supervisor resolved.
func (s *MaintenanceService) GetView(ctx context.Context, caller access.Caller, id string) (*MaintenanceView, error) {
	m, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, newSummaries(s.store), *m)
}

func (s *MaintenanceService) find(ctx context.Context, id string) (*models.MaintenanceRequest, error) {
	oid, err := parseID("maintenance request", id)
	if err != nil {
		return nil, err
	}
	m, err := s.store.Maintenance.FindMaintenanceByID(ctx, oid)
	if err != nil {
		return nil, notFound(err, "maintenance request", id)
	}
	return m, nil
}

// Create files a new request in pending status and notifies the requester
// and every analyst in the background.
func (s *MaintenanceService) Create(ctx context.Context, caller access.Caller, in CreateMaintenanceInput) (*models.MaintenanceRequest, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	loc, err := location(in.Latitude, in.Longitude)
	if err != nil {
		return nil, err
	}

	vehicleOID, err := parseID("vehicle", in.VehicleID)
	if err != nil {
		return nil, err
	}
	vehicle, err := s.store.Vehicles.FindVehicleByID(ctx, vehicleOID)
	if err != nil {
		return nil, notFound(err, "vehicle", in.VehicleID)
	}

	supervisorID := in.SupervisorID
	switch {
	case caller.Restricted():
		id := caller.ID
		supervisorID = &id
	case supervisorID == nil:
		supervisorID = vehicle.SupervisorID
	}

	now := s.now()
	m := &models.MaintenanceRequest{
		ID:           primitive.NewObjectID(),
		VehicleID:    vehicleOID.Hex(),
		Description:  in.Description,
		Urgency:      in.Urgency,
		Status:       models.StatusPending,
		RequesterID:  caller.ID,
		AnalystID:    in.AnalystID,
		SupervisorID: supervisorID,
		Location:     loc,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Maintenance.InsertMaintenance(ctx, m); err != nil {
		return nil, err
	}

	s.metrics.MaintenanceTransition(string(models.StatusPending))
	s.log.WithFields(logrus.Fields{
		"maintenance_id": m.ID.Hex(),
		"vehicle_id":     m.VehicleID,
		"urgency":        m.Urgency,
	}).Info("maintenance request created")

	s.notifyCreated(ctx, caller, m, vehicle)
	return m, nil
}

func (s *MaintenanceService) notifyCreated(ctx context.Context, caller access.Caller, m *models.MaintenanceRequest, v *models.Vehicle) {
	subject := fmt.Sprintf("New maintenance request for %s", v.Plate)
	metadata := map[string]string{
		"maintenance_id": m.ID.Hex(),
		"vehicle_id":     m.VehicleID,
		"urgency":        string(m.Urgency),
	}
	s.notifier.DispatchFunc(ctx, func(ctx context.Context) ([]notify.Message, error) {
		seen := make(map[string]bool)
		var msgs []notify.Message
		add := func(to string) {
			if to == "" || seen[to] {
				return
			}
			seen[to] = true
			msgs = append(msgs, notify.Message{To: to, Subject: subject, Body: m.Description, Metadata: metadata})
		}
		add(caller.ID)

		analysts, err := s.store.Users.FindUsers(ctx, db.Where(db.Eq("role", models.RoleAnalyst), db.Eq("is_active", true)))
		for _, a := range analysts {
			add(a.ID.Hex())
		}
		return msgs, err
	})
}

// Update applies a partial update. Status can never be set here.
func (s *MaintenanceService) Update(ctx context.Context, caller access.Caller, id string, in UpdateMaintenanceInput) (*models.MaintenanceRequest, error) {
	if in.Status != nil {
		return nil, apperr.Validation("status cannot be updated directly; use approve, reject or the inoperability workflow")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	loc, err := location(in.Latitude, in.Longitude)
	if err != nil {
		return nil, err
	}

	set := db.Fields{}
	if in.Description != nil {
		set["description"] = *in.Description
	}
	if in.Urgency != nil {
		set["urgency"] = *in.Urgency
	}
	if in.AnalystID != nil {
		set["analyst_id"] = in.AnalystID
	}
	if loc != nil {
		set["location"] = loc
	}
	if len(set) == 0 {
		return nil, apperr.Validation("no fields to update")
	}

	m, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	set["updated_at"] = s.now()
	if err := s.store.Maintenance.UpdateMaintenance(ctx, m.ID, nil, set); err != nil {
		return nil, notFound(err, "maintenance request", id)
	}
	return s.find(ctx, id)
}

// Delete removes a request unless an active inoperability record still
// references it.
func (s *MaintenanceService) Delete(ctx context.Context, caller access.Caller, id string) error {
	m, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}

	active, err := s.store.Inoperative.FindOneInoperative(ctx, db.Where(db.Eq("active", true), db.Eq("maintenance_id", m.ID.Hex())))
	switch {
	case err == nil:
		return apperr.Conflict(models.ActiveRecord{ID: active.ID.Hex(), Phase: active.Phase},
			"maintenance request %s is referenced by active inoperability record %s", id, active.ID.Hex())
	case !errors.Is(err, db.ErrNotFound):
		return err
	}

	if err := s.store.Maintenance.DeleteMaintenance(ctx, m.ID); err != nil {
		return notFound(err, "maintenance request", id)
	}
	s.log.WithField("maintenance_id", id).Info("maintenance request deleted")
	return nil
}

// Approve moves a pending request to approved, optionally assigning the
// workshop that will carry out the work.
func (s *MaintenanceService) Approve(ctx context.Context, caller access.Caller, id string, workshopID *string) (*models.MaintenanceRequest, error) {
	now := s.now()
	set := db.Fields{
		"approved_at": now,
		"analyst_id":  &caller.ID,
	}
	if workshopID != nil && *workshopID != "" {
		oid, err := parseID("workshop", *workshopID)
		if err != nil {
			return nil, err
		}
		if _, err := s.store.Workshops.FindWorkshopByID(ctx, oid); err != nil {
			return nil, notFound(err, "workshop", *workshopID)
		}
		hex := oid.Hex()
		set["workshop_id"] = &hex
	}
	return s.transition(ctx, id, []models.MaintenanceStatus{models.StatusPending}, models.StatusApproved, set)
}

// Reject moves a pending request to rejected with an optional reason.
func (s *MaintenanceService) Reject(ctx context.Context, caller access.Caller, id string, reason *string) (*models.MaintenanceRequest, error) {
	set := db.Fields{
		"rejected_at": s.now(),
		"analyst_id":  &caller.ID,
	}
	if reason != nil && *reason != "" {
		set["rejection_reason"] = *reason
	}
	return s.transition(ctx, id, []models.MaintenanceStatus{models.StatusPending}, models.StatusRejected, set)
}

// Start marks an approved request as in progress.
func (s *MaintenanceService) Start(ctx context.Context, caller access.Caller, id string) (*models.MaintenanceRequest, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, []models.MaintenanceStatus{models.StatusApproved}, models.StatusInProgress, db.Fields{})
}

// transition moves a request from one of the allowed statuses to to. The
// write is guarded on the status read, so of two concurrent transitions
// only one can succeed.
func (s *MaintenanceService) transition(ctx context.Context, id string, from []models.MaintenanceStatus, to models.MaintenanceStatus, set db.Fields) (*models.MaintenanceRequest, error) {
	m, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(m.Status, from) {
		return nil, apperr.InvalidState("maintenance request %s is %s, expected %s", id, m.Status, joinStatuses(from))
	}

	set["status"] = to
	set["updated_at"] = s.now()
	err = s.store.Maintenance.UpdateMaintenance(ctx, m.ID, db.Where(db.Eq("status", m.Status)), set)
	switch {
	case errors.Is(err, db.ErrGuardFailed):
		return nil, apperr.InvalidState("maintenance request %s changed status concurrently", id)
	case err != nil:
		return nil, notFound(err, "maintenance request", id)
	}

	s.metrics.MaintenanceTransition(string(to))
	s.log.WithFields(logrus.Fields{
		"maintenance_id": id,
		"from":           m.Status,
		"to":             to,
	}).Info("maintenance request status changed")
	return s.find(ctx, id)
}

// complete closes an approved or in-progress request. It is reachable only
// through CompletionHook.
func (s *MaintenanceService) complete(ctx context.Context, m *models.MaintenanceRequest) error {
	now := s.now()
	set := db.Fields{"status": models.StatusCompleted, "completed_at": now, "updated_at": now}
	guard := db.Where(db.In("status", models.StatusApproved, models.StatusInProgress))
	if err := s.store.Maintenance.UpdateMaintenance(ctx, m.ID, guard, set); err != nil {
		return err
	}
	s.metrics.MaintenanceTransition(string(models.StatusCompleted))
	s.log.WithFields(logrus.Fields{
		"maintenance_id": m.ID.Hex(),
		"vehicle_id":     m.VehicleID,
		"from":           m.Status,
	}).Info("maintenance request completed")
	return nil
}

// CompletionHook returns the hook the inoperability workflow calls when a
// record enters its terminal phase. The record's own maintenance request is
// completed when it is still open. The vehicle's open request is used only
// when the record has no linked request or the link points nowhere.
// ErrNoEligibleRequest reports that nothing was left to complete.
func (s *MaintenanceService) CompletionHook() TerminalPhaseHook {
	return func(ctx context.Context, rec *models.InoperabilityRecord) error {
		m, err := s.completionTarget(ctx, rec)
		if err != nil {
			return err
		}
		err = s.complete(ctx, m)
		if errors.Is(err, db.ErrGuardFailed) || errors.Is(err, db.ErrNotFound) {
			return ErrNoEligibleRequest
		}
		return err
	}
}

func (s *MaintenanceService) completionTarget(ctx context.Context, rec *models.InoperabilityRecord) (*models.MaintenanceRequest, error) {
	if rec.MaintenanceID != nil {
		if oid, err := primitive.ObjectIDFromHex(*rec.MaintenanceID); err == nil {
			m, err := s.store.Maintenance.FindMaintenanceByID(ctx, oid)
			switch {
			case err == nil && m.Status.IsActive():
				return m, nil
			case err == nil:
				return nil, ErrNoEligibleRequest
			case !errors.Is(err, db.ErrNotFound):
				return nil, err
			}
		}
	}

	m, err := s.store.Maintenance.FindOneMaintenance(ctx, db.Where(
		db.Eq("vehicle_id", rec.VehicleID),
		db.In("status", models.StatusApproved, models.StatusInProgress),
	))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoEligibleRequest
	}
	return m, err
}

// ListInoperativeVehicles returns the requests whose vehicles are, or were,
// out of service: approved and completed ones unless status narrows it.
func (s *MaintenanceService) ListInoperativeVehicles(ctx context.Context, caller access.Caller, p listing.Params, status string) (listing.Page[MaintenanceView], error) {
	statuses := []interface{}{models.StatusApproved, models.StatusCompleted}
	if status != "" {
		st := models.MaintenanceStatus(status)
		if !st.Valid() {
			return listing.Page[MaintenanceView]{}, apperr.Validation("unknown status %q", status)
		}
		statuses = []interface{}{st}
	}
	f := access.Resolve(caller, access.KindMaintenance).And(db.In("status", statuses...))

	items, total, err := s.store.Maintenance.FindMaintenance(ctx, inoperativeVehicleSortFields.Query(p, f))
	if err != nil {
		return listing.Page[MaintenanceView]{}, err
	}

	lookup := newSummaries(s.store)
	views := make([]MaintenanceView, 0, len(items))
	for _, m := range items {
		v, err := s.view(ctx, lookup, m)
		if err != nil {
			return listing.Page[MaintenanceView]{}, err
		}
		views = append(views, *v)
	}
	return listing.Paginate(views, total, p), nil
}

func (s *MaintenanceService) view(ctx context.Context, lookup *summaries, m models.MaintenanceRequest) (*MaintenanceView, error) {
	v := &MaintenanceView{MaintenanceRequest: m}
	var err error
	if v.Vehicle, err = lookup.vehicle(ctx, m.VehicleID); err != nil {
		return nil, err
	}
	if v.Workshop, err = lookup.workshop(ctx, m.WorkshopID); err != nil {
		return nil, err
	}
	sup, err := lookup.user(ctx, m.SupervisorID)
	if err != nil {
		return nil, err
	}
	if sup != nil {
		v.Supervisor = &models.UserSummary{Name: sup.FullName(), Email: sup.Email}
	}
	return v, nil
}

func statusIn(s models.MaintenanceStatus, set []models.MaintenanceStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func joinStatuses(set []models.MaintenanceStatus) string {
	out := ""
	for i, v := range set {
		if i > 0 {
			out += " or "
		}
		out += string(v)
	}
	return out
}
