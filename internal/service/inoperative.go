package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/access"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/lock"
	"github.com/ukydev/fleet-inoperability/internal/metrics"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TerminalPhaseHook is invoked after a record's move into the terminal
// phase is committed, and only by the call that committed it. Its errors
// are logged; the phase change stands.
type TerminalPhaseHook func(ctx context.Context, rec *models.InoperabilityRecord) error

var inoperativeSortFields = listing.SortFields{
	"id":             "_id",
	"vehicle_id":     "vehicle_id",
	"workshop_id":    "workshop_id",
	"responsible_id": "responsible_id",
	"phase":          "phase",
	"updated_at":     "updated_at",
}

// InoperativeOptions tunes the inoperability workflow.
type InoperativeOptions struct {
	// StrictPhases only allows moving to the next phase. When false any
	// non-terminal record may move to any other phase.
	StrictPhases bool
	// LockTTL bounds the per-vehicle lease held while creating a record.
	LockTTL time.Duration
}

// InoperativeFilter narrows List.
type InoperativeFilter struct {
	Phase     string
	Active    *bool
	VehicleID string
}

// PhaseView is the phase of a record with its references resolved.
type PhaseView struct {
	ID          string                  `json:"id"`
	Phase       models.Phase            `json:"phase"`
	UpdatedAt   time.Time               `json:"updated_at"`
	Vehicle     *models.VehicleSummary  `json:"vehicle,omitempty"`
	Workshop    *models.WorkshopSummary `json:"workshop,omitempty"`
	Responsible *models.UserSummary     `json:"responsible,omitempty"`
}

// InoperativeService owns inoperability records and their phases.
type InoperativeService struct {
	store      *db.Store
	locker     lock.Locker
	onTerminal TerminalPhaseHook
	opts       InoperativeOptions
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewInoperativeService wires the inoperability workflow. onTerminal is
// normally MaintenanceService.CompletionHook.
func NewInoperativeService(store *db.Store, locker lock.Locker, onTerminal TerminalPhaseHook, opts InoperativeOptions, m *metrics.Metrics, log logrus.FieldLogger) *InoperativeService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &InoperativeService{
		store:      store,
		locker:     locker,
		onTerminal: onTerminal,
		opts:       opts,
		metrics:    m,
		log:        log.WithField("component", "inoperative"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a record from an approved or in-progress maintenance
// request that has a workshop assigned.
func (s *InoperativeService) Create(ctx context.Context, caller access.Caller, maintenanceID string) (*models.InoperabilityRecord, error) {
	oid, err := parseID("maintenance request", maintenanceID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.Maintenance.FindMaintenanceByID(ctx, oid)
	if err != nil {
		return nil, notFound(err, "maintenance request", maintenanceID)
	}
	if !m.Status.IsActive() {
		return nil, apperr.Ineligible("maintenance request %s is %s; it must be approved or in progress", maintenanceID, m.Status)
	}
	if m.WorkshopID == nil {
		return nil, apperr.Ineligible("maintenance request %s has no workshop assigned", maintenanceID)
	}
	return s.open(ctx, caller, m)
}

// CreateForVehicle opens a record from the vehicle's open maintenance
// request.
func (s *InoperativeService) CreateForVehicle(ctx context.Context, caller access.Caller, vehicleID string) (*models.InoperabilityRecord, error) {
	oid, err := parseID("vehicle", vehicleID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Vehicles.FindVehicleByID(ctx, oid); err != nil {
		return nil, notFound(err, "vehicle", vehicleID)
	}

	m, err := s.store.Maintenance.FindOneMaintenance(ctx, db.Where(
		db.Eq("vehicle_id", oid.Hex()),
		db.In("status", models.StatusApproved, models.StatusInProgress),
		db.NotNull("workshop_id"),
	))
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Ineligible("vehicle %s has no approved maintenance request with a workshop assigned", vehicleID)
	}
	if err != nil {
		return nil, err
	}
	return s.open(ctx, caller, m)
}

// open inserts the record while holding the vehicle's lease. The unique
// index on active records backs the lease up across store clients.
func (s *InoperativeService) open(ctx context.Context, caller access.Caller, m *models.MaintenanceRequest) (*models.InoperabilityRecord, error) {
	release, err := s.locker.TryAcquire(ctx, "inoperative:vehicle:"+m.VehicleID, s.opts.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		s.metrics.LockContention("inoperative_create")
		return nil, apperr.Conflict(nil, "an inoperability record for vehicle %s is being created", m.VehicleID)
	}
	if err != nil {
		return nil, err
	}
	defer release()

	maintenanceID := m.ID.Hex()
	if existing, err := s.findActive(ctx, m.VehicleID, maintenanceID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, conflictFor(caller, existing)
	}

	now := s.now()
	rec := &models.InoperabilityRecord{
		ID:            primitive.NewObjectID(),
		VehicleID:     m.VehicleID,
		WorkshopID:    *m.WorkshopID,
		ResponsibleID: caller.ID,
		MaintenanceID: &maintenanceID,
		Phase:         models.PhaseOne,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Inoperative.InsertInoperative(ctx, rec); err != nil {
		if !errors.Is(err, db.ErrDuplicate) {
			return nil, err
		}
		existing, ferr := s.findActive(ctx, m.VehicleID, maintenanceID)
		if ferr != nil || existing == nil {
			return nil, apperr.Wrap(err, apperr.KindConflict, "vehicle already has an active inoperability record")
		}
		return nil, conflictFor(caller, existing)
	}

	s.metrics.PhaseTransition("", string(models.PhaseOne))
	s.log.WithFields(logrus.Fields{
		"inoperative_id": rec.ID.Hex(),
		"vehicle_id":     rec.VehicleID,
		"maintenance_id": maintenanceID,
		"responsible_id": rec.ResponsibleID,
	}).Info("inoperability record opened")
	return rec, nil
}

// conflictFor reports the active record to callers allowed to see it.
func conflictFor(caller access.Caller, rec *models.InoperabilityRecord) error {
	if !access.CanSee(caller, &rec.ResponsibleID) {
		return apperr.Conflict(nil, "vehicle %s already has an active inoperability record", rec.VehicleID)
	}
	return apperr.Conflict(models.ActiveRecord{ID: rec.ID.Hex(), Phase: rec.Phase},
		"vehicle %s already has an active inoperability record %s in %s", rec.VehicleID, rec.ID.Hex(), rec.Phase)
}

// findActive returns the active record for the vehicle or, failing that,
// for the maintenance request. Either key may be empty.
func (s *InoperativeService) findActive(ctx context.Context, vehicleID, maintenanceID string) (*models.InoperabilityRecord, error) {
	keys := []db.Condition{}
	if vehicleID != "" {
		keys = append(keys, db.Eq("vehicle_id", vehicleID))
	}
	if maintenanceID != "" {
		keys = append(keys, db.Eq("maintenance_id", maintenanceID))
	}
	for _, key := range keys {
		rec, err := s.store.Inoperative.FindOneInoperative(ctx, db.Where(db.Eq("active", true), key))
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// CheckActive reports the active record for a vehicle or maintenance
// request, or nil when there is none. Supervisors get Forbidden for a
// record another user is responsible for.
func (s *InoperativeService) CheckActive(ctx context.Context, caller access.Caller, vehicleID, maintenanceID string) (*models.ActiveRecord, error) {
	if vehicleID == "" && maintenanceID == "" {
		return nil, apperr.Validation("a vehicle or maintenance request id is required")
	}
	rec, err := s.findActive(ctx, vehicleID, maintenanceID)
	if err != nil || rec == nil {
		return nil, err
	}
	if !access.CanSee(caller, &rec.ResponsibleID) {
		return nil, apperr.Forbidden("the active inoperability record is outside your scope")
	}
	return &models.ActiveRecord{ID: rec.ID.Hex(), Phase: rec.Phase}, nil
}

// AdvancePhase moves a record to target. Once a move into the terminal
// phase is committed the terminal hook closes the linked maintenance request.
func (s *InoperativeService) AdvancePhase(ctx context.Context, caller access.Caller, id, target string) (*models.InoperabilityRecord, error) {
	to, err := models.ParsePhase(target)
	if err != nil {
		return nil, apperr.InvalidPhase("unknown phase %q", target)
	}
	rec, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	from := rec.Phase
	switch next, _ := from.Next(); {
	case from.IsTerminal():
		return nil, apperr.InvalidPhase("inoperability record %s is already in terminal phase %s", id, from)
	case to == from:
		return nil, apperr.InvalidPhase("inoperability record %s is already in %s", id, from)
	case s.opts.StrictPhases && to != next:
		return nil, apperr.InvalidPhase("inoperability record %s cannot move from %s to %s; next phase is %s", id, from, to, next)
	}

	log := s.log.WithFields(logrus.Fields{
		"inoperative_id": id,
		"vehicle_id":     rec.VehicleID,
		"from":           from,
		"to":             to,
		"actor_id":       caller.ID,
	})

	now := s.now()
	set := db.Fields{"phase": to, "active": !to.IsTerminal(), "updated_at": now}
	err = s.store.Inoperative.UpdateInoperative(ctx, rec.ID, db.Where(db.Eq("phase", from)), set)
	switch {
	case errors.Is(err, db.ErrGuardFailed):
		return nil, apperr.InvalidState("inoperability record %s changed phase concurrently", id)
	case err != nil:
		return nil, notFound(err, "inoperability record", id)
	}

	s.metrics.PhaseTransition(string(from), string(to))
	log.Info("inoperability phase changed")

	rec.Phase = to
	rec.Active = !to.IsTerminal()
	rec.UpdatedAt = now

	if to.IsTerminal() && s.onTerminal != nil {
		err := s.onTerminal(ctx, rec)
		switch {
		case errors.Is(err, ErrNoEligibleRequest):
			s.metrics.DanglingCompletion()
			log.Warn("terminal phase reached with no maintenance request to complete")
		case err != nil:
			s.metrics.DanglingCompletion()
			log.WithError(err).Error("terminal phase committed but maintenance completion failed")
		}
	}
	return rec, nil
}

func (s *InoperativeService) find(ctx context.Context, id string) (*models.InoperabilityRecord, error) {
	oid, err := parseID("inoperability record", id)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.Inoperative.FindInoperativeByID(ctx, oid)
	if err != nil {
		return nil, notFound(err, "inoperability record", id)
	}
	return rec, nil
}

// Get returns one record. Supervisors may only read records they are
// responsible for.
func (s *InoperativeService) Get(ctx context.Context, caller access.Caller, id string) (*models.InoperabilityRecord, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanSee(caller, &rec.ResponsibleID) {
		return nil, apperr.Forbidden("inoperability record %s is outside your scope", id)
	}
	return rec, nil
}

// GetPhase returns the current phase with vehicle, workshop and the
// responsible user's name and email.
func (s *InoperativeService) GetPhase(ctx context.Context, caller access.Caller, id string) (*PhaseView, error) {
	rec, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	lookup := newSummaries(s.store)
	view := &PhaseView{ID: rec.ID.Hex(), Phase: rec.Phase, UpdatedAt: rec.UpdatedAt}
	if view.Vehicle, err = lookup.vehicle(ctx, rec.VehicleID); err != nil {
		return nil, err
	}
	if view.Workshop, err = lookup.workshop(ctx, &rec.WorkshopID); err != nil {
		return nil, err
	}
	u, err := lookup.user(ctx, &rec.ResponsibleID)
	if err != nil {
		return nil, err
	}
	if u != nil {
		view.Responsible = &models.UserSummary{Name: u.FullName(), Email: u.Email}
	}
	return view, nil
}

// GetPhaseInfo returns the current phase with the vehicle and the
// responsible user's name and role.
func (s *InoperativeService) GetPhaseInfo(ctx context.Context, caller access.Caller, id string) (*PhaseView, error) {
	rec, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	lookup := newSummaries(s.store)
	view := &PhaseView{ID: rec.ID.Hex(), Phase: rec.Phase, UpdatedAt: rec.UpdatedAt}
	if view.Vehicle, err = lookup.vehicle(ctx, rec.VehicleID); err != nil {
		return nil, err
	}
	u, err := lookup.user(ctx, &rec.ResponsibleID)
	if err != nil {
		return nil, err
	}
	if u != nil {
		view.Responsible = &models.UserSummary{Name: u.FullName(), Role: u.Role}
	}
	return view, nil
}

// List returns a page of the records visible to caller.
func (s *InoperativeService) List(ctx context.Context, caller access.Caller, p listing.Params, f InoperativeFilter) (listing.Page[models.InoperabilityRecord], error) {
	filter := access.Resolve(caller, access.KindInoperative)
	if f.Phase != "" {
		phase, err := models.ParsePhase(f.Phase)
		if err != nil {
			return listing.Page[models.InoperabilityRecord]{}, apperr.InvalidPhase("unknown phase %q", f.Phase)
		}
		filter = filter.And(db.Eq("phase", phase))
	}
	if f.Active != nil {
		filter = filter.And(db.Eq("active", *f.Active))
	}
	if f.VehicleID != "" {
		filter = filter.And(db.Eq("vehicle_id", f.VehicleID))
	}

	items, total, err := s.store.Inoperative.FindInoperatives(ctx, inoperativeSortFields.Query(p, filter))
	if err != nil {
		return listing.Page[models.InoperabilityRecord]{}, err
	}
	return listing.Paginate(items, total, p), nil
}
