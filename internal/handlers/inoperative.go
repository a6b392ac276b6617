package handlers

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"github.com/ukydev/fleet-inoperability/internal/service"
)

// InoperativeHandler serves inoperability records.
type InoperativeHandler struct {
	svc *service.InoperativeService
	log logrus.FieldLogger
}

// NewInoperativeHandler creates an inoperability handler.
func NewInoperativeHandler(svc *service.InoperativeService, log logrus.FieldLogger) *InoperativeHandler {
	return &InoperativeHandler{svc: svc, log: log}
}

type createInoperativeRequest struct {
	MaintenanceID string `json:"maintenance_id"`
	VehicleID     string `json:"vehicle_id"`
}

type phaseRequest struct {
	Phase string `json:"phase"`
}

// List handles GET /api/inoperative?phase=&active=&vehicle_id=
func (h *InoperativeHandler) List(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	q := r.URL.Query()
	f := service.InoperativeFilter{Phase: q.Get("phase"), VehicleID: q.Get("vehicle_id")}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, h.log, apperr.Validation("active must be true or false"))
			return
		}
		f.Active = &active
	}
	p, err := h.svc.List(r.Context(), c, listing.ParseParams(q), f)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	page(w, p)
}

// Create handles POST /api/inoperative. The body names either the
// maintenance request or the vehicle whose open request is used.
func (h *InoperativeHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in createInoperativeRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	var (
		rec *models.InoperabilityRecord
		err error
	)
	switch {
	case in.MaintenanceID != "":
		rec, err = h.svc.Create(r.Context(), c, in.MaintenanceID)
	case in.VehicleID != "":
		rec, err = h.svc.CreateForVehicle(r.Context(), c, in.VehicleID)
	default:
		err = apperr.Validation("maintenance_id or vehicle_id is required")
	}
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusCreated, rec)
}

// Get handles GET /api/inoperative/{id}
func (h *InoperativeHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	rec, err := h.svc.Get(r.Context(), c, pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, rec)
}

// AdvancePhase handles PATCH /api/inoperative/{id}/phase with {"phase": "FASE2"}.
func (h *InoperativeHandler) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in phaseRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	rec, err := h.svc.AdvancePhase(r.Context(), c, pathID(r), in.Phase)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, rec)
}

// GetPhase handles GET /api/inoperative/{id}/phase
func (h *InoperativeHandler) GetPhase(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	view, err := h.svc.GetPhase(r.Context(), c, pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, view)
}

// GetPhaseInfo handles GET /api/inoperative/{id}/phase-info
func (h *InoperativeHandler) GetPhaseInfo(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	view, err := h.svc.GetPhaseInfo(r.Context(), c, pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, view)
}

// CheckActive handles GET /api/inoperative/active?vehicle_id=&maintenance_id=
// and reports {"active": false} or {"active": true, "record": {id, phase}}.
func (h *InoperativeHandler) CheckActive(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	q := r.URL.Query()
	rec, err := h.svc.CheckActive(r.Context(), c, q.Get("vehicle_id"), q.Get("maintenance_id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	data := map[string]interface{}{"active": rec != nil}
	if rec != nil {
		data["record"] = rec
	}
	ok(w, http.StatusOK, data)
}
