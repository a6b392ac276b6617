package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/service"
)

// MaintenanceHandler serves maintenance requests.
type MaintenanceHandler struct {
	svc *service.MaintenanceService
	log logrus.FieldLogger
}

// NewMaintenanceHandler creates a maintenance handler.
func NewMaintenanceHandler(svc *service.MaintenanceService, log logrus.FieldLogger) *MaintenanceHandler {
	return &MaintenanceHandler{svc: svc, log: log}
}

// List handles GET /api/maintenance?status=&_page=&_limit=&_sort=&_order=
func (h *MaintenanceHandler) List(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	q := r.URL.Query()
	p, err := h.svc.List(r.Context(), c, listing.ParseParams(q), q.Get("status"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	page(w, p)
}

// ListInoperativeVehicles handles GET /api/maintenance/inoperative-vehicles
func (h *MaintenanceHandler) ListInoperativeVehicles(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	q := r.URL.Query()
	p, err := h.svc.ListInoperativeVehicles(r.Context(), c, listing.ParseParams(q), q.Get("status"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	page(w, p)
}

// Get handles GET /api/maintenance/{id}
func (h *MaintenanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	m, err := h.svc.GetView(r.Context(), c, pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, m)
}

// Create handles POST /api/maintenance
func (h *MaintenanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in service.CreateMaintenanceInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	m, err := h.svc.Create(r.Context(), c, in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusCreated, m)
}

// Update handles PUT /api/maintenance/{id}
func (h *MaintenanceHandler) Update(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in service.UpdateMaintenanceInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	m, err := h.svc.Update(r.Context(), c, pathID(r), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, m)
}

// Delete handles DELETE /api/maintenance/{id}
func (h *MaintenanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	id := pathID(r)
	if err := h.svc.Delete(r.Context(), c, id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	okMessage(w, deleted("maintenance request", id))
}

type reviewRequest struct {
	WorkshopID *string `json:"workshop_id"`
	Reason     *string `json:"reason"`
}

// Approve handles POST /api/maintenance/{id}/approve with an optional
// {"workshop_id": "..."} body.
func (h *MaintenanceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in reviewRequest
	if err := decodeOptional(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	m, err := h.svc.Approve(r.Context(), c, pathID(r), in.WorkshopID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, m)
}

// Reject handles POST /api/maintenance/{id}/reject with an optional
// {"reason": "..."} body.
func (h *MaintenanceHandler) Reject(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	var in reviewRequest
	if err := decodeOptional(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	m, err := h.svc.Reject(r.Context(), c, pathID(r), in.Reason)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, m)
}

// Start handles POST /api/maintenance/{id}/start
func (h *MaintenanceHandler) Start(w http.ResponseWriter, r *http.Request) {
	c, found := caller(w, r)
	if !found {
		return
	}
	m, err := h.svc.Start(r.Context(), c, pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, m)
}
