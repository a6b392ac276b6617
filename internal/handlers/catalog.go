package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/service"
)

// CatalogHandler serves workshops and vehicles.
type CatalogHandler struct {
	svc *service.CatalogService
	log logrus.FieldLogger
}

// NewCatalogHandler creates a catalog handler.
func NewCatalogHandler(svc *service.CatalogService, log logrus.FieldLogger) *CatalogHandler {
	return &CatalogHandler{svc: svc, log: log}
}

// ListWorkshops handles GET /api/workshops?name=
func (h *CatalogHandler) ListWorkshops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := h.svc.ListWorkshops(r.Context(), listing.ParseParams(q), q.Get("name"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	page(w, p)
}

// GetWorkshop handles GET /api/workshops/{id}
func (h *CatalogHandler) GetWorkshop(w http.ResponseWriter, r *http.Request) {
	ws, err := h.svc.GetWorkshop(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, ws)
}

// CreateWorkshop handles POST /api/workshops
func (h *CatalogHandler) CreateWorkshop(w http.ResponseWriter, r *http.Request) {
	var in service.WorkshopInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ws, err := h.svc.CreateWorkshop(r.Context(), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusCreated, ws)
}

// UpdateWorkshop handles PUT /api/workshops/{id}
func (h *CatalogHandler) UpdateWorkshop(w http.ResponseWriter, r *http.Request) {
	var in service.WorkshopUpdate
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ws, err := h.svc.UpdateWorkshop(r.Context(), pathID(r), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, ws)
}

// DeleteWorkshop handles DELETE /api/workshops/{id}
func (h *CatalogHandler) DeleteWorkshop(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := h.svc.DeleteWorkshop(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	okMessage(w, deleted("workshop", id))
}

// ListVehicles handles GET /api/vehicles?plate=&status=
func (h *CatalogHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := h.svc.ListVehicles(r.Context(), listing.ParseParams(q), q.Get("plate"), q.Get("status"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	page(w, p)
}

// GetVehicle handles GET /api/vehicles/{id}
func (h *CatalogHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetVehicle(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, v)
}

// CreateVehicle handles POST /api/vehicles
func (h *CatalogHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var in service.VehicleInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	v, err := h.svc.CreateVehicle(r.Context(), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusCreated, v)
}

// UpdateVehicle handles PUT /api/vehicles/{id}
func (h *CatalogHandler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	var in service.VehicleUpdate
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	v, err := h.svc.UpdateVehicle(r.Context(), pathID(r), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, v)
}

// DeleteVehicle handles DELETE /api/vehicles/{id}
func (h *CatalogHandler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := h.svc.DeleteVehicle(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	okMessage(w, deleted("vehicle", id))
}
