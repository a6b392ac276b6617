package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/service"
)

// BudgetHandler serves workshop cost estimates.
type BudgetHandler struct {
	svc *service.BudgetService
	log logrus.FieldLogger
}

// NewBudgetHandler creates a budget handler.
func NewBudgetHandler(svc *service.BudgetService, log logrus.FieldLogger) *BudgetHandler {
	return &BudgetHandler{svc: svc, log: log}
}

// List handles GET /api/budgets?maintenance_id=
func (h *BudgetHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := h.svc.List(r.Context(), listing.ParseParams(q), q.Get("maintenance_id"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	page(w, p)
}

// Get handles GET /api/budgets/{id}
func (h *BudgetHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), pathID(r))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, b)
}

// Create handles POST /api/budgets
func (h *BudgetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.BudgetInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	b, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusCreated, b)
}

// Update handles PUT /api/budgets/{id}
func (h *BudgetHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.BudgetUpdate
	if err := decode(r, &in); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	b, err := h.svc.Update(r.Context(), pathID(r), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, b)
}

// Delete handles DELETE /api/budgets/{id}
func (h *BudgetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	okMessage(w, deleted("budget", id))
}
