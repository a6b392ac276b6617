package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/auth"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/metrics"
	"github.com/ukydev/fleet-inoperability/internal/middleware"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"github.com/ukydev/fleet-inoperability/internal/service"
)

// Deps is everything the router dispatches to.
type Deps struct {
	Auth        *auth.Service
	Users       db.UserCollection
	Maintenance *service.MaintenanceService
	Inoperative *service.InoperativeService
	Catalog     *service.CatalogService
	Budgets     *service.BudgetService
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger

	// RateLimitRequests per RateLimitWindow seconds per client; zero disables it.
	RateLimitRequests int
	RateLimitWindow   int

	// Ready, when set, backs /health.
	Ready func(ctx context.Context) error
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) http.Handler {
	authMW := middleware.NewAuthMiddleware(d.Auth)
	can := func(action string, h http.HandlerFunc) http.Handler {
		return authMW.RequirePermission(action)(h)
	}

	authH := NewAuthHandler(d.Auth, d.Users, d.Log)
	mh := NewMaintenanceHandler(d.Maintenance, d.Log)
	ih := NewInoperativeHandler(d.Inoperative, d.Log)
	ch := NewCatalogHandler(d.Catalog, d.Log)
	bh := NewBudgetHandler(d.Budgets, d.Log)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health(d.Ready))
	mux.Handle("GET /metrics", d.Metrics.Handler())

	mux.HandleFunc("POST /api/auth/login", authH.Login)
	mux.HandleFunc("POST /api/auth/register", authH.Register)
	mux.HandleFunc("GET /api/auth/profile", authH.GetProfile)
	mux.HandleFunc("PUT /api/auth/profile", authH.UpdateProfile)
	mux.HandleFunc("POST /api/auth/change-password", authH.ChangePassword)

	mux.Handle("GET /api/maintenance", can(models.ActionViewMaintenance, mh.List))
	mux.Handle("POST /api/maintenance", can(models.ActionCreateMaintenance, mh.Create))
	mux.Handle("GET /api/maintenance/inoperative-vehicles", can(models.ActionViewMaintenance, mh.ListInoperativeVehicles))
	mux.Handle("GET /api/maintenance/{id}", can(models.ActionViewMaintenance, mh.Get))
	mux.Handle("PUT /api/maintenance/{id}", can(models.ActionUpdateMaintenance, mh.Update))
	mux.Handle("DELETE /api/maintenance/{id}", can(models.ActionDeleteMaintenance, mh.Delete))
	mux.Handle("POST /api/maintenance/{id}/approve", can(models.ActionReviewMaintenance, mh.Approve))
	mux.Handle("POST /api/maintenance/{id}/reject", can(models.ActionReviewMaintenance, mh.Reject))
	mux.Handle("POST /api/maintenance/{id}/start", can(models.ActionReviewMaintenance, mh.Start))

	mux.Handle("GET /api/inoperative", can(models.ActionViewInoperative, ih.List))
	mux.Handle("POST /api/inoperative", can(models.ActionManageInoperative, ih.Create))
	mux.Handle("GET /api/inoperative/active", can(models.ActionViewInoperative, ih.CheckActive))
	mux.Handle("GET /api/inoperative/{id}", can(models.ActionViewInoperative, ih.Get))
	mux.Handle("GET /api/inoperative/{id}/phase", can(models.ActionViewInoperative, ih.GetPhase))
	mux.Handle("PATCH /api/inoperative/{id}/phase", can(models.ActionManageInoperative, ih.AdvancePhase))
	mux.Handle("GET /api/inoperative/{id}/phase-info", can(models.ActionViewInoperative, ih.GetPhaseInfo))

	mux.Handle("GET /api/workshops", can(models.ActionViewCatalog, ch.ListWorkshops))
	mux.Handle("POST /api/workshops", can(models.ActionManageCatalog, ch.CreateWorkshop))
	mux.Handle("GET /api/workshops/{id}", can(models.ActionViewCatalog, ch.GetWorkshop))
	mux.Handle("PUT /api/workshops/{id}", can(models.ActionManageCatalog, ch.UpdateWorkshop))
	mux.Handle("DELETE /api/workshops/{id}", can(models.ActionManageCatalog, ch.DeleteWorkshop))

	mux.Handle("GET /api/vehicles", can(models.ActionViewCatalog, ch.ListVehicles))
	mux.Handle("POST /api/vehicles", can(models.ActionManageCatalog, ch.CreateVehicle))
	mux.Handle("GET /api/vehicles/{id}", can(models.ActionViewCatalog, ch.GetVehicle))
	mux.Handle("PUT /api/vehicles/{id}", can(models.ActionManageCatalog, ch.UpdateVehicle))
	mux.Handle("DELETE /api/vehicles/{id}", can(models.ActionManageCatalog, ch.DeleteVehicle))

	mux.Handle("GET /api/budgets", can(models.ActionViewBudgets, bh.List))
	mux.Handle("POST /api/budgets", can(models.ActionManageBudgets, bh.Create))
	mux.Handle("GET /api/budgets/{id}", can(models.ActionViewBudgets, bh.Get))
	mux.Handle("PUT /api/budgets/{id}", can(models.ActionManageBudgets, bh.Update))
	mux.Handle("DELETE /api/budgets/{id}", can(models.ActionManageBudgets, bh.Delete))

	var h http.Handler = authMW.Authenticate(mux)
	if d.RateLimitRequests > 0 {
		h = middleware.NewRateLimitMiddleware().RateLimit(d.RateLimitRequests, d.RateLimitWindow)(h)
	}
	h = middleware.Logging(d.Log, d.Metrics)(h)
	return middleware.RequestID(h)
}

func health(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				fail(w, http.StatusServiceUnavailable, "unavailable: "+err.Error())
				return
			}
		}
		ok(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
