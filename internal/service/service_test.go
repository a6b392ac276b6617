package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-inoperability/internal/access"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/lock"
	"github.com/ukydev/fleet-inoperability/internal/metrics"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"github.com/ukydev/fleet-inoperability/internal/notify"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.To)
	}
	return out
}

type testEnv struct {
	store       *db.Store
	locker      *lock.Local
	sender      *recordingSender
	notifier    *notify.Dispatcher
	metrics     *metrics.Metrics
	logHook     *test.Hook
	maintenance *MaintenanceService
	inoperative *InoperativeService
	catalog     *CatalogService
	budgets     *BudgetService

	admin      access.Caller
	analyst    access.Caller
	supervisor access.Caller
}

func newTestEnv(t *testing.T, strict bool) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		store:   db.NewMemoryStore(),
		locker:  lock.NewLocal(),
		sender:  &recordingSender{},
		metrics: metrics.New(),
		logHook: hook,
	}
	env.notifier = notify.NewDispatcher(env.sender, time.Second, logger, env.metrics)
	env.maintenance = NewMaintenanceService(env.store, env.notifier, env.metrics, logger)
	env.inoperative = NewInoperativeService(env.store, env.locker, env.maintenance.CompletionHook(),
		InoperativeOptions{StrictPhases: strict, LockTTL: time.Second}, env.metrics, logger)
	env.catalog = NewCatalogService(env.store, logger)
	env.budgets = NewBudgetService(env.store, logger)

	env.admin = env.seedUser(t, "admin", models.RoleAdmin)
	env.analyst = env.seedUser(t, "analyst", models.RoleAnalyst)
	env.supervisor = env.seedUser(t, "supervisor", models.RoleSupervisor)
	return env
}

func (e *testEnv) seedUser(t *testing.T, username string, role models.Role) access.Caller {
	t.Helper()
	u := models.User{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Email:     username + "@fleet.test",
		Role:      role,
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		LastName:  "Tester",
		IsActive:  true,
	}
	require.NoError(t, e.store.Users.InsertUser(context.Background(), u))
	return access.Caller{ID: u.ID.Hex(), Username: username, Role: role}
}

func (e *testEnv) seedVehicle(t *testing.T, plate string) *models.Vehicle {
	t.Helper()
	v, err := e.catalog.CreateVehicle(context.Background(), VehicleInput{
		Plate: plate, Make: "Toyota", Model: "Corolla", Year: 2021,
	})
	require.NoError(t, err)
	return v
}

func (e *testEnv) seedWorkshop(t *testing.T, name string) *models.Workshop {
	t.Helper()
	w, err := e.catalog.CreateWorkshop(context.Background(), WorkshopInput{Name: name, City: "Curitiba", State: "PR"})
	require.NoError(t, err)
	return w
}

func (e *testEnv) report(t *testing.T, caller access.Caller, vehicle *models.Vehicle) *models.MaintenanceRequest {
	t.Helper()
	m, err := e.maintenance.Create(context.Background(), caller, CreateMaintenanceInput{
		VehicleID:   vehicle.ID.Hex(),
		Description: "engine overheating",
		Urgency:     models.UrgencyHigh,
	})
	require.NoError(t, err)
	return m
}

// approvedRequest reports a problem for vehicle as the supervisor and has
// the analyst approve it with workshop assigned.
func (e *testEnv) approvedRequest(t *testing.T, vehicle *models.Vehicle, workshop *models.Workshop) *models.MaintenanceRequest {
	t.Helper()
	m := e.report(t, e.supervisor, vehicle)
	wid := workshop.ID.Hex()
	approved, err := e.maintenance.Approve(context.Background(), e.analyst, m.ID.Hex(), &wid)
	require.NoError(t, err)
	return approved
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}

func TestValidateInput_ReportsJSONFieldNames(t *testing.T) {
	err := validateInput(CreateMaintenanceInput{Urgency: "whenever"})
	requireKind(t, err, apperr.KindValidation)
	assert.Contains(t, err.Error(), "vehicle_id failed required")
	assert.Contains(t, err.Error(), "urgency failed oneof")
}

func TestLocation(t *testing.T) {
	loc, err := location(nil, nil)
	assert.NoError(t, err)
	assert.Nil(t, loc)

	loc, err = location(floatPtr(-25.4), floatPtr(-49.2))
	require.NoError(t, err)
	assert.Equal(t, &models.Location{Lat: -25.4, Lon: -49.2}, loc)

	_, err = location(floatPtr(1), nil)
	requireKind(t, err, apperr.KindValidation)
	_, err = location(floatPtr(91), floatPtr(0))
	requireKind(t, err, apperr.KindValidation)
	_, err = location(floatPtr(0), floatPtr(-181))
	requireKind(t, err, apperr.KindValidation)
}

func assertDanglingCount(t *testing.T, m *metrics.Metrics, n int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP fleet_inoperability_dangling_completions_total Terminal phases reached with no maintenance request left to complete
# TYPE fleet_inoperability_dangling_completions_total counter
fleet_inoperability_dangling_completions_total %d
`, n)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "fleet_inoperability_dangling_completions_total"))
}
