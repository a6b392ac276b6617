package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func advance(t *testing.T, env *testEnv, id string, phases ...models.Phase) *models.InoperabilityRecord {
	t.Helper()
	var rec *models.InoperabilityRecord
	for _, p := range phases {
		var err error
		rec, err = env.inoperative.AdvancePhase(context.Background(), env.supervisor, id, string(p))
		require.NoError(t, err, "advancing to %s", p)
	}
	return rec
}

func TestInoperativeCreate(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	workshop := env.seedWorkshop(t, "W1")
	m := env.approvedRequest(t, vehicle, workshop)

	rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.PhaseOne, rec.Phase)
	assert.True(t, rec.Active)
	assert.Equal(t, vehicle.ID.Hex(), rec.VehicleID)
	assert.Equal(t, workshop.ID.Hex(), rec.WorkshopID)
	assert.Equal(t, env.supervisor.ID, rec.ResponsibleID)
	require.NotNil(t, rec.MaintenanceID)
	assert.Equal(t, m.ID.Hex(), *rec.MaintenanceID)

	stored, err := env.store.Maintenance.FindMaintenanceByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status, "opening a record leaves the request status alone")
}

func TestInoperativeCreate_Ineligible(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")

	pending := env.report(t, env.supervisor, vehicle)
	_, err := env.inoperative.Create(ctx, env.supervisor, pending.ID.Hex())
	requireKind(t, err, apperr.KindIneligible)

	noWorkshop := env.report(t, env.supervisor, vehicle)
	_, err = env.maintenance.Approve(ctx, env.analyst, noWorkshop.ID.Hex(), nil)
	require.NoError(t, err)
	_, err = env.inoperative.Create(ctx, env.supervisor, noWorkshop.ID.Hex())
	requireKind(t, err, apperr.KindIneligible)

	rejected := env.report(t, env.supervisor, vehicle)
	_, err = env.maintenance.Reject(ctx, env.analyst, rejected.ID.Hex(), nil)
	require.NoError(t, err)
	_, err = env.inoperative.Create(ctx, env.supervisor, rejected.ID.Hex())
	requireKind(t, err, apperr.KindIneligible)

	_, err = env.inoperative.Create(ctx, env.supervisor, primitive.NewObjectID().Hex())
	requireKind(t, err, apperr.KindNotFound)

	_, err = env.inoperative.CreateForVehicle(ctx, env.supervisor, vehicle.ID.Hex())
	requireKind(t, err, apperr.KindIneligible)

	_, err = env.inoperative.CreateForVehicle(ctx, env.supervisor, primitive.NewObjectID().Hex())
	requireKind(t, err, apperr.KindNotFound)

	_, total, err := env.store.Inoperative.FindInoperatives(ctx, db.Query{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestInoperativeCreate_ConflictReportsActiveRecord(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	workshop := env.seedWorkshop(t, "W1")
	first := env.approvedRequest(t, vehicle, workshop)
	second := env.approvedRequest(t, vehicle, workshop)

	rec, err := env.inoperative.Create(ctx, env.supervisor, first.ID.Hex())
	require.NoError(t, err)
	advance(t, env, rec.ID.Hex(), models.PhaseTwo)

	want := models.ActiveRecord{ID: rec.ID.Hex(), Phase: models.PhaseTwo}
	for _, id := range []string{first.ID.Hex(), second.ID.Hex()} {
		_, err = env.inoperative.Create(ctx, env.supervisor, id)
		requireKind(t, err, apperr.KindConflict)
		assert.Equal(t, want, apperr.DetailsOf(err))
	}

	_, err = env.inoperative.CreateForVehicle(ctx, env.analyst, vehicle.ID.Hex())
	requireKind(t, err, apperr.KindConflict)
	assert.Equal(t, want, apperr.DetailsOf(err))

	other := env.seedUser(t, "other", models.RoleSupervisor)
	_, err = env.inoperative.Create(ctx, other, second.ID.Hex())
	requireKind(t, err, apperr.KindConflict)
	assert.Nil(t, apperr.DetailsOf(err))
	assert.NotContains(t, err.Error(), rec.ID.Hex())
}

func TestInoperativeCreate_LeaseHeld(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))

	release, err := env.locker.TryAcquire(ctx, "inoperative:vehicle:"+vehicle.ID.Hex(), time.Minute)
	require.NoError(t, err)

	_, err = env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	requireKind(t, err, apperr.KindConflict)
	assert.Nil(t, apperr.DetailsOf(err))
	assert.NoError(t, testutil.GatherAndCompare(env.metrics.Registry(), strings.NewReader(`
# HELP fleet_inoperability_lock_contention_total Lease acquisitions refused because the key was held
# TYPE fleet_inoperability_lock_contention_total counter
fleet_inoperability_lock_contention_total{scope="inoperative_create"} 1
`), "fleet_inoperability_lock_contention_total"))

	release()
	_, err = env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)
}

// openLocker grants every lease, leaving the unique index as the only guard.
type openLocker struct{}

func (openLocker) TryAcquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func TestInoperativeCreate_UniqueIndexWithoutLease(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))

	logger, _ := test.NewNullLogger()
	svc := NewInoperativeService(env.store, openLocker{}, env.maintenance.CompletionHook(),
		InoperativeOptions{StrictPhases: true}, env.metrics, logger)

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   []*models.InoperabilityRecord
		conflicts []error
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rec, err := svc.Create(ctx, env.supervisor, m.ID.Hex())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created = append(created, rec)
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts = append(conflicts, err)
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, created, 1)
	assert.Len(t, conflicts, callers-1)
	want := models.ActiveRecord{ID: created[0].ID.Hex(), Phase: models.PhaseOne}
	for _, err := range conflicts {
		if details := apperr.DetailsOf(err); details != nil {
			assert.Equal(t, want, details)
		}
	}

	_, total, err := env.store.Inoperative.FindInoperatives(ctx, db.Query{Filter: db.Where(db.Eq("active", true))})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestAdvancePhase_Strict(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))
	rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)
	id := rec.ID.Hex()

	for _, target := range []string{"FASE3", "FASE5", "FASE1", "FASE9", ""} {
		_, err := env.inoperative.AdvancePhase(ctx, env.supervisor, id, target)
		requireKind(t, err, apperr.KindInvalidPhase)
	}

	rec, err = env.inoperative.AdvancePhase(ctx, env.supervisor, id, " fase2 ")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseTwo, rec.Phase)

	_, err = env.inoperative.AdvancePhase(ctx, env.supervisor, id, "FASE1")
	requireKind(t, err, apperr.KindInvalidPhase)

	rec = advance(t, env, id, models.PhaseThree, models.PhaseFour, models.PhaseFive)
	assert.Equal(t, models.PhaseFive, rec.Phase)
	assert.False(t, rec.Active)

	stored, err := env.store.Inoperative.FindInoperativeByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFive, stored.Phase)
	assert.False(t, stored.Active)

	completed, err := env.store.Maintenance.FindMaintenanceByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assertDanglingCount(t, env.metrics, 0)

	_, err = env.inoperative.AdvancePhase(ctx, env.supervisor, id, "FASE4")
	requireKind(t, err, apperr.KindInvalidPhase)

	_, err = env.inoperative.AdvancePhase(ctx, env.supervisor, primitive.NewObjectID().Hex(), "FASE2")
	requireKind(t, err, apperr.KindNotFound)
}

func TestAdvancePhase_Lenient(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))

	rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)
	id := rec.ID.Hex()

	rec = advance(t, env, id, models.PhaseThree, models.PhaseTwo)
	assert.Equal(t, models.PhaseTwo, rec.Phase)

	_, err = env.inoperative.AdvancePhase(ctx, env.supervisor, id, "FASE2")
	requireKind(t, err, apperr.KindInvalidPhase)

	rec = advance(t, env, id, models.PhaseFive)
	assert.False(t, rec.Active)

	_, err = env.inoperative.AdvancePhase(ctx, env.supervisor, id, "FASE1")
	requireKind(t, err, apperr.KindInvalidPhase)

	completed, err := env.store.Maintenance.FindMaintenanceByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
}

func TestAdvancePhase_CompletesInProgressRequest(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))
	_, err := env.maintenance.Start(ctx, env.analyst, m.ID.Hex())
	require.NoError(t, err)

	rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)
	advance(t, env, rec.ID.Hex(), models.PhaseFive)

	completed, err := env.store.Maintenance.FindMaintenanceByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
}

func TestAdvancePhase_DanglingCompletion(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))

	rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)

	// Close the request out of band so nothing is left for the hook.
	require.NoError(t, env.store.Maintenance.UpdateMaintenance(ctx, m.ID, nil, db.Fields{"status": models.StatusCompleted}))
	env.logHook.Reset()

	rec, err = env.inoperative.AdvancePhase(ctx, env.supervisor, rec.ID.Hex(), "FASE5")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFive, rec.Phase)
	assert.False(t, rec.Active)
	assertDanglingCount(t, env.metrics, 1)

	var warned bool
	for _, e := range env.logHook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, rec.ID.Hex(), e.Data["inoperative_id"])
		}
	}
	assert.True(t, warned, "expected a warning for the dangling completion")
}

func TestAdvancePhase_HookFailureKeepsPhase(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))

	logger, hook := test.NewNullLogger()
	svc := NewInoperativeService(env.store, env.locker, func(context.Context, *models.InoperabilityRecord) error {
		return errors.New("store unavailable")
	}, InoperativeOptions{}, env.metrics, logger)

	rec, err := svc.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)
	moved, err := svc.AdvancePhase(ctx, env.supervisor, rec.ID.Hex(), "FASE5")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFive, moved.Phase)

	stored, err := env.store.Inoperative.FindInoperativeByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFive, stored.Phase)
	assert.False(t, stored.Active)
	assertDanglingCount(t, env.metrics, 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

// staleReads serves a fixed snapshot of one record, as a caller that read it
// before a concurrent write would see it.
type staleReads struct {
	db.InoperativeCollection
	snapshot models.InoperabilityRecord
}

func (s staleReads) FindInoperativeByID(_ context.Context, id primitive.ObjectID) (*models.InoperabilityRecord, error) {
	if id != s.snapshot.ID {
		return nil, db.ErrNotFound
	}
	rec := s.snapshot
	return &rec, nil
}

func TestAdvancePhase_LosingTerminalMoveCompletesNothing(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	workshop := env.seedWorkshop(t, "W1")
	first := env.approvedRequest(t, vehicle, workshop)
	second := env.approvedRequest(t, vehicle, workshop)

	rec, err := env.inoperative.Create(ctx, env.supervisor, first.ID.Hex())
	require.NoError(t, err)
	atFour := advance(t, env, rec.ID.Hex(), models.PhaseTwo, models.PhaseThree, models.PhaseFour)

	advance(t, env, rec.ID.Hex(), models.PhaseFive)

	stale := *env.store
	stale.Inoperative = staleReads{InoperativeCollection: env.store.Inoperative, snapshot: *atFour}
	logger, _ := test.NewNullLogger()
	loser := NewInoperativeService(&stale, env.locker, env.maintenance.CompletionHook(),
		InoperativeOptions{StrictPhases: true}, env.metrics, logger)

	_, err = loser.AdvancePhase(ctx, env.supervisor, rec.ID.Hex(), "FASE5")
	requireKind(t, err, apperr.KindInvalidState)

	got, err := env.store.Maintenance.FindMaintenanceByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	got, err = env.store.Maintenance.FindMaintenanceByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status, "an unrelated request must stay open")
	assertDanglingCount(t, env.metrics, 0)
}

func TestGetPhase_Scope(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "Oficina Sul"))
	rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)
	id := rec.ID.Hex()

	other := env.seedUser(t, "other", models.RoleSupervisor)
	_, err = env.inoperative.GetPhaseInfo(ctx, other, id)
	requireKind(t, err, apperr.KindForbidden)
	_, err = env.inoperative.GetPhase(ctx, other, id)
	requireKind(t, err, apperr.KindForbidden)

	info, err := env.inoperative.GetPhaseInfo(ctx, env.supervisor, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseOne, info.Phase)
	assert.Equal(t, &models.VehicleSummary{Plate: "AAA0001", Make: "Toyota", Model: "Corolla"}, info.Vehicle)
	assert.Equal(t, &models.UserSummary{Name: "Supervisor Tester", Role: models.RoleSupervisor}, info.Responsible)
	assert.Nil(t, info.Workshop)

	view, err := env.inoperative.GetPhase(ctx, env.analyst, id)
	require.NoError(t, err)
	assert.Equal(t, &models.WorkshopSummary{Name: "Oficina Sul", City: "Curitiba", State: "PR"}, view.Workshop)
	assert.Equal(t, &models.UserSummary{Name: "Supervisor Tester", Email: "supervisor@fleet.test"}, view.Responsible)

	_, err = env.inoperative.GetPhase(ctx, env.analyst, "bogus")
	requireKind(t, err, apperr.KindValidation)
}

func TestCheckActive(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	vehicle := env.seedVehicle(t, "AAA0001")
	m := env.approvedRequest(t, vehicle, env.seedWorkshop(t, "W1"))

	_, err := env.inoperative.CheckActive(ctx, env.analyst, "", "")
	requireKind(t, err, apperr.KindValidation)

	active, err := env.inoperative.CheckActive(ctx, env.analyst, vehicle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Nil(t, active)

	rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
	require.NoError(t, err)

	want := &models.ActiveRecord{ID: rec.ID.Hex(), Phase: models.PhaseOne}
	active, err = env.inoperative.CheckActive(ctx, env.analyst, vehicle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, want, active)
	active, err = env.inoperative.CheckActive(ctx, env.analyst, "", m.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, want, active)
	active, err = env.inoperative.CheckActive(ctx, env.supervisor, vehicle.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, want, active)

	other := env.seedUser(t, "other", models.RoleSupervisor)
	_, err = env.inoperative.CheckActive(ctx, other, vehicle.ID.Hex(), "")
	requireKind(t, err, apperr.KindForbidden)

	advance(t, env, rec.ID.Hex(), models.PhaseFive)
	active, err = env.inoperative.CheckActive(ctx, env.analyst, vehicle.ID.Hex(), m.ID.Hex())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestInoperativeList(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	workshop := env.seedWorkshop(t, "W1")

	var ids []string
	for _, plate := range []string{"AAA0001", "BBB0002", "CCC0003"} {
		m := env.approvedRequest(t, env.seedVehicle(t, plate), workshop)
		rec, err := env.inoperative.Create(ctx, env.supervisor, m.ID.Hex())
		require.NoError(t, err)
		ids = append(ids, rec.ID.Hex())
	}
	advance(t, env, ids[0], models.PhaseFive)
	advance(t, env, ids[1], models.PhaseThree)

	params := listing.Params{Page: 1, Limit: 10}
	page, err := env.inoperative.List(ctx, env.analyst, params, InoperativeFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Meta.TotalItems)

	active := true
	page, err = env.inoperative.List(ctx, env.analyst, params, InoperativeFilter{Active: &active})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Meta.TotalItems)

	page, err = env.inoperative.List(ctx, env.analyst, params, InoperativeFilter{Phase: "fase3"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[1], page.Items[0].ID.Hex())

	_, err = env.inoperative.List(ctx, env.analyst, params, InoperativeFilter{Phase: "FASE6"})
	requireKind(t, err, apperr.KindInvalidPhase)

	other := env.seedUser(t, "other", models.RoleSupervisor)
	page, err = env.inoperative.List(ctx, other, params, InoperativeFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Meta.TotalItems)
}
