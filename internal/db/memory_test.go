package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func strPtr(s string) *string { return &s }

func TestMemoryStore_MaintenanceGuardedUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	m := &models.MaintenanceRequest{ID: primitive.NewObjectID(), VehicleID: "v1", Status: models.StatusPending}
	require.NoError(t, store.Maintenance.InsertMaintenance(ctx, m))
	assert.ErrorIs(t, store.Maintenance.InsertMaintenance(ctx, m), ErrDuplicate)

	err := store.Maintenance.UpdateMaintenance(ctx, m.ID, Where(Eq("status", models.StatusApproved)), Fields{"status": models.StatusCompleted})
	assert.ErrorIs(t, err, ErrGuardFailed)

	err = store.Maintenance.UpdateMaintenance(ctx, primitive.NewObjectID(), nil, Fields{"status": models.StatusApproved})
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	err = store.Maintenance.UpdateMaintenance(ctx, m.ID, Where(Eq("status", models.StatusPending)),
		Fields{"status": models.StatusApproved, "supervisor_id": strPtr("sup-1"), "approved_at": now})
	require.NoError(t, err)

	got, err := store.Maintenance.FindMaintenanceByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	require.NotNil(t, got.SupervisorID)
	assert.Equal(t, "sup-1", *got.SupervisorID)
	require.NotNil(t, got.ApprovedAt)
	assert.WithinDuration(t, now, *got.ApprovedAt, time.Millisecond)

	one, err := store.Maintenance.FindOneMaintenance(ctx, Where(Eq("vehicle_id", "v1"), In("status", models.StatusApproved, models.StatusInProgress)))
	require.NoError(t, err)
	assert.Equal(t, m.ID, one.ID)

	require.NoError(t, store.Maintenance.DeleteMaintenance(ctx, m.ID))
	assert.ErrorIs(t, store.Maintenance.DeleteMaintenance(ctx, m.ID), ErrNotFound)
}

func TestMemoryStore_FindSortsAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i, plate := range []string{"CCC-3", "AAA-1", "EEE-5", "BBB-2", "DDD-4"} {
		v := &models.Vehicle{ID: primitive.NewObjectID(), Plate: plate, Year: 2010 + i, Status: "active"}
		require.NoError(t, store.Vehicles.InsertVehicle(ctx, v))
	}

	items, total, err := store.Vehicles.FindVehicles(ctx, Query{Sort: &Sort{Field: "plate"}, Skip: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, items, 2)
	assert.Equal(t, "CCC-3", items[0].Plate)
	assert.Equal(t, "DDD-4", items[1].Plate)

	items, _, err = store.Vehicles.FindVehicles(ctx, Query{Sort: &Sort{Field: "year", Desc: true}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "DDD-4", items[0].Plate)

	items, total, err = store.Vehicles.FindVehicles(ctx, Query{Skip: 10, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Empty(t, items)

	items, total, err = store.Vehicles.FindVehicles(ctx, Query{Filter: Where(Eq("plate", "nope"))})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, items)
}

func TestMemoryStore_ActiveRecordUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := &models.InoperabilityRecord{ID: primitive.NewObjectID(), VehicleID: "v1", MaintenanceID: strPtr("m1"), Phase: models.PhaseOne, Active: true}
	require.NoError(t, store.Inoperative.InsertInoperative(ctx, first))

	sameVehicle := &models.InoperabilityRecord{ID: primitive.NewObjectID(), VehicleID: "v1", Phase: models.PhaseOne, Active: true}
	assert.ErrorIs(t, store.Inoperative.InsertInoperative(ctx, sameVehicle), ErrDuplicate)

	sameMaintenance := &models.InoperabilityRecord{ID: primitive.NewObjectID(), VehicleID: "v2", MaintenanceID: strPtr("m1"), Phase: models.PhaseOne, Active: true}
	assert.ErrorIs(t, store.Inoperative.InsertInoperative(ctx, sameMaintenance), ErrDuplicate)

	noMaintenance := &models.InoperabilityRecord{ID: primitive.NewObjectID(), VehicleID: "v3", Phase: models.PhaseOne, Active: true}
	require.NoError(t, store.Inoperative.InsertInoperative(ctx, noMaintenance))
	otherNoMaintenance := &models.InoperabilityRecord{ID: primitive.NewObjectID(), VehicleID: "v4", Phase: models.PhaseOne, Active: true}
	require.NoError(t, store.Inoperative.InsertInoperative(ctx, otherNoMaintenance))

	require.NoError(t, store.Inoperative.UpdateInoperative(ctx, first.ID, Where(Eq("phase", models.PhaseOne)),
		Fields{"phase": models.PhaseFive, "active": false}))
	assert.NoError(t, store.Inoperative.InsertInoperative(ctx, sameVehicle))

	active, err := store.Inoperative.FindOneInoperative(ctx, Where(Eq("vehicle_id", "v1"), Eq("active", true)))
	require.NoError(t, err)
	assert.Equal(t, sameVehicle.ID, active.ID)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()

	assert.ErrorIs(t, store.Workshops.InsertWorkshop(ctx, &models.Workshop{Name: "x"}), context.Canceled)
	_, _, err := store.Workshops.FindWorkshops(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_InsertAssignsMissingID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Budgets.InsertBudget(ctx, &models.Budget{MaintenanceID: "m1", LaborCost: 10}))

	items, total, err := store.Budgets.FindBudgets(ctx, Query{Filter: Where(Eq("maintenance_id", "m1"))})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.False(t, items[0].ID.IsZero())
}
