package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/listing"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCatalogWorkshops(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	_, err := env.catalog.CreateWorkshop(ctx, WorkshopInput{Name: "No City"})
	requireKind(t, err, apperr.KindValidation)

	north := env.seedWorkshop(t, "Oficina Norte")
	env.seedWorkshop(t, "Oficina Sul")
	env.seedWorkshop(t, "Retifica Leste")

	page, err := env.catalog.ListWorkshops(ctx, listing.Params{Page: 1, Limit: 10, Sort: "name"}, "oficina")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Oficina Norte", page.Items[0].Name)

	city := "Londrina"
	updated, err := env.catalog.UpdateWorkshop(ctx, north.ID.Hex(), WorkshopUpdate{City: &city})
	require.NoError(t, err)
	assert.Equal(t, "Londrina", updated.City)
	assert.Equal(t, "Oficina Norte", updated.Name)

	_, err = env.catalog.UpdateWorkshop(ctx, north.ID.Hex(), WorkshopUpdate{})
	requireKind(t, err, apperr.KindValidation)
	_, err = env.catalog.UpdateWorkshop(ctx, primitive.NewObjectID().Hex(), WorkshopUpdate{City: &city})
	requireKind(t, err, apperr.KindNotFound)

	require.NoError(t, env.catalog.DeleteWorkshop(ctx, north.ID.Hex()))
	_, err = env.catalog.GetWorkshop(ctx, north.ID.Hex())
	requireKind(t, err, apperr.KindNotFound)
}

func TestCatalogVehicles(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	_, err := env.catalog.CreateVehicle(ctx, VehicleInput{Plate: "X", Make: "Fiat", Model: "Uno", Year: 1900})
	requireKind(t, err, apperr.KindValidation)
	_, err = env.catalog.CreateVehicle(ctx, VehicleInput{
		Plate: "X", Make: "Fiat", Model: "Uno", Year: 2010,
		CurrentLocation: &models.Location{Lat: 120, Lon: 0},
	})
	requireKind(t, err, apperr.KindValidation)

	v := env.seedVehicle(t, "ABC1D23")
	assert.Equal(t, "active", v.Status)
	env.seedVehicle(t, "XYZ9K88")

	status := "inactive"
	updated, err := env.catalog.UpdateVehicle(ctx, v.ID.Hex(), VehicleUpdate{
		Status:       &status,
		SupervisorID: &env.supervisor.ID,
		Latitude:     floatPtr(-23.5),
		Longitude:    floatPtr(-46.6),
	})
	require.NoError(t, err)
	assert.Equal(t, "inactive", updated.Status)
	assert.Equal(t, &models.Location{Lat: -23.5, Lon: -46.6}, updated.CurrentLocation)
	require.NotNil(t, updated.SupervisorID)
	assert.Equal(t, env.supervisor.ID, *updated.SupervisorID)

	page, err := env.catalog.ListVehicles(ctx, listing.Params{Page: 1, Limit: 10}, "", "active")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "XYZ9K88", page.Items[0].Plate)

	page, err = env.catalog.ListVehicles(ctx, listing.Params{Page: 1, Limit: 10}, "abc", "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, v.ID, page.Items[0].ID)

	bad := "scrapped"
	_, err = env.catalog.UpdateVehicle(ctx, v.ID.Hex(), VehicleUpdate{Status: &bad})
	requireKind(t, err, apperr.KindValidation)
}

func TestCatalogVehicle_SupervisorInheritedByReports(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	v, err := env.catalog.CreateVehicle(ctx, VehicleInput{
		Plate: "SUP0001", Make: "VW", Model: "Gol", Year: 2018, SupervisorID: &env.supervisor.ID,
	})
	require.NoError(t, err)

	m := env.report(t, env.analyst, v)
	require.NotNil(t, m.SupervisorID)
	assert.Equal(t, env.supervisor.ID, *m.SupervisorID)

	_, err = env.maintenance.Get(ctx, env.supervisor, m.ID.Hex())
	assert.NoError(t, err)
}
