package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var errNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// NewMongoStore builds a Store backed by the collections of database.
func NewMongoStore(database *mongo.Database) *Store {
	return &Store{
		Maintenance: &MongoCollection{Collection: database.Collection(MaintenanceCollectionName)},
		Inoperative: &MongoCollection{Collection: database.Collection(InoperativeCollectionName)},
		Workshops:   &MongoCollection{Collection: database.Collection(WorkshopCollectionName)},
		Vehicles:    &MongoCollection{Collection: database.Collection(VehicleCollectionName)},
		Budgets:     &MongoCollection{Collection: database.Collection(BudgetCollectionName)},
		Users:       &MongoUserCollection{Collection: database.Collection(UserCollectionName)},
	}
}

// EnsureIndexes creates the indexes the services rely on. The partial unique
// indexes on inoperative records reject a second active record for the same
// vehicle or maintenance request even when two creations race.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		InoperativeCollectionName: {
			{
				Keys: bson.D{{Key: "vehicle_id", Value: 1}},
				Options: options.Index().
					SetName("uniq_active_vehicle").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"active": true}),
			},
			{
				Keys: bson.D{{Key: "maintenance_id", Value: 1}},
				Options: options.Index().
					SetName("uniq_active_maintenance").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"active": true, "maintenance_id": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{{Key: "responsible_id", Value: 1}}},
		},
		MaintenanceCollectionName: {
			{Keys: bson.D{{Key: "vehicle_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "supervisor_id", Value: 1}}},
		},
		BudgetCollectionName: {
			{Keys: bson.D{{Key: "maintenance_id", Value: 1}}},
		},
		UserCollectionName: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
	}
	for name, indexes := range specs {
		if _, err := database.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// MongoCollection wraps a MongoDB collection. One value serves one entity
// kind; the method set covers every kind so a single type backs the Store.
type MongoCollection struct {
	Collection *mongo.Collection
}

func insertOne(ctx context.Context, coll *mongo.Collection, doc interface{}) error {
	if coll == nil {
		return errNilCollection
	}
	_, err := coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter interface{}) (*T, error) {
	if coll == nil {
		return nil, errNilCollection
	}
	var out T
	err := coll.FindOne(ctx, filter).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func findPage[T any](ctx context.Context, coll *mongo.Collection, q Query) ([]T, int64, error) {
	if coll == nil {
		return nil, 0, errNilCollection
	}
	filter := q.Filter.BSON()
	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find()
	if q.Sort != nil {
		opts.SetSort(q.Sort.BSON())
	}
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	items := make([]T, 0)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func updateGuarded(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID, guard Filter, set Fields) error {
	if coll == nil {
		return errNilCollection
	}
	filter := Where(Eq("_id", id)).And(guard...).BSON()
	result, err := coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M(set)})
	if err != nil {
		return err
	}
	if result.MatchedCount > 0 {
		return nil
	}
	if len(guard) == 0 {
		return ErrNotFound
	}
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrGuardFailed
}

func deleteByID(ctx context.Context, coll *mongo.Collection, id primitive.ObjectID) error {
	if coll == nil {
		return errNilCollection
	}
	result, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMaintenance inserts a maintenance request.
func (c *MongoCollection) InsertMaintenance(ctx context.Context, m *models.MaintenanceRequest) error {
	return insertOne(ctx, c.Collection, m)
}

// FindMaintenanceByID finds a maintenance request by its ID.
func (c *MongoCollection) FindMaintenanceByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceRequest, error) {
	return findOne[models.MaintenanceRequest](ctx, c.Collection, bson.M{"_id": id})
}

// FindMaintenance queries a page of maintenance requests.
func (c *MongoCollection) FindMaintenance(ctx context.Context, q Query) ([]models.MaintenanceRequest, int64, error) {
	return findPage[models.MaintenanceRequest](ctx, c.Collection, q)
}

// FindOneMaintenance returns the first maintenance request matching f.
func (c *MongoCollection) FindOneMaintenance(ctx context.Context, f Filter) (*models.MaintenanceRequest, error) {
	return findOne[models.MaintenanceRequest](ctx, c.Collection, f.BSON())
}

// UpdateMaintenance sets fields on a maintenance request if it still matches guard.
func (c *MongoCollection) UpdateMaintenance(ctx context.Context, id primitive.ObjectID, guard Filter, set Fields) error {
	return updateGuarded(ctx, c.Collection, id, guard, set)
}

// DeleteMaintenance deletes a maintenance request.
func (c *MongoCollection) DeleteMaintenance(ctx context.Context, id primitive.ObjectID) error {
	return deleteByID(ctx, c.Collection, id)
}

// InsertInoperative inserts an inoperability record.
func (c *MongoCollection) InsertInoperative(ctx context.Context, r *models.InoperabilityRecord) error {
	return insertOne(ctx, c.Collection, r)
}

// FindInoperativeByID finds an inoperability record by its ID.
func (c *MongoCollection) FindInoperativeByID(ctx context.Context, id primitive.ObjectID) (*models.InoperabilityRecord, error) {
	return findOne[models.InoperabilityRecord](ctx, c.Collection, bson.M{"_id": id})
}

// FindInoperatives queries a page of inoperability records.
func (c *MongoCollection) FindInoperatives(ctx context.Context, q Query) ([]models.InoperabilityRecord, int64, error) {
	return findPage[models.InoperabilityRecord](ctx, c.Collection, q)
}

// FindOneInoperative returns the first inoperability record matching f.
func (c *MongoCollection) FindOneInoperative(ctx context.Context, f Filter) (*models.InoperabilityRecord, error) {
	return findOne[models.InoperabilityRecord](ctx, c.Collection, f.BSON())
}

// UpdateInoperative sets fields on an inoperability record if it still matches guard.
func (c *MongoCollection) UpdateInoperative(ctx context.Context, id primitive.ObjectID, guard Filter, set Fields) error {
	return updateGuarded(ctx, c.Collection, id, guard, set)
}

// InsertWorkshop inserts a workshop.
func (c *MongoCollection) InsertWorkshop(ctx context.Context, w *models.Workshop) error {
	return insertOne(ctx, c.Collection, w)
}

// FindWorkshopByID finds a workshop by its ID.
func (c *MongoCollection) FindWorkshopByID(ctx context.Context, id primitive.ObjectID) (*models.Workshop, error) {
	return findOne[models.Workshop](ctx, c.Collection, bson.M{"_id": id})
}

// FindWorkshops queries a page of workshops.
func (c *MongoCollection) FindWorkshops(ctx context.Context, q Query) ([]models.Workshop, int64, error) {
	return findPage[models.Workshop](ctx, c.Collection, q)
}

// UpdateWorkshop updates a workshop by its ID.
func (c *MongoCollection) UpdateWorkshop(ctx context.Context, id primitive.ObjectID, set Fields) error {
	return updateGuarded(ctx, c.Collection, id, nil, set)
}

// DeleteWorkshop deletes a workshop by its ID.
func (c *MongoCollection) DeleteWorkshop(ctx context.Context, id primitive.ObjectID) error {
	return deleteByID(ctx, c.Collection, id)
}

// InsertVehicle inserts a vehicle record into the collection.
func (c *MongoCollection) InsertVehicle(ctx context.Context, v *models.Vehicle) error {
	return insertOne(ctx, c.Collection, v)
}

// FindVehicleByID finds a vehicle by its ID.
func (c *MongoCollection) FindVehicleByID(ctx context.Context, id primitive.ObjectID) (*models.Vehicle, error) {
	return findOne[models.Vehicle](ctx, c.Collection, bson.M{"_id": id})
}

// FindVehicles queries a page of vehicles.
func (c *MongoCollection) FindVehicles(ctx context.Context, q Query) ([]models.Vehicle, int64, error) {
	return findPage[models.Vehicle](ctx, c.Collection, q)
}

// UpdateVehicle updates a vehicle by its ID.
func (c *MongoCollection) UpdateVehicle(ctx context.Context, id primitive.ObjectID, set Fields) error {
	return updateGuarded(ctx, c.Collection, id, nil, set)
}

// DeleteVehicle deletes a vehicle by its ID.
func (c *MongoCollection) DeleteVehicle(ctx context.Context, id primitive.ObjectID) error {
	return deleteByID(ctx, c.Collection, id)
}

// InsertBudget inserts a budget.
func (c *MongoCollection) InsertBudget(ctx context.Context, b *models.Budget) error {
	return insertOne(ctx, c.Collection, b)
}

// FindBudgetByID finds a budget by its ID.
func (c *MongoCollection) FindBudgetByID(ctx context.Context, id primitive.ObjectID) (*models.Budget, error) {
	return findOne[models.Budget](ctx, c.Collection, bson.M{"_id": id})
}

// FindBudgets queries a page of budgets.
func (c *MongoCollection) FindBudgets(ctx context.Context, q Query) ([]models.Budget, int64, error) {
	return findPage[models.Budget](ctx, c.Collection, q)
}

// UpdateBudget updates a budget by its ID.
func (c *MongoCollection) UpdateBudget(ctx context.Context, id primitive.ObjectID, set Fields) error {
	return updateGuarded(ctx, c.Collection, id, nil, set)
}

// DeleteBudget deletes a budget by its ID.
func (c *MongoCollection) DeleteBudget(ctx context.Context, id primitive.ObjectID) error {
	return deleteByID(ctx, c.Collection, id)
}
