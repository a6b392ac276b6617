package db

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NewMemoryStore builds a Store that keeps every collection in process
// memory. Documents are stored in their BSON form so filters and sorts see
// the same field names and value types as MongoDB.
func NewMemoryStore() *Store {
	inoperative := newMemTable(
		uniqueIndex{field: "vehicle_id", partial: Where(Eq("active", true))},
		uniqueIndex{field: "maintenance_id", partial: Where(Eq("active", true), NotNull("maintenance_id"))},
	)
	return &Store{
		Maintenance: &MemoryCollection{table: newMemTable()},
		Inoperative: &MemoryCollection{table: inoperative},
		Workshops:   &MemoryCollection{table: newMemTable()},
		Vehicles:    &MemoryCollection{table: newMemTable()},
		Budgets:     &MemoryCollection{table: newMemTable()},
		Users: &MemoryUserCollection{table: newMemTable(
			uniqueIndex{field: "username"},
			uniqueIndex{field: "email"},
		)},
	}
}

type uniqueIndex struct {
	field   string
	partial Filter
}

type memTable struct {
	mu      sync.RWMutex
	order   []primitive.ObjectID
	docs    map[primitive.ObjectID]bson.M
	indexes []uniqueIndex
}

func newMemTable(indexes ...uniqueIndex) *memTable {
	return &memTable{docs: make(map[primitive.ObjectID]bson.M), indexes: indexes}
}

func toDoc(v interface{}) (bson.M, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc bson.M, out interface{}) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, out)
}

// canonical converts a Go value to the type it would have after a trip
// through BSON, so typed strings compare equal to stored strings.
func canonical(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if list, ok := v.([]interface{}); ok {
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = canonical(item)
		}
		return out
	}
	doc, err := toDoc(bson.M{"v": v})
	if err != nil {
		return v
	}
	return doc["v"]
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders nil first, then numbers, strings, object IDs, dates
// and booleans by their natural order.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case primitive.ObjectID:
		if bv, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(av[:], bv[:])
		}
	case primitive.DateTime:
		if bv, ok := b.(primitive.DateTime); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func (c Condition) match(doc bson.M) bool {
	got := doc[c.Field]
	switch c.Op {
	case OpNe:
		return !valuesEqual(got, canonical(c.Value))
	case OpIn:
		list, _ := canonical(c.Value).([]interface{})
		for _, want := range list {
			if valuesEqual(got, want) {
				return true
			}
		}
		return false
	case OpNotNull:
		return got != nil
	case OpContains:
		s, ok := got.(string)
		needle, _ := c.Value.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(needle))
	default:
		return valuesEqual(got, canonical(c.Value))
	}
}

// Match reports whether doc satisfies every condition of f.
func (f Filter) Match(doc bson.M) bool {
	for _, c := range f {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

// checkUnique must be called with the write lock held.
func (t *memTable) checkUnique(id primitive.ObjectID, doc bson.M) error {
	for _, idx := range t.indexes {
		if !idx.partial.Match(doc) {
			continue
		}
		for otherID, other := range t.docs {
			if otherID == id || !idx.partial.Match(other) {
				continue
			}
			if valuesEqual(other[idx.field], doc[idx.field]) {
				return fmt.Errorf("%w: %s %v", ErrDuplicate, idx.field, doc[idx.field])
			}
		}
	}
	return nil
}

func (t *memTable) insert(ctx context.Context, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := toDoc(v)
	if err != nil {
		return err
	}
	id, ok := doc["_id"].(primitive.ObjectID)
	if !ok || id.IsZero() {
		id = primitive.NewObjectID()
		doc["_id"] = id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.docs[id]; exists {
		return fmt.Errorf("%w: _id %s", ErrDuplicate, id.Hex())
	}
	if err := t.checkUnique(id, doc); err != nil {
		return err
	}
	t.docs[id] = doc
	t.order = append(t.order, id)
	return nil
}

// matching returns the documents matching f in insertion order. The caller
// must hold at least the read lock.
func (t *memTable) matching(f Filter) []bson.M {
	out := make([]bson.M, 0)
	for _, id := range t.order {
		if doc := t.docs[id]; f.Match(doc) {
			out = append(out, doc)
		}
	}
	return out
}

func (t *memTable) update(ctx context.Context, id primitive.ObjectID, guard Filter, set Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, ok := t.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !guard.Match(doc) {
		return ErrGuardFailed
	}
	updated := make(bson.M, len(doc)+len(set))
	for k, v := range doc {
		updated[k] = v
	}
	for k, v := range set {
		updated[k] = canonical(v)
	}
	if err := t.checkUnique(id, updated); err != nil {
		return err
	}
	t.docs[id] = updated
	return nil
}

func (t *memTable) replace(ctx context.Context, id primitive.ObjectID, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := toDoc(v)
	if err != nil {
		return err
	}
	doc["_id"] = id

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.docs[id]; !ok {
		return ErrNotFound
	}
	if err := t.checkUnique(id, doc); err != nil {
		return err
	}
	t.docs[id] = doc
	return nil
}

func (t *memTable) delete(ctx context.Context, id primitive.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.docs[id]; !ok {
		return ErrNotFound
	}
	delete(t.docs, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func memFindOne[T any](ctx context.Context, t *memTable, f Filter) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	docs := t.matching(f)
	t.mu.RUnlock()
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	var out T
	if err := fromDoc(docs[0], &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func memFind[T any](ctx context.Context, t *memTable, q Query) ([]T, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	t.mu.RLock()
	docs := t.matching(q.Filter)
	t.mu.RUnlock()

	if q.Sort != nil {
		field, desc := q.Sort.Field, q.Sort.Desc
		sort.SliceStable(docs, func(i, j int) bool {
			c := compareValues(docs[i][field], docs[j][field])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	total := int64(len(docs))
	start := q.Skip
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}

	items := make([]T, 0, end-start)
	for _, doc := range docs[start:end] {
		var item T
		if err := fromDoc(doc, &item); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, nil
}

func byID(id primitive.ObjectID) Filter { return Where(Eq("_id", id)) }

// MemoryCollection is the in-process counterpart of MongoCollection.
type MemoryCollection struct {
	table *memTable
}

// InsertMaintenance inserts a maintenance request.
func (c *MemoryCollection) InsertMaintenance(ctx context.Context, m *models.MaintenanceRequest) error {
	return c.table.insert(ctx, m)
}

// FindMaintenanceByID finds a maintenance request by its ID.
func (c *MemoryCollection) FindMaintenanceByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceRequest, error) {
	return memFindOne[models.MaintenanceRequest](ctx, c.table, byID(id))
}

// FindMaintenance queries a page of maintenance requests.
func (c *MemoryCollection) FindMaintenance(ctx context.Context, q Query) ([]models.MaintenanceRequest, int64, error) {
	return memFind[models.MaintenanceRequest](ctx, c.table, q)
}

// FindOneMaintenance returns the first maintenance request matching f.
func (c *MemoryCollection) FindOneMaintenance(ctx context.Context, f Filter) (*models.MaintenanceRequest, error) {
	return memFindOne[models.MaintenanceRequest](ctx, c.table, f)
}

// UpdateMaintenance sets fields on a maintenance request if it still matches guard.
func (c *MemoryCollection) UpdateMaintenance(ctx context.Context, id primitive.ObjectID, guard Filter, set Fields) error {
	return c.table.update(ctx, id, guard, set)
}

// DeleteMaintenance deletes a maintenance request.
func (c *MemoryCollection) DeleteMaintenance(ctx context.Context, id primitive.ObjectID) error {
	return c.table.delete(ctx, id)
}

// InsertInoperative inserts an inoperability record.
func (c *MemoryCollection) InsertInoperative(ctx context.Context, r *models.InoperabilityRecord) error {
	return c.table.insert(ctx, r)
}

// FindInoperativeByID finds an inoperability record by its ID.
func (c *MemoryCollection) FindInoperativeByID(ctx context.Context, id primitive.ObjectID) (*models.InoperabilityRecord, error) {
	return memFindOne[models.InoperabilityRecord](ctx, c.table, byID(id))
}

// FindInoperatives queries a page of inoperability records.
func (c *MemoryCollection) FindInoperatives(ctx context.Context, q Query) ([]models.InoperabilityRecord, int64, error) {
	return memFind[models.InoperabilityRecord](ctx, c.table, q)
}

// FindOneInoperative returns the first inoperability record matching f.
func (c *MemoryCollection) FindOneInoperative(ctx context.Context, f Filter) (*models.InoperabilityRecord, error) {
	return memFindOne[models.InoperabilityRecord](ctx, c.table, f)
}

// UpdateInoperative sets fields on an inoperability record if it still matches guard.
func (c *MemoryCollection) UpdateInoperative(ctx context.Context, id primitive.ObjectID, guard Filter, set Fields) error {
	return c.table.update(ctx, id, guard, set)
}

// InsertWorkshop inserts a workshop.
func (c *MemoryCollection) InsertWorkshop(ctx context.Context, w *models.Workshop) error {
	return c.table.insert(ctx, w)
}

// FindWorkshopByID finds a workshop by its ID.
func (c *MemoryCollection) FindWorkshopByID(ctx context.Context, id primitive.ObjectID) (*models.Workshop, error) {
	return memFindOne[models.Workshop](ctx, c.table, byID(id))
}

// FindWorkshops queries a page of workshops.
func (c *MemoryCollection) FindWorkshops(ctx context.Context, q Query) ([]models.Workshop, int64, error) {
	return memFind[models.Workshop](ctx, c.table, q)
}

// UpdateWorkshop updates a workshop by its ID.
func (c *MemoryCollection) UpdateWorkshop(ctx context.Context, id primitive.ObjectID, set Fields) error {
	return c.table.update(ctx, id, nil, set)
}

// DeleteWorkshop deletes a workshop by its ID.
func (c *MemoryCollection) DeleteWorkshop(ctx context.Context, id primitive.ObjectID) error {
	return c.table.delete(ctx, id)
}

// InsertVehicle inserts a vehicle.
func (c *MemoryCollection) InsertVehicle(ctx context.Context, v *models.Vehicle) error {
	return c.table.insert(ctx, v)
}

// FindVehicleByID finds a vehicle by its ID.
func (c *MemoryCollection) FindVehicleByID(ctx context.Context, id primitive.ObjectID) (*models.Vehicle, error) {
	return memFindOne[models.Vehicle](ctx, c.table, byID(id))
}

// FindVehicles queries a page of vehicles.
func (c *MemoryCollection) FindVehicles(ctx context.Context, q Query) ([]models.Vehicle, int64, error) {
	return memFind[models.Vehicle](ctx, c.table, q)
}

// UpdateVehicle updates a vehicle by its ID.
func (c *MemoryCollection) UpdateVehicle(ctx context.Context, id primitive.ObjectID, set Fields) error {
	return c.table.update(ctx, id, nil, set)
}

// DeleteVehicle deletes a vehicle by its ID.
func (c *MemoryCollection) DeleteVehicle(ctx context.Context, id primitive.ObjectID) error {
	return c.table.delete(ctx, id)
}

// InsertBudget inserts a budget.
func (c *MemoryCollection) InsertBudget(ctx context.Context, b *models.Budget) error {
	return c.table.insert(ctx, b)
}

// FindBudgetByID finds a budget by its ID.
func (c *MemoryCollection) FindBudgetByID(ctx context.Context, id primitive.ObjectID) (*models.Budget, error) {
	return memFindOne[models.Budget](ctx, c.table, byID(id))
}

// FindBudgets queries a page of budgets.
func (c *MemoryCollection) FindBudgets(ctx context.Context, q Query) ([]models.Budget, int64, error) {
	return memFind[models.Budget](ctx, c.table, q)
}

// UpdateBudget updates a budget by its ID.
func (c *MemoryCollection) UpdateBudget(ctx context.Context, id primitive.ObjectID, set Fields) error {
	return c.table.update(ctx, id, nil, set)
}

// DeleteBudget deletes a budget by its ID.
func (c *MemoryCollection) DeleteBudget(ctx context.Context, id primitive.ObjectID) error {
	return c.table.delete(ctx, id)
}

// MemoryUserCollection implements UserCollection in process memory.
type MemoryUserCollection struct {
	table *memTable
}

// InsertUser inserts a new user.
func (c *MemoryUserCollection) InsertUser(ctx context.Context, user models.User) error {
	now := time.Now()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	return c.table.insert(ctx, user)
}

// FindUserByID finds a user by their ID.
func (c *MemoryUserCollection) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	objectID, err := parseUserID(id)
	if err != nil {
		return nil, err
	}
	return memFindOne[models.User](ctx, c.table, byID(objectID))
}

// FindUserByUsername finds a user by their username.
func (c *MemoryUserCollection) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return memFindOne[models.User](ctx, c.table, Where(Eq("username", username)))
}

// FindUserByEmail finds a user by their email.
func (c *MemoryUserCollection) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return memFindOne[models.User](ctx, c.table, Where(Eq("email", email)))
}

// FindUsers returns every user matching f, ordered by username.
func (c *MemoryUserCollection) FindUsers(ctx context.Context, f Filter) ([]models.User, error) {
	users, _, err := memFind[models.User](ctx, c.table, Query{Filter: f, Sort: &Sort{Field: "username"}})
	return users, err
}

// UpdateUser replaces a user.
func (c *MemoryUserCollection) UpdateUser(ctx context.Context, id string, user models.User) error {
	objectID, err := parseUserID(id)
	if err != nil {
		return err
	}
	user.ID = objectID
	user.UpdatedAt = time.Now()
	return c.table.replace(ctx, objectID, user)
}

// DeleteUser deletes a user.
func (c *MemoryUserCollection) DeleteUser(ctx context.Context, id string) error {
	objectID, err := parseUserID(id)
	if err != nil {
		return err
	}
	return c.table.delete(ctx, objectID)
}

// UpdateLastLogin updates the last login time for a user.
func (c *MemoryUserCollection) UpdateLastLogin(ctx context.Context, id string) error {
	objectID, err := parseUserID(id)
	if err != nil {
		return err
	}
	now := time.Now()
	return c.table.update(ctx, objectID, nil, Fields{"last_login": now, "updated_at": now})
}
