package db

import (
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNotFound is returned when a record lookup matches nothing. It is
	// distinct from a query returning an empty page.
	ErrNotFound = errors.New("record not found")
	// ErrGuardFailed is returned by guarded updates when the record exists
	// but no longer satisfies the guard filter.
	ErrGuardFailed = errors.New("record changed concurrently")
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate record")
)

// Operator is a comparison used in a Condition.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpIn       Operator = "in"
	OpNotNull  Operator = "not_null"
	OpContains Operator = "contains"
)

// Condition is a single predicate on a document field.
type Condition struct {
	Field string
	Op    Operator
	Value interface{}
}

// Eq matches documents whose field equals v.
func Eq(field string, v interface{}) Condition { return Condition{Field: field, Op: OpEq, Value: v} }

// Ne matches documents whose field differs from v.
func Ne(field string, v interface{}) Condition { return Condition{Field: field, Op: OpNe, Value: v} }

// In matches documents whose field equals one of vs.
func In(field string, vs ...interface{}) Condition {
	return Condition{Field: field, Op: OpIn, Value: vs}
}

// NotNull matches documents where field is present and not null.
func NotNull(field string) Condition { return Condition{Field: field, Op: OpNotNull} }

// Contains matches string fields containing s, ignoring case.
func Contains(field, s string) Condition {
	return Condition{Field: field, Op: OpContains, Value: s}
}

// Filter is a conjunction of conditions. The zero value matches everything.
type Filter []Condition

// Where starts a filter.
func Where(conds ...Condition) Filter { return Filter(conds) }

// And returns a new filter with conds appended.
func (f Filter) And(conds ...Condition) Filter {
	out := make(Filter, 0, len(f)+len(conds))
	out = append(out, f...)
	return append(out, conds...)
}

// BSON renders the filter as a MongoDB query document.
func (f Filter) BSON() bson.M {
	if len(f) == 0 {
		return bson.M{}
	}
	parts := make([]bson.M, 0, len(f))
	for _, c := range f {
		parts = append(parts, c.bson())
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return bson.M{"$and": parts}
}

func (c Condition) bson() bson.M {
	switch c.Op {
	case OpNe:
		return bson.M{c.Field: bson.M{"$ne": c.Value}}
	case OpIn:
		return bson.M{c.Field: bson.M{"$in": c.Value}}
	case OpNotNull:
		return bson.M{c.Field: bson.M{"$ne": nil}}
	case OpContains:
		s, _ := c.Value.(string)
		return bson.M{c.Field: bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}}
	default:
		return bson.M{c.Field: c.Value}
	}
}

// Sort orders query results by one field.
type Sort struct {
	Field string
	Desc  bool
}

// BSON renders the sort as a MongoDB sort document.
func (s Sort) BSON() bson.D {
	dir := 1
	if s.Desc {
		dir = -1
	}
	return bson.D{{Key: s.Field, Value: dir}}
}

// Query describes a filtered, sorted page of records. A nil Sort keeps the
// store's natural order; Limit 0 means no limit.
type Query struct {
	Filter Filter
	Sort   *Sort
	Skip   int64
	Limit  int64
}

// Fields is a partial update applied with $set semantics.
type Fields map[string]interface{}
