// Package access computes which records a caller may see.
package access

import (
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/models"
)

// Kind identifies an entity kind whose visibility depends on the caller.
type Kind string

const (
	KindMaintenance Kind = "maintenance"
	KindInoperative Kind = "inoperative"
)

// ownerFields maps each scoped kind to the field holding its owner's user id.
var ownerFields = map[Kind]string{
	KindMaintenance: "supervisor_id",
	KindInoperative: "responsible_id",
}

// Caller is the identity attached to an inbound operation.
type Caller struct {
	ID       string
	Username string
	Role     models.Role
}

// FromClaims builds a Caller from validated token claims.
func FromClaims(c *models.Claims) Caller {
	if c == nil {
		return Caller{}
	}
	return Caller{ID: c.UserID, Username: c.Username, Role: c.Role}
}

// Restricted reports whether the caller only sees records they own.
func (c Caller) Restricted() bool {
	return c.Role == models.RoleSupervisor
}

// Resolve returns the visibility filter for kind. Unrestricted callers and
// unscoped kinds get an empty filter.
func Resolve(c Caller, kind Kind) db.Filter {
	field, ok := ownerFields[kind]
	if !ok || !c.Restricted() {
		return nil
	}
	return db.Where(db.Eq(field, c.ID))
}

// CanSee reports whether the caller may read a record owned by ownerID.
// A nil owner is visible only to unrestricted callers.
func CanSee(c Caller, ownerID *string) bool {
	if !c.Restricted() {
		return true
	}
	return ownerID != nil && *ownerID == c.ID
}
