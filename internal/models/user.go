package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAnalyst    Role = "analyst"
	RoleSupervisor Role = "supervisor"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
)

// Actions checked by HasPermission.
const (
	ActionViewMaintenance   = "view_maintenance"
	ActionCreateMaintenance = "create_maintenance"
	ActionUpdateMaintenance = "update_maintenance"
	ActionDeleteMaintenance = "delete_maintenance"
	ActionReviewMaintenance = "review_maintenance"
	ActionViewInoperative   = "view_inoperative"
	ActionManageInoperative = "manage_inoperative"
	ActionViewCatalog       = "view_catalog"
	ActionManageCatalog     = "manage_catalog"
	ActionViewBudgets       = "view_budgets"
	ActionManageBudgets     = "manage_budgets"
	ActionManageUsers       = "manage_users"
)

// User represents a user in the system
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	FirstName    string             `bson:"first_name" json:"first_name"`
	LastName     string             `bson:"last_name" json:"last_name"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// UserSummary is the short form of a user embedded in phase views.
type UserSummary struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `json:"role"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleAnalyst, RoleSupervisor, RoleOperator, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleAnalyst:
		return action != ActionManageUsers
	case RoleSupervisor:
		return isViewAction(action) ||
			action == ActionCreateMaintenance || action == ActionUpdateMaintenance ||
			action == ActionManageInoperative
	case RoleOperator:
		return isViewAction(action) ||
			action == ActionCreateMaintenance || action == ActionManageBudgets
	case RoleViewer:
		return isViewAction(action)
	default:
		return false
	}
}

func isViewAction(action string) bool {
	switch action {
	case ActionViewMaintenance, ActionViewInoperative, ActionViewCatalog, ActionViewBudgets:
		return true
	}
	return false
}
