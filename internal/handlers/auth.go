package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-inoperability/internal/apperr"
	"github.com/ukydev/fleet-inoperability/internal/auth"
	"github.com/ukydev/fleet-inoperability/internal/db"
	"github.com/ukydev/fleet-inoperability/internal/middleware"
	"github.com/ukydev/fleet-inoperability/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
	log            logrus.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
		log:            log,
	}
}

type profileUpdate struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type passwordChange struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if err := decode(r, &loginReq); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if loginReq.Username == "" || loginReq.Password == "" {
		writeError(w, r, h.log, apperr.Validation("username and password are required"))
		return
	}

	user, err := h.userCollection.FindUserByUsername(r.Context(), loginReq.Username)
	if errors.Is(err, db.ErrNotFound) {
		fail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if !user.IsActive {
		fail(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}
	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		fail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	resp, err := h.issue(user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID.Hex()); err != nil {
		middleware.Logger(r.Context(), h.log).WithError(err).WithField("user_id", user.ID.Hex()).
			Warn("failed to record last login")
	}

	ok(w, http.StatusOK, resp)
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerReq models.RegisterRequest
	if err := decode(r, &registerReq); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	registerReq.Username = strings.TrimSpace(registerReq.Username)
	registerReq.Email = strings.TrimSpace(registerReq.Email)

	if err := h.authService.ValidateUsername(registerReq.Username); err != nil {
		writeError(w, r, h.log, apperr.Validation("%v", err))
		return
	}
	if err := h.authService.ValidateEmail(registerReq.Email); err != nil {
		writeError(w, r, h.log, apperr.Validation("%v", err))
		return
	}
	if err := h.authService.ValidatePassword(registerReq.Password); err != nil {
		writeError(w, r, h.log, apperr.Validation("%v", err))
		return
	}
	if registerReq.Role == "" {
		registerReq.Role = models.RoleViewer
	}
	if !models.IsValidRole(registerReq.Role) {
		writeError(w, r, h.log, apperr.Validation("invalid role %q", registerReq.Role))
		return
	}

	if err := h.ensureUnused(r, registerReq.Username, registerReq.Email); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	passwordHash, err := h.authService.HashPassword(registerReq.Password)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	now := time.Now()
	user := models.User{
		ID:           primitive.NewObjectID(),
		Username:     registerReq.Username,
		Email:        registerReq.Email,
		PasswordHash: passwordHash,
		Role:         registerReq.Role,
		FirstName:    registerReq.FirstName,
		LastName:     registerReq.LastName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.userCollection.InsertUser(r.Context(), user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			err = apperr.Conflict(nil, "username or email already exists")
		}
		writeError(w, r, h.log, err)
		return
	}

	resp, err := h.issue(&user)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusCreated, resp)
}

// GetProfile handles GET /api/auth/profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, found := h.currentUser(w, r)
	if !found {
		return
	}
	ok(w, http.StatusOK, user)
}

// UpdateProfile handles PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var updateReq profileUpdate
	if err := decode(r, &updateReq); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	user, found := h.currentUser(w, r)
	if !found {
		return
	}

	if updateReq.FirstName != "" {
		user.FirstName = updateReq.FirstName
	}
	if updateReq.LastName != "" {
		user.LastName = updateReq.LastName
	}
	if email := strings.TrimSpace(updateReq.Email); email != "" && email != user.Email {
		if err := h.authService.ValidateEmail(email); err != nil {
			writeError(w, r, h.log, apperr.Validation("%v", err))
			return
		}
		existing, err := h.userCollection.FindUserByEmail(r.Context(), email)
		switch {
		case err == nil && existing.ID != user.ID:
			writeError(w, r, h.log, apperr.Conflict(nil, "email already exists"))
			return
		case err != nil && !errors.Is(err, db.ErrNotFound):
			writeError(w, r, h.log, err)
			return
		}
		user.Email = email
	}

	if err := h.userCollection.UpdateUser(r.Context(), user.ID.Hex(), *user); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	ok(w, http.StatusOK, user)
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var passwordReq passwordChange
	if err := decode(r, &passwordReq); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if passwordReq.CurrentPassword == "" || passwordReq.NewPassword == "" {
		writeError(w, r, h.log, apperr.Validation("current_password and new_password are required"))
		return
	}
	if err := h.authService.ValidatePassword(passwordReq.NewPassword); err != nil {
		writeError(w, r, h.log, apperr.Validation("%v", err))
		return
	}

	user, found := h.currentUser(w, r)
	if !found {
		return
	}
	if !h.authService.CheckPassword(passwordReq.CurrentPassword, user.PasswordHash) {
		fail(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	newPasswordHash, err := h.authService.HashPassword(passwordReq.NewPassword)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	user.PasswordHash = newPasswordHash
	if err := h.userCollection.UpdateUser(r.Context(), user.ID.Hex(), *user); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	okMessage(w, "Password changed successfully")
}

// currentUser loads the authenticated user or writes the failure.
func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	claims, found := middleware.GetUserFromContext(r.Context())
	if !found {
		fail(w, http.StatusUnauthorized, "User context not found")
		return nil, false
	}
	user, err := h.userCollection.FindUserByID(r.Context(), claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, r, h.log, apperr.NotFound("user %s not found", claims.UserID))
		return nil, false
	}
	if err != nil {
		writeError(w, r, h.log, err)
		return nil, false
	}
	return user, true
}

func (h *AuthHandler) ensureUnused(r *http.Request, username, email string) error {
	_, err := h.userCollection.FindUserByUsername(r.Context(), username)
	if err == nil {
		return apperr.Conflict(nil, "username already exists")
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	_, err = h.userCollection.FindUserByEmail(r.Context(), email)
	if err == nil {
		return apperr.Conflict(nil, "email already exists")
	}
	if !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}

func (h *AuthHandler) issue(user *models.User) (*models.LoginResponse, error) {
	token, err := h.authService.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	return &models.LoginResponse{Token: token, RefreshToken: refreshToken, User: *user}, nil
}
