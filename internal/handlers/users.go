package handlers

import (
	"net/http"
	"strings"

	"github.com/dmd/devicetracker/internal/services"
	"github.com/dmd/devicetracker/types"
	"github.com/go-chi/chi/v5"
)

const minPasswordLength = 6

// UserHandler manages the roster. Every route is restricted to coaches.
type UserHandler struct {
	users  *services.UserDirectory
	hasher *services.PasswordHasher
}

func NewUserHandler(users *services.UserDirectory, hasher *services.PasswordHasher) *UserHandler {
	return &UserHandler{users: users, hasher: hasher}
}

// UserRouter registers user management routes on the given router.
func UserRouter(r chi.Router, h *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware, requireRole(types.Role.CanManageUsers))
	r.Get("/", h.ListUsers)
	r.Post("/", h.CreateUser)
	r.Patch("/{userID}", h.UpdateUser)
	r.Put("/{userID}/password", h.ResetPassword)
	r.Delete("/{userID}", h.DeleteUser)
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, UserListResponse{Items: h.users.List()})
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if msg := checkPassword(req.Password, req.ConfirmPassword); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	role, ok := types.ParseRole(req.Role)
	if !ok {
		writeServiceError(w, services.ErrInvalidRole)
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err := h.users.Create(r.Context(), types.User{
		ID:           req.ID,
		PasswordHash: hash,
		Role:         role,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
	})
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{User: user, Warning: warning})
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	patch := types.UserPatch{FirstName: req.FirstName, LastName: req.LastName}
	if req.Role != nil {
		role, ok := types.ParseRole(*req.Role)
		if !ok {
			writeServiceError(w, services.ErrInvalidRole)
			return
		}
		patch.Role = &role
	}

	user, err := h.users.Update(r.Context(), chi.URLParam(r, "userID"), patch)
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user, Warning: warning})
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if msg := checkPassword(req.Password, req.ConfirmPassword); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	err = h.users.ResetPassword(r.Context(), chi.URLParam(r, "userID"), hash)
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "password reset", Warning: warning})
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.users.Remove(r.Context(), chi.URLParam(r, "userID"))
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if warning != "" {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "removed", Warning: warning})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func checkPassword(password, confirm string) string {
	switch {
	case strings.TrimSpace(password) == "":
		return "password is required"
	case len(password) < minPasswordLength:
		return "password is too short"
	case password != confirm:
		return "passwords do not match"
	default:
		return ""
	}
}

type CreateUserRequest struct {
	ID              string `json:"id"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Role            string `json:"role"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

type UpdateUserRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Role      *string `json:"role,omitempty"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type UserResponse struct {
	User    types.User `json:"user"`
	Warning string     `json:"warning,omitempty"`
}

type UserListResponse struct {
	Items []types.User `json:"items"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Warning string `json:"warning,omitempty"`
}
