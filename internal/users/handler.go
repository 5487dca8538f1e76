package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helmboard/helmboard/internal/platform/httpx"
	"github.com/helmboard/helmboard/internal/rbac"
	"github.com/helmboard/helmboard/internal/shared"
)

// Handler manages the user admin endpoints, including the role reassignment
// mutation.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      *rbac.Service
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbacService *rbac.Service, audit *shared.AuditLogger) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacService, audit: audit, validator: validator.New()}
}

// MountRoutes registers user routes. Callers mount these under an
// admin-guarded group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/{userID}", h.getUser)
	r.Post("/{userID}/roles", h.setUserRoles)
}

type userResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Image         string     `json:"image,omitempty"`
	EmailVerified *time.Time `json:"emailVerified,omitempty"`
	Roles         []string   `json:"roles"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type setRolesPayload struct {
	RoleNames []string `json:"roleNames" validate:"required"`
}

type listUsersResponse struct {
	Users      []userResponse `json:"users"`
	Page       int            `json:"page"`
	PerPage    int            `json:"perPage"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	users, pagination, err := h.service.ListUsers(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := listUsersResponse{
		Users:      make([]userResponse, 0, len(users)),
		Page:       pagination.Page,
		PerPage:    pagination.PerPage,
		Total:      pagination.Total,
		TotalPages: pagination.TotalPages,
	}
	for _, user := range users {
		out.Users = append(out.Users, toUserResponse(user))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("get user", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

// setUserRoles is the admin mutation replacing a user's entire role set.
// Validation of the requested role names happens before any transaction
// opens; a failed request leaves the user's prior assignment untouched and
// enumerates the names that did not resolve.
func (h *Handler) setUserRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var payload setRolesPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if _, err := h.service.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("resolve user for role assignment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	roles, err := h.rbac.SetUserRoles(r.Context(), userID, payload.RoleNames)
	if err != nil {
		var notFound *rbac.RolesNotFoundError
		if errors.As(err, &notFound) {
			httpx.ProblemInvalid(w, http.StatusBadRequest, "Roles Not Found",
				"one or more role names do not exist", notFound.Missing)
			return
		}
		h.logger.Error("set user roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	h.recordAudit(r, userID, roles)

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("reload user after role assignment", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) recordAudit(r *http.Request, userID string, roles []string) {
	if h.audit == nil {
		return
	}
	actor := ""
	if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
		actor = principal.UserID
	}
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor,
		Action:   "user.set_roles",
		Entity:   "user",
		EntityID: userID,
		Meta:     map[string]any{"roles": roles},
	}); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

func toUserResponse(user UserWithRoles) userResponse {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	return userResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Image:         user.Image,
		EmailVerified: user.EmailVerified,
		Roles:         roles,
		CreatedAt:     user.CreatedAt,
	}
}
