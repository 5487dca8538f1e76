package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helmboard/helmboard/internal/platform/httpx"
	"github.com/helmboard/helmboard/internal/shared"
)

// Handler exposes the role and permission admin API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, validator: validator.New()}
}

// MountRoutes registers role and permission routes. Callers mount these under
// an admin-guarded group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Get("/roles/{roleID}", h.getRole)
	r.Put("/roles/{roleID}", h.updateRole)
	r.Delete("/roles/{roleID}", h.deleteRole)
	r.Put("/roles/{roleID}/permissions", h.setRolePermissions)
	r.Get("/permissions", h.listPermissions)
	r.Post("/permissions", h.createPermission)
}

type roleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type permissionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type roleDetailResponse struct {
	roleResponse
	Permissions []permissionResponse `json:"permissions"`
}

type rolePayload struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=256"`
}

type permissionPayload struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=256"`
}

type rolePermissionsPayload struct {
	PermissionIDs []string `json:"permissionIds" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	role, err := h.service.GetRole(r.Context(), roleID)
	if err != nil {
		h.respondError(w, "get role", err)
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), roleID)
	if err != nil {
		h.respondError(w, "get role permissions", err)
		return
	}
	detail := roleDetailResponse{roleResponse: toRoleResponse(role), Permissions: make([]permissionResponse, 0, len(perms))}
	for _, perm := range perms {
		detail.Permissions = append(detail.Permissions, permissionResponse{ID: perm.ID, Name: perm.Name, Description: perm.Description})
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var payload rolePayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), payload.Name, payload.Description)
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	h.recordAudit(r, "role.create", "role", role.ID, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	var payload rolePayload
	if !h.decode(w, r, &payload) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), roleID, payload.Name, payload.Description)
	if err != nil {
		h.respondError(w, "update role", err)
		return
	}
	h.recordAudit(r, "role.update", "role", role.ID, map[string]any{"name": role.Name})
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	h.recordAudit(r, "role.delete", "role", roleID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	var payload rolePermissionsPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), roleID, payload.PermissionIDs); err != nil {
		h.respondError(w, "set role permissions", err)
		return
	}
	perms, err := h.service.RolePermissions(r.Context(), roleID)
	if err != nil {
		h.respondError(w, "reload role permissions", err)
		return
	}
	h.recordAudit(r, "role.set_permissions", "role", roleID, map[string]any{"count": len(perms)})
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, permissionResponse{ID: perm.ID, Name: perm.Name, Description: perm.Description})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, perm := range perms {
		out = append(out, permissionResponse{ID: perm.ID, Name: perm.Name, Description: perm.Description})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var payload permissionPayload
	if !h.decode(w, r, &payload) {
		return
	}
	perm, err := h.service.EnsurePermission(r.Context(), payload.Name, payload.Description)
	if err != nil {
		h.respondError(w, "create permission", err)
		return
	}
	h.recordAudit(r, "permission.upsert", "permission", perm.ID, map[string]any{"name": perm.Name})
	httpx.JSON(w, http.StatusCreated, permissionResponse{ID: perm.ID, Name: perm.Name, Description: perm.Description})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrRoleProtected):
		httpx.Problem(w, http.StatusForbidden, "Protected", "the ADMIN role is system-protected")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) recordAudit(r *http.Request, action, entity, entityID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	actor := ""
	if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
		actor = principal.UserID
	}
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

func toRoleResponse(role Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}
