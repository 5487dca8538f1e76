package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmboard/helmboard/internal/shared"
)

func newAdminRouter(repo *mockRepository) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, NewService(repo, logger), nil)
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListRoles(t *testing.T) {
	repo := newMockRepository()
	router := newAdminRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/roles", map[string]string{
		"name":        "AUDITOR",
		"description": "Read-only access for audits",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/roles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	require.Len(t, roles, 1)
	assert.Equal(t, "AUDITOR", roles[0].Name)
}

func TestCreateRoleValidation(t *testing.T) {
	router := newAdminRouter(newMockRepository())

	rec := doJSON(t, router, http.MethodPost, "/roles", map[string]string{"description": "nameless"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoleWithPermissions(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole("AUDITOR")
	perm, _ := repo.UpsertPermission(context.Background(), "read:roles", "View roles")
	repo.rolePerms[role.ID] = []string{perm.ID}
	router := newAdminRouter(repo)

	rec := doJSON(t, router, http.MethodGet, "/roles/"+role.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Name        string `json:"name"`
		Permissions []struct {
			Name string `json:"name"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "AUDITOR", detail.Name)
	require.Len(t, detail.Permissions, 1)
	assert.Equal(t, "read:roles", detail.Permissions[0].Name)
}

func TestGetRoleNotFound(t *testing.T) {
	router := newAdminRouter(newMockRepository())

	rec := doJSON(t, router, http.MethodGet, "/roles/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAdminRoleForbidden(t *testing.T) {
	repo := newMockRepository()
	admin := repo.addRole(shared.RoleAdmin)
	router := newAdminRouter(repo)

	rec := doJSON(t, router, http.MethodDelete, "/roles/"+admin.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, repo.roles, admin.ID)
}

func TestDeleteRole(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole("AUDITOR")
	router := newAdminRouter(repo)

	rec := doJSON(t, router, http.MethodDelete, "/roles/"+role.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, repo.roles, role.ID)
}

func TestSetRolePermissionsEndpoint(t *testing.T) {
	repo := newMockRepository()
	role := repo.addRole("AUDITOR")
	read, _ := repo.UpsertPermission(context.Background(), "read:roles", "")
	write, _ := repo.UpsertPermission(context.Background(), "write:roles", "")
	router := newAdminRouter(repo)

	rec := doJSON(t, router, http.MethodPut, "/roles/"+role.ID+"/permissions", map[string]any{
		"permissionIds": []string{read.ID, write.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var perms []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perms))
	assert.Len(t, perms, 2)
}

func TestCreatePermissionUpserts(t *testing.T) {
	repo := newMockRepository()
	router := newAdminRouter(repo)

	rec := doJSON(t, router, http.MethodPost, "/permissions", map[string]string{
		"name":        "read:users",
		"description": "View users",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same name again refreshes the description instead of duplicating.
	rec = doJSON(t, router, http.MethodPost, "/permissions", map[string]string{
		"name":        "read:users",
		"description": "View users and their roles",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, repo.permissions, 1)
}
