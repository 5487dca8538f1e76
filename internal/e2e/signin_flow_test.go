package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/helmboard/helmboard/internal/app"
	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/observability"
	"github.com/helmboard/helmboard/internal/rbac"
	"github.com/helmboard/helmboard/internal/shared"
	_ "github.com/helmboard/helmboard/internal/testing/guard"
	"github.com/helmboard/helmboard/internal/users"
)

// memoryStore is an in-memory stand-in for postgres covering the auth, rbac
// and users repositories, so the full HTTP stack runs without a database.
type memoryStore struct {
	users          map[string]*auth.User // by id
	usersByAccount map[string]*auth.User
	sessions       map[string]string
	roles          map[string]rbac.Role
	rolesByName    map[string]rbac.Role
	userRoles      map[string][]string
	nextID         int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:          make(map[string]*auth.User),
		usersByAccount: make(map[string]*auth.User),
		sessions:       make(map[string]string),
		roles:          make(map[string]rbac.Role),
		rolesByName:    make(map[string]rbac.Role),
		userRoles:      make(map[string][]string),
	}
}

func (s *memoryStore) addRole(name string) rbac.Role {
	s.nextID++
	role := rbac.Role{ID: fmt.Sprintf("role-%d", s.nextID), Name: name}
	s.roles[role.ID] = role
	s.rolesByName[name] = role
	return role
}

// auth.Repository

func (s *memoryStore) UpsertExternalUser(ctx context.Context, identity auth.Identity) (*auth.User, error) {
	key := identity.Provider + ":" + identity.ProviderAccountID
	if user, ok := s.usersByAccount[key]; ok {
		return user, nil
	}
	s.nextID++
	user := &auth.User{
		ID:        fmt.Sprintf("user-%d", s.nextID),
		Email:     identity.Email,
		Name:      identity.Name,
		CreatedAt: time.Now(),
	}
	s.usersByAccount[key] = user
	s.users[user.ID] = user
	return user, nil
}

func (s *memoryStore) FindUserByID(ctx context.Context, id string) (*auth.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

func (s *memoryStore) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time, ip, ua string) error {
	s.sessions[token] = userID
	return nil
}

func (s *memoryStore) DeleteSession(ctx context.Context, token string) error {
	delete(s.sessions, token)
	return nil
}

// rbac.RepositoryPort

func (s *memoryStore) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) GetRole(ctx context.Context, id string) (rbac.Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return r, nil
}

func (s *memoryStore) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	role := s.addRole(name)
	role.Description = description
	s.roles[role.ID] = role
	return role, nil
}

func (s *memoryStore) UpdateRole(ctx context.Context, id, name, description string) (rbac.Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	delete(s.rolesByName, r.Name)
	r.Name = name
	r.Description = description
	s.roles[id] = r
	s.rolesByName[name] = r
	return r, nil
}

func (s *memoryStore) DeleteRole(ctx context.Context, id string) error {
	r, ok := s.roles[id]
	if !ok {
		return rbac.ErrNotFound
	}
	delete(s.rolesByName, r.Name)
	delete(s.roles, id)
	return nil
}

func (s *memoryStore) FindRolesByNames(ctx context.Context, names []string) ([]rbac.Role, error) {
	var out []rbac.Role
	for _, name := range names {
		if r, ok := s.rolesByName[name]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) RolesForUser(ctx context.Context, userID string) ([]rbac.Role, error) {
	var out []rbac.Role
	for _, id := range s.userRoles[userID] {
		out = append(out, s.roles[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) CountUserRoles(ctx context.Context, userID string) (int, error) {
	return len(s.userRoles[userID]), nil
}

func (s *memoryStore) AssignRole(ctx context.Context, userID, roleID string) error {
	s.userRoles[userID] = append(s.userRoles[userID], roleID)
	return nil
}

func (s *memoryStore) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	s.userRoles[userID] = append([]string(nil), roleIDs...)
	return nil
}

func (s *memoryStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) { return nil, nil }

func (s *memoryStore) UpsertPermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	return rbac.Permission{}, nil
}

func (s *memoryStore) ListRolePermissions(ctx context.Context, roleID string) ([]rbac.Permission, error) {
	return nil, nil
}

func (s *memoryStore) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	return nil
}

func (s *memoryStore) UserEffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	return nil, nil
}

// users.RepositoryPort

func (s *memoryStore) ListUsers(ctx context.Context, offset, limit int) ([]users.UserWithRoles, error) {
	var out []users.UserWithRoles
	for id := range s.users {
		u, _ := s.GetUser(ctx, id)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) CountUsers(ctx context.Context) (int, error) {
	return len(s.users), nil
}

func (s *memoryStore) GetUser(ctx context.Context, id string) (users.UserWithRoles, error) {
	u, ok := s.users[id]
	if !ok {
		return users.UserWithRoles{}, users.ErrNotFound
	}
	roles, _ := s.RolesForUser(ctx, id)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return users.UserWithRoles{
		User: users.User{
			ID:        u.ID,
			Email:     u.Email,
			Name:      u.Name,
			CreatedAt: u.CreatedAt,
		},
		Roles: names,
	}, nil
}

func newTestServer(t *testing.T, store *memoryStore) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &app.Config{AppEnv: "test", AppRequestTimeout: 30 * time.Second}
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	metrics := observability.NewMetrics()

	rbacService := rbac.NewService(store, logger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("supersecret"), bcrypt.MinCost)
	require.NoError(t, err)
	authService := auth.NewService(store, rbacService, logger)
	authService.EnableTestCredentials(string(hash), []string{"admin@example.com"})
	providers := auth.NewOAuthProviders(auth.OAuthConfig{RedirectBaseURL: "http://localhost"})
	authHandler := auth.NewHandler(logger, authService, providers, sessionManager, metrics, true)

	usersService := users.NewService(store)
	usersHandler := users.NewHandler(logger, usersService, rbacService, nil)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthHandler:    authHandler,
		RBACHandler:    rbacHandler,
		UsersHandler:   usersHandler,
		RBACMiddleware: rbacMiddleware,
		Metrics:        metrics,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

type client struct {
	t    *testing.T
	http *http.Client
	base string
	csrf string
}

func newClient(t *testing.T, server *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, http: &http.Client{Jar: jar}, base: server.URL}
}

func (c *client) fetchCSRF() {
	c.t.Helper()
	resp, err := c.http.Get(c.base + "/auth/csrf")
	require.NoError(c.t, err)
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&body))
	c.csrf = body["csrfToken"]
	require.NotEmpty(c.t, c.csrf)
}

func (c *client) postJSON(path string, payload any) *http.Response {
	c.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(c.t, err)
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(data))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set(shared.CSRFHeader, c.csrf)
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	return resp
}

func (c *client) get(path string) *http.Response {
	c.t.Helper()
	resp, err := c.http.Get(c.base + path)
	require.NoError(c.t, err)
	return resp
}

func (c *client) signIn(email string) {
	c.t.Helper()
	c.fetchCSRF()
	resp := c.postJSON("/auth/test-login", map[string]string{"email": email, "password": "supersecret"})
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
}

func TestSignInFlowGrantsRolesAndAdminAccess(t *testing.T) {
	store := newMemoryStore()
	store.addRole("ADMIN")
	store.addRole("USER")
	server := newTestServer(t, store)

	admin := newClient(t, server)
	admin.signIn("admin@example.com")

	resp := admin.get("/me")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		User  struct{ Email string } `json:"user"`
		Roles []string               `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "admin@example.com", me.User.Email)
	assert.Equal(t, []string{"ADMIN", "USER"}, me.Roles)

	// Allow-listed admin can reach the admin API.
	rolesResp := admin.get("/api/admin/roles")
	defer rolesResp.Body.Close()
	assert.Equal(t, http.StatusOK, rolesResp.StatusCode)
}

func TestSignInFlowRegularUserIsForbidden(t *testing.T) {
	store := newMemoryStore()
	store.addRole("ADMIN")
	store.addRole("USER")
	server := newTestServer(t, store)

	user := newClient(t, server)
	user.signIn("qa@example.com")

	resp := user.get("/api/admin/roles")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAnonymousIsUnauthorized(t *testing.T) {
	server := newTestServer(t, newMemoryStore())

	anon := newClient(t, server)
	resp := anon.get("/api/admin/roles")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	me := anon.get("/me")
	defer me.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, me.StatusCode)
}

func TestMutationWithoutCSRFTokenIsForbidden(t *testing.T) {
	server := newTestServer(t, newMemoryStore())

	c := newClient(t, server)
	resp := c.postJSON("/auth/test-login", map[string]string{"email": "qa@example.com", "password": "supersecret"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminReassignsRolesEndToEnd(t *testing.T) {
	store := newMemoryStore()
	store.addRole("ADMIN")
	store.addRole("USER")
	store.addRole("AUDITOR")
	server := newTestServer(t, store)

	// A regular user signs in first so there is someone to reassign.
	user := newClient(t, server)
	user.signIn("qa@example.com")

	admin := newClient(t, server)
	admin.signIn("admin@example.com")

	var target string
	for id, u := range store.users {
		if u.Email == "qa@example.com" {
			target = id
		}
	}
	require.NotEmpty(t, target)

	resp := admin.postJSON("/api/admin/users/"+url.PathEscape(target)+"/roles", map[string]any{
		"roleNames": []string{"AUDITOR"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated struct {
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, []string{"AUDITOR"}, updated.Roles)

	// The user's next request reflects the new role set immediately.
	me := user.get("/me")
	defer me.Body.Close()
	var meBody struct {
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(me.Body).Decode(&meBody))
	assert.Equal(t, []string{"AUDITOR"}, meBody.Roles)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, newMemoryStore())

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
