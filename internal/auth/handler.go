package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/helmboard/helmboard/internal/observability"
	"github.com/helmboard/helmboard/internal/platform/httpx"
	"github.com/helmboard/helmboard/internal/shared"
)

const oauthStateKey = "oauth_state"

// Handler wires HTTP endpoints for sign-in, sign-out and session
// introspection.
type Handler struct {
	logger           *slog.Logger
	service          *Service
	providers        *OAuthProviders
	sessionManager   *shared.SessionManager
	metrics          *observability.Metrics
	validator        *validator.Validate
	testLoginEnabled bool
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, providers *OAuthProviders, sessions *shared.SessionManager, metrics *observability.Metrics, testLoginEnabled bool) *Handler {
	return &Handler{
		logger:           logger,
		service:          service,
		providers:        providers,
		sessionManager:   sessions,
		metrics:          metrics,
		validator:        validator.New(),
		testLoginEnabled: testLoginEnabled,
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{provider}/login", h.beginOAuth)
	r.Get("/{provider}/callback", h.completeOAuth)
	r.Post("/logout", h.handleLogout)
	if h.testLoginEnabled {
		r.Post("/test-login", h.handleTestLogin)
	}
}

func (h *Handler) beginOAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	cfg := h.providers.Config(provider)
	if cfg == nil {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during oauth begin")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	state := uuid.NewString()
	sess.Set(oauthStateKey, state)
	http.Redirect(w, r, cfg.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) completeOAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" || state != sess.Get(oauthStateKey) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid State", "oauth state mismatch")
		return
	}
	sess.Delete(oauthStateKey)

	code := r.URL.Query().Get("code")
	if code == "" {
		httpx.Problem(w, http.StatusBadRequest, "Missing Code", "authorization code absent")
		return
	}

	identity, err := h.providers.FetchIdentity(r.Context(), provider, code)
	if err != nil {
		h.logger.Error("oauth identity", slog.String("provider", provider), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Provider Error", "sign-in could not be completed")
		return
	}

	user, err := h.service.SignInExternal(r.Context(), identity)
	if err != nil {
		h.logger.Error("external sign-in", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	h.establishSession(r, sess, user, provider)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type testLoginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleTestLogin(w http.ResponseWriter, r *http.Request) {
	var payload testLoginPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	user, err := h.service.SignInTestCredentials(r.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		h.logger.Error("test sign-in", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	h.establishSession(r, sess, user, "test-credentials")
	httpx.JSON(w, http.StatusOK, map[string]string{"userId": user.ID})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) establishSession(r *http.Request, sess *shared.Session, user *User, provider string) {
	sess.SetUser(user.ID)
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.metrics.RecordSignIn(provider)
}

// MeHandler returns the session introspection endpoint: the current user with
// the roles and effective permissions resolved at this moment. Roles and
// permissions are fetched concurrently; the permission list exists for the
// dashboard, it plays no part in authorization.
func (h *Handler) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}

		var (
			user  *User
			perms []string
		)
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			var err error
			user, err = h.service.CurrentUser(ctx, principal.UserID)
			return err
		})
		g.Go(func() error {
			var err error
			perms, err = h.service.roles.EffectivePermissions(ctx, principal.UserID)
			return err
		})
		if err := g.Wait(); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			h.logger.Error("load current user", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		if perms == nil {
			perms = []string{}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{
				"id":    user.ID,
				"email": user.Email,
				"name":  user.Name,
				"image": user.Image,
			},
			"roles":       principal.Roles,
			"permissions": perms,
		})
	}
}
