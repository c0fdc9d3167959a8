package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountPublic registers the routes reachable without a session.
func (h *Handler) MountPublic(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

// MountRoutes registers the session-protected auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/logout", h.handleLogout)
		r.Get("/profile", h.getProfile)
		r.Patch("/profile", h.updateProfile)
		r.Post("/change-password", h.changePassword)
		r.Get("/factories", h.listFactories)
	})
}

// RequireSession resolves the bearer token and stores the principal and
// session in the request context. Requests without a live session get 401.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.RespondError(w, shared.ErrSessionExpired)
			return
		}
		p, sess, err := h.service.Authenticate(r.Context(), token)
		if err != nil {
			h.fail(w, r, "authenticate", err)
			return
		}
		ctx := access.WithPrincipal(shared.ContextWithSession(r.Context(), sess), p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	h.logger.Info("login", slog.String("username", res.Profile.Username))
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), bearerToken(r)); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	if sess, ok := shared.SessionFromContext(r.Context()); ok {
		h.logger.Info("logout", slog.Int64("user_id", sess.UserID), slog.String("session", sess.ID))
	}
	w.WriteHeader(http.StatusNoContent)
}

func caller(r *http.Request) (access.Principal, error) {
	p, ok := access.FromContext(r.Context())
	if !ok {
		return access.Principal{}, httpx.ErrUnauthorized
	}
	return p, nil
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Profile(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, "get profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ProfileUpdate
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.UpdateProfile(r.Context(), p.UserID, in)
	if err != nil {
		h.fail(w, r, "update profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in PasswordChange
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), p.UserID, in); err != nil {
		h.fail(w, r, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listFactories(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	factories, err := h.service.Factories(r.Context(), p)
	if err != nil {
		h.fail(w, r, "list factories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, factories)
}
