package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warden-auth/warden/internal/platform/httpx"
	"github.com/warden-auth/warden/internal/shared"
)

// Handler exposes the authorization API over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	guard     Middleware
}

// NewHandler builds the authorization handler.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		guard:     guard,
	}
}

// MountRoutes registers authorization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.listPermissions)
	r.Get("/check", h.check)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny("rbac.assign"))
		r.Post("/grants", h.grant)
		r.Delete("/grants", h.revokeGrant)
	})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	perms, err := h.service.ResolvePermissions(r.Context(), identity.UserID)
	if err != nil {
		h.respondErr(w, "resolve permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	perm := r.URL.Query().Get("permission")
	if perm == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission query parameter required")
		return
	}
	allowed := h.service.HasPermission(r.Context(), identity.UserID, perm)
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": perm, "allowed": allowed})
}

type grantRequest struct {
	UserID    int64      `json:"user_id" validate:"required,gt=0"`
	RoleID    int64      `json:"role_id" validate:"required,gt=0"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())

	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err := h.service.Grant(r.Context(), GrantParams{
		UserID:    req.UserID,
		RoleID:    req.RoleID,
		GrantedBy: identity.UserID,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.respondErr(w, "grant", err)
		return
	}
	httpx.NoContent(w)
}

type revokeRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

func (h *Handler) revokeGrant(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())

	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.RevokeGrant(r.Context(), req.UserID, req.RoleID, identity.UserID); err != nil {
		h.respondErr(w, "revoke", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrCycle):
		httpx.Problem(w, http.StatusConflict, "Hierarchy Cycle", err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "retry with backoff")
	default:
		if h.logger != nil {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
