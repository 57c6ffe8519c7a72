package session

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warden-auth/warden/internal/platform/httpx"
	"github.com/warden-auth/warden/internal/shared"
	"github.com/warden-auth/warden/internal/users"
)

// Handler exposes the session lifecycle over JSON. Credential verification
// lives with the external account collaborator; callers of issue are
// expected to have authenticated the user already.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	directory users.Directory
	validator *validator.Validate
}

// NewHandler builds the session handler.
func NewHandler(logger *slog.Logger, manager *Manager, directory users.Directory) *Handler {
	return &Handler{
		logger:    logger,
		manager:   manager,
		directory: directory,
		validator: validator.New(),
	}
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.issue)
	r.Get("/current", h.current)
	r.Post("/refresh", h.refresh)
	r.Delete("/current", h.revoke)
}

type issueRequest struct {
	UserID   int64 `json:"user_id" validate:"required,gt=0"`
	Extended bool  `json:"extended"`
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.directory.GetByID(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("lookup user", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "retry with backoff")
		return
	}
	if !user.CanAuthenticate() {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	sess, err := h.manager.Issue(r.Context(), req.UserID, IssueOptions{Extended: req.Extended})
	if err != nil {
		h.respondErr(w, "issue session", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	sess, err := h.manager.Validate(r.Context(), identity.Token)
	if err != nil {
		h.respondErr(w, "validate session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

type refreshRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sess, err := h.manager.Refresh(r.Context(), req.Token)
	if err != nil {
		h.respondErr(w, "refresh session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err := h.manager.Revoke(r.Context(), identity.Token); err != nil {
		h.respondErr(w, "revoke session", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrUnauthorized)
	case errors.Is(err, ErrExpired):
		httpx.Problem(w, http.StatusUnauthorized, "Session Expired", "")
	case errors.Is(err, ErrRevoked):
		httpx.Problem(w, http.StatusUnauthorized, "Session Revoked", "")
	case errors.Is(err, ErrReplay):
		httpx.Problem(w, http.StatusConflict, "Token Superseded", "the presented token was already rotated")
	case errors.Is(err, ErrStoreUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "retry with backoff")
	default:
		if h.logger != nil {
			h.logger.Error(op, slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
