package roles

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/portal/internal/platform/httpx"
	"github.com/odyssey-erp/portal/internal/rbac"
)

const (
	mutationRateLimit  = 20
	mutationRateWindow = time.Minute
)

// Handler exposes role administration over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: rbac.NewValidator()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router, guard rbac.Middleware) {
	view := rbac.Permission{Resource: rbac.ResourceRoles, Action: rbac.ActionView, Scope: rbac.ScopeAll}
	edit := rbac.Permission{Resource: rbac.ResourceRoles, Action: rbac.ActionEdit, Scope: rbac.ScopeAll}
	remove := rbac.Permission{Resource: rbac.ResourceRoles, Action: rbac.ActionDelete, Scope: rbac.ScopeAll}

	limiter := httprate.LimitByIP(mutationRateLimit, mutationRateWindow)

	// /roles/{name} has no static siblings so any valid role name is addressable.
	r.Route("/roles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(guard.Require(view))
			r.Get("/", h.listCached)
			r.Get("/{name}", h.getRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.With(guard.Require(edit)).Put("/{name}", h.updateRole)
			r.With(guard.Require(remove)).Delete("/{name}", h.deleteRole)
		})
	})
	r.Route("/custom-roles", func(r chi.Router) {
		r.With(guard.Require(view)).Get("/", h.listCustom)
		r.With(limiter, guard.Require(edit)).Post("/refresh", h.refresh)
	})
}

type mutationResponse struct {
	Role    string  `json:"role"`
	OK      bool    `json:"ok"`
	Outcome Outcome `json:"outcome"`
	Tier    string  `json:"tier,omitempty"`
	Queued  bool    `json:"queued"`
	Error   string  `json:"error,omitempty"`
}

type customRolesResponse struct {
	Source string       `json:"source"`
	Roles  []CustomRole `json:"roles"`
}

func (h *Handler) listCached(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.Cache().Snapshot())
}

func (h *Handler) listCustom(w http.ResponseWriter, r *http.Request) {
	roles, source := h.service.GetCustomRoles(r.Context())
	if roles == nil {
		roles = []CustomRole{}
	}
	httpx.JSON(w, http.StatusOK, customRolesResponse{Source: source, Roles: roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	name, ok := h.roleName(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, h.service.Cache().Get(name))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	name, ok := h.roleName(w, r)
	if !ok {
		return
	}
	var cfg rbac.RolePermissions
	if err := httpx.DecodeJSON(r, &cfg); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := rbac.Validate(h.validate, cfg); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	h.respondMutation(w, h.service.UpdateRole(r.Context(), name, cfg))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	name, ok := h.roleName(w, r)
	if !ok {
		return
	}
	h.respondMutation(w, h.service.DeleteRole(r.Context(), name))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Refresh(r.Context())
	if err != nil {
		httpx.RespondError(w, errors.Join(httpx.ErrUnavailable, err))
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) roleName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || !rbac.ValidRoleName(name) {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, ErrInvalidRoleName))
		return "", false
	}
	return name, true
}

// respondMutation answers 200 for persisted changes and 202 for changes that
// only reached the local cache.
func (h *Handler) respondMutation(w http.ResponseWriter, result MutationResult) {
	body := mutationResponse{
		Role:    result.Role,
		OK:      result.OK(),
		Outcome: result.Outcome,
		Tier:    result.Tier,
		Queued:  result.Queued,
	}
	status := http.StatusOK
	switch result.Outcome {
	case OutcomeLocalOnly:
		status = http.StatusAccepted
		body.Error = "remote policy store unavailable"
	case OutcomeFailed:
		httpx.Problem(w, http.StatusBadRequest, "Role Change Failed", errorText(result.Err))
		return
	}
	httpx.JSON(w, status, body)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
