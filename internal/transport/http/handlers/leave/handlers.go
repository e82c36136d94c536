package leavehandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hrleave/internal/domain/audit"
	"hrleave/internal/domain/auth"
	"hrleave/internal/domain/leave"
	"hrleave/internal/transport/http/api"
	"hrleave/internal/transport/http/middleware"
	"hrleave/internal/transport/http/shared"
)

type Handler struct {
	Service *leave.Service
	Audit   *audit.Service
}

func NewHandler(service *leave.Service, auditSvc *audit.Service) *Handler {
	return &Handler{Service: service, Audit: auditSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/leave", func(r chi.Router) {
		r.With(middleware.RequireRole(auth.RoleHR, auth.RoleEmployee)).Get("/policies", h.handleListPolicies)
		r.With(middleware.RequireRole(auth.RoleHR)).Post("/policies", h.handleCreatePolicy)
		r.With(middleware.RequireRole(auth.RoleHR, auth.RoleEmployee)).Get("/policies/{policyID}", h.handleGetPolicy)
		r.With(middleware.RequireRole(auth.RoleHR)).Patch("/policies/{policyID}", h.handleUpdatePolicy)
		r.With(middleware.RequireRole(auth.RoleHR)).Delete("/policies/{policyID}", h.handleRetirePolicy)

		r.With(middleware.RequireRole(auth.RoleHR, auth.RoleEmployee)).Get("/balances", h.handleListBalances)
		r.With(middleware.RequireRole(auth.RoleHR)).Post("/balances/adjust", h.handleAdjustBalance)
		r.With(middleware.RequireRole(auth.RoleHR)).Post("/balances/initialize", h.handleInitializeBalances)
		r.With(middleware.RequireRole(auth.RoleHR)).Post("/balances/sync", h.handleSyncBalances)
		r.With(middleware.RequireRole(auth.RoleService, auth.RoleHR)).Post("/balances/consume", h.handleConsumeBalance)
		r.With(middleware.RequireRole(auth.RoleService, auth.RoleHR)).Post("/balances/release", h.handleReleaseBalance)

		r.With(middleware.RequireRole(auth.RoleHR, auth.RoleEmployee)).Get("/adjustments", h.handleListAdjustments)
	})
}

// failFromError maps domain sentinels onto the HTTP error taxonomy.
func failFromError(w http.ResponseWriter, r *http.Request, err error, fallbackCode, fallbackMessage string) {
	reqID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, leave.ErrValidation):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	case errors.Is(err, leave.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, leave.ErrInsufficientBalance):
		api.Fail(w, http.StatusConflict, "insufficient_balance", err.Error(), reqID)
	case errors.Is(err, leave.ErrInvariantViolation):
		api.Fail(w, http.StatusConflict, "invariant_violation", err.Error(), reqID)
	case errors.Is(err, leave.ErrConcurrencyConflict):
		api.Fail(w, http.StatusConflict, "concurrency_conflict", err.Error(), reqID)
	default:
		slog.Error(fallbackMessage, "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, fallbackCode, fallbackMessage, reqID)
	}
}

func (h *Handler) audit(r *http.Request, actor auth.Actor, action, entityType, entityID string, before, after any) {
	reqID := middleware.GetRequestID(r.Context())
	if err := h.Audit.Record(r.Context(), actor.OrgID, actor.ActorID, action, entityType, entityID, reqID, shared.ClientIP(r), before, after); err != nil {
		slog.Warn("audit record failed", "action", action, "err", err)
	}
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	policies, err := h.Service.ListActivePolicies(r.Context(), actor.OrgID)
	if err != nil {
		failFromError(w, r, err, "policy_list_failed", "failed to list leave policies")
		return
	}
	api.Success(w, policies, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	policy, err := h.Service.GetPolicy(r.Context(), actor.OrgID, chi.URLParam(r, "policyID"))
	if err != nil {
		failFromError(w, r, err, "policy_get_failed", "failed to load leave policy")
		return
	}
	api.Success(w, policy, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var payload leave.PolicyInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("leaveType", payload.LeaveType, "leaveType is required")
	v.Enum("leaveType", payload.LeaveType, leave.KnownLeaveTypes, "unknown leave type")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	policy, summary, err := h.Service.CreatePolicy(r.Context(), actor.OrgID, payload)
	if err != nil {
		failFromError(w, r, err, "policy_create_failed", "failed to create leave policy")
		return
	}

	h.audit(r, actor, "leave.policy.create", "leave_policy", policy.ID, nil, policy)
	api.Created(w, map[string]any{"policy": policy, "backfill": summary}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	policyID := chi.URLParam(r, "policyID")

	var payload leave.PolicyUpdate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	before, err := h.Service.GetPolicy(r.Context(), actor.OrgID, policyID)
	if err != nil {
		failFromError(w, r, err, "policy_update_failed", "failed to load leave policy")
		return
	}

	policy, summary, err := h.Service.UpdatePolicy(r.Context(), actor.OrgID, policyID, payload)
	if err != nil {
		failFromError(w, r, err, "policy_update_failed", "failed to update leave policy")
		return
	}

	h.audit(r, actor, "leave.policy.update", "leave_policy", policy.ID, before, policy)
	api.Success(w, map[string]any{"policy": policy, "propagation": summary}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRetirePolicy(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	policyID := chi.URLParam(r, "policyID")

	before, err := h.Service.GetPolicy(r.Context(), actor.OrgID, policyID)
	if err != nil {
		failFromError(w, r, err, "policy_retire_failed", "failed to load leave policy")
		return
	}
	if err := h.Service.RetirePolicy(r.Context(), actor.OrgID, policyID); err != nil {
		failFromError(w, r, err, "policy_retire_failed", "failed to retire leave policy")
		return
	}

	h.audit(r, actor, "leave.policy.retire", "leave_policy", policyID, before, nil)
	api.Success(w, map[string]string{"status": leave.PolicyRetired}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	employeeID := r.URL.Query().Get("employeeId")
	if actor.Role == auth.RoleEmployee {
		// Employees see only their own balances.
		if actor.EmployeeID == "" {
			api.Fail(w, http.StatusForbidden, "forbidden", "token is not linked to an employee", middleware.GetRequestID(r.Context()))
			return
		}
		employeeID = actor.EmployeeID
	}

	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			api.Fail(w, http.StatusBadRequest, "validation_error", "year must be an integer", middleware.GetRequestID(r.Context()))
			return
		}
		year = parsed
	}

	balances, err := h.Service.GetBalances(r.Context(), actor.OrgID, employeeID, year)
	if err != nil {
		failFromError(w, r, err, "balance_list_failed", "failed to list leave balances")
		return
	}
	api.Success(w, balances, middleware.GetRequestID(r.Context()))
}

type adjustPayload struct {
	EmployeeID string `json:"employeeId"`
	LeaveType  string `json:"leaveType"`
	Days       int    `json:"days"`
	Reason     string `json:"reason"`
}

func (h *Handler) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var payload adjustPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("employeeId", payload.EmployeeID, "employeeId is required")
	v.Required("leaveType", payload.LeaveType, "leaveType is required")
	v.Required("reason", payload.Reason, "reason is required")
	v.IntRange("days", payload.Days, -leave.MaxAdjustmentDays, leave.MaxAdjustmentDays)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	balance, err := h.Service.AdjustEmployeeBalance(r.Context(), actor.OrgID, payload.EmployeeID, payload.LeaveType, payload.Days, payload.Reason, actor.ActorID)
	if err != nil {
		failFromError(w, r, err, "balance_adjust_failed", "failed to adjust leave balance")
		return
	}

	h.audit(r, actor, "leave.balance.adjust", "leave_balance", balance.ID, payload, balance)
	api.Success(w, balance, middleware.GetRequestID(r.Context()))
}

type initializePayload struct {
	Year int `json:"year"`
}

func (h *Handler) handleInitializeBalances(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var payload initializePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	summary, err := h.Service.InitializeOrganizationBalances(r.Context(), actor.OrgID, payload.Year)
	if err != nil {
		failFromError(w, r, err, "balance_init_failed", "failed to initialize leave balances")
		return
	}

	h.audit(r, actor, "leave.balance.initialize", "organization", actor.OrgID, nil, summary)
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSyncBalances(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	summary, err := h.Service.SyncAllEmployeeLeaveBalances(r.Context(), actor.OrgID)
	if err != nil {
		failFromError(w, r, err, "balance_sync_failed", "failed to sync leave balances")
		return
	}

	h.audit(r, actor, "leave.balance.sync", "organization", actor.OrgID, nil, summary)
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

type consumePayload struct {
	EmployeeID string `json:"employeeId"`
	LeaveType  string `json:"leaveType"`
	TotalDays  int    `json:"totalDays"`
}

func (h *Handler) handleConsumeBalance(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var payload consumePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	balance, err := h.Service.ConsumeBalance(r.Context(), actor.OrgID, payload.EmployeeID, payload.LeaveType, payload.TotalDays)
	if err != nil {
		failFromError(w, r, err, "balance_consume_failed", "failed to consume leave balance")
		return
	}

	h.audit(r, actor, "leave.balance.consume", "leave_balance", balance.ID, payload, balance)
	api.Success(w, balance, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReleaseBalance(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var payload consumePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return
	}

	balance, err := h.Service.ReleaseBalance(r.Context(), actor.OrgID, payload.EmployeeID, payload.LeaveType, payload.TotalDays)
	if err != nil {
		failFromError(w, r, err, "balance_release_failed", "failed to release leave balance")
		return
	}

	h.audit(r, actor, "leave.balance.release", "leave_balance", balance.ID, payload, balance)
	api.Success(w, balance, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	employeeID := r.URL.Query().Get("employeeId")
	if actor.Role == auth.RoleEmployee {
		if actor.EmployeeID == "" {
			api.Fail(w, http.StatusForbidden, "forbidden", "token is not linked to an employee", middleware.GetRequestID(r.Context()))
			return
		}
		employeeID = actor.EmployeeID
	}
	page := shared.ParsePagination(r, 50, 500)

	adjustments, err := h.Service.ListAdjustments(r.Context(), actor.OrgID, employeeID, page.Limit, page.Offset)
	if err != nil {
		failFromError(w, r, err, "adjustment_list_failed", "failed to list balance adjustments")
		return
	}
	api.Success(w, adjustments, middleware.GetRequestID(r.Context()))
}
