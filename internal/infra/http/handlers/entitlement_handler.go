package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/infra/http/middleware"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

type EntitlementHandler struct {
	GrantUC  *usecase.GrantEntitlementUseCase
	RevokeUC *usecase.RevokeEntitlementUseCase
	ExtendUC *usecase.ExtendEntitlementUseCase
	ActiveUC *usecase.GetActiveEntitlementUseCase
	SweepUC  *usecase.SweepEntitlementsUseCase
	Now      usecase.Clock
	Logger   *zap.Logger
}

func NewEntitlementHandler(
	grant *usecase.GrantEntitlementUseCase,
	revoke *usecase.RevokeEntitlementUseCase,
	extend *usecase.ExtendEntitlementUseCase,
	active *usecase.GetActiveEntitlementUseCase,
	sweep *usecase.SweepEntitlementsUseCase,
	logger *zap.Logger,
) *EntitlementHandler {
	return &EntitlementHandler{
		GrantUC:  grant,
		RevokeUC: revoke,
		ExtendUC: extend,
		ActiveUC: active,
		SweepUC:  sweep,
		Now:      usecase.SystemClock,
		Logger:   logger,
	}
}

func (h *EntitlementHandler) Register(r chi.Router) {
	r.Post("/providers/{providerID}/entitlements", h.Grant)
	r.Get("/providers/{providerID}/entitlement", h.Active)
	r.Delete("/entitlements/{entitlementID}", h.Revoke)
	r.Patch("/entitlements/{entitlementID}", h.Extend)
	r.Post("/admin/entitlements/sweep", h.Sweep)
}

// Grant (POST /providers/{providerID}/entitlements)
func (h *EntitlementHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var input usecase.GrantEntitlementInput
	if err := decodeJSON(r, &input); err != nil {
		badRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	input.ProviderID = chi.URLParam(r, "providerID")
	input.Actor = middleware.ActorFrom(r.Context())

	e, err := h.GrantUC.Execute(r.Context(), input)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	middleware.RecordEntitlementChange("granted")
	writeJSON(w, http.StatusCreated, e)
}

// Active (GET /providers/{providerID}/entitlement)
func (h *EntitlementHandler) Active(w http.ResponseWriter, r *http.Request) {
	e, err := h.ActiveUC.Execute(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Revoke (DELETE /entitlements/{entitlementID})
func (h *EntitlementHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	err := h.RevokeUC.Execute(r.Context(), usecase.RevokeEntitlementInput{
		EntitlementID: chi.URLParam(r, "entitlementID"),
		Actor:         middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	middleware.RecordEntitlementChange("revoked")
	w.WriteHeader(http.StatusNoContent)
}

// Extend (PATCH /entitlements/{entitlementID})
func (h *EntitlementHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var input usecase.ExtendEntitlementInput
	if err := decodeJSON(r, &input); err != nil {
		badRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	input.EntitlementID = chi.URLParam(r, "entitlementID")
	input.Actor = middleware.ActorFrom(r.Context())

	e, err := h.ExtendUC.Execute(r.Context(), input)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	middleware.RecordEntitlementChange("extended")
	writeJSON(w, http.StatusOK, e)
}

type SweepResponse struct {
	Expired   int      `json:"expired"`
	FailedIDs []string `json:"failed_ids"`
}

// Sweep (POST /admin/entitlements/sweep) runs one expiry pass on demand.
func (h *EntitlementHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	out, err := h.SweepUC.Execute(r.Context(), h.Now())
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	middleware.RecordEntitlementsExpired(out.Expired)
	middleware.RecordSweepFailures(len(out.FailedIDs))
	writeJSON(w, http.StatusOK, SweepResponse{Expired: out.Expired, FailedIDs: out.FailedIDs})
}
