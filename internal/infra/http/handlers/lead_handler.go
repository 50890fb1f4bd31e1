package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/infra/http/middleware"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

type LeadHandler struct {
	ConfigureUC *usecase.SetMarketplaceConfigUseCase
	SyncUC      *usecase.SyncAllocationsUseCase
	PurchaseUC  *usecase.PurchaseSlotUseCase
	FindLeadsUC *usecase.FindLeadsForProviderUseCase
	Logger      *zap.Logger
}

func NewLeadHandler(
	configure *usecase.SetMarketplaceConfigUseCase,
	sync *usecase.SyncAllocationsUseCase,
	purchase *usecase.PurchaseSlotUseCase,
	findLeads *usecase.FindLeadsForProviderUseCase,
	logger *zap.Logger,
) *LeadHandler {
	return &LeadHandler{
		ConfigureUC: configure,
		SyncUC:      sync,
		PurchaseUC:  purchase,
		FindLeadsUC: findLeads,
		Logger:      logger,
	}
}

func (h *LeadHandler) Register(r chi.Router) {
	r.Put("/leads/{leadID}/marketplace", h.SetMarketplace)
	r.Post("/leads/{leadID}/marketplace/sync", h.SyncAllocations)
	r.Post("/leads/{leadID}/purchases", h.Purchase)
	r.Get("/leads/{leadID}/purchases/{providerID}", h.GetPurchase)
	r.Get("/providers/{providerID}/leads", h.ProviderLeads)
}

// SetMarketplace (PUT /leads/{leadID}/marketplace)
func (h *LeadHandler) SetMarketplace(w http.ResponseWriter, r *http.Request) {
	var input usecase.SetMarketplaceConfigInput
	if err := decodeJSON(r, &input); err != nil {
		badRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	input.LeadID = chi.URLParam(r, "leadID")
	input.Actor = middleware.ActorFrom(r.Context())

	output, err := h.ConfigureUC.Execute(r.Context(), input)
	if err != nil {
		middleware.RecordMarketplaceChange("rejected")
		writeError(w, r, h.Logger, err)
		return
	}

	switch {
	case output.Downgraded:
		middleware.RecordDowngrade()
		middleware.RecordMarketplaceChange("downgraded")
	case output.Marketplace.IsPublished:
		middleware.RecordMarketplaceChange("published")
	default:
		middleware.RecordMarketplaceChange("unpublished")
	}
	writeJSON(w, http.StatusOK, output)
}

// SyncAllocations (POST /leads/{leadID}/marketplace/sync)
func (h *LeadHandler) SyncAllocations(w http.ResponseWriter, r *http.Request) {
	output, err := h.SyncUC.Execute(r.Context(), usecase.SyncAllocationsInput{
		LeadID: chi.URLParam(r, "leadID"),
		Actor:  middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, output)
}

// Purchase (POST /leads/{leadID}/purchases). The caller is the buyer and
// payment has already been captured.
func (h *LeadHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.PurchaseUC.Execute(r.Context(), usecase.PurchaseSlotInput{
		LeadID:     chi.URLParam(r, "leadID"),
		ProviderID: middleware.ActorFrom(r.Context()),
	})
	if err != nil {
		outcome := usecase.ErrorCode(err)
		if outcome == "" {
			outcome = "error"
		}
		middleware.RecordPurchase(outcome)

		if msg, ok := purchaseMessages[outcome]; ok {
			writeJSON(w, statusByCode[outcome], ErrorResponse{Code: outcome, Message: msg})
			return
		}
		writeError(w, r, h.Logger, err)
		return
	}

	if receipt.Replayed {
		middleware.RecordPurchase("replayed")
	} else {
		middleware.RecordPurchase("purchased")
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// GetPurchase (GET /leads/{leadID}/purchases/{providerID})
func (h *LeadHandler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.PurchaseUC.Receipt(r.Context(), chi.URLParam(r, "leadID"), chi.URLParam(r, "providerID"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ProviderLeads (GET /providers/{providerID}/leads?radius_km=&specialty=)
func (h *LeadHandler) ProviderLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := usecase.FindLeadsInput{
		ProviderID:  chi.URLParam(r, "providerID"),
		Specialties: q["specialty"],
	}
	if raw := q.Get("radius_km"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(w, "radius_km must be a number")
			return
		}
		input.RadiusKm = radius
	}

	leads, err := h.FindLeadsUC.Execute(r.Context(), input)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}
