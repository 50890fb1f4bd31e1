package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

type ProviderHandler struct {
	ListingUC *usecase.FindProvidersForListingUseCase
	Logger    *zap.Logger
}

func NewProviderHandler(listing *usecase.FindProvidersForListingUseCase, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{ListingUC: listing, Logger: logger}
}

func (h *ProviderHandler) Register(r chi.Router) {
	r.Get("/providers", h.List)
}

// List (GET /providers?specialty=&location=&lat=&lng=&radius_km=&page=&page_size=)
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := usecase.FindProvidersInput{
		Specialties: q["specialty"],
		Location:    q.Get("location"),
	}

	var err error
	if input.RadiusKm, err = floatParam(q.Get("radius_km")); err != nil {
		badRequest(w, "radius_km must be a number")
		return
	}
	if input.Page, err = intParam(q.Get("page")); err != nil {
		badRequest(w, "page must be an integer")
		return
	}
	if input.PageSize, err = intParam(q.Get("page_size")); err != nil {
		badRequest(w, "page_size must be an integer")
		return
	}

	lat, lng := q.Get("lat"), q.Get("lng")
	if (lat == "") != (lng == "") {
		badRequest(w, "lat and lng must be given together")
		return
	}
	if lat != "" {
		var near entity.Coordinates
		if near.Lat, err = floatParam(lat); err != nil {
			badRequest(w, "lat must be a number")
			return
		}
		if near.Lng, err = floatParam(lng); err != nil {
			badRequest(w, "lng must be a number")
			return
		}
		input.Near = &near
	}

	output, err := h.ListingUC.Execute(r.Context(), input)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, output)
}

func floatParam(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
