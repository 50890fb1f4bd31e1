package usecase

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// Prices are stored as NUMERIC(12, 2).
const PriceScale = 2

var MaxPrice = decimal.New(1, 10)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func ValidateMarketplaceConfigInput(input SetMarketplaceConfigInput) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(input.LeadID) == "" {
		errors = append(errors, ValidationError{"lead_id", "is required"})
	}
	switch {
	case input.Price.IsNegative():
		errors = append(errors, ValidationError{"price", "must not be negative"})
	case !input.Price.Equal(input.Price.Round(PriceScale)):
		errors = append(errors, ValidationError{"price", fmt.Sprintf("must have at most %d decimal places", PriceScale)})
	case input.Price.GreaterThanOrEqual(MaxPrice):
		errors = append(errors, ValidationError{"price", "must be below " + MaxPrice.String()})
	}
	if input.MaxSlots < 0 {
		errors = append(errors, ValidationError{"max_slots", "must not be negative"})
	}

	return errors
}

func ValidatePurchaseSlotInput(input PurchaseSlotInput) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(input.LeadID) == "" {
		errors = append(errors, ValidationError{"lead_id", "is required"})
	}
	if strings.TrimSpace(input.ProviderID) == "" {
		errors = append(errors, ValidationError{"provider_id", "is required"})
	}

	return errors
}

func ValidateGrantEntitlementInput(input GrantEntitlementInput) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(input.ProviderID) == "" {
		errors = append(errors, ValidationError{"provider_id", "is required"})
	}

	kind := entity.EntitlementKind(input.Kind)
	if !kind.Valid() {
		errors = append(errors, ValidationError{"kind", "must be one of monthly, yearly, lifetime, temporary"})
	}

	switch {
	case kind == entity.KindLifetime && input.DurationDays != nil:
		errors = append(errors, ValidationError{"duration_days", "is not allowed for lifetime grants"})
	case kind == entity.KindTemporary && input.DurationDays == nil:
		errors = append(errors, ValidationError{"duration_days", "is required for temporary grants"})
	case input.DurationDays != nil && *input.DurationDays <= 0:
		errors = append(errors, ValidationError{"duration_days", "must be positive"})
	}

	for _, f := range input.Features {
		if strings.TrimSpace(f) == "" {
			errors = append(errors, ValidationError{"features", "must not contain empty values"})
			break
		}
	}

	return errors
}

func ValidateListingInput(input FindProvidersInput) []ValidationError {
	var errors []ValidationError

	if input.Page < 0 {
		errors = append(errors, ValidationError{"page", "must not be negative"})
	}
	if input.PageSize < 0 || input.PageSize > MaxPageSize {
		errors = append(errors, ValidationError{"page_size", fmt.Sprintf("must be between 1 and %d", MaxPageSize)})
	}
	if input.RadiusKm < 0 {
		errors = append(errors, ValidationError{"radius_km", "must not be negative"})
	}
	if input.Location != "" && input.Near != nil {
		errors = append(errors, ValidationError{"location", "cannot be combined with coordinates"})
	}

	return errors
}
