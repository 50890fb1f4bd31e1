package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/logging"
	"github.com/xavierca1/lead-marketplace/internal/usecase"
)

type ErrorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON reads an optional JSON body; an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: usecase.CodeInvalidConfiguration, Message: message})
}

var statusByCode = map[string]int{
	usecase.CodeInvalidConfiguration: http.StatusBadRequest,
	usecase.CodeNotFound:             http.StatusNotFound,
	usecase.CodeSlotsExhausted:       http.StatusConflict,
	usecase.CodeDuplicatePurchase:    http.StatusConflict,
	usecase.CodeAlreadyActive:        http.StatusConflict,
	usecase.CodeNotPublished:         http.StatusUnprocessableEntity,
	usecase.CodeStorageContention:    http.StatusServiceUnavailable,
}

var purchaseMessages = map[string]string{
	usecase.CodeSlotsExhausted:    "This lead is no longer available",
	usecase.CodeDuplicatePurchase: "You already purchased this lead",
}

// writeError maps the usecase error taxonomy onto HTTP. Unclassified errors
// are logged and hidden behind a 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code := usecase.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		logging.FromContext(r.Context(), logger).Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	message := err.Error()
	if usecase.IsTechnicalError(err) {
		logging.FromContext(r.Context(), logger).Warn("request failed", zap.Error(err))
		message = "Service busy, please retry"
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
