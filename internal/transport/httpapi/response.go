package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"blp-router/internal/plugin"
	"blp-router/internal/trade"
)

var errInvalidInput = errors.New("invalid input")

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, plugin.ErrNotFound):
		return http.StatusNotFound, "BUSINESS_LOGIC_NOT_FOUND"
	case errors.Is(err, trade.ErrUnknownTrade):
		return http.StatusNotFound, "UNKNOWN_TRADE"
	case errors.Is(err, trade.ErrTradeExists):
		return http.StatusConflict, "TRADE_CONFLICT"
	default:
		return http.StatusInternalServerError, "BUSINESS_LOGIC_ERROR"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := mapDomainError(err)
	writeError(w, status, code, err.Error())
}
