package api

import (
	"encoding/json"
	"net/http"

	"CarteraDash/api/constants"
	"CarteraDash/internal/logger"
)

// Error response helper
func RespondWithError(w http.ResponseWriter, status int, errMsg string) {
	logger.L().Errorw("request failed", "status", status, "error", errMsg)
	w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errMsg,
	})
}

// RespondWithPayload sends a consistent JSON response and includes an arbitrary payload
func RespondWithPayload(w http.ResponseWriter, success bool, errMsg string, payload interface{}) {
	w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
	resp := map[string]interface{}{"success": success}
	if !success && errMsg != "" {
		resp["error"] = errMsg
		logger.L().Errorw("RespondWithPayload", "error", errMsg)
	}
	if payload != nil {
		resp["data"] = payload
	}
	json.NewEncoder(w).Encode(resp)
}

// RespondWithRows wraps a page of list results with its pagination stats.
func RespondWithRows(w http.ResponseWriter, rows interface{}, pagination interface{}) {
	w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"rows":       rows,
		"pagination": pagination,
	})
}
