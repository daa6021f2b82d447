// Package httpapi implements Cipher's management surface: the HTTP JSON
// collaborator that lets an operator list, add, remove and call tools on
// fleet connections.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Error codes named by the management surface contract.
const (
	CodeServerError       = "MCP_SERVER_ERROR"
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
)

// errorEnvelope is the fixed error shape every non-2xx response carries.
type errorEnvelope struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	RequestID  string `json:"requestId"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorEnvelope{
		Success:    false,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		RequestID:  uuid.NewString(),
	})
}
