// Package api implements the HTTP surface of spec.md §6: one POST command
// ingress endpoint plus status, metrics, and audit read endpoints. It uses
// Chi as the router, mirroring the teacher's response envelope and
// middleware conventions minus the auth/role pieces (no multi-tenant
// authorization — Non-goal).
package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the standard JSON response wrapper for read-only endpoints.
type envelope map[string]any

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with the payload wrapped in {"data": payload}.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{"data": payload})
}

// errorResponse is the shape of the "error" object in error responses,
// carrying the unified apierr.Code alongside a human-readable message.
type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func errJSON(w http.ResponseWriter, status, code int, message string) {
	JSON(w, status, envelope{
		"error": errorResponse{Message: message, Code: code},
	})
}

// decodeJSON decodes the request body into dst. Returns false and writes an
// appropriate error response if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		errJSON(w, http.StatusBadRequest, 1000, "invalid request body: "+err.Error())
		return false
	}
	return true
}
