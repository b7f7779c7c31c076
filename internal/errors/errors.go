// ABOUTME: JSON error bodies for the HTTP API.
// ABOUTME: Every non-2xx response carries a machine-readable code and a readable message.

package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every failed API request.
//
//	{"code":"no_match","message":"no device matches \"serial=X\"","status":404}
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Param   string `json:"param,omitempty"`   // query or path parameter at fault
	Details string `json:"details,omitempty"` // underlying error text
}

// WriteError writes a plain error body.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	write(w, ErrorResponse{Code: code, Message: message, Status: status})
}

// WriteParamError names the request parameter that failed validation.
func WriteParamError(w http.ResponseWriter, status int, code, message, param string) {
	write(w, ErrorResponse{Code: code, Message: message, Status: status, Param: param})
}

// WriteErrorWithDetails attaches the underlying error text.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Code: code, Message: message, Status: status}
	if err != nil {
		resp.Details = err.Error()
	}
	write(w, resp)
}

func write(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

// Error codes
const (
	ErrInvalidRequest = "invalid_request"
	ErrInvalidArgs    = "invalid_args"
	ErrInvalidFormat  = "invalid_format"
	ErrNotFound       = "not_found"
	ErrNoMatch        = "no_match"
	ErrUnknownDevice  = "unknown_device"
	ErrABIMismatch    = "abi_mismatch"
	ErrUnauthorized   = "unauthorized"
	ErrForbidden      = "forbidden"

	ErrInternal           = "internal_error"
	ErrDriverFailure      = "driver_failure"
	ErrDatabaseError      = "database_error"
	ErrServiceUnavailable = "service_unavailable"
)
