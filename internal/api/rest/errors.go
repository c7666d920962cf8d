package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes what went wrong
type ErrorBody struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}

// errorStatus maps err onto an HTTP status and body
func errorStatus(err error) (int, ErrorBody) {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		status := appErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		body := ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			Retryable: appErr.Retryable,
		}
		// internal causes stay in the logs
		if appErr.Type == domainerrors.ErrorTypeInternal {
			body.Details = nil
		}
		return status, body
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorBody{Code: "REQUEST_TIMEOUT", Message: "Request timed out", Retryable: true}
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, ErrorBody{Code: "REQUEST_CANCELED", Message: "Request was canceled"}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest, ErrorBody{Code: "INVALID_JSON", Message: "Invalid JSON syntax"}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return http.StatusBadRequest, ErrorBody{
			Code:    "TYPE_MISMATCH",
			Message: "Invalid type for field '" + typeErr.Field + "'",
		}
	}

	return http.StatusInternalServerError, ErrorBody{Code: "INTERNAL_ERROR", Message: "An internal error occurred"}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	body.RequestID = requestIDFrom(r.Context())
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{Error: body})
}
