package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/mesophy/signaged/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	WriteJSON(w, statusFromCode(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// statusFromCode maps ErrorCode to HTTP status code
func statusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest

	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized

	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden

	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// The device itself is not ready to serve the request
	case apperrors.ErrCodeNotPaired:
		return http.StatusConflict

	// Upstream cloud trouble surfaced through a control action
	case apperrors.ErrCodeNetworkFailure,
		apperrors.ErrCodeAPI,
		apperrors.ErrCodeDownloadFailed,
		apperrors.ErrCodeVerificationFailed:
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
