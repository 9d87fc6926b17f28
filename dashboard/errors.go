package dashboard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// ServiceError is the JSON error body every dashboard route returns.
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotConnected = "NOT_CONNECTED"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

func statusFor(code string) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotConnected:
		return http.StatusConflict
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleError(w http.ResponseWriter, err error) {
	var svcErr ServiceError
	if !errors.As(err, &svcErr) {
		svcErr = ServiceError{Code: ErrCodeInternal, Message: "Internal server error", Cause: err}
	}
	status := statusFor(svcErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Dashboard request failed", "error", err)
	} else {
		s.logger.Debug("Dashboard request rejected", "code", svcErr.Code, "error", err)
	}
	writeJSON(w, status, svcErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
