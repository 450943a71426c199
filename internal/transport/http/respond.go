package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"carecore/internal/bulkhead"
	"carecore/pkg/platform/fault"
	"carecore/pkg/platform/sentinel"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError centralizes the error-to-status translation so every route
// returns the same JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var queueFull *bulkhead.QueueFullError
	var admissionTimeout *bulkhead.AdmissionTimeoutError
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sentinel.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, sentinel.ErrInvalidState):
		status = http.StatusConflict
	case errors.As(err, &queueFull), errors.Is(err, sentinel.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &admissionTimeout):
		status = http.StatusGatewayTimeout
	default:
		switch fault.KindOf(err) {
		case fault.KindValidation:
			status = http.StatusBadRequest
		case fault.KindAuthorization:
			status = http.StatusForbidden
		case fault.KindNotFound:
			status = http.StatusNotFound
		case fault.KindRateLimited:
			status = http.StatusTooManyRequests
		case fault.KindTimeout:
			status = http.StatusGatewayTimeout
		case fault.KindUnavailable:
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, errorBody{Error: err.Error()})
}
