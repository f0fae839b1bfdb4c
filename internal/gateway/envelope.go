package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
)

// envelope is the uniform response body: exactly one of data and error is
// set.
type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	code := nexuserr.CodeOf(err)
	body := envelope{Success: false, Error: &envelopeError{
		Code:    string(code),
		Message: err.Error(),
	}}
	var nerr *nexuserr.Error
	if errors.As(err, &nerr) && len(nerr.Context) > 0 {
		body.Error.Details = nerr.Context
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(code))
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps error codes to HTTP statuses.
func statusFor(code nexuserr.Code) int {
	switch code {
	case nexuserr.CodeValidation, nexuserr.CodeConfig:
		return http.StatusBadRequest
	case nexuserr.CodeToolNotAllowed:
		return http.StatusForbidden
	case nexuserr.CodeNotFound, nexuserr.CodeToolNotFound, nexuserr.CodeSecretNotFound:
		return http.StatusNotFound
	case nexuserr.CodeConflict:
		return http.StatusConflict
	case nexuserr.CodeDailyBudgetExceeded, nexuserr.CodeMonthlyBudgetExceeded,
		nexuserr.CodeRPMExceeded, nexuserr.CodeRPHExceeded, nexuserr.CodeProviderRateLimit:
		return http.StatusTooManyRequests
	case nexuserr.CodeProviderServerError, nexuserr.CodeProviderTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody strictly decodes a JSON request body.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nexuserr.Wrap(nexuserr.CodeValidation, "decode request body", err)
	}
	return nil
}
