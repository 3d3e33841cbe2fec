package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/user/appforge/internal/apperr"
)

const defaultMaxBodyBytes = 8 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    apperr.Type `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {error:{type,code,message}}. Untyped errors are
// logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var typed *apperr.Error
	if !errors.As(err, &typed) {
		logger.Error("unhandled request error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Type:    "INTERNAL",
			Code:    "INTERNAL",
			Message: "internal server error",
		}})
		return
	}
	if typed.Type == apperr.StorageUnavailable {
		logger.Warn("storage unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, apperr.Status(err), errorBody{Error: errorDetail{
		Type:    typed.Type,
		Code:    typed.Code,
		Message: typed.Message,
	}})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return apperr.Invalid("EMPTY_BODY", "request body is required")
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Invalid("BODY_TOO_LARGE", "request body exceeds %d bytes", tooLarge.Limit)
	}
	return apperr.Invalid("INVALID_JSON", "invalid JSON body: %v", err)
}
