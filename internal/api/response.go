package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/septivank/water-billing/internal/logging"
	"go.uber.org/zap"
)

// respondWithJSON writes payload as JSON with the given status
func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondWithError logs err and writes its API error body
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	logger := logging.FromContext(r.Context(), s.logger)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("code", string(apiErr.Code)),
			zap.Error(err))
	} else {
		logger.Debug("request rejected",
			zap.String("code", string(apiErr.Code)),
			zap.String("message", apiErr.Message))
	}
	respondWithJSON(w, apiErr.StatusCode, apiErr)
}

// decodeJSON reads a JSON request body of at most maxBodyBytes into dst
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return NewAPIError(ErrCodeBodyTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		}
		apiErr := NewAPIError(ErrCodeInvalidFormat, "request body is not valid JSON", http.StatusBadRequest)
		apiErr.Details = err.Error()
		return apiErr
	}
	return nil
}

// writeResult answers 202 Accepted for queued writes and status otherwise
func writeResult(w http.ResponseWriter, status int, queued bool, payload any) {
	if queued {
		status = http.StatusAccepted
	}
	respondWithJSON(w, status, payload)
}
