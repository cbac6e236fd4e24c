package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/apitypes"
	"github.com/sharkyai/sharky/internal/core"
)

const maxBodyBytes = 1 << 20

// Client-facing texts. Upstream error details never reach the response.
const (
	msgUnauthenticated = "User not authenticated"
	msgInvalidBody     = "Invalid request body"
	msgChatNotFound    = "Chat not found or unauthorized"
	msgInternal        = "Internal server error"
	msgAIConfiguration = "AI service configuration error"
	msgAIRateLimited   = "AI service temporarily unavailable. Please try again later."
	msgAIFailed        = "Failed to generate AI response"
)

var errInvalidBody = errors.New("invalid request body")

// respondJSON marshals before writing headers so an encoding failure still
// produces a clean 500.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

func respondFailure(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, apitypes.Envelope{Success: false, Message: message})
}

func parseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// validationMessage lists the missing fields when every failure is a
// required-field failure, and falls back to ozzo's text otherwise.
func validationMessage(err error) string {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err.Error()
	}

	var missing []string
	for field, fieldErr := range errs {
		var verr validation.Error
		if !errors.As(fieldErr, &verr) || verr.Code() != validation.ErrRequired.Code() {
			return "Invalid request: " + errs.Error()
		}
		missing = append(missing, field)
	}
	sort.Strings(missing)

	noun := "field"
	if len(missing) > 1 {
		noun = "fields"
	}
	return fmt.Sprintf("Missing required %s: %s", noun, strings.Join(missing, ", "))
}

// writeError maps an error to its status and envelope.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validation.Errors
	switch {
	case errors.Is(err, errInvalidBody):
		respondFailure(w, http.StatusBadRequest, msgInvalidBody)
	case errors.As(err, &verrs):
		respondFailure(w, http.StatusBadRequest, validationMessage(verrs))
	case errors.Is(err, core.ErrValidation):
		respondFailure(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), core.ErrValidation.Error()+": "))
	case errors.Is(err, core.ErrChatNotFound):
		respondFailure(w, http.StatusNotFound, msgChatNotFound)
	case errors.Is(err, core.ErrAIConfiguration):
		respondJSON(w, http.StatusInternalServerError, apitypes.Envelope{Error: msgAIConfiguration})
	case errors.Is(err, core.ErrAIRateLimited):
		respondJSON(w, http.StatusTooManyRequests, apitypes.Envelope{Error: msgAIRateLimited})
	case errors.Is(err, core.ErrAIUnavailable):
		respondJSON(w, http.StatusInternalServerError, apitypes.Envelope{Error: msgAIFailed})
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, apitypes.Envelope{Error: msgInternal})
	}
}
