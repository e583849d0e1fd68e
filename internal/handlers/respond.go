package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/observability"
)

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

// respondServiceError maps service-layer errors onto protocol status codes.
// Anything unclassified is a 500 and gets logged; the body stays generic so
// internals do not leak to devices.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "Invalid authentication token")
	case errors.Is(err, models.ErrPassNotFound), errors.Is(err, models.ErrArtifactNotFound):
		respondError(w, http.StatusNotFound, "Pass not found")
	case errors.Is(err, models.ErrPassExists):
		respondError(w, http.StatusConflict, "Pass already exists")
	case errors.Is(err, models.ErrEmptyDeviceID),
		errors.Is(err, models.ErrEmptyPushToken),
		errors.Is(err, models.ErrEmptyPassTypeID),
		errors.Is(err, models.ErrEmptySerialNumber),
		errors.Is(err, models.ErrInvalidUpdateTag):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		observability.WithContext(r.Context()).Errorf("Request failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
