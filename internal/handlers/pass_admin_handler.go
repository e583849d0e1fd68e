package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/services"
)

// PassAdminHandler exposes the issuer-facing API: issuing passes, pushing
// content updates, and inspecting registrations. It sits behind the admin
// API key, never the device token.
type PassAdminHandler struct {
	passService         *services.PassService
	registrationService *services.RegistrationService
	updateService       *services.UpdateService
	serviceURL          string
}

// NewPassAdminHandler creates a new PassAdminHandler
func NewPassAdminHandler(passService *services.PassService, registrationService *services.RegistrationService, updateService *services.UpdateService, serviceURL string) *PassAdminHandler {
	return &PassAdminHandler{
		passService:         passService,
		registrationService: registrationService,
		updateService:       updateService,
		serviceURL:          serviceURL,
	}
}

// IssuePass creates a new pass from a template
// @Summary Issue a pass
// @Description Builds a signed pass from a template and property bag and stores it
// @Tags admin
// @Accept json
// @Produce json
// @Param request body models.IssuePassRequest true "Template and properties"
// @Success 201 {object} models.IssuePassResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/passes [post]
func (h *PassAdminHandler) IssuePass(w http.ResponseWriter, r *http.Request) {
	var req models.IssuePassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		respondError(w, http.StatusBadRequest, "Template identifier is required")
		return
	}
	if strings.TrimSpace(req.PassTypeID) == "" {
		respondError(w, http.StatusBadRequest, "Pass type identifier is required")
		return
	}

	pass, err := h.passService.Issue(r.Context(), req.TemplateID, req.PassTypeID, req.Properties)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, models.IssuePassResponse{
		PassTypeID:   pass.PassTypeID,
		SerialNumber: pass.SerialNumber,
		AuthToken:    pass.AuthToken,
		ServiceURL:   h.serviceURL,
	})
}

// UpdatePass applies a content change and notifies registered devices
// @Summary Update pass content
// @Description Regenerates the artifact, advances the update tag, and pushes to every registered device
// @Tags admin
// @Accept json
// @Produce json
// @Param passTypeIdentifier path string true "Pass type identifier"
// @Param serialNumber path string true "Pass serial number"
// @Param request body models.UpdatePassRequest true "Changed properties"
// @Success 200 {object} models.UpdatePassResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/passes/{passTypeIdentifier}/{serialNumber}/update [post]
func (h *PassAdminHandler) UpdatePass(w http.ResponseWriter, r *http.Request) {
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")

	var req models.UpdatePassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.passService.Refresh(r.Context(), passTypeID, serialNumber, req.Properties); err != nil {
		respondServiceError(w, r, err)
		return
	}

	summary, err := h.updateService.PassContentChanged(r.Context(), passTypeID, serialNumber)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.UpdatePassResponse{
		SerialNumber: serialNumber,
		LastUpdated:  models.FormatUpdateTag(summary.Tag),
		Devices:      summary.Devices,
		Notified:     summary.Notified,
		Dropped:      summary.Dropped,
		Removed:      summary.Removed,
	})
}

// ListRegistrations returns the devices registered for a pass
// @Summary List pass registrations
// @Description Returns the library identifiers of every device registered for the pass
// @Tags admin
// @Produce json
// @Param passTypeIdentifier path string true "Pass type identifier"
// @Param serialNumber path string true "Pass serial number"
// @Success 200 {object} models.RegistrationListResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/passes/{passTypeIdentifier}/{serialNumber}/registrations [get]
func (h *PassAdminHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")

	devices, err := h.registrationService.Registrations(r.Context(), passTypeID, serialNumber)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.RegistrationListResponse{
		PassTypeID:   passTypeID,
		SerialNumber: serialNumber,
		Devices:      devices,
	})
}
