package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/passhub/server/internal/middleware"
	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/observability"
	"github.com/passhub/server/internal/services"
)

// WalletHandler implements the device-facing pass web service endpoints
type WalletHandler struct {
	registrationService *services.RegistrationService
	metrics             *observability.WalletMetrics
}

// NewWalletHandler creates a new WalletHandler. Metrics may be nil.
func NewWalletHandler(registrationService *services.RegistrationService, metrics *observability.WalletMetrics) *WalletHandler {
	return &WalletHandler{
		registrationService: registrationService,
		metrics:             metrics,
	}
}

// RegisterDevice registers a device for updates to a pass
// @Summary Register device for pass updates
// @Description Stores the device push token and links the device to the pass
// @Tags wallet
// @Accept json
// @Param deviceLibraryIdentifier path string true "Device library identifier"
// @Param passTypeIdentifier path string true "Pass type identifier"
// @Param serialNumber path string true "Pass serial number"
// @Param request body models.RegisterDeviceRequest true "Push token"
// @Success 200 "Registration already existed"
// @Success 201 "Registration created"
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber} [post]
func (h *WalletHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "deviceLibraryIdentifier")
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")

	var req models.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token := middleware.GetPassToken(r.Context())
	status, err := h.registrationService.Register(r.Context(), libraryID, passTypeID, serialNumber, req.PushToken, token)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordRegistration(r.Context(), passTypeID, status == services.RegisterCreated)
	}

	if status == services.RegisterCreated {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UnregisterDevice removes a device's registration for a pass
// @Summary Unregister device
// @Description Removes the link between the device and the pass
// @Tags wallet
// @Param deviceLibraryIdentifier path string true "Device library identifier"
// @Param passTypeIdentifier path string true "Pass type identifier"
// @Param serialNumber path string true "Pass serial number"
// @Success 200 "Registration removed or was already absent"
// @Failure 401 {object} models.ErrorResponse
// @Router /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier}/{serialNumber} [delete]
func (h *WalletHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "deviceLibraryIdentifier")
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")

	token := middleware.GetPassToken(r.Context())
	if err := h.registrationService.Unregister(r.Context(), libraryID, passTypeID, serialNumber, token); err != nil {
		respondServiceError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordUnregistration(r.Context(), passTypeID)
	}

	w.WriteHeader(http.StatusOK)
}

// GetSerialNumbers lists passes the device should re-fetch
// @Summary List updatable passes
// @Description Returns serial numbers of the device's registered passes that changed since the given tag
// @Tags wallet
// @Produce json
// @Param deviceLibraryIdentifier path string true "Device library identifier"
// @Param passTypeIdentifier path string true "Pass type identifier"
// @Param passesUpdatedSince query string false "Only passes changed after this tag"
// @Success 200 {object} models.SerialNumbersResponse
// @Success 204 "Nothing changed"
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /v1/devices/{deviceLibraryIdentifier}/registrations/{passTypeIdentifier} [get]
func (h *WalletHandler) GetSerialNumbers(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "deviceLibraryIdentifier")
	passTypeID := chi.URLParam(r, "passTypeIdentifier")

	sinceTag := int64(-1)
	if since := r.URL.Query().Get("passesUpdatedSince"); since != "" {
		tag, err := models.ParseUpdateTag(since)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		sinceTag = tag
	}

	token := middleware.GetPassToken(r.Context())
	resp, err := h.registrationService.ListUpdatable(r.Context(), libraryID, passTypeID, sinceTag, token)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetPass returns the latest signed artifact for a pass
// @Summary Download latest pass
// @Description Returns the freshest signed pass bundle
// @Tags wallet
// @Produce application/vnd.apple.pkpass
// @Param passTypeIdentifier path string true "Pass type identifier"
// @Param serialNumber path string true "Pass serial number"
// @Success 200 {file} binary "Signed pass bundle"
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /v1/passes/{passTypeIdentifier}/{serialNumber} [get]
func (h *WalletHandler) GetPass(w http.ResponseWriter, r *http.Request) {
	passTypeID := chi.URLParam(r, "passTypeIdentifier")
	serialNumber := chi.URLParam(r, "serialNumber")

	token := middleware.GetPassToken(r.Context())
	blob, tag, err := h.registrationService.Artifact(r.Context(), passTypeID, serialNumber, token)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordArtifactFetch(r.Context(), passTypeID)
	}

	w.Header().Set("Content-Type", "application/vnd.apple.pkpass")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.Header().Set("Last-Modified", time.Unix(tag, 0).UTC().Format(http.TimeFormat))
	w.Write(blob)
}
