package services

import (
	"context"
	"fmt"

	"github.com/passhub/server/internal/middleware"
	"github.com/passhub/server/internal/models"
	"github.com/passhub/server/internal/repository"
)

// RegisterStatus distinguishes a first registration from a repeat of an
// existing one; the protocol reports them with different status codes.
type RegisterStatus int

const (
	RegisterCreated RegisterStatus = iota
	RegisterExisting
)

// RegistrationService implements the device-facing wallet web service:
// register, unregister, list updatable serials, and fetch the latest
// artifact. Every operation authenticates the caller's pass token before
// touching any state.
type RegistrationService struct {
	devices       repository.DeviceRepo
	passes        repository.PassRepo
	registrations repository.RegistrationRepo
	artifacts     *ArtifactStore
}

// NewRegistrationService creates a new RegistrationService
func NewRegistrationService(devices repository.DeviceRepo, passes repository.PassRepo, registrations repository.RegistrationRepo, artifacts *ArtifactStore) *RegistrationService {
	return &RegistrationService{
		devices:       devices,
		passes:        passes,
		registrations: registrations,
		artifacts:     artifacts,
	}
}

// authorizePass resolves the addressed pass and checks the presented token
// against it. An unknown pass and a wrong token produce the same error so
// the endpoint does not reveal which serial numbers exist.
func (s *RegistrationService) authorizePass(ctx context.Context, passTypeID, serialNumber, authToken string) (*models.Pass, error) {
	pass, err := s.passes.Get(ctx, passTypeID, serialNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pass: %w", err)
	}
	if pass == nil {
		return nil, models.ErrUnauthorized
	}
	if !middleware.ConstantTimeEquals(pass.AuthToken, authToken) {
		return nil, models.ErrUnauthorized
	}
	return pass, nil
}

// Register stores the device's push token and links the device to the pass.
// Re-registering an already linked pair refreshes the push token and reports
// RegisterExisting. Nothing is written when the token check fails.
func (s *RegistrationService) Register(ctx context.Context, libraryID, passTypeID, serialNumber, pushToken, authToken string) (RegisterStatus, error) {
	device, err := models.NewDevice(libraryID, pushToken)
	if err != nil {
		return 0, err
	}

	if _, err := s.authorizePass(ctx, passTypeID, serialNumber, authToken); err != nil {
		return 0, err
	}

	if _, err := s.devices.Upsert(ctx, device); err != nil {
		return 0, fmt.Errorf("failed to upsert device: %w", err)
	}

	created, err := s.registrations.Add(ctx, models.NewRegistration(device.LibraryID, passTypeID, serialNumber))
	if err != nil {
		return 0, fmt.Errorf("failed to add registration: %w", err)
	}

	if created {
		return RegisterCreated, nil
	}
	return RegisterExisting, nil
}

// Unregister removes the device's registration for the pass. Unregistering
// a pair that is not registered is not an error. When the device's last
// registration goes away the device row goes with it, so its push token is
// not retained.
func (s *RegistrationService) Unregister(ctx context.Context, libraryID, passTypeID, serialNumber, authToken string) error {
	if _, err := s.authorizePass(ctx, passTypeID, serialNumber, authToken); err != nil {
		return err
	}

	if _, err := s.registrations.Delete(ctx, libraryID, passTypeID, serialNumber); err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}

	if _, err := s.devices.DeleteIfUnregistered(ctx, libraryID); err != nil {
		return fmt.Errorf("failed to clean up device: %w", err)
	}

	return nil
}

// ListUpdatable returns the serial numbers of the device's registered passes
// of the given type that changed after sinceTag, with the newest tag among
// them. Pass sinceTag = -1 to list every registered pass. A nil response
// with a nil error means nothing changed. The presented token authenticates
// if it matches any of the device's registered passes of this type; a device
// with no such registrations cannot authenticate at all.
func (s *RegistrationService) ListUpdatable(ctx context.Context, libraryID, passTypeID string, sinceTag int64, authToken string) (*models.SerialNumbersResponse, error) {
	registered, err := s.passes.RegisteredForDevice(ctx, libraryID, passTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered passes: %w", err)
	}
	if len(registered) == 0 {
		return nil, models.ErrUnauthorized
	}

	authorized := false
	for _, pass := range registered {
		if middleware.ConstantTimeEquals(pass.AuthToken, authToken) {
			authorized = true
		}
	}
	if !authorized {
		return nil, models.ErrUnauthorized
	}

	var serials []string
	var latest int64
	for _, pass := range registered {
		if !pass.UpdatedSince(sinceTag) {
			continue
		}
		serials = append(serials, pass.SerialNumber)
		if pass.UpdateTag > latest {
			latest = pass.UpdateTag
		}
	}

	if len(serials) == 0 {
		return nil, nil
	}

	return &models.SerialNumbersResponse{
		SerialNumbers: serials,
		LastUpdated:   models.FormatUpdateTag(latest),
	}, nil
}

// Artifact returns the latest signed artifact for the pass together with
// its update tag. Unlike the registration calls, an unknown pass here is a
// 404: the caller already proved possession of a pass URL, so there is
// nothing left to hide.
func (s *RegistrationService) Artifact(ctx context.Context, passTypeID, serialNumber, authToken string) ([]byte, int64, error) {
	pass, err := s.passes.Get(ctx, passTypeID, serialNumber)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to look up pass: %w", err)
	}
	if pass == nil {
		return nil, 0, models.ErrPassNotFound
	}
	if !middleware.ConstantTimeEquals(pass.AuthToken, authToken) {
		return nil, 0, models.ErrUnauthorized
	}

	blob, err := s.artifacts.Load(passTypeID, serialNumber)
	if err != nil {
		return nil, 0, err
	}

	return blob, pass.UpdateTag, nil
}

// Registrations returns the library identifiers of every device currently
// registered for the pass.
func (s *RegistrationService) Registrations(ctx context.Context, passTypeID, serialNumber string) ([]string, error) {
	pass, err := s.passes.Get(ctx, passTypeID, serialNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pass: %w", err)
	}
	if pass == nil {
		return nil, models.ErrPassNotFound
	}

	devices, err := s.registrations.DevicesForPass(ctx, passTypeID, serialNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	ids := make([]string, 0, len(devices))
	for _, device := range devices {
		ids = append(ids, device.LibraryID)
	}
	return ids, nil
}
