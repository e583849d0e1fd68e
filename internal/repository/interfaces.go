package repository

import (
	"context"

	"github.com/passhub/server/internal/models"
)

// DeviceRepo defines the interface for device persistence operations
type DeviceRepo interface {
	Get(ctx context.Context, libraryID string) (*models.Device, error)
	// Upsert inserts the device or, when it already exists, replaces its
	// push token. Returns true when a new row was created.
	Upsert(ctx context.Context, device *models.Device) (bool, error)
	Delete(ctx context.Context, libraryID string) (bool, error)
	// DeleteIfUnregistered removes the device only when no registrations
	// reference it anymore.
	DeleteIfUnregistered(ctx context.Context, libraryID string) (bool, error)
}

// PassRepo defines the interface for pass persistence operations
type PassRepo interface {
	Get(ctx context.Context, passTypeID, serialNumber string) (*models.Pass, error)
	// Add inserts the pass if absent. Returns true when a new row was created.
	Add(ctx context.Context, pass *models.Pass) (bool, error)
	// BumpUpdateTag advances the pass's update tag for a content change and
	// returns the new tag. The tag strictly increases.
	BumpUpdateTag(ctx context.Context, passTypeID, serialNumber string) (int64, error)
	// RegisteredForDevice returns every pass of the given type that the
	// device currently holds a registration for.
	RegisteredForDevice(ctx context.Context, libraryID, passTypeID string) ([]*models.Pass, error)
}

// RegistrationRepo defines the interface for registration persistence operations
type RegistrationRepo interface {
	// Add inserts the registration if absent. Returns true when a new row
	// was created (false means the device was already registered).
	Add(ctx context.Context, reg *models.Registration) (bool, error)
	Delete(ctx context.Context, libraryID, passTypeID, serialNumber string) (bool, error)
	// DevicesForPass returns every device registered for the pass.
	DevicesForPass(ctx context.Context, passTypeID, serialNumber string) ([]*models.Device, error)
	CountForDevice(ctx context.Context, libraryID string) (int, error)
}
