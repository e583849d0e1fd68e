package models

import "time"

// Registration is the edge between a device and a pass it holds. At most
// one row exists per (device, pass type, serial) triple; registering the
// same pair again is a no-op, not a duplicate.
type Registration struct {
	DeviceLibraryID string    `json:"deviceLibraryIdentifier"`
	PassTypeID      string    `json:"passTypeIdentifier"`
	SerialNumber    string    `json:"serialNumber"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewRegistration links a device to a pass.
func NewRegistration(deviceLibraryID, passTypeID, serialNumber string) *Registration {
	return &Registration{
		DeviceLibraryID: deviceLibraryID,
		PassTypeID:      passTypeID,
		SerialNumber:    serialNumber,
		CreatedAt:       time.Now().UTC(),
	}
}
