package models

import (
	"strings"
	"time"
)

// Device represents a wallet-bearing device registered for pass updates.
// The library identifier is chosen by the device itself and is stable
// across registrations; the push token is not and may be replaced on
// any re-registration.
type Device struct {
	LibraryID    string    `json:"deviceLibraryIdentifier"`
	PushToken    string    `json:"-"` // Never expose push tokens
	RegisteredAt time.Time `json:"registeredAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewDevice creates a device record for a registration call
func NewDevice(libraryID, pushToken string) (*Device, error) {
	libraryID = strings.TrimSpace(libraryID)
	pushToken = strings.TrimSpace(pushToken)

	if libraryID == "" {
		return nil, ErrEmptyDeviceID
	}
	if pushToken == "" {
		return nil, ErrEmptyPushToken
	}

	now := time.Now().UTC()
	return &Device{
		LibraryID:    libraryID,
		PushToken:    pushToken,
		RegisteredAt: now,
		UpdatedAt:    now,
	}, nil
}

// Device errors
var (
	ErrEmptyDeviceID  = DeviceError{"device library identifier cannot be empty"}
	ErrEmptyPushToken = DeviceError{"push token cannot be empty"}
	ErrDeviceNotFound = DeviceError{"device not found"}
)

type DeviceError struct {
	Message string
}

func (e DeviceError) Error() string {
	return e.Message
}
