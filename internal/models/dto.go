package models

import "time"

// ErrUnauthorized is returned whenever the presented authentication token
// does not match the pass it claims to belong to. It is resolved before any
// store mutation.
var ErrUnauthorized = ProtocolError{"invalid authentication token"}

// ErrArtifactNotFound means the pass row exists but no signed artifact is
// on disk for it.
var ErrArtifactNotFound = ProtocolError{"pass artifact not found"}

type ProtocolError struct {
	Message string
}

func (e ProtocolError) Error() string {
	return e.Message
}

// HealthResponse is the health check body
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterDeviceRequest is the body of the wallet registration call
type RegisterDeviceRequest struct {
	PushToken string `json:"pushToken"`
}

// SerialNumbersResponse lists the passes a device should re-fetch
type SerialNumbersResponse struct {
	SerialNumbers []string `json:"serialNumbers"`
	LastUpdated   string   `json:"lastUpdated"`
}

// ErrorResponse is the generic error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// IssuePassRequest asks the artifact producer for a new signed pass
type IssuePassRequest struct {
	TemplateID string            `json:"templateId"`
	PassTypeID string            `json:"passTypeIdentifier"`
	Properties map[string]string `json:"properties"`
}

// IssuePassResponse returns the identifiers a client needs for updates
type IssuePassResponse struct {
	PassTypeID   string `json:"passTypeIdentifier"`
	SerialNumber string `json:"serialNumber"`
	AuthToken    string `json:"authenticationToken"`
	ServiceURL   string `json:"webServiceUrl"`
}

// UpdatePassRequest carries the changed property bag for a content update
type UpdatePassRequest struct {
	Properties map[string]string `json:"properties"`
}

// UpdatePassResponse reports what a content change did
type UpdatePassResponse struct {
	SerialNumber string `json:"serialNumber"`
	LastUpdated  string `json:"lastUpdated"`
	Devices      int    `json:"devices"`
	Notified     int    `json:"notified"`
	Dropped      int    `json:"dropped"`
	Removed      int    `json:"removed"`
}

// RegistrationListResponse is the admin view of a pass's registrations
type RegistrationListResponse struct {
	PassTypeID   string   `json:"passTypeIdentifier"`
	SerialNumber string   `json:"serialNumber"`
	Devices      []string `json:"devices"`
}
