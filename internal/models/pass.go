package models

import (
	"strconv"
	"strings"
	"time"
)

// Pass is an issued wallet pass, identified by the (type identifier,
// serial number) pair. UpdateTag is the only mutable field: a unix-seconds
// value bumped on every content change, used by devices to ask "what
// changed since". The authentication token is the shared secret baked into
// the pass artifact at issuance; devices present it on every web-service
// call.
type Pass struct {
	PassTypeID   string    `json:"passTypeIdentifier"`
	SerialNumber string    `json:"serialNumber"`
	TemplateID   string    `json:"templateId"`
	AuthToken    string    `json:"-"` // Never expose authentication tokens
	UpdateTag    int64     `json:"lastUpdated,string"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewPass creates a pass record from the identifiers handed back by the
// artifact producer.
func NewPass(passTypeID, serialNumber, templateID, authToken string) (*Pass, error) {
	passTypeID = strings.TrimSpace(passTypeID)
	serialNumber = strings.TrimSpace(serialNumber)
	authToken = strings.TrimSpace(authToken)

	if passTypeID == "" {
		return nil, ErrEmptyPassTypeID
	}
	if serialNumber == "" {
		return nil, ErrEmptySerialNumber
	}
	if authToken == "" {
		return nil, ErrEmptyAuthToken
	}

	now := time.Now().UTC()
	return &Pass{
		PassTypeID:   passTypeID,
		SerialNumber: serialNumber,
		TemplateID:   strings.TrimSpace(templateID),
		AuthToken:    authToken,
		UpdateTag:    now.Unix(),
		CreatedAt:    now,
	}, nil
}

// UpdatedSince reports whether the pass changed after the given tag.
func (p *Pass) UpdatedSince(tag int64) bool {
	return p.UpdateTag > tag
}

// NextUpdateTag computes the tag for a content change happening at now.
// The tag must strictly increase even when two changes land inside the
// same second, so it never moves backwards relative to the current tag.
func NextUpdateTag(current int64, now time.Time) int64 {
	next := now.Unix()
	if next <= current {
		next = current + 1
	}
	return next
}

// FormatUpdateTag renders a tag the way the list endpoint reports it.
func FormatUpdateTag(tag int64) string {
	return strconv.FormatInt(tag, 10)
}

// ParseUpdateTag parses a passesUpdatedSince query value.
func ParseUpdateTag(s string) (int64, error) {
	tag, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || tag < 0 {
		return 0, ErrInvalidUpdateTag
	}
	return tag, nil
}

// Pass errors
var (
	ErrEmptyPassTypeID   = PassError{"pass type identifier cannot be empty"}
	ErrEmptySerialNumber = PassError{"serial number cannot be empty"}
	ErrEmptyAuthToken    = PassError{"authentication token cannot be empty"}
	ErrInvalidUpdateTag  = PassError{"update tag must be a non-negative integer"}
	ErrPassNotFound      = PassError{"pass not found"}
	ErrPassExists        = PassError{"pass already exists"}
)

type PassError struct {
	Message string
}

func (e PassError) Error() string {
	return e.Message
}
