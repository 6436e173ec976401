// Package scan gates guardian-initiated actions on the scanned QR payload.
// The camera and decoding happen on the client; the service only asserts the
// fixed venue marker is present before any request reaches the guardian
// gateway.
package scan

import (
	"errors"
	"strings"
)

// ErrInvalidPayload is returned for payloads missing the venue marker.
var ErrInvalidPayload = errors.New("scan payload missing venue marker")

// Validator checks scanned payloads against the configured marker.
type Validator struct {
	marker string
}

// NewValidator creates a validator for the given marker string.
func NewValidator(marker string) *Validator {
	return &Validator{marker: marker}
}

// Validate asserts the payload carries the marker.
func (v *Validator) Validate(payload string) error {
	if v.marker == "" || !strings.Contains(payload, v.marker) {
		return ErrInvalidPayload
	}
	return nil
}
