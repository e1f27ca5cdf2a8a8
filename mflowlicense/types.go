package mflowlicense

import (
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// ValidateRequest is the request body for the /v1/validate endpoint.
type ValidateRequest struct {
	Email      string `json:"email"`
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id"`
}

// ValidateResponse is the response from the /v1/validate endpoint.
// The server returns this directly (not wrapped in {data: ...}).
// Business rejections come back as Valid=false with a Reason; only
// transport failures surface as HTTP errors.
type ValidateResponse struct {
	Valid     bool              `json:"valid"`
	Reason    string            `json:"reason,omitempty"`
	Outcome   Outcome           `json:"outcome,omitempty"`
	Plan      licensestore.Plan `json:"plan,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Warning   string            `json:"warning,omitempty"`
}

// ActivateRequest is the request body for the /v1/activate endpoint.
type ActivateRequest struct {
	Email      string `json:"email"`
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id"`
	Hostname   string `json:"hostname,omitempty"`
}

// ActivateResponse is the activation result returned by the server.
// The server wraps this in {data: ...}.
type ActivateResponse struct {
	Outcome    Outcome           `json:"outcome"`
	Email      string            `json:"email"`
	LicenseKey string            `json:"license_key"`
	Plan       licensestore.Plan `json:"plan"`
	DeviceID   string            `json:"device_id"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	MaxTabs    int               `json:"max_tabs"`
	MaxSlots   int               `json:"max_slots"`
	Warning    string            `json:"warning,omitempty"`
}
