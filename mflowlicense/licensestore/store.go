// Package licensestore provides interfaces and implementations for
// persisting issued licenses, keyed by normalized customer email.
package licensestore

import (
	"context"
	"errors"
	"time"
)

// DeviceUnbound is the sentinel DeviceID of a license that has been issued
// but not yet activated on any machine.
const DeviceUnbound = "PENDING"

// Plan is a named subscription tier controlling entitlement limits.
type Plan string

// Known plans, most restrictive first.
const (
	PlanBasic   Plan = "BASIC"
	PlanPro     Plan = "PRO"
	PlanDiamond Plan = "DIAMOND"
	PlanMaster  Plan = "MASTER"
)

// Status is the administrative state of a license.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Record represents one issued license. Email is the natural unique key.
// LicenseKey is always derived from (Email, DeviceID) as of the most recent
// binding, never chosen independently.
type Record struct {
	Email      string     `json:"email" bson:"email"`
	LicenseKey string     `json:"license_key" bson:"license_key"`
	Plan       Plan       `json:"plan" bson:"plan"`
	DeviceID   string     `json:"device_id" bson:"device_id"`
	IssuedAt   time.Time  `json:"issued_at" bson:"issued_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	Status     Status     `json:"status" bson:"status"`
}

// Bound reports whether the record has been activated on a device.
func (r *Record) Bound() bool {
	return r.DeviceID != "" && r.DeviceID != DeviceUnbound
}

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound indicates no record exists for the given email.
	ErrNotFound = errors.New("license record not found")

	// ErrAlreadyBound indicates a conditional device binding failed because
	// the record is no longer unbound. Exactly one concurrent binding
	// attempt succeeds; all others observe this error.
	ErrAlreadyBound = errors.New("license already bound to a device")

	// ErrUnavailable indicates a transport-level failure talking to the
	// backing store. Callers may retry; business rejections never wrap it.
	ErrUnavailable = errors.New("license store unavailable")
)

// Store persists license records. Implementations must make BindDevice an
// atomic compare-and-set from DeviceUnbound so that concurrent first
// activations from different devices resolve to exactly one winner.
type Store interface {
	// Get returns the record for a normalized email, or ErrNotFound.
	Get(ctx context.Context, email string) (*Record, error)

	// Put creates or replaces the record for its Email.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record for an email. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, email string) error

	// BindDevice sets DeviceID and LicenseKey on the record for email,
	// if and only if the record is still unbound. Returns ErrNotFound if
	// no record exists and ErrAlreadyBound if another device won the race.
	BindDevice(ctx context.Context, email, deviceID, licenseKey string) error

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}
