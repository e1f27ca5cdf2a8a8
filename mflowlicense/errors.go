package mflowlicense

import (
	"errors"
	"fmt"
)

// Sentinel errors for license validation failures. All are terminal
// business decisions: a caller may retry ErrStoreUnavailable, but must
// never retry ErrInvalidKey or ErrDeviceConflict as if they were transient.
var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrLicenseRevoked   = errors.New("license is revoked")
	ErrLicenseExpired   = errors.New("license expired")
	ErrInvalidKey       = errors.New("license key does not match")
	ErrDeviceConflict   = errors.New("license is bound to another device")
	ErrStoreUnavailable = errors.New("license store unavailable")
)

// ErrStateInvalid indicates a local state file failed its signature check
// or could not be parsed.
var ErrStateInvalid = errors.New("invalid local license state")

// ServerError represents an error response from the MFLOW license server.
// The server returns errors in the format: {"error": {"code": "...", "message": "..."}}.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
}

// mapServerError converts a ServerError to a well-known sentinel error if
// possible. The returned error wraps both the sentinel error and the
// original ServerError so callers can use errors.Is() for sentinel checks
// and errors.As() for details.
func mapServerError(se *ServerError) error {
	var sentinel error
	switch se.Code {
	case "NOT_FOUND":
		sentinel = ErrLicenseNotFound
	case "REVOKED":
		sentinel = ErrLicenseRevoked
	case "EXPIRED":
		sentinel = ErrLicenseExpired
	case "INVALID_KEY":
		sentinel = ErrInvalidKey
	case "DEVICE_CONFLICT":
		sentinel = ErrDeviceConflict
	case "STORE_UNAVAILABLE":
		sentinel = ErrStoreUnavailable
	default:
		return se
	}
	return &mappedError{sentinel: sentinel, server: se}
}

// mappedError wraps a sentinel error with the original ServerError details.
type mappedError struct {
	sentinel error
	server   *ServerError
}

func (e *mappedError) Error() string {
	return e.sentinel.Error()
}

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) As(target interface{}) bool {
	if t, ok := target.(**ServerError); ok {
		*t = e.server
		return true
	}
	return false
}

func (e *mappedError) Unwrap() error {
	return e.sentinel
}
