package mflowlicense

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// stateEnvelope is the on-disk structure of signed local state files.
// Payload is kept as raw JSON so the signature is verified over the exact
// bytes that were signed.
type stateEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// sealState marshals v and signs the payload bytes with HMAC-SHA256.
func sealState(secret []byte, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	env := stateEnvelope{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
	// No indentation: the payload must round-trip byte-identical or the
	// signature check on reload would fail.
	return json.Marshal(env)
}

// openState verifies the envelope signature and unmarshals the payload
// into dest. A missing or forged signature yields ErrStateInvalid.
func openState(secret, raw []byte, dest interface{}) error {
	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}
	if len(env.Payload) == 0 || env.Signature == "" {
		return ErrStateInvalid
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature decode: %v", ErrStateInvalid, err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(env.Payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", ErrStateInvalid)
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrStateInvalid, err)
	}
	return nil
}

// CachedLicense is the locally persisted result of a successful
// activation, so the client can answer entitlement queries without a
// round trip to the store.
type CachedLicense struct {
	Email       string            `json:"email"`
	LicenseKey  string            `json:"license_key"`
	Plan        licensestore.Plan `json:"plan"`
	DeviceID    string            `json:"device_id"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	ActivatedAt time.Time         `json:"activated_at"`
}

// LocalState persists activation results and trial state to signed JSON
// files under a directory, typically the per-user application data dir.
type LocalState struct {
	dir    string
	secret []byte
}

// NewLocalState creates a LocalState rooted at dir, creating it if
// needed. The secret signs state files so edits and clock-reset attempts
// are detected.
func NewLocalState(dir string, secret []byte) (*LocalState, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("local state secret must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &LocalState{dir: dir, secret: secret}, nil
}

func (s *LocalState) licensePath() string {
	return filepath.Join(s.dir, "user_license.json")
}

func (s *LocalState) trialPath() string {
	return filepath.Join(s.dir, "trial.json")
}

// SaveLicense persists an activation result.
func (s *LocalState) SaveLicense(lic CachedLicense) error {
	raw, err := sealState(s.secret, lic)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.licensePath(), raw, 0o600); err != nil {
		return fmt.Errorf("write license state: %w", err)
	}
	return nil
}

// LoadLicense returns the cached activation, or (nil, nil) when no
// license has been activated on this machine.
func (s *LocalState) LoadLicense() (*CachedLicense, error) {
	raw, err := os.ReadFile(s.licensePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read license state: %w", err)
	}
	var lic CachedLicense
	if err := openState(s.secret, raw, &lic); err != nil {
		return nil, err
	}
	return &lic, nil
}

// ClearLicense removes the cached activation, e.g. after revocation.
func (s *LocalState) ClearLicense() error {
	err := os.Remove(s.licensePath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove license state: %w", err)
	}
	return nil
}
