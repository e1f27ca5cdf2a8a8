package mflowlicense

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

const (
	// TrialPeriod is the fixed length of the local trial window.
	TrialPeriod = 15 * 24 * time.Hour

	// TrialEmail is the sentinel identity of trial licenses. No server
	// record exists for it.
	TrialEmail = "trial@user"

	trialKey = "TRIAL-LICENSE"
)

// TrialState is the locally materialized trial license. At most one per
// device; the window starts when the trial is first materialized and is
// never reset, even after expiry.
type TrialState struct {
	Email      string            `json:"email"`
	LicenseKey string            `json:"license_key"`
	Plan       licensestore.Plan `json:"plan"`
	DeviceID   string            `json:"device_id"`
	TrialStart time.Time         `json:"trial_start"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// TrialManager materializes and enforces the local trial fallback used
// when no paid license is present.
type TrialManager struct {
	state  *LocalState
	logger *slog.Logger
	now    func() time.Time
}

// TrialOption configures a TrialManager.
type TrialOption func(*TrialManager)

// WithTrialLogger sets the structured logger. Default: slog.Default().
func WithTrialLogger(logger *slog.Logger) TrialOption {
	return func(t *TrialManager) {
		t.logger = logger
	}
}

// WithTrialClock overrides the time source, for expiry tests.
func WithTrialClock(now func() time.Time) TrialOption {
	return func(t *TrialManager) {
		t.now = now
	}
}

// NewTrialManager creates a trial manager persisting through state.
func NewTrialManager(state *LocalState, opts ...TrialOption) *TrialManager {
	t := &TrialManager{
		state:  state,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Current returns the trial license for this device, creating it on first
// use. Once the window has elapsed the expired state is returned together
// with ErrLicenseExpired; the window is never recreated or extended.
func (t *TrialManager) Current(device Identity) (*TrialState, error) {
	raw, err := os.ReadFile(t.state.trialPath())
	if err == nil {
		var trial TrialState
		if err := openState(t.state.secret, raw, &trial); err != nil {
			// A tampered trial file does not earn a fresh window.
			return nil, err
		}
		if t.now().After(trial.ExpiresAt) {
			return &trial, ErrLicenseExpired
		}
		return &trial, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read trial state: %w", err)
	}

	start := t.now()
	trial := TrialState{
		Email:      TrialEmail,
		LicenseKey: trialKey,
		Plan:       licensestore.PlanBasic,
		DeviceID:   device.ID,
		TrialStart: start,
		ExpiresAt:  start.Add(TrialPeriod),
	}
	sealed, err := sealState(t.state.secret, trial)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(t.state.trialPath(), sealed, 0o600); err != nil {
		return nil, fmt.Errorf("write trial state: %w", err)
	}
	t.logger.Info("trial license created",
		slog.String("device_id", device.ID),
		slog.Time("expires_at", trial.ExpiresAt),
	)
	return &trial, nil
}
