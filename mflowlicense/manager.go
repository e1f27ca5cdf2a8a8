package mflowlicense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// Manager is the top-level client orchestrator: it combines device
// identity, store-backed validation, the local activation cache, and the
// trial fallback into a unified API.
type Manager struct {
	engine   *Engine
	local    *LocalState
	trial    *TrialManager
	identity func() Identity
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLocalState enables the local activation cache and trial fallback.
func WithLocalState(local *LocalState) ManagerOption {
	return func(m *Manager) {
		m.local = local
		m.trial = NewTrialManager(local)
	}
}

// WithManagerLogger sets the structured logger. Default: slog.Default().
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithIdentitySource overrides device-identity derivation, for tests.
func WithIdentitySource(fn func() Identity) ManagerOption {
	return func(m *Manager) {
		m.identity = fn
	}
}

// WithManagerClock overrides the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a license Manager over a validation engine.
func NewManager(engine *Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:   engine,
		identity: CurrentIdentity,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	// Propagate after all options so ordering doesn't matter.
	if m.trial != nil {
		m.trial.now = m.now
		m.trial.logger = m.logger
	}
	return m
}

// Activate validates a claimed (email, key) pair from this machine and,
// on success, caches the activation locally so Entitlements answers
// without a store round trip.
func (m *Manager) Activate(ctx context.Context, email, licenseKey string) (*Result, error) {
	device := m.identity()
	if device.Volatile {
		m.logger.Warn("activating with volatile device identity",
			slog.String("device_id", device.ID),
		)
	}

	res, err := m.engine.Validate(ctx, email, licenseKey, device)
	if err != nil {
		return nil, err
	}

	if m.local != nil && !device.Volatile {
		cached := CachedLicense{
			Email:       res.Record.Email,
			LicenseKey:  res.Record.LicenseKey,
			Plan:        res.Record.Plan,
			DeviceID:    res.Record.DeviceID,
			ExpiresAt:   res.Record.ExpiresAt,
			ActivatedAt: m.now(),
		}
		if err := m.local.SaveLicense(cached); err != nil {
			m.logger.Warn("failed to cache activation locally",
				slog.String("error", err.Error()),
			)
		}
	}
	return res, nil
}

// Entitlements reports the plan and limits this machine is entitled to:
// the cached paid license when one is activated and unexpired, otherwise
// the trial fallback. An elapsed trial window reports ErrLicenseExpired
// and is never reset.
func (m *Manager) Entitlements(ctx context.Context) (licensestore.Plan, Limits, error) {
	if m.local == nil {
		return "", Limits{}, fmt.Errorf("local state is required for Entitlements")
	}

	cached, err := m.local.LoadLicense()
	if err != nil && !errors.Is(err, ErrStateInvalid) {
		return "", Limits{}, err
	}
	if err != nil {
		// A tampered cache falls through to the trial path.
		m.logger.Warn("local license state invalid, falling back to trial",
			slog.String("error", err.Error()),
		)
		cached = nil
	}

	if cached != nil {
		if cached.ExpiresAt != nil && cached.ExpiresAt.Before(m.now()) {
			return cached.Plan, Limits{}, ErrLicenseExpired
		}
		return cached.Plan, PlanLimits(cached.Plan), nil
	}

	trial, err := m.trial.Current(m.identity())
	if err != nil {
		if trial != nil {
			return trial.Plan, Limits{}, err
		}
		return "", Limits{}, err
	}
	return trial.Plan, PlanLimits(trial.Plan), nil
}

// Revalidate re-runs validation for the cached license against the store,
// picking up revocations and plan changes. With no cached license it
// reports ErrLicenseNotFound.
func (m *Manager) Revalidate(ctx context.Context) (*Result, error) {
	if m.local == nil {
		return nil, fmt.Errorf("local state is required for Revalidate")
	}
	cached, err := m.local.LoadLicense()
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, ErrLicenseNotFound
	}

	res, err := m.engine.Validate(ctx, cached.Email, cached.LicenseKey, m.identity())
	if errors.Is(err, ErrLicenseRevoked) {
		if clearErr := m.local.ClearLicense(); clearErr != nil {
			m.logger.Warn("failed to clear revoked license cache",
				slog.String("error", clearErr.Error()),
			)
		}
	}
	if err != nil {
		return nil, err
	}

	if res.Record.Plan != cached.Plan {
		cached.Plan = res.Record.Plan
		if saveErr := m.local.SaveLicense(*cached); saveErr != nil {
			m.logger.Warn("failed to refresh cached plan",
				slog.String("error", saveErr.Error()),
			)
		}
	}
	return res, nil
}
