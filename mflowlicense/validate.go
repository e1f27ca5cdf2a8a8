package mflowlicense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// Outcome is a successful validation result.
type Outcome string

const (
	// OutcomeActivated means this call bound the license to the device.
	OutcomeActivated Outcome = "activated"

	// OutcomeRevalidated means the license was already bound to this
	// device; revalidation never changes state.
	OutcomeRevalidated Outcome = "revalidated"
)

// Result describes a successful validation.
type Result struct {
	Outcome Outcome
	Record  licensestore.Record
	Limits  Limits

	// Warning is set when validation succeeded in a degraded mode, e.g.
	// the device identity was volatile and the binding was not persisted.
	Warning string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the structured logger. Default: slog.Default().
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine decides activation outcomes for claimed (email, license key)
// pairs against the persisted license records. Its only write is the
// one-time device binding on first activation, which goes through the
// store's atomic conditional update so concurrent first activations from
// different devices resolve to exactly one winner.
type Engine struct {
	deriver *Deriver
	store   licensestore.Store
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a validation engine over a key deriver and a store.
func NewEngine(deriver *Deriver, store licensestore.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		deriver: deriver,
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs the activation state machine for a claimed key presented
// from the given device:
//
//  1. missing record             -> ErrLicenseNotFound
//  2. revoked record             -> ErrLicenseRevoked
//  3. past expiry                -> ErrLicenseExpired
//  4. key mismatch               -> ErrInvalidKey
//  5. unbound record             -> bind this device, OutcomeActivated
//  6. bound to this device       -> OutcomeRevalidated, no write
//  7. bound to another device    -> ErrDeviceConflict
//
// The expected key is recomputed from the record's bound device, or from
// the presenting device when the record is still unbound. Transport
// failures surface as ErrStoreUnavailable and are the only retryable
// errors.
func (e *Engine) Validate(ctx context.Context, email, claimedKey string, device Identity) (*Result, error) {
	email = NormalizeEmail(email)

	rec, err := e.store.Get(ctx, email)
	if errors.Is(err, licensestore.ErrNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if rec.Status == licensestore.StatusRevoked {
		return nil, ErrLicenseRevoked
	}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(e.now()) {
		return nil, ErrLicenseExpired
	}

	// The binding candidate: the already-bound device, or the presenting
	// device on first activation.
	bindingID := rec.DeviceID
	if !rec.Bound() {
		bindingID = device.ID
	}

	if !e.deriver.Verify(email, claimedKey, bindingID) {
		// A key that is genuine for the presenting device but checked
		// against a different bound device is a conflict, not a forgery.
		// This also covers losing a first-activation race after the
		// winner's binding was already read back.
		if rec.Bound() && rec.DeviceID != device.ID && e.deriver.Verify(email, claimedKey, device.ID) {
			return nil, ErrDeviceConflict
		}
		e.logger.Warn("license key mismatch",
			slog.String("email", email),
			slog.String("device_id", device.ID),
		)
		return nil, ErrInvalidKey
	}

	expectedKey := e.deriver.Derive(email, bindingID)

	if !rec.Bound() {
		return e.activate(ctx, rec, device, expectedKey)
	}

	if rec.DeviceID == device.ID {
		return &Result{
			Outcome: OutcomeRevalidated,
			Record:  *rec,
			Limits:  PlanLimits(rec.Plan),
		}, nil
	}

	e.logger.Warn("license presented from a second device",
		slog.String("email", email),
		slog.String("bound_device", rec.DeviceID),
		slog.String("presenting_device", device.ID),
	)
	return nil, ErrDeviceConflict
}

// activate binds an unbound record to the presenting device. Volatile
// identities are never persisted: the activation succeeds for this
// process, but the record stays unbound so a later stable identity can
// still claim it.
func (e *Engine) activate(ctx context.Context, rec *licensestore.Record, device Identity, key string) (*Result, error) {
	if device.Volatile {
		e.logger.Warn("device identity is volatile, skipping persistent binding",
			slog.String("email", rec.Email),
			slog.String("device_id", device.ID),
		)
		rec.DeviceID = device.ID
		rec.LicenseKey = key
		return &Result{
			Outcome: OutcomeActivated,
			Record:  *rec,
			Limits:  PlanLimits(rec.Plan),
			Warning: "device identity is volatile; license was not bound permanently",
		}, nil
	}

	err := e.store.BindDevice(ctx, rec.Email, device.ID, key)
	if errors.Is(err, licensestore.ErrAlreadyBound) {
		// Lost the first-activation race to another device.
		return nil, ErrDeviceConflict
	}
	if errors.Is(err, licensestore.ErrNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec.DeviceID = device.ID
	rec.LicenseKey = key
	e.logger.Info("license activated",
		slog.String("email", rec.Email),
		slog.String("device_id", device.ID),
		slog.String("plan", string(rec.Plan)),
	)
	return &Result{
		Outcome: OutcomeActivated,
		Record:  *rec,
		Limits:  PlanLimits(rec.Plan),
	}, nil
}

// Status returns the stored record and its limits without running the
// state machine or writing anything.
func (e *Engine) Status(ctx context.Context, email string) (*licensestore.Record, Limits, error) {
	rec, err := e.store.Get(ctx, NormalizeEmail(email))
	if errors.Is(err, licensestore.ErrNotFound) {
		return nil, Limits{}, ErrLicenseNotFound
	}
	if err != nil {
		return nil, Limits{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, PlanLimits(rec.Plan), nil
}
