package mflowlicense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithNotifier sets the key-delivery collaborator. Default: LogNotifier.
func WithNotifier(n Notifier) IssuerOption {
	return func(i *Issuer) {
		i.notifier = n
	}
}

// WithIssuerLogger sets the structured logger. Default: slog.Default().
func WithIssuerLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		i.logger = logger
	}
}

// WithIssuerClock overrides the time source.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// Issuer is the administrative path: it mints keys, writes license
// records, and triggers customer notification.
type Issuer struct {
	deriver  *Deriver
	store    licensestore.Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewIssuer creates an issuer over a key deriver and a store.
func NewIssuer(deriver *Deriver, store licensestore.Store, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		deriver:  deriver,
		store:    store,
		notifier: LogNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates a license for email on the given plan. When deviceID is
// empty the record is written unbound and the key is finalized at first
// activation; a pre-registered deviceID yields a key that validates only
// on that device. A nil expiresAt issues a non-expiring license.
func (i *Issuer) Issue(ctx context.Context, email string, plan licensestore.Plan, deviceID string, expiresAt *time.Time) (*licensestore.Record, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email must not be empty")
	}
	if deviceID == "" {
		deviceID = licensestore.DeviceUnbound
	}

	rec := licensestore.Record{
		Email:      email,
		LicenseKey: i.deriver.Derive(email, deviceID),
		Plan:       plan,
		DeviceID:   deviceID,
		IssuedAt:   i.now(),
		ExpiresAt:  expiresAt,
		Status:     licensestore.StatusActive,
	}
	if err := i.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	i.notify(ctx, rec)
	return &rec, nil
}

// UpdatePlan changes the plan of an existing license and re-notifies the
// customer. The key is unchanged: it binds email and device, not plan.
func (i *Issuer) UpdatePlan(ctx context.Context, email string, plan licensestore.Plan) (*licensestore.Record, error) {
	rec, err := i.get(ctx, email)
	if err != nil {
		return nil, err
	}
	rec.Plan = plan
	if err := i.store.Put(ctx, *rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	i.notify(ctx, *rec)
	return rec, nil
}

// Revoke marks a license revoked. Validation rejects it from the next
// check onward; there is no propagation beyond the status flag.
func (i *Issuer) Revoke(ctx context.Context, email string) error {
	rec, err := i.get(ctx, email)
	if err != nil {
		return err
	}
	rec.Status = licensestore.StatusRevoked
	if err := i.store.Put(ctx, *rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	i.logger.Info("license revoked", slog.String("email", rec.Email))
	return nil
}

// Delete removes a license record entirely.
func (i *Issuer) Delete(ctx context.Context, email string) error {
	if err := i.store.Delete(ctx, NormalizeEmail(email)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (i *Issuer) get(ctx context.Context, email string) (*licensestore.Record, error) {
	rec, err := i.store.Get(ctx, NormalizeEmail(email))
	if errors.Is(err, licensestore.ErrNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

// notify delivers the key best-effort. Failures are logged, never
// returned: a lost email must not roll back an issued license.
func (i *Issuer) notify(ctx context.Context, rec licensestore.Record) {
	if err := i.notifier.Notify(ctx, rec.Email, rec.LicenseKey, rec.Plan); err != nil {
		i.logger.Warn("license notification failed",
			slog.String("email", rec.Email),
			slog.String("error", err.Error()),
		)
	}
}
