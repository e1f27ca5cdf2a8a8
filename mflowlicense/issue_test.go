package mflowlicense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// recordingNotifier captures notifications and optionally fails.
type recordingNotifier struct {
	calls []string
	fail  bool
}

func (n *recordingNotifier) Notify(_ context.Context, email, licenseKey string, plan licensestore.Plan) error {
	n.calls = append(n.calls, email+"|"+licenseKey+"|"+string(plan))
	if n.fail {
		return errors.New("smtp unreachable")
	}
	return nil
}

func newTestIssuer(t *testing.T, store licensestore.Store, notifier Notifier) *Issuer {
	t.Helper()
	opts := []IssuerOption{WithIssuerClock(func() time.Time { return testNow })}
	if notifier != nil {
		opts = append(opts, WithNotifier(notifier))
	}
	return NewIssuer(newTestDeriver(t), store, opts...)
}

func TestIssue_Unbound(t *testing.T) {
	store := licensestore.NewMemory()
	notifier := &recordingNotifier{}
	issuer := newTestIssuer(t, store, notifier)

	rec, err := issuer.Issue(context.Background(), "  User@Example.com ", licensestore.PlanPro, "", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if rec.Email != "user@example.com" {
		t.Errorf("email not normalized: %q", rec.Email)
	}
	if rec.DeviceID != licensestore.DeviceUnbound {
		t.Errorf("device = %q, want unbound sentinel", rec.DeviceID)
	}
	if rec.Status != licensestore.StatusActive {
		t.Errorf("status = %q, want active", rec.Status)
	}
	if len(notifier.calls) != 1 {
		t.Errorf("expected one notification, got %d", len(notifier.calls))
	}

	stored, err := store.Get(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if stored.LicenseKey != rec.LicenseKey {
		t.Errorf("stored key mismatch")
	}
}

func TestIssue_PreRegisteredDevice(t *testing.T) {
	store := licensestore.NewMemory()
	issuer := newTestIssuer(t, store, nil)

	rec, err := issuer.Issue(context.Background(), "user@example.com", licensestore.PlanDiamond, "DEV001", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if rec.DeviceID != "DEV001" {
		t.Errorf("device = %q, want DEV001", rec.DeviceID)
	}
	if !issuer.deriver.Verify("user@example.com", rec.LicenseKey, "DEV001") {
		t.Error("issued key should verify against the pre-registered device")
	}
}

func TestIssue_EmptyEmail(t *testing.T) {
	issuer := newTestIssuer(t, licensestore.NewMemory(), nil)
	if _, err := issuer.Issue(context.Background(), "   ", licensestore.PlanBasic, "", nil); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestIssue_NotifyFailureDoesNotRollBack(t *testing.T) {
	store := licensestore.NewMemory()
	notifier := &recordingNotifier{fail: true}
	issuer := newTestIssuer(t, store, notifier)

	rec, err := issuer.Issue(context.Background(), "user@example.com", licensestore.PlanPro, "", nil)
	if err != nil {
		t.Fatalf("notification failure must not fail issuance: %v", err)
	}
	if _, err := store.Get(context.Background(), rec.Email); err != nil {
		t.Errorf("record should persist despite failed notification: %v", err)
	}
}

func TestUpdatePlan(t *testing.T) {
	store := licensestore.NewMemory()
	notifier := &recordingNotifier{}
	issuer := newTestIssuer(t, store, notifier)

	rec, err := issuer.Issue(context.Background(), "user@example.com", licensestore.PlanBasic, "DEV001", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	updated, err := issuer.UpdatePlan(context.Background(), "user@example.com", licensestore.PlanMaster)
	if err != nil {
		t.Fatalf("UpdatePlan: %v", err)
	}
	if updated.Plan != licensestore.PlanMaster {
		t.Errorf("plan = %s, want MASTER", updated.Plan)
	}
	if updated.LicenseKey != rec.LicenseKey {
		t.Errorf("plan change must not change the key")
	}
	if len(notifier.calls) != 2 {
		t.Errorf("expected issue + upgrade notifications, got %d", len(notifier.calls))
	}
}

func TestUpdatePlan_NotFound(t *testing.T) {
	issuer := newTestIssuer(t, licensestore.NewMemory(), nil)
	if _, err := issuer.UpdatePlan(context.Background(), "nobody@example.com", licensestore.PlanPro); !errors.Is(err, ErrLicenseNotFound) {
		t.Errorf("expected ErrLicenseNotFound, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	store := licensestore.NewMemory()
	issuer := newTestIssuer(t, store, nil)
	engine := newTestEngine(t, store)

	rec, err := issuer.Issue(context.Background(), "user@example.com", licensestore.PlanPro, "DEV001", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Revoke(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	_, err = engine.Validate(context.Background(), rec.Email, rec.LicenseKey, Identity{ID: "DEV001"})
	if !errors.Is(err, ErrLicenseRevoked) {
		t.Errorf("expected ErrLicenseRevoked after revocation, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := licensestore.NewMemory()
	issuer := newTestIssuer(t, store, nil)

	if _, err := issuer.Issue(context.Background(), "user@example.com", licensestore.PlanPro, "", nil); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := issuer.Delete(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(context.Background(), "user@example.com"); !errors.Is(err, licensestore.ErrNotFound) {
		t.Errorf("expected record gone, got %v", err)
	}
}
