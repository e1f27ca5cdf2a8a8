package mflowlicense

import (
	"context"
	"log/slog"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

// Notifier delivers license keys to customers. Delivery is best-effort:
// a Notify failure never rolls back the license write that preceded it.
type Notifier interface {
	Notify(ctx context.Context, email, licenseKey string, plan licensestore.Plan) error
}

// LogNotifier is a Notifier that only logs. It stands in where outbound
// email is handled by an external dispatcher.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, email, licenseKey string, plan licensestore.Plan) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("license notification",
		slog.String("email", email),
		slog.String("license_key", licenseKey),
		slog.String("plan", string(plan)),
	)
	return nil
}
