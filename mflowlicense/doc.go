// Package mflowlicense issues and validates MFLOW software license keys.
//
// A license key binds a customer email and a device to a deterministic
// credential: PREFIX-XXXX-XXXX-XXXX, derived with HMAC-SHA256 from the
// normalized email and the device identifier. The key is never stored as
// an independent secret; verification recomputes it.
//
// # Validating a license
//
// Client applications embed a Manager, which combines device identity,
// store-backed validation, a signed local activation cache, and a 15-day
// trial fallback:
//
//	deriver, _ := mflowlicense.NewDeriver(secret)
//	engine := mflowlicense.NewEngine(deriver, store)
//	mgr := mflowlicense.NewManager(engine, mflowlicense.WithLocalState(local))
//	res, err := mgr.Activate(ctx, "user@example.com", "MFLOW-AAAA-BBBB-CCCC")
//
// A license activates on the first device that presents it and stays
// bound there; later validations from the same device are idempotent,
// and other devices are rejected with ErrDeviceConflict.
//
// # Talking to a license server
//
// For deployments where the store sits behind the licensed HTTP server:
//
//	client := mflowlicense.NewOnlineClient("https://license.example.com", apiKey,
//	    mflowlicense.WithDeviceID(mflowlicense.CurrentIdentity().ID))
//	resp, err := client.Activate(ctx, mflowlicense.ActivateRequest{
//	    Email:      "user@example.com",
//	    LicenseKey: "MFLOW-AAAA-BBBB-CCCC",
//	})
package mflowlicense
