package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense"
	"github.com/mflowhq/mflow-license-sdk/mflowlicense/licensestore"
)

var handlerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type handlerFixture struct {
	server  *httptest.Server
	store   *licensestore.Memory
	deriver *mflowlicense.Deriver
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	deriver, err := mflowlicense.NewDeriver([]byte("handler-test-secret"))
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	store := licensestore.NewMemory()
	engine := mflowlicense.NewEngine(deriver, store,
		mflowlicense.WithClock(func() time.Time { return handlerNow }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHandler(engine, logger)
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	return &handlerFixture{server: server, store: store, deriver: deriver}
}

func (f *handlerFixture) seed(t *testing.T, email, deviceID string, plan licensestore.Plan) licensestore.Record {
	t.Helper()
	binding := deviceID
	if binding == "" {
		deviceID = licensestore.DeviceUnbound
		binding = licensestore.DeviceUnbound
	}
	rec := licensestore.Record{
		Email:      email,
		LicenseKey: f.deriver.Derive(email, binding),
		Plan:       plan,
		DeviceID:   deviceID,
		IssuedAt:   handlerNow.Add(-24 * time.Hour),
		Status:     licensestore.StatusActive,
	}
	if err := f.store.Put(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

func (f *handlerFixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandler_Validate_Valid(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.seed(t, "user@example.com", "DEV001", licensestore.PlanPro)

	resp := f.post(t, "/validate", mflowlicense.ValidateRequest{
		Email:      rec.Email,
		LicenseKey: rec.LicenseKey,
		DeviceID:   "DEV001",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body mflowlicense.ValidateResponse
	decodeBody(t, resp, &body)
	if !body.Valid {
		t.Errorf("valid = false, reason %q", body.Reason)
	}
	if body.Outcome != mflowlicense.OutcomeRevalidated {
		t.Errorf("outcome = %s, want revalidated", body.Outcome)
	}
	if body.Plan != licensestore.PlanPro {
		t.Errorf("plan = %s, want PRO", body.Plan)
	}
}

func TestHandler_Validate_BusinessRejectionIs200(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.seed(t, "user@example.com", "DEV001", licensestore.PlanPro)

	resp := f.post(t, "/validate", mflowlicense.ValidateRequest{
		Email:      rec.Email,
		LicenseKey: "MFLOW-WRNG-WRNG-WRNG",
		DeviceID:   "DEV001",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid=false", resp.StatusCode)
	}

	var body mflowlicense.ValidateResponse
	decodeBody(t, resp, &body)
	if body.Valid {
		t.Error("expected valid=false for a wrong key")
	}
	if body.Reason == "" {
		t.Error("expected a rejection reason")
	}
}

func TestHandler_Validate_MissingFields(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.post(t, "/validate", mflowlicense.ValidateRequest{
		Email: "user@example.com",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error.Code != "BAD_REQUEST" {
		t.Errorf("code = %s, want BAD_REQUEST", body.Error.Code)
	}
}

func TestHandler_Validate_InvalidJSON(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := http.Post(f.server.URL+"/validate", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_Activate_FirstActivation(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.seed(t, "user@example.com", "", licensestore.PlanDiamond)

	resp := f.post(t, "/activate", mflowlicense.ActivateRequest{
		Email:      rec.Email,
		LicenseKey: f.deriver.Derive(rec.Email, "DEV001"),
		DeviceID:   "DEV001",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Data mflowlicense.ActivateResponse `json:"data"`
	}
	decodeBody(t, resp, &body)
	if body.Data.Outcome != mflowlicense.OutcomeActivated {
		t.Errorf("outcome = %s, want activated", body.Data.Outcome)
	}
	if body.Data.DeviceID != "DEV001" {
		t.Errorf("device = %s, want DEV001", body.Data.DeviceID)
	}
	if body.Data.MaxTabs != 5 || body.Data.MaxSlots != 20 {
		t.Errorf("limits = {%d %d}, want {5 20}", body.Data.MaxTabs, body.Data.MaxSlots)
	}

	stored, err := f.store.Get(context.Background(), rec.Email)
	if err != nil {
		t.Fatalf("get stored record: %v", err)
	}
	if stored.DeviceID != "DEV001" {
		t.Errorf("binding not persisted, device = %s", stored.DeviceID)
	}
}

func TestHandler_Activate_ErrorCodes(t *testing.T) {
	f := newHandlerFixture(t)

	bound := f.seed(t, "bound@example.com", "DEV001", licensestore.PlanPro)

	revoked := f.seed(t, "revoked@example.com", "DEV001", licensestore.PlanPro)
	revoked.Status = licensestore.StatusRevoked
	if err := f.store.Put(context.Background(), revoked); err != nil {
		t.Fatalf("seed revoked: %v", err)
	}

	expired := f.seed(t, "expired@example.com", "DEV001", licensestore.PlanPro)
	past := handlerNow.Add(-time.Hour)
	expired.ExpiresAt = &past
	if err := f.store.Put(context.Background(), expired); err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	tests := []struct {
		name       string
		req        mflowlicense.ActivateRequest
		wantStatus int
		wantCode   string
	}{
		{
			name: "unknown email",
			req: mflowlicense.ActivateRequest{
				Email:      "nobody@example.com",
				LicenseKey: "MFLOW-AAAA-BBBB-CCCC",
				DeviceID:   "DEV001",
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name: "revoked",
			req: mflowlicense.ActivateRequest{
				Email:      revoked.Email,
				LicenseKey: revoked.LicenseKey,
				DeviceID:   "DEV001",
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "REVOKED",
		},
		{
			name: "expired",
			req: mflowlicense.ActivateRequest{
				Email:      expired.Email,
				LicenseKey: expired.LicenseKey,
				DeviceID:   "DEV001",
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "EXPIRED",
		},
		{
			name: "wrong key",
			req: mflowlicense.ActivateRequest{
				Email:      bound.Email,
				LicenseKey: "MFLOW-WRNG-WRNG-WRNG",
				DeviceID:   "DEV001",
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "INVALID_KEY",
		},
		{
			name: "device conflict",
			req: mflowlicense.ActivateRequest{
				Email:      bound.Email,
				LicenseKey: f.deriver.Derive(bound.Email, "DEV002"),
				DeviceID:   "DEV002",
			},
			wantStatus: http.StatusConflict,
			wantCode:   "DEVICE_CONFLICT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, "/activate", tt.req)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			decodeBody(t, resp, &body)
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Error.Code, tt.wantCode)
			}
		})
	}
}

// unavailableStore fails every operation with a transport error.
type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) (*licensestore.Record, error) {
	return nil, errors.New("dial tcp 10.0.0.1:5432: connection refused")
}

func (unavailableStore) Put(context.Context, licensestore.Record) error {
	return errors.New("dial tcp 10.0.0.1:5432: connection refused")
}

func (unavailableStore) Delete(context.Context, string) error {
	return errors.New("dial tcp 10.0.0.1:5432: connection refused")
}

func (unavailableStore) BindDevice(context.Context, string, string, string) error {
	return errors.New("dial tcp 10.0.0.1:5432: connection refused")
}

func (unavailableStore) Close(context.Context) error { return nil }

func newUnavailableServer(t *testing.T) *httptest.Server {
	t.Helper()
	deriver, err := mflowlicense.NewDeriver([]byte("handler-test-secret"))
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	engine := mflowlicense.NewEngine(deriver, unavailableStore{},
		mflowlicense.WithEngineLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	server := httptest.NewServer(NewHandler(engine, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes())
	t.Cleanup(server.Close)
	return server
}

func TestHandler_Validate_StoreUnavailableIs503(t *testing.T) {
	server := newUnavailableServer(t)

	payload, _ := json.Marshal(mflowlicense.ValidateRequest{
		Email:      "user@example.com",
		LicenseKey: "MFLOW-AAAA-BBBB-CCCC",
		DeviceID:   "DEV001",
	})
	resp, err := http.Post(server.URL+"/validate", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /validate: %v", err)
	}
	defer resp.Body.Close()

	// A transport failure is not a business rejection: never a 200 with
	// valid=false.
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error.Code != "STORE_UNAVAILABLE" {
		t.Errorf("code = %s, want STORE_UNAVAILABLE", body.Error.Code)
	}
}

func TestHandler_Activate_StoreUnavailableIs503(t *testing.T) {
	server := newUnavailableServer(t)

	payload, _ := json.Marshal(mflowlicense.ActivateRequest{
		Email:      "user@example.com",
		LicenseKey: "MFLOW-AAAA-BBBB-CCCC",
		DeviceID:   "DEV001",
	})
	resp, err := http.Post(server.URL+"/activate", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /activate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error.Code != "STORE_UNAVAILABLE" {
		t.Errorf("code = %s, want STORE_UNAVAILABLE", body.Error.Code)
	}
}

func TestHandler_Status(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.seed(t, "user@example.com", "DEV001", licensestore.PlanBasic)

	resp, err := http.Get(f.server.URL + "/status?email=" + rec.Email)
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Data mflowlicense.ActivateResponse `json:"data"`
	}
	decodeBody(t, resp, &body)
	if body.Data.Email != rec.Email {
		t.Errorf("email = %s, want %s", body.Data.Email, rec.Email)
	}
	if body.Data.MaxTabs != 1 || body.Data.MaxSlots != 20 {
		t.Errorf("limits = {%d %d}, want {1 20}", body.Data.MaxTabs, body.Data.MaxSlots)
	}
}

func TestHandler_Status_MissingEmail(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := http.Get(f.server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_Status_NotFound(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := http.Get(f.server.URL + "/status?email=nobody@example.com")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
