// Package httpapi exposes the validation engine over HTTP, serving the
// wire contract consumed by mflowlicense.OnlineClient.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mflowhq/mflow-license-sdk/mflowlicense"
)

// Handler serves the license validation endpoints.
type Handler struct {
	engine *mflowlicense.Engine
	logger *slog.Logger
}

// NewHandler creates a handler over a validation engine.
func NewHandler(engine *mflowlicense.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for the license endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Post("/activate", h.Activate)
	r.Get("/status", h.Status)
	return r
}

// Validate runs the activation state machine and reports the outcome as
// a flat valid/reason response. Business rejections are 200s with
// Valid=false; only transport failures surface as HTTP errors.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req mflowlicense.ValidateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := requireFields(req.Email, req.LicenseKey, req.DeviceID); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	res, err := h.engine.Validate(r.Context(), req.Email, req.LicenseKey, mflowlicense.Identity{ID: req.DeviceID})
	if err != nil {
		if errors.Is(err, mflowlicense.ErrStoreUnavailable) {
			h.logger.Error("store unavailable", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "license store unavailable")
			return
		}
		writeJSON(w, http.StatusOK, mflowlicense.ValidateResponse{
			Valid:  false,
			Reason: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, mflowlicense.ValidateResponse{
		Valid:     true,
		Outcome:   res.Outcome,
		Plan:      res.Record.Plan,
		ExpiresAt: res.Record.ExpiresAt,
		Warning:   res.Warning,
	})
}

// Activate runs the activation state machine and returns the full
// activation record, wrapped in {data: ...}. Business rejections map to
// coded HTTP errors so clients can distinguish them with errors.Is.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var req mflowlicense.ActivateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if err := requireFields(req.Email, req.LicenseKey, req.DeviceID); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	res, err := h.engine.Validate(r.Context(), req.Email, req.LicenseKey, mflowlicense.Identity{ID: req.DeviceID})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dataWrapper{Data: mflowlicense.ActivateResponse{
		Outcome:    res.Outcome,
		Email:      res.Record.Email,
		LicenseKey: res.Record.LicenseKey,
		Plan:       res.Record.Plan,
		DeviceID:   res.Record.DeviceID,
		ExpiresAt:  res.Record.ExpiresAt,
		MaxTabs:    res.Limits.MaxTabs,
		MaxSlots:   res.Limits.MaxSlots,
		Warning:    res.Warning,
	}})
}

// Status returns the stored record for ?email= without mutating anything.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email query parameter is required")
		return
	}

	rec, limits, err := h.engine.Status(r.Context(), email)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dataWrapper{Data: mflowlicense.ActivateResponse{
		Email:      rec.Email,
		LicenseKey: rec.LicenseKey,
		Plan:       rec.Plan,
		DeviceID:   rec.DeviceID,
		ExpiresAt:  rec.ExpiresAt,
		MaxTabs:    limits.MaxTabs,
		MaxSlots:   limits.MaxSlots,
	}})
}

// writeEngineError maps validation sentinels to the wire error format.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mflowlicense.ErrLicenseNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, mflowlicense.ErrLicenseRevoked):
		writeError(w, http.StatusForbidden, "REVOKED", err.Error())
	case errors.Is(err, mflowlicense.ErrLicenseExpired):
		writeError(w, http.StatusForbidden, "EXPIRED", err.Error())
	case errors.Is(err, mflowlicense.ErrInvalidKey):
		writeError(w, http.StatusForbidden, "INVALID_KEY", err.Error())
	case errors.Is(err, mflowlicense.ErrDeviceConflict):
		writeError(w, http.StatusConflict, "DEVICE_CONFLICT", err.Error())
	case errors.Is(err, mflowlicense.ErrStoreUnavailable):
		h.logger.Error("store unavailable", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "license store unavailable")
	default:
		h.logger.Error("unexpected validation error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type dataWrapper struct {
	Data interface{} `json:"data"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorWrapper struct {
	Error errorBody `json:"error"`
}

func decodeRequest(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(dest); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// requireFields checks the three mandatory request fields.
func requireFields(email, licenseKey, deviceID string) error {
	switch {
	case email == "":
		return errors.New("email is required")
	case licenseKey == "":
		return errors.New("license_key is required")
	case deviceID == "":
		return errors.New("device_id is required")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorWrapper{Error: errorBody{Code: code, Message: message}})
}
