package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	pkghttp "github.com/tmcfarland/docsmith/pkg/http"
)

// TrustedDeviceServiceInterface defines the interface for device trust
type TrustedDeviceServiceInterface interface {
	Trust(ctx context.Context, userID string, meta models.DeviceMeta) (*models.TrustedDevice, error)
	List(ctx context.Context, userID string) ([]*models.TrustedDevice, error)
	Revoke(ctx context.Context, userID, deviceID string) error
	RevokeAll(ctx context.Context, userID string) error
}

// DeviceHandler manages the caller's trusted devices.
type DeviceHandler struct {
	service  TrustedDeviceServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(service TrustedDeviceServiceInterface, ipConfig *pkghttp.IPConfig) *DeviceHandler {
	return &DeviceHandler{service: service, ipConfig: ipConfig}
}

// TrustDeviceRequest optionally names the device being trusted
type TrustDeviceRequest struct {
	DeviceName string `json:"device_name" validate:"max=100"`
}

// TrustDeviceResponse reports how long the trust grant lasts
type TrustDeviceResponse struct {
	DeviceID     string    `json:"device_id"`
	TrustedUntil time.Time `json:"trusted_until"`
}

// DeviceResponse is the listing view of a trust grant
type DeviceResponse struct {
	ID           string     `json:"id"`
	DeviceName   string     `json:"device_name"`
	IPAddress    string     `json:"ip_address"`
	TrustedUntil time.Time  `json:"trusted_until"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Trust marks the requesting device as trusted, letting it skip MFA until
// the trust window expires.
func (h *DeviceHandler) Trust(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req TrustDeviceRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return
		}
		if err := ValidateRequest(req); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
	}

	meta := models.DeviceMeta{
		DeviceName: req.DeviceName,
		IPAddress:  pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:  r.Header.Get("User-Agent"),
	}

	device, err := h.service.Trust(r.Context(), claims.UserID, meta)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, TrustDeviceResponse{
		DeviceID:     device.ID,
		TrustedUntil: device.TrustedUntil,
	})
}

// List returns the caller's active trusted devices.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	devices, err := h.service.List(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := make([]DeviceResponse, 0, len(devices))
	for _, device := range devices {
		resp = append(resp, DeviceResponse{
			ID:           device.ID,
			DeviceName:   device.DeviceName,
			IPAddress:    device.IPAddress,
			TrustedUntil: device.TrustedUntil,
			LastUsedAt:   device.LastUsedAt,
			CreatedAt:    device.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Revoke withdraws one trust grant; that device faces MFA on next login.
func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	deviceID := chi.URLParam(r, "id")
	if deviceID == "" {
		pkghttp.WriteBadRequest(w, "Device id is required")
		return
	}

	if err := h.service.Revoke(r.Context(), claims.UserID, deviceID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Device not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Device trust revoked."})
}

// RevokeAll withdraws every trust grant for the caller.
func (h *DeviceHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.RevokeAll(r.Context(), claims.UserID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "All device trust revoked."})
}
