package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	pkghttp "github.com/tmcfarland/docsmith/pkg/http"
)

// MFAServiceInterface defines the interface for MFA enrollment management
type MFAServiceInterface interface {
	BeginSetup(ctx context.Context, userID string) (*models.MFASetupResponse, error)
	ConfirmSetup(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, password string) error
	RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error)
}

// MFAHandler handles MFA enrollment HTTP requests. Login-time MFA
// verification lives on AuthHandler since it is part of the login flow.
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// MFAVerifyRequest carries the TOTP proof confirming enrollment
type MFAVerifyRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// MFADisableRequest requires the password to turn MFA off
type MFADisableRequest struct {
	Password string `json:"password" validate:"required"`
}

// MFASetupResponseBody is the one-time payload shown at enrollment
type MFASetupResponseBody struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// BackupCodesResponse carries a freshly generated batch of backup codes
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// Setup starts MFA enrollment: generates the seed, QR payload, and backup
// codes. Nothing is active until Verify succeeds.
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	resp, err := h.service.BeginSetup(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MFASetupResponseBody{
		Secret:      resp.Secret,
		QRCode:      resp.QRCode,
		BackupCodes: resp.BackupCodes,
	})
}

// Verify confirms enrollment with a TOTP proof and activates MFA.
func (h *MFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req MFAVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmSetup(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidMFA):
			pkghttp.WriteError(w, http.StatusBadRequest, "invalid_mfa", "Invalid verification code")
		case errors.Is(err, models.ErrMFANotEnabled):
			pkghttp.WriteError(w, http.StatusBadRequest, "not_enabled", "No MFA setup in progress")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "MFA is already enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

// Disable turns MFA off after re-verifying the password.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req MFADisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_password", "Invalid password")
		case errors.Is(err, models.ErrMFANotEnabled):
			pkghttp.WriteError(w, http.StatusBadRequest, "not_enabled", "MFA is not enabled")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

// RegenerateBackupCodes replaces all backup codes with a new batch.
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrMFANotEnabled):
			pkghttp.WriteError(w, http.StatusBadRequest, "not_enabled", "MFA is not enabled")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}
