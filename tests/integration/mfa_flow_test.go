package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

type mfaSetupResponse struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

func loginForAccess(t *testing.T, email, password string) (accessToken, refreshToken string) {
	t.Helper()

	resp, err := login(t, email, password)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with %d", resp.StatusCode)
	}
	refreshToken = RefreshCookieValue(resp)
	var body loginResponse
	if err := ParseJSONResponse(resp, &body); err != nil {
		t.Fatal(err)
	}
	return body.AccessToken, refreshToken
}

func enrollMFA(t *testing.T, accessToken string) mfaSetupResponse {
	t.Helper()

	resp, err := testServer.RequestWithAuth("POST", "/auth/mfa/setup", accessToken, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from setup, got %d", resp.StatusCode)
	}
	var setup mfaSetupResponse
	if err := ParseJSONResponse(resp, &setup); err != nil {
		t.Fatal(err)
	}

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	resp, err = testServer.RequestWithAuth("POST", "/auth/mfa/verify", accessToken, map[string]string{"code": code})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from verify, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	return setup
}

func TestMFAEnrollmentAndLoginFlow(t *testing.T) {
	email := UniqueEmail("mfa")
	ctx := context.Background()

	if _, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true}); err != nil {
		t.Fatal(err)
	}

	accessToken, _ := loginForAccess(t, email, StrongTestPassword)
	setup := enrollMFA(t, accessToken)

	if setup.Secret == "" {
		t.Fatal("expected a base32 seed")
	}
	if len(setup.BackupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(setup.BackupCodes))
	}

	// With MFA enabled, credentials alone no longer complete a login
	resp, err := login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if RefreshCookieValue(resp) != "" {
		t.Error("no refresh token before the MFA stage completes")
	}
	var stage loginResponse
	if err := ParseJSONResponse(resp, &stage); err != nil {
		t.Fatal(err)
	}
	if !stage.RequiresMFA || stage.UserID == "" {
		t.Fatalf("expected requires_mfa with user id, got %+v", stage)
	}
	if stage.AccessToken != "" {
		t.Error("no access token before the MFA stage completes")
	}

	// A wrong code is rejected
	resp, err = testServer.Request("POST", "/auth/mfa/verify-login", map[string]string{
		"user_id": stage.UserID,
		"code":    "000000",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong code, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// A fresh TOTP code completes the login
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	resp, err = testServer.Request("POST", "/auth/mfa/verify-login", map[string]string{
		"user_id": stage.UserID,
		"code":    code,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 completing MFA login, got %d", resp.StatusCode)
	}
	if RefreshCookieValue(resp) == "" {
		t.Error("expected a refresh cookie after MFA completion")
	}
	var completed loginResponse
	if err := ParseJSONResponse(resp, &completed); err != nil {
		t.Fatal(err)
	}
	if completed.AccessToken == "" {
		t.Error("expected an access token after MFA completion")
	}
}

func TestMFABackupCodeLogin(t *testing.T) {
	email := UniqueEmail("backup")
	ctx := context.Background()

	if _, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true}); err != nil {
		t.Fatal(err)
	}

	accessToken, _ := loginForAccess(t, email, StrongTestPassword)
	setup := enrollMFA(t, accessToken)

	resp, err := login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	var stage loginResponse
	if err := ParseJSONResponse(resp, &stage); err != nil {
		t.Fatal(err)
	}

	// A backup code completes the login once
	backupCode := setup.BackupCodes[0]
	resp, err = testServer.Request("POST", "/auth/mfa/verify-login", map[string]string{
		"user_id": stage.UserID,
		"code":    backupCode,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a backup code, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The same code cannot be spent twice
	resp, err = login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if err := ParseJSONResponse(resp, &stage); err != nil {
		t.Fatal(err)
	}
	resp, err = testServer.Request("POST", "/auth/mfa/verify-login", map[string]string{
		"user_id": stage.UserID,
		"code":    backupCode,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 reusing a backup code, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTrustedDeviceSkipsMFA(t *testing.T) {
	email := UniqueEmail("trusted")
	ctx := context.Background()

	if _, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true}); err != nil {
		t.Fatal(err)
	}

	accessToken, _ := loginForAccess(t, email, StrongTestPassword)
	setup := enrollMFA(t, accessToken)

	// Complete an MFA login and trust this device
	resp, err := login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	var stage loginResponse
	if err := ParseJSONResponse(resp, &stage); err != nil {
		t.Fatal(err)
	}
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	resp, err = testServer.Request("POST", "/auth/mfa/verify-login", map[string]string{
		"user_id": stage.UserID,
		"code":    code,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var completed loginResponse
	if err := ParseJSONResponse(resp, &completed); err != nil {
		t.Fatal(err)
	}

	resp, err = testServer.RequestWithAuth("POST", "/auth/trust-device", completed.AccessToken, map[string]string{
		"device_name": "integration runner",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 trusting device, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The same client (same IP and user agent) now bypasses the MFA stage
	resp, err = login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var direct loginResponse
	if err := ParseJSONResponse(resp, &direct); err != nil {
		t.Fatal(err)
	}
	if direct.RequiresMFA {
		t.Error("trusted device should skip the MFA stage")
	}
	if direct.AccessToken == "" {
		t.Error("expected a direct authenticated login")
	}

	// Revoking all trust restores the MFA requirement
	resp, err = testServer.RequestWithAuth("DELETE", "/auth/trusted-devices", direct.AccessToken, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	var again loginResponse
	if err := ParseJSONResponse(resp, &again); err != nil {
		t.Fatal(err)
	}
	if !again.RequiresMFA {
		t.Error("MFA should be required again after trust revocation")
	}
}

func TestTenantPolicyForcesMFA(t *testing.T) {
	ctx := context.Background()

	tenant, err := testDB.SeedTenant(ctx, "Strict Legal LLP", true)
	if err != nil {
		t.Fatal(err)
	}
	email := UniqueEmail("tenant")
	if _, err := testDB.SeedUser(ctx, SeedUserOpts{
		Email: email, Password: StrongTestPassword, Verified: true, TenantID: &tenant.ID,
	}); err != nil {
		t.Fatal(err)
	}

	// The user never enrolled, but tenant policy still gates the login
	resp, err := login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stage loginResponse
	if err := ParseJSONResponse(resp, &stage); err != nil {
		t.Fatal(err)
	}
	if !stage.RequiresMFA {
		t.Error("tenant policy should force the MFA stage")
	}
	if stage.AccessToken != "" {
		t.Error("no tokens while the MFA stage is pending")
	}
}
