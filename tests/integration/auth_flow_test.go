package integration

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

var (
	testDB     *TestDB
	testServer *TestServer
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping integration tests: %v\n", err)
		os.Exit(0)
	}
	testDB = db

	server, err := NewTestServer(db.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start test server: %v\n", err)
		_ = db.Teardown(ctx)
		os.Exit(1)
	}
	testServer = server

	code := m.Run()

	testServer.Close()
	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

type loginBody struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

type loginResponse struct {
	RequiresMFA bool   `json:"requires_mfa"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	User        *struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		MFAEnabled    bool   `json:"mfa_enabled"`
	} `json:"user"`
}

func login(t *testing.T, email, password string) (*http.Response, error) {
	t.Helper()
	return testServer.Request("POST", "/auth/login", loginBody{Email: email, Password: password}, nil)
}

func TestRegistrationAndEmailVerificationFlow(t *testing.T) {
	email := UniqueEmail("register")

	resp, err := testServer.Request("POST", "/auth/register", map[string]string{
		"email":    email,
		"password": StrongTestPassword,
		"name":     "Flow Tester",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	sent := testServer.Email.LastEmail()
	if sent == nil || sent.Kind != "verification" || sent.To != email {
		t.Fatalf("expected a verification email to %s, got %+v", email, sent)
	}

	// Unverified accounts cannot log in
	resp, err = login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before verification, got %d", resp.StatusCode)
	}
	if code, _ := ErrorCode(resp); code != "email_not_verified" {
		t.Fatalf("expected email_not_verified, got %s", code)
	}

	// Redeem the mailed token
	resp, err = testServer.Request("POST", "/auth/verify-email", map[string]string{"token": sent.Token}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on verify, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Now login succeeds
	resp, err = login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after verification, got %d", resp.StatusCode)
	}

	refreshToken := RefreshCookieValue(resp)
	var body loginResponse
	if err := ParseJSONResponse(resp, &body); err != nil {
		t.Fatal(err)
	}
	if body.AccessToken == "" {
		t.Error("expected an access token")
	}
	if refreshToken == "" {
		t.Error("expected a refresh token cookie")
	}

	// The access token works against the protected surface
	resp, err = testServer.RequestWithAuth("GET", "/auth/me", body.AccessToken, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /auth/me, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	email := UniqueEmail("duplicate")
	ctx := context.Background()

	if _, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true}); err != nil {
		t.Fatal(err)
	}

	resp, err := testServer.Request("POST", "/auth/register", map[string]string{
		"email":    email,
		"password": StrongTestPassword,
		"name":     "Second Account",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if code, _ := ErrorCode(resp); code != "duplicate_account" {
		t.Fatalf("expected duplicate_account, got %s", code)
	}
}

func TestRefreshRotationAndReuseContainment(t *testing.T) {
	email := UniqueEmail("rotation")
	ctx := context.Background()

	user, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	firstToken := RefreshCookieValue(resp)
	resp.Body.Close()
	if firstToken == "" {
		t.Fatal("expected a refresh cookie from login")
	}

	// Rotation: the old token is consumed, a successor is issued
	resp, err = testServer.RequestWithCookie("POST", "/auth/refresh", firstToken, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on refresh, got %d", resp.StatusCode)
	}
	secondToken := RefreshCookieValue(resp)
	resp.Body.Close()
	if secondToken == "" || secondToken == firstToken {
		t.Fatal("expected a rotated refresh token")
	}

	// Replaying the consumed token reads as a plain auth failure
	resp, err = testServer.RequestWithCookie("POST", "/auth/refresh", firstToken, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on token reuse, got %d", resp.StatusCode)
	}
	if code, _ := ErrorCode(resp); code != "unauthorized" {
		t.Fatalf("reuse must not be distinguishable, got %s", code)
	}

	// Containment: the reuse revoked every session, successor included
	count, err := testDB.CountActiveSessions(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected all sessions revoked after reuse, %d still active", count)
	}

	resp, err = testServer.RequestWithCookie("POST", "/auth/refresh", secondToken, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("successor token should be dead after containment, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLockoutAfterConsecutiveFailures(t *testing.T) {
	email := UniqueEmail("lockout")
	ctx := context.Background()

	if _, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true}); err != nil {
		t.Fatal(err)
	}

	// Failures one through five all read as invalid credentials; the fifth
	// creates the lock silently
	for i := 1; i <= 5; i++ {
		resp, err := login(t, email, "Wr0ng!password")
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
		if code, _ := ErrorCode(resp); code != "invalid_credentials" {
			t.Fatalf("attempt %d: expected invalid_credentials, got %s", i, code)
		}
	}

	// The next attempt reveals the lock, even with the correct password
	resp, err := login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423 while locked, got %d", resp.StatusCode)
	}

	var locked struct {
		Error             string `json:"error"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	}
	if err := ParseJSONResponse(resp, &locked); err != nil {
		t.Fatal(err)
	}
	if locked.Error != "locked" {
		t.Errorf("expected locked error code, got %s", locked.Error)
	}
	if locked.RetryAfterSeconds <= 0 {
		t.Errorf("expected a positive retry window, got %d", locked.RetryAfterSeconds)
	}
}

func TestPasswordResetRebaselinesAccount(t *testing.T) {
	email := UniqueEmail("reset")
	ctx := context.Background()

	user, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true})
	if err != nil {
		t.Fatal(err)
	}

	// Establish a session and a trusted device
	resp, err := login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	var body loginResponse
	if err := ParseJSONResponse(resp, &body); err != nil {
		t.Fatal(err)
	}
	resp, err = testServer.RequestWithAuth("POST", "/auth/trust-device", body.AccessToken, map[string]string{"device_name": "reset test device"})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	rawToken, err := testDB.SeedPasswordResetToken(ctx, user.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	const newPassword = "Rot4ted!Passphrase"
	resp, err = testServer.Request("POST", "/auth/reset-password", map[string]string{
		"token":        rawToken,
		"new_password": newPassword,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on reset, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Full re-baseline: no live sessions, no trusted devices
	sessions, err := testDB.CountActiveSessions(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sessions != 0 {
		t.Errorf("expected all sessions revoked, %d remain", sessions)
	}
	devices, err := testDB.CountTrustedDevices(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if devices != 0 {
		t.Errorf("expected all trusted devices revoked, %d remain", devices)
	}

	// A second redemption of the same token fails
	resp, err = testServer.Request("POST", "/auth/reset-password", map[string]string{
		"token":        rawToken,
		"new_password": "An0ther!Passphrase",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on replay, got %d", resp.StatusCode)
	}
	if code, _ := ErrorCode(resp); code != "invalid_token" {
		t.Fatalf("expected invalid_token, got %s", code)
	}

	// Old password is dead, new one works
	resp, err = login(t, email, StrongTestPassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old password should fail, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = login(t, email, newPassword)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("new password should work, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionManagement(t *testing.T) {
	email := UniqueEmail("sessions")
	ctx := context.Background()

	user, err := testDB.SeedUser(ctx, SeedUserOpts{Email: email, Password: StrongTestPassword, Verified: true})
	if err != nil {
		t.Fatal(err)
	}

	// Three logins, three sessions
	var tokens []string
	var access string
	for i := 0; i < 3; i++ {
		resp, err := testServer.Request("POST", "/auth/login", loginBody{
			Email: email, Password: StrongTestPassword, DeviceName: fmt.Sprintf("device-%d", i),
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
		tokens = append(tokens, RefreshCookieValue(resp))
		var body loginResponse
		if err := ParseJSONResponse(resp, &body); err != nil {
			t.Fatal(err)
		}
		access = body.AccessToken
	}

	// List tags the session whose cookie accompanies the request
	resp, err := testServer.RequestWithCookie("GET", "/auth/sessions", tokens[2], nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	if err != nil {
		t.Fatal(err)
	}
	var sessions []struct {
		ID         string `json:"id"`
		DeviceName string `json:"device_name"`
		Current    bool   `json:"current"`
	}
	if err := ParseJSONResponse(resp, &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	currentID := ""
	for _, s := range sessions {
		if s.Current {
			if currentID != "" {
				t.Fatal("only one session may be current")
			}
			currentID = s.ID
		}
	}
	if currentID == "" {
		t.Fatal("expected the caller's session to be tagged current")
	}

	// Revoking the current session through session management is refused
	resp, err = testServer.RequestWithCookie("DELETE", "/auth/sessions/"+currentID, tokens[2], nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 revoking current session, got %d", resp.StatusCode)
	}
	if code, _ := ErrorCode(resp); code != "cannot_revoke_current" {
		t.Fatalf("expected cannot_revoke_current, got %s", code)
	}

	// Revoke-all-others keeps only the caller's session
	resp, err = testServer.RequestWithCookie("DELETE", "/auth/sessions/all", tokens[2], nil, map[string]string{
		"Authorization": "Bearer " + access,
	})
	if err != nil {
		t.Fatal(err)
	}
	var revoked struct {
		Revoked int64 `json:"revoked"`
	}
	if err := ParseJSONResponse(resp, &revoked); err != nil {
		t.Fatal(err)
	}
	if revoked.Revoked != 2 {
		t.Errorf("expected 2 sessions revoked, got %d", revoked.Revoked)
	}

	count, err := testDB.CountActiveSessions(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 surviving session, got %d", count)
	}

	// Without a refresh cookie the current session cannot be identified
	resp, err = testServer.RequestWithAuth("DELETE", "/auth/sessions/all", access, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without cookie, got %d", resp.StatusCode)
	}
	if code, _ := ErrorCode(resp); code != "no_active_session" {
		t.Fatalf("expected no_active_session, got %s", code)
	}
}
