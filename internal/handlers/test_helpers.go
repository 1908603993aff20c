package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/tmcfarland/docsmith/internal/auth"
	"github.com/tmcfarland/docsmith/internal/models"
	"github.com/tmcfarland/docsmith/internal/services"
	pkghttp "github.com/tmcfarland/docsmith/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithRefreshCookie attaches a refresh token cookie the way a browser would
func WithRefreshCookie(req *http.Request, rawToken string) *http.Request {
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: rawToken})
	return req
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, email, password string, meta models.DeviceMeta) (*models.LoginResult, error)
	VerifyMFALoginFunc func(ctx context.Context, userID, code string, meta models.DeviceMeta) (*models.LoginResult, error)
	RegisterFunc       func(ctx context.Context, email, password, name string) (*models.User, error)
	ForgotPasswordFunc func(ctx context.Context, email string, meta models.DeviceMeta) error
	ResetPasswordFunc  func(ctx context.Context, rawToken, newPassword string, meta models.DeviceMeta) error
	GetUserFunc        func(ctx context.Context, userID string) (*models.User, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string, meta models.DeviceMeta) (*models.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, email, password, meta)
}

func (m *MockAuthService) VerifyMFALogin(ctx context.Context, userID, code string, meta models.DeviceMeta) (*models.LoginResult, error) {
	if m.VerifyMFALoginFunc == nil {
		return nil, models.ErrInvalidMFA
	}
	return m.VerifyMFALoginFunc(ctx, userID, code, meta)
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password, name)
}

func (m *MockAuthService) ForgotPassword(ctx context.Context, email string, meta models.DeviceMeta) error {
	if m.ForgotPasswordFunc == nil {
		return nil
	}
	return m.ForgotPasswordFunc(ctx, email, meta)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, rawToken, newPassword string, meta models.DeviceMeta) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrInvalidResetToken
	}
	return m.ResetPasswordFunc(ctx, rawToken, newPassword, meta)
}

func (m *MockAuthService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if m.GetUserFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.GetUserFunc(ctx, userID)
}

// MockTokenService implements TokenServiceInterface for testing
type MockTokenService struct {
	RefreshFunc func(ctx context.Context, rawToken string, meta models.DeviceMeta) (*services.TokenPair, *models.User, error)
	LogoutFunc  func(ctx context.Context, rawToken string) error
}

func (m *MockTokenService) Refresh(ctx context.Context, rawToken string, meta models.DeviceMeta) (*services.TokenPair, *models.User, error) {
	if m.RefreshFunc == nil {
		return nil, nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, rawToken, meta)
}

func (m *MockTokenService) Logout(ctx context.Context, rawToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, rawToken)
}

// MockEmailVerificationService implements EmailVerificationServiceInterface for testing
type MockEmailVerificationService struct {
	VerifyEmailFunc        func(ctx context.Context, rawToken string) error
	ResendVerificationFunc func(ctx context.Context, email string) error
}

func (m *MockEmailVerificationService) VerifyEmail(ctx context.Context, rawToken string) error {
	if m.VerifyEmailFunc == nil {
		return models.ErrBadRequest
	}
	return m.VerifyEmailFunc(ctx, rawToken)
}

func (m *MockEmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	BeginSetupFunc            func(ctx context.Context, userID string) (*models.MFASetupResponse, error)
	ConfirmSetupFunc          func(ctx context.Context, userID, code string) error
	DisableFunc               func(ctx context.Context, userID, password string) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID string) ([]string, error)
}

func (m *MockMFAService) BeginSetup(ctx context.Context, userID string) (*models.MFASetupResponse, error) {
	if m.BeginSetupFunc == nil {
		return nil, models.ErrConflict
	}
	return m.BeginSetupFunc(ctx, userID)
}

func (m *MockMFAService) ConfirmSetup(ctx context.Context, userID, code string) error {
	if m.ConfirmSetupFunc == nil {
		return models.ErrInvalidMFA
	}
	return m.ConfirmSetupFunc(ctx, userID, code)
}

func (m *MockMFAService) Disable(ctx context.Context, userID, password string) error {
	if m.DisableFunc == nil {
		return models.ErrMFANotEnabled
	}
	return m.DisableFunc(ctx, userID, password)
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrMFANotEnabled
	}
	return m.RegenerateBackupCodesFunc(ctx, userID)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListFunc            func(ctx context.Context, userID, currentRawToken string) ([]*models.Session, error)
	RevokeFunc          func(ctx context.Context, userID, sessionID, currentRawToken string) error
	RevokeAllOthersFunc func(ctx context.Context, userID, currentRawToken string) (int64, error)
}

func (m *MockSessionService) List(ctx context.Context, userID, currentRawToken string) ([]*models.Session, error) {
	if m.ListFunc == nil {
		return []*models.Session{}, nil
	}
	return m.ListFunc(ctx, userID, currentRawToken)
}

func (m *MockSessionService) Revoke(ctx context.Context, userID, sessionID, currentRawToken string) error {
	if m.RevokeFunc == nil {
		return models.ErrNotFound
	}
	return m.RevokeFunc(ctx, userID, sessionID, currentRawToken)
}

func (m *MockSessionService) RevokeAllOthers(ctx context.Context, userID, currentRawToken string) (int64, error) {
	if m.RevokeAllOthersFunc == nil {
		return 0, models.ErrNoActiveSession
	}
	return m.RevokeAllOthersFunc(ctx, userID, currentRawToken)
}

// MockTrustedDeviceService implements TrustedDeviceServiceInterface for testing
type MockTrustedDeviceService struct {
	TrustFunc     func(ctx context.Context, userID string, meta models.DeviceMeta) (*models.TrustedDevice, error)
	ListFunc      func(ctx context.Context, userID string) ([]*models.TrustedDevice, error)
	RevokeFunc    func(ctx context.Context, userID, deviceID string) error
	RevokeAllFunc func(ctx context.Context, userID string) error
}

func (m *MockTrustedDeviceService) Trust(ctx context.Context, userID string, meta models.DeviceMeta) (*models.TrustedDevice, error) {
	if m.TrustFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.TrustFunc(ctx, userID, meta)
}

func (m *MockTrustedDeviceService) List(ctx context.Context, userID string) ([]*models.TrustedDevice, error) {
	if m.ListFunc == nil {
		return []*models.TrustedDevice{}, nil
	}
	return m.ListFunc(ctx, userID)
}

func (m *MockTrustedDeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	if m.RevokeFunc == nil {
		return models.ErrNotFound
	}
	return m.RevokeFunc(ctx, userID, deviceID)
}

func (m *MockTrustedDeviceService) RevokeAll(ctx context.Context, userID string) error {
	if m.RevokeAllFunc == nil {
		return nil
	}
	return m.RevokeAllFunc(ctx, userID)
}
