package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/risk-scoring-engine/internal/service/orchestrator"
)

var testAuth = &AuthConfig{
	JWTSecret:   []byte("test-secret-do-not-use"),
	Issuer:      "risk-scoring-engine",
	TokenExpiry: time.Hour,
}

func authorized(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_TokenRoundTrip(t *testing.T) {
	auth := NewAuthMiddleware(testAuth)

	token, err := auth.IssueToken("analyst-1", ScopeRiskRead)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "analyst-1", claims.Subject)
	assert.True(t, claims.HasScope(ScopeRiskRead))
	assert.False(t, claims.HasScope(ScopeRiskWrite))
}

func TestAuthMiddleware_RejectsBadTokens(t *testing.T) {
	auth := NewAuthMiddleware(testAuth)

	other := NewAuthMiddleware(&AuthConfig{JWTSecret: []byte("another-secret"), Issuer: testAuth.Issuer})
	forged, err := other.IssueToken("mallory", "*")
	require.NoError(t, err)

	expiring := NewAuthMiddleware(&AuthConfig{JWTSecret: testAuth.JWTSecret, Issuer: testAuth.Issuer})
	expiring.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiring.IssueToken("analyst-1", ScopeRiskRead)
	require.NoError(t, err)

	wrongIssuer := NewAuthMiddleware(&AuthConfig{JWTSecret: testAuth.JWTSecret, Issuer: "someone-else"})
	foreign, err := wrongIssuer.IssueToken("analyst-1", ScopeRiskRead)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-jwt",
		"wrong secret": forged,
		"expired":      expired,
		"wrong issuer": foreign,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := auth.ValidateToken(token)
			assert.Error(t, err)
		})
	}
}

func TestRouter_RequiresScopes(t *testing.T) {
	svc := &mockService{}
	router := newTestRouter(t, svc, testAuth)
	svc.On("GetProfile", mock.Anything, "cust-7").Return(&orchestrator.ProfileView{CustomerID: "cust-7"}, nil)

	auth := NewAuthMiddleware(testAuth)
	reader, err := auth.IssueToken("analyst-1", ScopeRiskRead)
	require.NoError(t, err)

	rec := authorized(router, http.MethodGet, "/api/v1/risk/customers/cust-7/profile", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = authorized(router, http.MethodGet, "/api/v1/risk/customers/cust-7/profile", reader)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = authorized(router, http.MethodPost, "/api/v1/risk/calculate", reader)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	svc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)

	rec = authorized(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := extractToken(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = extractToken(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "bearer abc.def.ghi")
	token, err := extractToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}
