package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/storefront/storefront-backend/pkg/config"
	"github.com/storefront/storefront-backend/pkg/errors"
	"github.com/storefront/storefront-backend/pkg/httputil"
	"github.com/storefront/storefront-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVerifier() *Verifier {
	return NewVerifier(&config.JWTConfig{Secret: "test-secret", Issuer: "storefront"})
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := testVerifier()

	token, err := v.Sign("admin-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", claims.AdminID)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestVerifier_Rejects(t *testing.T) {
	v := testVerifier()

	expired, err := v.Sign("admin-1", RoleAdmin, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewVerifier(&config.JWTConfig{Secret: "other", Issuer: "storefront"}).
		Sign("admin-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier(&config.JWTConfig{Secret: "test-secret", Issuer: "elsewhere"}).
		Sign("admin-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{AdminID: "admin-1", Role: RoleAdmin}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		target error
	}{
		{"expired", expired, errors.ErrTokenExpired},
		{"wrong secret", otherSecret, errors.ErrTokenInvalid},
		{"wrong issuer", otherIssuer, errors.ErrTokenInvalid},
		{"none algorithm", noneAlg, errors.ErrTokenInvalid},
		{"garbage", "not-a-token", errors.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateAccessToken(tt.token)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	v := testVerifier()
	adminToken, err := v.Sign("admin-1", RoleAdmin, time.Hour)
	require.NoError(t, err)
	staffToken, err := v.Sign("staff-1", RoleStaff, time.Hour)
	require.NoError(t, err)

	var seenAdmin string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAdmin = httputil.GetAdminID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := AdminAuth(v, logger.Nop(), RoleAdmin)(next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + adminToken, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"role not allowed", "Bearer " + staffToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusNoContent},
		{"lower-case scheme", "bearer " + adminToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenAdmin = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "admin-1", seenAdmin)
			} else {
				assert.Empty(t, seenAdmin)
			}
		})
	}
}
