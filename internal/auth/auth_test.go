package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	s := NewSigner("beaconattend", "secret")
	pair, err := s.Issue("scanner-1", RoleScanner, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := s.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "scanner-1", claims.Subject)
	assert.Equal(t, RoleScanner, claims.Role)
	assert.Equal(t, TypeAccess, claims.Type)
}

func TestIssueSameSecondGivesDistinctTokens(t *testing.T) {
	s := NewSigner("beaconattend", "secret")
	fixed := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a, err := s.Issue("scanner-9", RoleScanner, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	b, err := s.Issue("scanner-9", RoleScanner, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
	assert.NotEqual(t, a.AccessToken, b.AccessToken)
}

func TestParseAsChecksTokenType(t *testing.T) {
	s := NewSigner("beaconattend", "secret")
	pair, err := s.Issue("scanner-1", RoleScanner, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	claims, err := s.ParseAs(pair.RefreshToken, TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, claims.Type)

	_, err = s.ParseAs(pair.RefreshToken, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.ParseAs(pair.AccessToken, TypeRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejects(t *testing.T) {
	s := NewSigner("beaconattend", "secret")
	good, err := s.Issue("x", RoleAdmin, time.Hour, time.Hour)
	require.NoError(t, err)

	expired := NewSigner("beaconattend", "secret")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue("x", RoleAdmin, time.Hour, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		signer *Signer
		token  string
	}{
		{name: "wrong key", signer: NewSigner("beaconattend", "other"), token: good.AccessToken},
		{name: "wrong issuer", signer: NewSigner("someone-else", "secret"), token: good.AccessToken},
		{name: "expired", signer: s, token: old.AccessToken},
		{name: "garbage", signer: s, token: "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.signer.Parse(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewSigner("beaconattend", "secret")
	scanner, err := s.Issue("scanner-1", RoleScanner, time.Hour, time.Hour)
	require.NoError(t, err)
	admin, err := s.Issue("ops", RoleAdmin, time.Hour, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.DELETE("/admin", Bearer(s), RequireRole(RoleAdmin), func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.String(http.StatusOK, claims.Subject)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", header: "", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + admin.RefreshToken, want: http.StatusUnauthorized},
		{name: "scanner role", header: "Bearer " + scanner.AccessToken, want: http.StatusForbidden},
		{name: "admin role", header: "bearer " + admin.AccessToken, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
