package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTService_IssueAndValidate(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret: "test-secret",
		Issuer: "parley-test",
		Clock:  func() time.Time { return now },
	})
	require.NoError(t, err)

	token, err := svc.Issue("user-1", "user@example.com", "User One")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "user@example.com", claims.Email)
	require.Equal(t, "parley-test", claims.Issuer)
}

func TestJWTService_RejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret:   "test-secret",
		TokenTTL: time.Minute,
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)

	token, err := svc.Issue("user-1", "", "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.Validate(token)
	require.Error(t, err)
}

func TestJWTService_RejectsForeignIssuerAndSecret(t *testing.T) {
	issuerA, err := NewJWTService(JWTConfig{Secret: "secret-a", Issuer: "a"})
	require.NoError(t, err)
	issuerB, err := NewJWTService(JWTConfig{Secret: "secret-a", Issuer: "b"})
	require.NoError(t, err)
	otherSecret, err := NewJWTService(JWTConfig{Secret: "secret-c", Issuer: "a"})
	require.NoError(t, err)

	token, err := issuerA.Issue("user-1", "", "")
	require.NoError(t, err)

	_, err = issuerB.Validate(token)
	require.Error(t, err)
	_, err = otherSecret.Validate(token)
	require.Error(t, err)
}

func TestNewJWTService_RequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
}
