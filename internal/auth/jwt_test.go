package auth_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robalyx/resonance/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	verifier := auth.NewVerifier("secret", "resonance")

	token, err := verifier.Issue("user-1", time.Minute)
	require.NoError(t, err)

	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	verifier := auth.NewVerifier("secret", "resonance")

	expired, err := verifier.Issue("user-1", -time.Minute)
	require.NoError(t, err)

	otherSecret, err := auth.NewVerifier("other", "resonance").Issue("user-1", time.Minute)
	require.NoError(t, err)

	otherIssuer, err := auth.NewVerifier("secret", "elsewhere").Issue("user-1", time.Minute)
	require.NoError(t, err)

	noSubject, err := verifier.Issue("", time.Minute)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "user-1",
		Issuer:  "resonance",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	wrongMethod, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "resonance",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"other secret": otherSecret,
		"other issuer": otherIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"wrong method": wrongMethod,
		"garbage":      "not-a-token",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := verifier.Verify(token)
			require.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}

	_, err = verifier.Verify("")
	require.ErrorIs(t, err, auth.ErrMissingToken)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/ws?token=query", nil)
	assert.Equal(t, "query", auth.BearerToken(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", auth.BearerToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, auth.BearerToken(r))
}
