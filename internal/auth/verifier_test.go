package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/idp"
)

const (
	testIssuer   = "https://tenant.test/"
	testAudience = "client-1"
	testKeyID    = "key-1"
)

type staticKeys struct {
	set idp.KeySet
	err error
}

func (s staticKeys) Keys(ctx context.Context) (idp.KeySet, error) {
	return s.set, s.err
}

func newSigningKey(t *testing.T) (*rsa.PrivateKey, staticKeys) {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	set := idp.KeySet{Keys: []idp.Key{{
		Kid: testKeyID,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(private.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(private.PublicKey.E)).Bytes()),
	}}}
	return private, staticKeys{set: set}
}

type tokenOverrides struct {
	kid      string
	issuer   string
	audience string
	expiry   time.Time
	subject  string
}

func signToken(t *testing.T, key *rsa.PrivateKey, o tokenOverrides) string {
	t.Helper()
	if o.kid == "" {
		o.kid = testKeyID
	}
	if o.issuer == "" {
		o.issuer = testIssuer
	}
	if o.audience == "" {
		o.audience = testAudience
	}
	if o.expiry.IsZero() {
		o.expiry = time.Now().Add(time.Hour)
	}
	if o.subject == "" {
		o.subject = "auth0|alice"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": o.issuer,
		"aud": o.audience,
		"sub": o.subject,
		"exp": o.expiry.Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})
	token.Header["kid"] = o.kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/decode", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestVerifyRequestMissingHeader(t *testing.T) {
	_, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	_, err := verifier.VerifyRequest(requestWithToken(""))
	require.True(t, apierr.IsUnauthorized(err))
	assert.Contains(t, apierr.Message(err), "missing")
}

func TestVerifyRequestMalformedHeader(t *testing.T) {
	_, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	r := httptest.NewRequest(http.MethodGet, "/decode", nil)
	r.Header.Set("Authorization", "Token abc")
	_, err := verifier.VerifyRequest(r)
	assert.True(t, apierr.IsUnauthorized(err))
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	key, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	claims, err := verifier.VerifyRequest(requestWithToken(signToken(t, key, tokenOverrides{subject: "auth0|bob"})))
	require.NoError(t, err)
	assert.Equal(t, "auth0|bob", claims.Subject)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Contains(t, claims.Audience, testAudience)
	assert.False(t, claims.Expiry.IsZero())
	assert.Equal(t, "auth0|bob", claims.Raw["sub"])
}

func TestVerifyRejectsHS256(t *testing.T) {
	_, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "auth0|alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = verifier.VerifyRequest(requestWithToken(signed))
	require.True(t, apierr.IsUnauthorized(err))
	assert.Contains(t, apierr.Message(err), "algorithm")
}

func TestVerifyRejectsUnknownKeyID(t *testing.T) {
	key, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	_, err := verifier.VerifyRequest(requestWithToken(signToken(t, key, tokenOverrides{kid: "rotated-away"})))
	require.True(t, apierr.IsUnauthorized(err))
	assert.Contains(t, apierr.Message(err), "key id")
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	_, err := verifier.VerifyRequest(requestWithToken(signToken(t, key, tokenOverrides{expiry: time.Now().Add(-time.Hour)})))
	require.True(t, apierr.IsUnauthorized(err))
	assert.Contains(t, apierr.Message(err), "expired")
}

func TestVerifyRejectsClaimMismatch(t *testing.T) {
	key, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	for name, o := range map[string]tokenOverrides{
		"wrong audience": {audience: "other-client"},
		"wrong issuer":   {issuer: "https://other.test/"},
	} {
		_, err := verifier.VerifyRequest(requestWithToken(signToken(t, key, o)))
		require.True(t, apierr.IsUnauthorized(err), name)
		assert.Contains(t, apierr.Message(err), "mismatch", name)
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	_, keys := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	_, err := verifier.VerifyRequest(requestWithToken("not-a-jwt"))
	assert.True(t, apierr.IsUnauthorized(err))
}

func TestVerifyRejectsWrongSigningKey(t *testing.T) {
	_, keys := newSigningKey(t)
	other, _ := newSigningKey(t)
	verifier := NewVerifier(keys, testIssuer, testAudience)

	_, err := verifier.VerifyRequest(requestWithToken(signToken(t, other, tokenOverrides{})))
	assert.True(t, apierr.IsUnauthorized(err))
}

func TestVerifyPropagatesKeyFetchFailure(t *testing.T) {
	key, _ := newSigningKey(t)
	verifier := NewVerifier(staticKeys{err: apierr.Internal("identity provider unreachable")}, testIssuer, testAudience)

	_, err := verifier.VerifyRequest(requestWithToken(signToken(t, key, tokenOverrides{})))
	require.Error(t, err)
	assert.Equal(t, apierr.CodeInternal, apierr.GetCode(err))
}

func TestVerifyUsesInjectedClock(t *testing.T) {
	key, keys := newSigningKey(t)
	frozen := time.Now().Add(48 * time.Hour)
	verifier := NewVerifier(keys, testIssuer, testAudience, WithClock(func() time.Time { return frozen }))

	_, err := verifier.VerifyRequest(requestWithToken(signToken(t, key, tokenOverrides{})))
	require.True(t, apierr.IsUnauthorized(err))
	assert.Contains(t, apierr.Message(err), "expired")
}
