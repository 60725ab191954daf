// Package auth implements the request authorization pipeline: bearer token
// verification against the identity provider's published keys, and the role
// checks layered on top of the verified subject claim.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/idp"
)

// KeySource supplies the identity provider's current signing keys. The
// verifier calls it on every verification; any caching policy belongs to the
// implementation, and the default (idp.Client) applies none.
type KeySource interface {
	Keys(ctx context.Context) (idp.KeySet, error)
}

// Claims is the decoded, verified claim set of a bearer token.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expiry   time.Time
	Raw      map[string]any
}

// Verifier checks bearer tokens: RS256 signature against a provider key
// matched by kid, plus issuer, audience, and expiry.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
	now      func() time.Time
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier constructs a Verifier expecting tokens issued by issuer for
// audience, signed with a key published by keys.
func NewVerifier(keys KeySource, issuer, audience string, opts ...VerifierOption) *Verifier {
	v := &Verifier{keys: keys, issuer: issuer, audience: audience, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var errUnknownKeyID = errors.New("token key id does not match any published key")

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", apierr.Unauthorized("authorization header is missing")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", apierr.Unauthorized("authorization header is not a bearer token")
	}
	return parts[1], nil
}

// VerifyRequest verifies the bearer token carried by the request.
func (v *Verifier) VerifyRequest(r *http.Request) (Claims, error) {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return Claims{}, err
	}
	return v.Verify(r.Context(), token)
}

// Verify checks a raw token and returns its claims. Failures are
// unauthorized with a reason naming the first failed check; only a key-set
// fetch failure surfaces as an internal error.
func (v *Verifier) Verify(ctx context.Context, raw string) (Claims, error) {
	keys, err := v.keys.Keys(ctx)
	if err != nil {
		return Claims{}, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errUnknownKeyID
		}
		key, ok := keys.Lookup(kid)
		if !ok {
			return nil, errUnknownKeyID
		}
		return key.RSAPublicKey()
	})
	if err != nil {
		return Claims{}, classifyTokenError(err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Claims{}, apierr.Unauthorized("token has no subject claim")
	}
	issuer, _ := claims.GetIssuer()
	audience, _ := claims.GetAudience()
	expiry, _ := claims.GetExpirationTime()

	verified := Claims{
		Subject:  subject,
		Issuer:   issuer,
		Audience: append([]string(nil), audience...),
		Raw:      map[string]any(claims),
	}
	if expiry != nil {
		verified.Expiry = expiry.Time
	}
	return verified, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apierr.Wrap(err, apierr.CodeUnauthorized, "token is expired")
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apierr.Wrap(err, apierr.CodeUnauthorized, "token audience or issuer mismatch")
	case errors.Is(err, errUnknownKeyID):
		return apierr.Wrap(err, apierr.CodeUnauthorized, "token key id does not match any published key")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apierr.Wrap(err, apierr.CodeUnauthorized, "token signature or signing algorithm rejected")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apierr.Wrap(err, apierr.CodeUnauthorized, "token could not be parsed")
	default:
		return apierr.Wrap(err, apierr.CodeUnauthorized, "token verification failed")
	}
}
