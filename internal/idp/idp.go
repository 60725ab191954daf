// Package idp talks to the external identity provider: it proxies password
// credentials to the provider's token endpoint and fetches the provider's
// published signing keys. All state lives in the provider; this client is a
// thin, injectable wrapper around its HTTP surface.
package idp

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"tarpaulin/internal/apierr"
)

const defaultRequestTimeout = 10 * time.Second

// Config identifies the tenant at the identity provider. Domain is the bare
// host (for example tenant.auth0.com); issuer and endpoint URLs are derived
// from it.
type Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
}

// Validate reports whether the configuration is usable.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Domain) == "" {
		return fmt.Errorf("identity provider domain is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("identity provider client id is required")
	}
	return nil
}

// Issuer returns the issuer string the provider places in tokens. The
// trailing slash is part of the claim value.
func (cfg Config) Issuer() string {
	return "https://" + strings.TrimSpace(cfg.Domain) + "/"
}

func (cfg Config) tokenURL() string {
	return "https://" + strings.TrimSpace(cfg.Domain) + "/oauth/token"
}

func (cfg Config) jwksURL() string {
	return "https://" + strings.TrimSpace(cfg.Domain) + "/.well-known/jwks.json"
}

// Client drives the identity provider's token and JWKS endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokenURL   string
	jwksURL    string
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEndpoints overrides the derived token and JWKS URLs. Tests point these
// at local servers.
func WithEndpoints(tokenURL, jwksURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(tokenURL) != "" {
			c.tokenURL = tokenURL
		}
		if strings.TrimSpace(jwksURL) != "" {
			c.jwksURL = jwksURL
		}
	}
}

// NewClient constructs a provider client from the tenant configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		tokenURL:   cfg.tokenURL(),
		jwksURL:    cfg.jwksURL(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Issuer exposes the expected token issuer.
func (c *Client) Issuer() string {
	return c.cfg.Issuer()
}

// Audience exposes the expected token audience.
func (c *Client) Audience() string {
	return c.cfg.ClientID
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type tokenResponse struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login exchanges the submitted credentials for a token via the provider's
// password grant. Provider rejections surface as unauthorized; transport
// failures surface as internal errors.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	payload, err := json.Marshal(tokenRequest{
		GrantType:    "password",
		Username:     username,
		Password:     password,
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})
	if err != nil {
		return "", apierr.Wrap(err, apierr.CodeInternal, "encode token request")
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", apierr.Wrap(err, apierr.CodeInternal, "build token request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", apierr.Wrap(err, apierr.CodeInternal, "identity provider unreachable")
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", apierr.Wrap(err, apierr.CodeInternal, "read token response")
	}
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return "", apierr.Unauthorized("invalid credentials")
	default:
		return "", apierr.Internal("identity provider returned status %d", response.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", apierr.Wrap(err, apierr.CodeInternal, "decode token response")
	}
	issued := token.IDToken
	if issued == "" {
		issued = token.AccessToken
	}
	if issued == "" {
		return "", apierr.Internal("identity provider returned no token")
	}
	return issued, nil
}

// KeySet is the provider's published JWKS document.
type KeySet struct {
	Keys []Key `json:"keys"`
}

// Key is a single JSON Web Key. Only RSA signing keys are used.
type Key struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Lookup returns the key with the given id.
func (ks KeySet) Lookup(kid string) (Key, bool) {
	for _, key := range ks.Keys {
		if key.Kid == kid {
			return key, true
		}
	}
	return Key{}, false
}

// RSAPublicKey reconstructs the public key from the base64url modulus and
// exponent.
func (k Key) RSAPublicKey() (*rsa.PublicKey, error) {
	if !strings.EqualFold(k.Kty, "RSA") {
		return nil, fmt.Errorf("key %s is not an RSA key", k.Kid)
	}
	modulus, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus for key %s: %w", k.Kid, err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent for key %s: %w", k.Kid, err)
	}
	if len(modulus) == 0 || len(exponent) == 0 {
		return nil, fmt.Errorf("key %s has an empty modulus or exponent", k.Kid)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulus),
		E: int(new(big.Int).SetBytes(exponent).Int64()),
	}, nil
}

// Keys fetches the provider's current key set. The set is deliberately not
// cached: every verification sees the provider's live keys, so rotation
// takes effect immediately.
func (c *Client) Keys(ctx context.Context) (KeySet, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return KeySet{}, apierr.Wrap(err, apierr.CodeInternal, "build jwks request")
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return KeySet{}, apierr.Wrap(err, apierr.CodeInternal, "identity provider unreachable")
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return KeySet{}, apierr.Internal("jwks endpoint returned status %d", response.StatusCode)
	}
	var keys KeySet
	if err := json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(&keys); err != nil {
		return KeySet{}, apierr.Wrap(err, apierr.CodeInternal, "decode jwks document")
	}
	return keys, nil
}
