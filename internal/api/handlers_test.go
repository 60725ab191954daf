package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tarpaulin/internal/apierr"
	"tarpaulin/internal/auth"
	"tarpaulin/internal/blob"
	"tarpaulin/internal/idp"
	"tarpaulin/internal/models"
	"tarpaulin/internal/storage"
)

const (
	testIssuer   = "https://tenant.test/"
	testAudience = "client-1"
	testKeyID    = "key-1"
)

type staticKeys struct {
	set idp.KeySet
}

func (s staticKeys) Keys(context.Context) (idp.KeySet, error) {
	return s.set, nil
}

type fakeLogin struct {
	token string
	err   error
}

func (f fakeLogin) Login(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type testEnv struct {
	handler    *Handler
	store      storage.Repository
	blob       *blob.MemoryStore
	key        *rsa.PrivateKey
	admin      models.User
	instructor models.User
	student    models.User
	student2   models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	keys := staticKeys{set: idp.KeySet{Keys: []idp.Key{{
		Kid: testKeyID,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}}}}

	store, err := storage.NewMemoryRepository("")
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	env := &testEnv{store: store, blob: blob.NewMemoryStore(), key: key}

	ctx := context.Background()
	seed := func(subject string, role models.Role) models.User {
		user, err := store.CreateUser(ctx, storage.CreateUserParams{Subject: subject, Role: role})
		if err != nil {
			t.Fatalf("CreateUser(%s): %v", subject, err)
		}
		return user
	}
	env.admin = seed("auth0|admin", models.RoleAdmin)
	env.instructor = seed("auth0|ada", models.RoleInstructor)
	env.student = seed("auth0|linus", models.RoleStudent)
	env.student2 = seed("auth0|grace", models.RoleStudent)

	verifier := auth.NewVerifier(keys, testIssuer, testAudience)
	guard := auth.NewGuard(verifier, store)
	env.handler = NewHandler(store, env.blob, guard, fakeLogin{token: "issued-token"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return env
}

func (e *testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(e.key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func (e *testEnv) request(t *testing.T, method, target string, body any, subject string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, subject))
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestLoginReturnsProviderToken(t *testing.T) {
	env := newTestEnv(t)

	req := env.request(t, http.MethodPost, "/users/login", map[string]string{
		"username": "ada@example.edu",
		"password": "hunter2",
	}, "")
	rec := httptest.NewRecorder()
	env.handler.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var response map[string]string
	decodeBody(t, rec, &response)
	if response["token"] != "issued-token" {
		t.Fatalf("expected issued token, got %q", response["token"])
	}
}

func TestLoginRejectsMissingCredentials(t *testing.T) {
	env := newTestEnv(t)

	req := env.request(t, http.MethodPost, "/users/login", map[string]string{"username": "ada"}, "")
	rec := httptest.NewRecorder()
	env.handler.Login(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestLoginPassesThroughProviderRejection(t *testing.T) {
	env := newTestEnv(t)
	env.handler.IDP = fakeLogin{err: apierr.Unauthorized("invalid credentials")}

	req := env.request(t, http.MethodPost, "/users/login", map[string]string{
		"username": "ada@example.edu",
		"password": "wrong",
	}, "")
	rec := httptest.NewRecorder()
	env.handler.Login(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestDecodeEchoesVerifiedClaims(t *testing.T) {
	env := newTestEnv(t)

	req := env.request(t, http.MethodGet, "/decode", nil, env.admin.Subject)
	rec := httptest.NewRecorder()
	env.handler.Decode(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var claims map[string]any
	decodeBody(t, rec, &claims)
	if claims["sub"] != env.admin.Subject {
		t.Fatalf("expected sub %q, got %v", env.admin.Subject, claims["sub"])
	}
}

func TestDecodeRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	req := env.request(t, http.MethodGet, "/decode", nil, "")
	rec := httptest.NewRecorder()
	env.handler.Decode(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}
