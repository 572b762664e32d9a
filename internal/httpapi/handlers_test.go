package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aegisx/internal/apikey"
	"aegisx/internal/audit"
	"aegisx/internal/auth"
	"aegisx/internal/config"
	"aegisx/internal/identity"
	"aegisx/internal/password"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}, auth.NewMemoryRefreshStore())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	deny := auth.NewMemoryDenylist()
	events := audit.NewEmitter(audit.NewMemoryRepo(), nil)

	identitySvc := identity.NewService(
		identity.NewMemoryUserStore(),
		tokens,
		password.NewHasher(config.PasswordConfig{BcryptCost: 4}),
		password.Policy{MinLength: 8, RequireUpper: true, RequireLower: true, RequireDigit: true},
		deny,
		events,
		nil,
		nil,
	)
	apiKeySvc := apikey.NewService(apikey.NewMemoryRepo(), config.APIKeyConfig{})

	h := Handlers{Identity: identitySvc, APIKeys: apiKeySvc, Events: events}

	r := gin.New()
	r.POST("/v1/auth/register", h.Register)
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)
	r.POST("/v1/auth/logout", h.Logout)

	authMW := auth.RequireAccessToken(tokens, deny)
	r.GET("/v1/me", authMW, h.Me)
	r.POST("/v1/apikeys", authMW, h.CreateAPIKey)
	r.GET("/v1/apikeys", authMW, h.ListAPIKeys)
	r.DELETE("/v1/apikeys/:key_id", authMW, h.RevokeAPIKey)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body, bearer string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var parsed map[string]any
	if len(w.Body.Bytes()) > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w, parsed
}

const registerBody = `{"email":"ada@example.com","password":"Sup3rsecret","first_name":"Ada","last_name":"Lovelace"}`

func TestRegisterAndLoginOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/v1/auth/register", registerBody, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d body=%s", w.Code, w.Body.String())
	}
	if body["email"] != "ada@example.com" {
		t.Fatalf("unexpected profile: %v", body)
	}

	// Duplicate registration conflicts.
	w, _ = doJSON(t, r, http.MethodPost, "/v1/auth/register", registerBody, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d, want 409", w.Code)
	}

	w, body = doJSON(t, r, http.MethodPost, "/v1/auth/login", `{"email":"ada@example.com","password":"Sup3rsecret"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d body=%s", w.Code, w.Body.String())
	}
	access, _ := body["access_token"].(string)
	if access == "" {
		t.Fatalf("no access token in response")
	}

	w, body = doJSON(t, r, http.MethodGet, "/v1/me", "", access)
	if w.Code != http.StatusOK || body["email"] != "ada@example.com" {
		t.Fatalf("me = %d body=%s", w.Code, w.Body.String())
	}
}

func TestLoginFailureIsUniform401(t *testing.T) {
	r := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/auth/register", registerBody, "")

	wUnknown, bodyUnknown := doJSON(t, r, http.MethodPost, "/v1/auth/login", `{"email":"ghost@example.com","password":"Sup3rsecret"}`, "")
	wWrong, bodyWrong := doJSON(t, r, http.MethodPost, "/v1/auth/login", `{"email":"ada@example.com","password":"Wr0ngpassword"}`, "")

	if wUnknown.Code != http.StatusUnauthorized || wWrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wUnknown.Code, wWrong.Code)
	}
	if bodyUnknown["error"] != bodyWrong["error"] {
		t.Fatalf("failure bodies must not differ: %v vs %v", bodyUnknown, bodyWrong)
	}
}

func TestWeakPasswordIs422WithViolations(t *testing.T) {
	r := newTestRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/v1/auth/register",
		`{"email":"b@example.com","password":"weak","first_name":"B","last_name":"C"}`, "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("weak password = %d, want 422", w.Code)
	}
	if v, ok := body["violations"].([]any); !ok || len(v) == 0 {
		t.Fatalf("expected violations listed, got %v", body)
	}
}

func TestLogoutKillsAccessToken(t *testing.T) {
	r := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/auth/register", registerBody, "")
	_, body := doJSON(t, r, http.MethodPost, "/v1/auth/login", `{"email":"ada@example.com","password":"Sup3rsecret"}`, "")
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/auth/logout", `{"refresh_token":"`+refresh+`"}`, access)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout = %d", w.Code)
	}

	// The denylisted access token no longer works.
	w, _ = doJSON(t, r, http.MethodGet, "/v1/me", "", access)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", w.Code)
	}

	// And the refresh token was consumed.
	w, _ = doJSON(t, r, http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d, want 401", w.Code)
	}
}

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/auth/register", registerBody, "")
	_, body := doJSON(t, r, http.MethodPost, "/v1/auth/login", `{"email":"ada@example.com","password":"Sup3rsecret"}`, "")
	access := body["access_token"].(string)

	w, body := doJSON(t, r, http.MethodPost, "/v1/apikeys", `{"name":"ci","scopes":["read:*"]}`, access)
	if w.Code != http.StatusCreated {
		t.Fatalf("create key = %d body=%s", w.Code, w.Body.String())
	}
	plaintext, _ := body["key"].(string)
	if !strings.HasPrefix(plaintext, "ak_") {
		t.Fatalf("missing plaintext key in response: %v", body)
	}
	meta := body["metadata"].(map[string]any)
	keyID := meta["id"].(string)

	// Listing never returns the plaintext.
	w, _ = doJSON(t, r, http.MethodGet, "/v1/apikeys", "", access)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), plaintext) {
		t.Fatalf("plaintext key leaked in listing")
	}

	w, _ = doJSON(t, r, http.MethodDelete, "/v1/apikeys/"+keyID, "", access)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke = %d", w.Code)
	}

	// Revoking someone else's (unknown) key is a 404, not a 403.
	w, _ = doJSON(t, r, http.MethodDelete, "/v1/apikeys/does-not-exist", "", access)
	if w.Code != http.StatusNotFound {
		t.Fatalf("revoke unknown = %d, want 404", w.Code)
	}
}
