package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beastfood/server/internal/auth"
	"github.com/beastfood/server/internal/middleware"
)

const routerTestSecret = "router-test-secret"

// newTestRouter はテスト用依存を組み立てたルーターを返す。
func newTestRouter(t *testing.T, routes []RouteGroup) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ew := middleware.NewErrorWriter(false, logger)
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Window:          time.Minute,
		GeneralMax:      100,
		AuthMax:         100,
		LoginMax:        100,
		CleanupInterval: time.Hour,
	}, ew, nil)
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		OriginPolicy:   middleware.NewOriginPolicy(false, nil),
		RateLimiter:    rl,
		AuthGate:       middleware.NewAuthGate(auth.NewVerifier(routerTestSecret), ew),
		ErrorWriter:    ew,
		RequestTimeout: 25 * time.Second,
		MaxBodyBytes:   10 << 20,
		CacheEnable:    true,
		CacheMaxAge:    300,
		Routes:         routes,
	})
}

func routerToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		UserID: "42",
		Role:   "user",
	})
	s, err := token.SignedString([]byte(routerTestSecret))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return s
}

func TestRouter_HealthEndpoint(t *testing.T) {
	h := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body struct {
		Status  string   `json:"status"`
		Message string   `json:"message"`
		Version string   `json:"version"`
		Modules []string `json:"modules"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body is not valid JSON: %v", err)
	}
	if body.Status != "OK" {
		t.Errorf("status = %q, want OK", body.Status)
	}
	if body.Message != "BeastFood API funcionando!" {
		t.Errorf("message = %q, want the fixed health message", body.Message)
	}
	if body.Version != Version {
		t.Errorf("version = %q, want %q", body.Version, Version)
	}
	if len(body.Modules) == 0 {
		t.Error("expected modules list in health response")
	}
}

func TestRouter_NotFoundContract(t *testing.T) {
	h := newTestRouter(t, CanonicalRoutes(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/does-not-exist", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}

	var body struct {
		Error           string   `json:"error"`
		AvailableRoutes []string `json:"availableRoutes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("404 body is not valid JSON: %v", err)
	}
	if body.Error != "Rota não encontrada" {
		t.Errorf("error = %q, want %q", body.Error, "Rota não encontrada")
	}

	routes := make(map[string]bool, len(body.AvailableRoutes))
	for _, r := range body.AvailableRoutes {
		routes[r] = true
	}
	for _, want := range []string{"/api/auth", "/api/restaurants", "/api/posts", "/api/health"} {
		if !routes[want] {
			t.Errorf("availableRoutes missing %q", want)
		}
	}
	// 内部向けルートは一覧に載せない
	if routes["/api/notifications"] {
		t.Error("availableRoutes must not expose /api/notifications")
	}
}

func TestRouter_MandatoryGroupRejectsAnonymous(t *testing.T) {
	h := newTestRouter(t, []RouteGroup{
		{Prefix: "/api/users", Auth: AuthMandatory, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without token", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+routerToken(t, time.Hour))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with valid token", rr.Code)
	}
}

func TestRouter_OptionalGroupServesAnonymous(t *testing.T) {
	h := newTestRouter(t, []RouteGroup{
		{Prefix: "/api/posts", Auth: AuthOptional, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
				w.Write([]byte(p.Subject))
				return
			}
			w.Write([]byte("anonymous"))
		})},
	})

	// トークン無し: 匿名として通る
	req := httptest.NewRequest(http.MethodGet, "/api/posts/1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "anonymous" {
		t.Errorf("anonymous request: (%d, %q), want (200, anonymous)", rr.Code, rr.Body.String())
	}

	// 有効トークン: Principalが付与される
	req = httptest.NewRequest(http.MethodGet, "/api/posts/1", nil)
	req.Header.Set("Authorization", "Bearer "+routerToken(t, time.Hour))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "42" {
		t.Errorf("authenticated request: (%d, %q), want (200, 42)", rr.Code, rr.Body.String())
	}
}

func TestRouter_UnmountedGroupReturns404(t *testing.T) {
	// ハンドラー未提供のグループはマウントされず404になる
	h := newTestRouter(t, CanonicalRoutes(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/restaurants", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for contract-only group", rr.Code)
	}
}

func TestRouter_PreflightNeverReachesAuthGate(t *testing.T) {
	h := newTestRouter(t, []RouteGroup{
		{Prefix: "/api/users", Auth: AuthMandatory, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})},
	})

	// プリフライトはトークン無しでも401にならず204で短絡する
	req := httptest.NewRequest(http.MethodOptions, "/api/users/me", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rr.Code)
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	h := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestCanonicalRoutes_ContractShape(t *testing.T) {
	groups := CanonicalRoutes(nil)

	byPrefix := make(map[string]RouteGroup, len(groups))
	for _, g := range groups {
		byPrefix[g.Prefix] = g
	}

	tests := []struct {
		prefix string
		auth   AuthMode
	}{
		{"/api/auth", AuthNone},
		{"/api/users", AuthMandatory},
		{"/api/restaurants", AuthOptional},
		{"/api/posts", AuthOptional},
		{"/api/likes", AuthMandatory},
		{"/api/favorites", AuthMandatory},
		{"/api/notifications", AuthMandatory},
	}
	for _, tt := range tests {
		g, ok := byPrefix[tt.prefix]
		if !ok {
			t.Errorf("missing canonical group %q", tt.prefix)
			continue
		}
		if g.Auth != tt.auth {
			t.Errorf("%s: auth = %v, want %v", tt.prefix, g.Auth, tt.auth)
		}
	}

	if !byPrefix["/api/notifications"].Unlisted {
		t.Error("/api/notifications must be unlisted")
	}
	if byPrefix["/api/restaurants"].Unlisted {
		t.Error("/api/restaurants must be listed")
	}
}
