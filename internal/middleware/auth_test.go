package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beastfood/server/internal/auth"
)

const gateTestSecret = "gate-secret-for-tests"

// signTestToken は検証器が受理するHS256トークンを生成する。
func signTestToken(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		UserID: userID,
		Role:   "user",
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return s
}

// principalEcho はコンテキストのPrincipal有無とsubjectを返すハンドラー。
func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			w.Write([]byte(p.Subject))
			return
		}
		w.Write([]byte("anonymous"))
	})
}

func newTestGate() *AuthGate {
	return NewAuthGate(auth.NewVerifier(gateTestSecret), testErrorWriter())
}

func TestAuthGate_Mandatory_ValidToken(t *testing.T) {
	h := newTestGate().Mandatory()(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, gateTestSecret, "42", time.Hour))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "42" {
		t.Errorf("subject = %q, want %q", got, "42")
	}
}

func TestAuthGate_Mandatory_MissingToken(t *testing.T) {
	h := newTestGate().Mandatory()(principalEcho())

	rr := doRequest(t, h, http.MethodGet, "/api/users/me", "10.0.0.1:1234")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("401 body is not valid JSON: %v", err)
	}
	if body.Error != "Token inválido" {
		t.Errorf("error = %q, want %q", body.Error, "Token inválido")
	}
}

func TestAuthGate_Mandatory_ExpiredToken(t *testing.T) {
	h := newTestGate().Mandatory()(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, gateTestSecret, "42", -time.Minute))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	// 期限切れはinvalidと区別された文言で返る
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("401 body is not valid JSON: %v", err)
	}
	if body.Error != "Token expirado" {
		t.Errorf("error = %q, want %q", body.Error, "Token expirado")
	}
}

func TestAuthGate_Mandatory_WrongSecret(t *testing.T) {
	h := newTestGate().Mandatory()(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "other-secret", "42", time.Hour))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestAuthGate_Optional_ValidToken(t *testing.T) {
	h := newTestGate().Optional()(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, gateTestSecret, "42", time.Hour))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "42" {
		t.Errorf("subject = %q, want %q", got, "42")
	}
}

func TestAuthGate_Optional_FailuresCollapseToAnonymous(t *testing.T) {
	h := newTestGate().Optional()(principalEcho())

	// トークン不在・不正・期限切れのいずれも匿名として続行する
	headers := map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-jwt",
		"expired": "Bearer " + signTestToken(t, gateTestSecret, "42", -time.Minute),
		"forged":  "Bearer " + signTestToken(t, "other-secret", "42", time.Hour),
	}

	for name, header := range headers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (optional mode must not reject)", rr.Code)
			}
			if got := rr.Body.String(); got != "anonymous" {
				t.Errorf("body = %q, want %q", got, "anonymous")
			}
		})
	}
}
