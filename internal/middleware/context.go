// Package middleware はHTTPリクエスト処理パイプラインのミドルウェアを提供する。
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/beastfood/server/internal/auth"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにPrincipalを格納するためのキー。
var principalContextKey = contextKey("principal")

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// 認証ゲートを通過していない、または任意認証で未認証の場合はnilとfalseを返す。
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*auth.Principal)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
// テストや認証ゲート以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// ClientKey はレート制限用のクライアント識別子を返す。
// 認証済みであればPrincipalのsubject、そうでなければリモートIPを使用する。
// リバースプロキシ背後での運用を想定しX-Forwarded-Forの先頭を優先する。
func ClientKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.Subject
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
