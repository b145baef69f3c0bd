package middleware

import (
	"net/http"
	"strings"
)

// CORSで許可するメソッドとヘッダー。旧APIと同一の集合を維持する。
const (
	corsAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, X-Requested-With, Cache-Control, Pragma, Expires"
	corsExposeHeaders = "Cache-Control, ETag"
	corsMaxAge        = "86400"
)

// OriginPolicy は呼び出し元オリジンの許可判定を行う。
// プロセス起動時にデプロイ環境から2状態のいずれかに固定され、
// 以後遷移しない: Open（非production: 任意のオリジンを許可）、
// Restricted（production: 明示的な許可集合のみ）。
type OriginPolicy struct {
	open    bool
	allowed map[string]struct{}
}

// NewOriginPolicy はOriginPolicyを生成する。
// production時はallowedOriginsの集合のみを許可し、
// それ以外では任意のオリジンを反射して許可する。
func NewOriginPolicy(production bool, allowedOrigins []string) *OriginPolicy {
	p := &OriginPolicy{open: !production}
	if !p.open {
		p.allowed = make(map[string]struct{}, len(allowedOrigins))
		for _, o := range allowedOrigins {
			p.allowed[strings.TrimRight(o, "/")] = struct{}{}
		}
	}
	return p
}

// Allows はオリジンが許可されているかを返す。
func (p *OriginPolicy) Allows(origin string) bool {
	if p.open {
		return true
	}
	_, ok := p.allowed[strings.TrimRight(origin, "/")]
	return ok
}

// Middleware はCORSヘッダーを付与するミドルウェアを返す。
// OPTIONSプリフライトリクエストはここで直接204応答し、
// レートリミッターと認証ゲートには決して到達させない。
// ブラウザのプリフライトがレート制限枠を消費したり
// 認証エラーを誘発したりしないための意図的な短絡である。
func (p *OriginPolicy) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && p.Allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
				w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			}
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
