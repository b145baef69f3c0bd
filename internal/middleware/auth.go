package middleware

import (
	"errors"
	"net/http"

	"github.com/beastfood/server/internal/apperr"
	"github.com/beastfood/server/internal/auth"
)

// errMissingToken はベアラートークンが提示されなかったことを表す。
var errMissingToken = errors.New("missing bearer token")

// AuthGate はベアラートークン検証のミドルウェアを提供する。
// ルートグループごとに必須モードと任意モードを選択する。
type AuthGate struct {
	verifier *auth.Verifier
	errors   *ErrorWriter
}

// NewAuthGate はAuthGateを生成する。
func NewAuthGate(v *auth.Verifier, ew *ErrorWriter) *AuthGate {
	return &AuthGate{verifier: v, errors: ew}
}

// verify はリクエストからPrincipalを導出する。
// トークン不在はerrMissingToken、検証失敗はapperrの401系エラーを返す。
func (g *AuthGate) verify(r *http.Request) (*auth.Principal, error) {
	token, ok := auth.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		return nil, errMissingToken
	}
	return g.verifier.VerifyAccess(token)
}

// Mandatory は必須認証ミドルウェアを返す。
// トークンの不在・形式不正・署名不正・期限切れはすべて
// ビジネスハンドラーに到達する前に401で終了する。
// invalidとexpiredのサブ種別はエラー正規化まで保存される。
func (g *AuthGate) Mandatory() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := g.verify(r)
			if err != nil {
				if errors.Is(err, errMissingToken) {
					err = apperr.NewAuthInvalid(err)
				}
				g.errors.WriteError(w, r, err)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional は任意認証ミドルウェアを返す。
// トークンの不在およびあらゆる検証失敗は黙って握りつぶし、
// Principalを付与せずにリクエストを続行する。
// 認証済みの場合に出力をパーソナライズしつつ匿名アクセスも許す
// エンドポイント用のモードである。
func (g *AuthGate) Optional() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 検証結果を「Principalの有無」へ明示的に畳み込む。
			// エラーの種別に関わらず未認証として続行する。
			principal, err := g.verify(r)
			if err != nil {
				principal = nil
			}

			if principal != nil {
				r = r.WithContext(ContextWithPrincipal(r.Context(), principal))
			}
			next.ServeHTTP(w, r)
		})
	}
}
