// Package auth はJWTベアラートークンの検証とPrincipalの構築を提供する。
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beastfood/server/internal/apperr"
)

// Principal は検証済みトークンから導出された認証済みアイデンティティ。
// リクエストごとに構築され、永続化されず、レスポンス返却時に破棄される。
type Principal struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// Claims はアクセストークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Role はユーザーのロール（user / admin / restaurant_owner）。
	Role string `json:"role"`
}

// Verifier はアクセストークンの検証を行う。
// アクセストークン用の秘密鍵のみを保持する。リフレッシュトークンは
// 別の秘密鍵で署名された別クレデンシャルであり、このVerifierでは
// 決して受理されない。
type Verifier struct {
	accessSecret []byte
}

// NewVerifier はアクセストークン用秘密鍵からVerifierを生成する。
func NewVerifier(accessSecret string) *Verifier {
	return &Verifier{accessSecret: []byte(accessSecret)}
}

// VerifyAccess はベアラートークンを検証しPrincipalを返す。
// 署名不正・形式不正はKindAuthInvalid、期限切れはKindAuthExpiredの
// エラーを返す。エラー正規化のためサブ種別は保存される。
func (v *Verifier) VerifyAccess(tokenString string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return v.accessSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.NewAuthExpired(err)
		}
		return nil, apperr.NewAuthInvalid(err)
	}
	if !token.Valid {
		return nil, apperr.NewAuthInvalid(nil)
	}

	subject := claims.UserID
	if subject == "" {
		subject = claims.Subject
	}

	p := &Principal{
		Subject: subject,
		Role:    claims.Role,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// ParseBearer はAuthorizationヘッダーからベアラートークンを取り出す。
// ヘッダーが存在しない、またはBearerスキームでない場合は空文字列とfalseを返す。
func ParseBearer(authHeader string) (string, bool) {
	if authHeader == "" {
		return "", false
	}
	token, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
