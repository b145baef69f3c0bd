package middleware

import (
	"context"
	"net/http"
	"time"
)

// NewTimeoutMiddleware はリクエスト処理時間の上限をコンテキストに設定する
// ミドルウェアを返す。上限超過またはクライアント切断のキャンセルは
// コンテキスト経由で下流へ伝播し、進行中のプール獲得待ちを放棄させる。
// 貸し出し済みの接続はハンドラー側のdeferされたReleaseで必ず返却される。
func NewTimeoutMiddleware(timeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
