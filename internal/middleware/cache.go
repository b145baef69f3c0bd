package middleware

import (
	"fmt"
	"net/http"
	"strings"
)

// NewUploadCacheMiddleware はアップロード済み静的ファイルのGETレスポンスに
// Cache-Controlヘッダーを付与するミドルウェアを返す。
// キャッシュが無効化されている場合はヘッダーを付けずに素通しする。
func NewUploadCacheMiddleware(enabled bool, maxAge int) func(next http.Handler) http.Handler {
	value := fmt.Sprintf("public, max-age=%d", maxAge)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enabled && r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/uploads/") {
				w.Header().Set("Cache-Control", value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
