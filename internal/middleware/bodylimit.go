package middleware

import "net/http"

// NewBodyLimitMiddleware はリクエストボディのサイズ上限を強制する
// ミドルウェアを返す。上限超過の読み取りはhttp.MaxBytesErrorとなり、
// JSONデコード時に検証エラーとしてハンドラーに表面化する。
func NewBodyLimitMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
