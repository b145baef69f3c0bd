package handler

import (
	"encoding/json"
	"net/http"
)

// notFoundResponse は未定義ルートへの404レスポンス形式。
// availableRoutesは呼び出し元が再試行できるルートグループの一覧であり、
// 発見可能性の補助であってセキュリティ境界ではない。
type notFoundResponse struct {
	Error           string   `json:"error"`
	AvailableRoutes []string `json:"availableRoutes"`
}

// NewNotFoundHandler は404コントラクトのハンドラーを返す。
func NewNotFoundHandler(available []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(notFoundResponse{
			Error:           "Rota não encontrada",
			AvailableRoutes: available,
		})
	}
}
