package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// Version はAPIのバージョン。旧API互換のためヘルスレスポンスに含める。
const Version = "2.3.0"

// healthModules はヘルスレスポンスで広告するモジュール一覧。
var healthModules = []string{
	"auth",
	"users",
	"estabelecimentos",
	"osm-estabelecimentos",
	"google-places",
	"ai-restaurant-search",
	"restaurants",
	"posts",
	"comments",
	"likes",
	"favorites",
}

// healthResponse はlivenessエンドポイントの固定レスポンス形式。
type healthResponse struct {
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Version   string   `json:"version"`
	Modules   []string `json:"modules"`
}

// HandleHealth はlivenessエンドポイントのハンドラー。
// レート制限や認証の状態に関わらず常に200を返す。
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "OK",
		Message:   "BeastFood API funcionando!",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		Modules:   healthModules,
	})
}
