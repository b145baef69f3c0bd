package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/beastfood/server/internal/apperr"
)

// errorBody4xx は4xxエラーレスポンスのワイヤフォーマット。
// 旧APIとの互換性のためフィールド名を維持する。
type errorBody4xx struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// errorBody5xx は5xxエラーレスポンスのワイヤフォーマット。
type errorBody5xx struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ErrorWriter は任意の失敗を正規化し統一ワイヤフォーマットで書き込む。
// パイプライン内でエラーをレスポンスに変換する唯一の地点であり、
// これより下流のステージがエラーを再解釈することはない。
type ErrorWriter struct {
	production bool
	logger     *slog.Logger
}

// NewErrorWriter はErrorWriterを生成する。
// production時は詳細文言を含めず、安定タグと一般的な文言のみを返す。
func NewErrorWriter(production bool, logger *slog.Logger) *ErrorWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorWriter{production: production, logger: logger}
}

// WriteError はエラーを正規化してレスポンスに書き込む。
func (ew *ErrorWriter) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.Normalize(err)
	status := appErr.Kind.HTTPStatus()

	if status >= 500 {
		ew.logger.Error("request failed",
			slog.String("tag", appErr.Tag),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", appErr.Error()),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if status >= 500 {
		body := errorBody5xx{Error: appErr.Message}
		if !ew.production {
			body.Message = appErr.Detail
		}
		_ = json.NewEncoder(w).Encode(body)
		return
	}

	body := errorBody4xx{Error: appErr.Message}
	if !ew.production {
		body.Details = appErr.Detail
	}
	_ = json.NewEncoder(w).Encode(body)
}
