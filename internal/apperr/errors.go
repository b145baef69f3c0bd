// Package apperr はパイプライン全体で使用する正規化エラーの分類を定義する。
// 上流ステージやビジネスハンドラーが投げる異種の失敗を、
// 固定ステータスコードを持つ単一のエラー集合に写像する。
package apperr

import "fmt"

// Kind は正規化エラーの種別を表す。
// 各種別は固定のHTTPステータスコードを持つ。
type Kind int

const (
	// KindValidation は不正な入力を表す（400）。
	KindValidation Kind = iota
	// KindAuthInvalid は不正なトークンを表す（401）。
	KindAuthInvalid
	// KindAuthExpired は期限切れトークンを表す（401）。
	KindAuthExpired
	// KindPoolTimeout は接続プール獲得タイムアウトを表す（503）。
	KindPoolTimeout
	// KindPoolFault は接続の致命的障害を表す（500）。
	KindPoolFault
	// KindRateLimited はレート制限超過を表す（429）。
	KindRateLimited
	// KindNotFound は未定義ルートへのアクセスを表す（404）。
	KindNotFound
	// KindInternal は分類不能な内部エラーを表す（500）。
	KindInternal
)

// HTTPStatus は種別に対応するHTTPステータスコードを返す。
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return 400
	case KindAuthInvalid, KindAuthExpired:
		return 401
	case KindPoolTimeout:
		return 503
	case KindRateLimited:
		return 429
	case KindNotFound:
		return 404
	default:
		return 500
	}
}

// 安定タグ。ログおよびメトリクスのラベルとして使用する。
const (
	TagValidation  = "VALIDATION_ERROR"
	TagAuthInvalid = "TOKEN_INVALID"
	TagAuthExpired = "TOKEN_EXPIRED"
	TagPoolTimeout = "POOL_ACQUIRE_TIMEOUT"
	TagPoolFault   = "POOL_CONNECTION_FAULT"
	TagRateLimited = "RATE_LIMITED"
	TagNotFound    = "ROUTE_NOT_FOUND"
	TagInternal    = "INTERNAL_ERROR"
)

// Error は正規化エラーを表す。
// Messageは旧APIとワイヤ互換のユーザー向け文言、
// Detailは非production環境でのみレスポンスに含めるデバッグ情報。
type Error struct {
	Kind    Kind
	Tag     string
	Message string
	Detail  string
	cause   error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Tag, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Tag, e.Message)
}

// Unwrap は元になったエラーを返す。
func (e *Error) Unwrap() error {
	return e.cause
}

// NewValidation は入力検証エラーを生成する。
func NewValidation(detail string) *Error {
	return &Error{
		Kind:    KindValidation,
		Tag:     TagValidation,
		Message: "Dados inválidos",
		Detail:  detail,
	}
}

// NewAuthInvalid は不正トークンエラーを生成する。
func NewAuthInvalid(cause error) *Error {
	e := &Error{
		Kind:    KindAuthInvalid,
		Tag:     TagAuthInvalid,
		Message: "Token inválido",
		cause:   cause,
	}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// NewAuthExpired は期限切れトークンエラーを生成する。
func NewAuthExpired(cause error) *Error {
	e := &Error{
		Kind:    KindAuthExpired,
		Tag:     TagAuthExpired,
		Message: "Token expirado",
		cause:   cause,
	}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// NewPoolTimeout は接続獲得タイムアウトエラーを生成する。
func NewPoolTimeout(cause error) *Error {
	e := &Error{
		Kind:    KindPoolTimeout,
		Tag:     TagPoolTimeout,
		Message: "Serviço temporariamente indisponível",
		cause:   cause,
	}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// NewPoolFault は接続障害エラーを生成する。
func NewPoolFault(cause error) *Error {
	e := &Error{
		Kind:    KindPoolFault,
		Tag:     TagPoolFault,
		Message: "Erro interno do servidor",
		cause:   cause,
	}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// NewRateLimited はレート制限超過エラーを生成する。
func NewRateLimited() *Error {
	return &Error{
		Kind:    KindRateLimited,
		Tag:     TagRateLimited,
		Message: "Muitas requisições, tente novamente mais tarde",
	}
}

// NewNotFound は未定義ルートエラーを生成する。
func NewNotFound() *Error {
	return &Error{
		Kind:    KindNotFound,
		Tag:     TagNotFound,
		Message: "Rota não encontrada",
	}
}

// NewInternal は分類不能な内部エラーを生成する。
func NewInternal(cause error) *Error {
	e := &Error{
		Kind:    KindInternal,
		Tag:     TagInternal,
		Message: "Algo deu errado!",
		cause:   cause,
	}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}
