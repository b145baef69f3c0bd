package apperr

import (
	"context"
	"errors"
)

// Normalize は任意のエラーを正規化エラーに写像する。
// すでに*Errorであればそのまま返し、コンテキスト起因のエラーは
// タイムアウトとして扱い、それ以外はすべてKindInternalに落とす。
// パイプラインの下流でエラーを再解釈するステージは存在しない。
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewPoolTimeout(err)
	}

	return NewInternal(err)
}
