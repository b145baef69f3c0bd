package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beastfood/server/internal/pool"
)

// reconcileStatements は起動時に発行する冪等なスキーマ調整文。
// カラムが既に存在しても失敗しない形式のみを使用すること。
var reconcileStatements = []string{
	"ALTER TABLE restaurants ADD COLUMN IF NOT EXISTS instagram TEXT",
	"ALTER TABLE restaurants ADD COLUMN IF NOT EXISTS ifood TEXT",
}

// Reconcile は起動時のスキーマ調整を実行する。
// すでに調整済みのスキーマに対する再実行はエラーなく成功する。
// 呼び出し元はエラーをログに記録するだけでよく、起動を中断してはならない。
func Reconcile(ctx context.Context, p *pool.Pool, logger *slog.Logger) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("schema reconciliation could not acquire connection: %w", err)
	}
	defer p.Release(c)

	for _, stmt := range reconcileStatements {
		if err := c.Session().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema reconciliation statement failed: %w", err)
		}
	}

	logger.Info("schema reconciliation completed",
		slog.Int("statements", len(reconcileStatements)),
	)
	return nil
}
