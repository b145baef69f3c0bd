package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session はプールが管理するバックエンドセッションのインターフェース。
// 本番実装はinternal/databaseのPostgreSQLセッション。
// テストではフェイク実装を注入する。
type Session interface {
	// ExecContext はSQL文を実行する。
	ExecContext(ctx context.Context, query string, args ...any) error
	// QueryRowScan は1行クエリを実行し、結果をdestに読み込む。
	QueryRowScan(ctx context.Context, query string, dest ...any) error
	// Ping は接続の生存確認を行う。
	Ping(ctx context.Context) error
	// Close は接続を閉じる。
	Close() error
}

// Conn はプールから貸し出された接続ハンドル。
// AcquireからReleaseまでの間、呼び出し元が排他的に所有する。
// Release後にConnを使用してはならない。
type Conn struct {
	id         uuid.UUID
	session    Session
	acquiredAt time.Time
	idleSince  time.Time
	inUse      bool
}

// ID は接続の識別子を返す。ログおよびデバッグ用。
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// AcquiredAt は貸し出し時刻を返す。貸し出し中でない場合はゼロ値。
func (c *Conn) AcquiredAt() time.Time {
	return c.acquiredAt
}

// Session は背後のバックエンドセッションを返す。
func (c *Conn) Session() Session {
	return c.session
}
