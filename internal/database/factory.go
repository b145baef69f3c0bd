// Package database はPostgreSQLセッションの生成、スキーマ調整、
// マイグレーション管理を提供する。
package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/url"

	"github.com/lib/pq"

	"github.com/beastfood/server/internal/config"
	"github.com/beastfood/server/internal/pool"
)

// Factory はlib/pqコネクタを用いてドライバレベルの単一接続を生成する。
// database/sqlの暗黙プールは使わず、接続のライフサイクルは
// internal/poolが明示的に管理する。
type Factory struct {
	connector *pq.Connector
}

// NewFactory は設定からDSNを構築しFactoryを生成する。
// productionではsslmodeをrequire、それ以外ではdisableにする。
// statement_timeoutはサーバー側ランタイムパラメータとして設定する。
func NewFactory(cfg *config.Config) (*Factory, error) {
	sslmode := "disable"
	if cfg.Production {
		sslmode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s statement_timeout=10000",
		cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBUser, cfg.DBPassword, sslmode,
	)

	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pq connector: %w", err)
	}

	return &Factory{connector: connector}, nil
}

// Connect は新しいバックエンドセッションを1つ生成する。
func (f *Factory) Connect(ctx context.Context) (pool.Session, error) {
	conn, err := f.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &pqSession{conn: conn}, nil
}

// URL はgolang-migrate用のPostgreSQL接続URLを構築する。
func URL(cfg *config.Config) string {
	sslmode := "disable"
	if cfg.Production {
		sslmode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(cfg.DBUser),
		url.QueryEscape(cfg.DBPassword),
		cfg.DBHost, cfg.DBPort, cfg.DBName, sslmode,
	)
}

var _ pool.Session = (*pqSession)(nil)

// pqSession はdriver.Connをpool.Sessionに適合させる。
// コンテキスト対応のドライバインターフェースは実行時に確認する。
type pqSession struct {
	conn driver.Conn
}

// ExecContext はSQL文を実行する。
func (s *pqSession) ExecContext(ctx context.Context, query string, args ...any) error {
	ec, ok := s.conn.(driver.ExecerContext)
	if !ok {
		return fmt.Errorf("driver connection does not support ExecContext")
	}

	nargs := make([]driver.NamedValue, len(args))
	for i, a := range args {
		nargs[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}

	if _, err := ec.ExecContext(ctx, query, nargs); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

// QueryRowScan は1行クエリを実行し、先頭行の各カラムをdestに読み込む。
// 行が存在しない場合はエラーを返す。
func (s *pqSession) QueryRowScan(ctx context.Context, query string, dest ...any) error {
	qc, ok := s.conn.(driver.QueryerContext)
	if !ok {
		return fmt.Errorf("driver connection does not support QueryContext")
	}

	rows, err := qc.QueryContext(ctx, query, nil)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	values := make([]driver.Value, len(rows.Columns()))
	if err := rows.Next(values); err != nil {
		return fmt.Errorf("no rows returned: %w", err)
	}

	if len(dest) > len(values) {
		return fmt.Errorf("scan destination count %d exceeds column count %d", len(dest), len(values))
	}
	for i, d := range dest {
		if err := assignValue(d, values[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

// Ping は接続の生存確認を行う。
func (s *pqSession) Ping(ctx context.Context) error {
	p, ok := s.conn.(driver.Pinger)
	if !ok {
		return fmt.Errorf("driver connection does not support Ping")
	}
	return p.Ping(ctx)
}

// Close は接続を閉じる。
func (s *pqSession) Close() error {
	return s.conn.Close()
}

// assignValue はドライバ値をスキャン先に変換して代入する。
// プール・機能プローブ・スキーマ調整で必要になる型のみをサポートする。
func assignValue(dest any, src driver.Value) error {
	switch d := dest.(type) {
	case *string:
		switch v := src.(type) {
		case string:
			*d = v
		case []byte:
			*d = string(v)
		default:
			return fmt.Errorf("cannot assign %T to *string", src)
		}
	case *int64:
		switch v := src.(type) {
		case int64:
			*d = v
		default:
			return fmt.Errorf("cannot assign %T to *int64", src)
		}
	case *bool:
		switch v := src.(type) {
		case bool:
			*d = v
		default:
			return fmt.Errorf("cannot assign %T to *bool", src)
		}
	default:
		return fmt.Errorf("unsupported scan destination type %T", dest)
	}
	return nil
}
