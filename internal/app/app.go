// Package app はアプリケーションの初期化とライフサイクル管理を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beastfood/server/internal/auth"
	"github.com/beastfood/server/internal/config"
	"github.com/beastfood/server/internal/database"
	"github.com/beastfood/server/internal/handler"
	"github.com/beastfood/server/internal/logger"
	"github.com/beastfood/server/internal/metrics"
	"github.com/beastfood/server/internal/middleware"
	"github.com/beastfood/server/internal/pool"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.Production)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "5000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("production", cfg.Production),
		slog.String("db_host", cfg.DBHost),
		slog.String("db_name", cfg.DBName),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 接続プールを構築し、全ミドルウェアをワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. 接続プールの構築
	factory, err := database.NewFactory(cfg)
	if err != nil {
		return fmt.Errorf("failed to create database factory: %w", err)
	}

	p := pool.New(pool.Config{
		Min:                 cfg.PoolMin,
		Max:                 cfg.PoolMax,
		AcquireTimeout:      cfg.PoolAcquireTimeout,
		CreateTimeout:       cfg.PoolCreateTimeout,
		CreateRetryInterval: cfg.PoolCreateRetryInterval,
		IdleTimeout:         cfg.PoolIdleTimeout,
		DestroyTimeout:      cfg.PoolDestroyTimeout,
		ReapInterval:        cfg.PoolReapInterval,
	}, factory, slog.Default())
	defer p.Close()

	// 2. 事前ウォームアップと機能プローブ
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	p.Warm(startupCtx)
	p.Probe(startupCtx)

	// 3. 起動時スキーマ調整。失敗してもログのみで起動は継続する。
	// カラムが既に存在する場合やバックエンド未対応の場合があるため
	if err := database.Reconcile(startupCtx, p, slog.Default()); err != nil {
		slog.Warn("schema reconciliation failed (continuing)",
			slog.String("error", err.Error()),
		)
	}
	cancelStartup()

	// 4. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	metrics.RegisterPoolStats(reg, p.Stats)

	// 5. パイプラインステージの構築
	ew := middleware.NewErrorWriter(cfg.Production, slog.Default())
	gate := middleware.NewAuthGate(auth.NewVerifier(cfg.JWTSecret), ew)
	originPolicy := middleware.NewOriginPolicy(cfg.Production, cfg.AllowedOrigins)

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Window:          cfg.RateLimitWindow,
		GeneralMax:      cfg.RateLimitGeneral,
		AuthMax:         cfg.RateLimitAuth,
		LoginMax:        cfg.RateLimitLogin,
		CleanupInterval: 5 * time.Minute,
	}, ew, collector)
	defer rl.Stop()

	if !cfg.Production {
		slog.Info("rate limiting is effectively disabled outside production")
	}

	// 6. ルーターの構築
	// ビジネスモジュールのハンドラーは外部コラボレーターであり、
	// CanonicalRoutesの契約表に対して注入される
	deps := &handler.RouterDeps{
		OriginPolicy:   originPolicy,
		RateLimiter:    rl,
		AuthGate:       gate,
		ErrorWriter:    ew,
		Logger:         slog.Default(),
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		UploadsDir:     cfg.UploadsDir,
		CacheEnable:    cfg.CacheEnable,
		CacheMaxAge:    cfg.CacheMaxAge,
		Routes:         handler.CanonicalRoutes(nil),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ResponseTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("postgis", p.HasPostGIS()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("db_host", cfg.DBHost),
		slog.String("db_name", cfg.DBName),
	)

	if err := database.RunMigrations(database.URL(cfg)); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/api/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
