// Package handler はルーティングとパイプライン末端のハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/beastfood/server/internal/middleware"
)

// AuthMode はルートグループの認証強制モードを表す。
type AuthMode int

const (
	// AuthNone は認証ゲートを通さない。
	AuthNone AuthMode = iota
	// AuthOptional はトークンがあればPrincipalを付与し、なくても拒否しない。
	AuthOptional
	// AuthMandatory はトークンの不在・不正・期限切れを401で拒否する。
	AuthMandatory
)

// RouteGroup は/api配下にマウントするビジネスハンドラーグループ。
// ハンドラー本体はパイプラインの外部コラボレーターであり、
// パイプラインが受理したリクエストだけが到達する。
type RouteGroup struct {
	// Prefix はマウント先のパスプレフィックス（例: "/api/posts"）。
	Prefix string
	// Auth はこのグループの認証モード。
	Auth AuthMode
	// Handler はグループのビジネスハンドラー。
	Handler http.Handler
	// Unlisted がtrueの場合、404レスポンスのavailableRoutesに載せない。
	// 内部専用ルートの漏洩防止用。
	Unlisted bool
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	OriginPolicy *middleware.OriginPolicy
	RateLimiter  *middleware.RateLimiter
	AuthGate     *middleware.AuthGate
	ErrorWriter  *middleware.ErrorWriter
	Logger       *slog.Logger
	Metrics      middleware.MetricsRecorder

	// MetricsHandler は/metricsにマウントするハンドラー。nilなら無効。
	MetricsHandler http.Handler

	RequestTimeout time.Duration
	MaxBodyBytes   int64

	UploadsDir  string
	CacheEnable bool
	CacheMaxAge int

	// Routes は/api配下のビジネスハンドラーグループ。
	Routes []RouteGroup
}

// NewRouter は全ルーティングとミドルウェアチェーンを構成したルーターを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → OriginPolicy（プリフライト短絡）→ SecurityHeaders → Compress
//	→ Logging → Metrics → BodyLimit → Timeout → UploadCache → RateLimiter
//	→ AuthGate（グループごと）→ ビジネスハンドラー
//
// 早期リターンで短絡するステージ（プリフライト、レート制限拒否、認証拒否、
// 404）はいずれもビジネスハンドラーを呼ばず、プール接続も消費しない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.ErrorWriter))
	r.Use(deps.OriginPolicy.Middleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(chimw.Compress(6))

	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}

	r.Use(middleware.NewBodyLimitMiddleware(deps.MaxBodyBytes))
	r.Use(middleware.NewTimeoutMiddleware(deps.RequestTimeout))
	r.Use(middleware.NewUploadCacheMiddleware(deps.CacheEnable, deps.CacheMaxAge))
	r.Use(deps.RateLimiter.Middleware())

	// liveness。レート制限と認証の対象外
	r.Get("/api/health", HandleHealth)

	// アップロード済み静的ファイル
	if deps.UploadsDir != "" {
		fileServer := http.StripPrefix("/uploads/", http.FileServer(http.Dir(deps.UploadsDir)))
		r.Handle("/uploads/*", fileServer)
	}

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// ビジネスハンドラーグループを認証モード別にマウントする。
	// ハンドラー未提供のグループは契約上の存在のみでマウントしない
	for _, g := range deps.Routes {
		if g.Handler == nil {
			continue
		}
		group := g
		r.Group(func(r chi.Router) {
			switch group.Auth {
			case AuthMandatory:
				r.Use(deps.AuthGate.Mandatory())
			case AuthOptional:
				r.Use(deps.AuthGate.Optional())
			}
			r.Mount(group.Prefix, group.Handler)
		})
	}

	// 未定義ルートの404コントラクト
	available := availableRoutes(deps.Routes)
	r.NotFound(NewNotFoundHandler(available))
	r.MethodNotAllowed(NewNotFoundHandler(available))

	return r
}

// availableRoutes は404レスポンスに載せるルートグループ一覧を構築する。
// Unlistedなグループは含めない。/api/healthは常に含める。
func availableRoutes(routes []RouteGroup) []string {
	list := make([]string, 0, len(routes)+1)
	for _, g := range routes {
		if g.Unlisted {
			continue
		}
		list = append(list, g.Prefix)
	}
	list = append(list, "/api/health")
	return list
}
