// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 開発用ローカルネットワークオリジンの固定ベースライン。
// production環境でも常に許可リストに含める。
var baselineOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://192.168.100.2:3000",
	"http://192.168.100.2:5000",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 環境依存の分岐（レート制限上限、オリジンポリシー）はここで1回だけ解決し、
// リクエストごとに環境変数を再読込することはない。
type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string

	// JWT。アクセストークン用とリフレッシュトークン用の2つの秘密鍵は
	// 別物であり、決して相互に流用してはならない。
	JWTSecret        string
	JWTRefreshSecret string

	// Deployment
	Production bool

	// CORS。production時のみ使用する許可オリジン集合。
	AllowedOrigins []string

	// Server
	ServerPort      string
	ServerTimeout   time.Duration // サーバーソケットタイムアウト
	RequestTimeout  time.Duration // リクエスト処理タイムアウト
	ResponseTimeout time.Duration // レスポンス書き込みタイムアウト
	MaxBodyBytes    int64

	// Connection Pool
	PoolMin                 int
	PoolMax                 int
	PoolAcquireTimeout      time.Duration
	PoolCreateTimeout       time.Duration
	PoolCreateRetryInterval time.Duration
	PoolIdleTimeout         time.Duration
	PoolDestroyTimeout      time.Duration
	PoolReapInterval        time.Duration

	// Rate Limit。上限は環境（production/それ以外）で解決済みの値。
	RateLimitWindow  time.Duration
	RateLimitAuth    int
	RateLimitLogin   int
	RateLimitGeneral int

	// Static assets
	UploadsDir  string
	CacheEnable bool
	CacheMaxAge int
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envファイルがあれば先に読み込む（存在しなくてもエラーにしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envはあくまで開発用の補助。読み込み失敗は無視する。
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.JWTRefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	if cfg.JWTRefreshSecret == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}

	cfg.DBPassword = os.Getenv("DB_PASSWORD")
	if cfg.DBPassword == "" {
		missing = append(missing, "DB_PASSWORD")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBHost = getEnvString("DB_HOST", "localhost")
	cfg.DBPort = getEnvString("DB_PORT", "5432")
	cfg.DBName = getEnvString("DB_NAME", "beastfood")
	cfg.DBUser = getEnvString("DB_USER", "postgres")

	cfg.Production = os.Getenv("APP_ENV") == "production"

	cfg.ServerPort = getEnvString("PORT", "5000")
	cfg.ServerTimeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", 25*time.Second)
	cfg.ResponseTimeout = getEnvDuration("RESPONSE_TIMEOUT", 20*time.Second)
	cfg.MaxBodyBytes = getEnvInt64("MAX_BODY_BYTES", 10<<20)

	cfg.PoolMin = getEnvInt("DB_POOL_MIN", 2)
	cfg.PoolMax = getEnvInt("DB_POOL_MAX", 20)
	cfg.PoolAcquireTimeout = getEnvDuration("DB_POOL_ACQUIRE_TIMEOUT", 10*time.Second)
	cfg.PoolCreateTimeout = getEnvDuration("DB_POOL_CREATE_TIMEOUT", 10*time.Second)
	cfg.PoolCreateRetryInterval = getEnvDuration("DB_POOL_CREATE_RETRY_INTERVAL", 200*time.Millisecond)
	cfg.PoolIdleTimeout = getEnvDuration("DB_POOL_IDLE_TIMEOUT", 30*time.Second)
	cfg.PoolDestroyTimeout = getEnvDuration("DB_POOL_DESTROY_TIMEOUT", 5*time.Second)
	cfg.PoolReapInterval = getEnvDuration("DB_POOL_REAP_INTERVAL", 1*time.Second)

	// レート制限の上限はproductionのみ厳格値。
	// それ以外の環境では事実上無制限にしてリミッターを不活性化する。
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute)
	if cfg.Production {
		cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
		cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 50)
		cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 200)
	} else {
		cfg.RateLimitAuth = 5000
		cfg.RateLimitLogin = 10000
		cfg.RateLimitGeneral = 50000
	}

	cfg.UploadsDir = getEnvString("UPLOADS_DIR", "uploads")
	cfg.CacheEnable = getEnvBool("CACHE_ENABLE", true)
	cfg.CacheMaxAge = getEnvInt("CACHE_MAX_AGE", 300)

	cfg.AllowedOrigins = buildAllowedOrigins(
		os.Getenv("CLIENT_URL"),
		os.Getenv("CLIENT_URLS"),
	)

	return cfg, nil
}

// buildAllowedOrigins はproduction用の許可オリジン集合を構築する。
// 主オリジン（CLIENT_URL）、カンマ区切りの追加オリジン（CLIENT_URLS）、
// 固定ベースラインを結合し、順序を保ったまま重複を除去する。
func buildAllowedOrigins(clientURL, clientURLs string) []string {
	var origins []string

	if clientURL != "" {
		origins = append(origins, clientURL)
	}
	for _, o := range strings.Split(clientURLs, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	origins = append(origins, baselineOrigins...)

	seen := make(map[string]struct{}, len(origins))
	result := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		result = append(result, o)
	}
	return result
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
