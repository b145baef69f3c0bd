package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beastfood/server/internal/apperr"
)

// RateLimiterConfig はレート制限の設定を保持する。
// 上限値は環境解決済みの値を受け取る（productionは厳格値、
// それ以外は事実上無制限の値）。構造ではなく設定の関心事であり、
// コード変更なしで差し替え可能でなければならない。
type RateLimiterConfig struct {
	Window          time.Duration // ウィンドウ長。全ティア共通
	GeneralMax      int           // 一般APIティアの上限
	AuthMax         int           // 認証エンドポイントティアの上限
	LoginMax        int           // ログイン専用ティアの上限
	CleanupInterval time.Duration // 期限切れウィンドウの回収間隔
}

// DefaultRateLimiterConfig はproduction相当のデフォルト設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Window:          15 * time.Minute,
		GeneralMax:      200,
		AuthMax:         20,
		LoginMax:        50,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientWindow はクライアントごとの固定ウィンドウカウンタ。
// 成功リクエストはカウントされないため、countは失敗リクエスト数を表す。
type clientWindow struct {
	windowStart time.Time
	count       int
}

// tierState は1ティア分のクライアント別ウィンドウ集合。
// 同一クライアントのウィンドウ更新はmuの下で原子的に行われるが、
// 異なるティア同士が互いをブロックすることはない。
type tierState struct {
	name string
	max  int

	mu      sync.Mutex
	windows map[string]*clientWindow
}

func newTierState(name string, max int) *tierState {
	return &tierState{
		name:    name,
		max:     max,
		windows: make(map[string]*clientWindow),
	}
}

// snapshot は現在ウィンドウのカウントと残量・リセット時刻を返す。
// ウィンドウが期限切れの場合はロールしてから返す。
func (t *tierState) snapshot(key string, now time.Time, window time.Duration) (count, remaining int, reset time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cw := t.rollLocked(key, now, window)
	remaining = t.max - cw.count
	if remaining < 0 {
		remaining = 0
	}
	return cw.count, remaining, cw.windowStart.Add(window)
}

// charge は失敗リクエスト1件をカウントする。上限での飽和を超えては増えない。
func (t *tierState) charge(key string, now time.Time, window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cw := t.rollLocked(key, now, window)
	if cw.count < t.max {
		cw.count++
	}
}

// rollLocked はキーのウィンドウを取得し、期限切れならロールする。
// muを保持して呼ぶこと。ウィンドウは最初のリクエストで遅延生成される。
func (t *tierState) rollLocked(key string, now time.Time, window time.Duration) *clientWindow {
	cw, ok := t.windows[key]
	if !ok {
		cw = &clientWindow{windowStart: now}
		t.windows[key] = cw
		return cw
	}
	if now.Sub(cw.windowStart) >= window {
		cw.windowStart = now
		cw.count = 0
	}
	return cw
}

// evictExpired は期限切れかつ無活動のウィンドウを削除する。
func (t *tierState) evictExpired(now time.Time, window time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, cw := range t.windows {
		if now.Sub(cw.windowStart) >= window {
			delete(t.windows, key)
		}
	}
}

// size は現在保持しているウィンドウ数を返す。テストおよびメトリクス用。
func (t *tierState) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// RateLimitRecorder はレート制限拒否の記録に必要なインターフェース。
// metrics.Collectorの部分集合として定義する。
type RateLimitRecorder interface {
	RecordRateLimited(tier string)
}

// RateLimiter はクライアント別・ティア別の固定ウィンドウレート制限を提供する。
//
// ティアの適用はパスで決まる:
//   - /api/auth/* には authティア
//   - /api/auth/login には authティアに加えて loginティア（両方に枠が必要）
//   - それ以外の /api/* には generalティア
//
// OPTIONSリクエストと/api/healthはいかなるカウンタにも触れない。
// カウントはハンドラーの結果が判明した後、失敗（ステータス400以上）の
// 場合にのみ加算される。成功リクエストは上限を消費しない。
type RateLimiter struct {
	cfg     RateLimiterConfig
	general *tierState
	auth    *tierState
	login   *tierState
	errors  *ErrorWriter
	rec     RateLimitRecorder

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// recはnilでもよい（メトリクス記録なし）。
// バックグラウンドで期限切れウィンドウのクリーンアップを開始する。
func NewRateLimiter(cfg RateLimiterConfig, ew *ErrorWriter, rec RateLimitRecorder) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		cfg:     cfg,
		general: newTierState("general", cfg.GeneralMax),
		auth:    newTierState("auth", cfg.AuthMax),
		login:   newTierState("login", cfg.LoginMax),
		errors:  ew,
		rec:     rec,
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// tiersFor はリクエストパスに適用するティア列を返す。
// 制限対象外のパスでは空を返す。
func (rl *RateLimiter) tiersFor(path string) []*tierState {
	if path == "/api/health" || !strings.HasPrefix(path, "/api") {
		return nil
	}
	if strings.HasPrefix(path, "/api/auth") {
		tiers := []*tierState{rl.auth}
		if strings.HasPrefix(path, "/api/auth/login") {
			// ログインは最高リスクのエンドポイント。
			// authティアとloginティアの両方に課金され、
			// 残量の少ない方の上限が支配する。
			tiers = append(tiers, rl.login)
		}
		return tiers
	}
	return []*tierState{rl.general}
}

// Middleware はレート制限ミドルウェアを返す。
// 入場判定はカウントせず、上限到達時は二重課金なしで429を返す。
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			tiers := rl.tiersFor(r.URL.Path)
			if len(tiers) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := ClientKey(r)
			now := time.Now()

			// 全ティアの残量を確認し、支配ティア（残量最小）を決める
			governing := tiers[0]
			minRemaining := int(^uint(0) >> 1)
			var govReset time.Time
			rejected := false
			for _, t := range tiers {
				count, remaining, reset := t.snapshot(key, now, rl.cfg.Window)
				if count >= t.max {
					rejected = true
				}
				if remaining < minRemaining {
					minRemaining = remaining
					governing = t
					govReset = reset
				}
			}

			w.Header().Set("RateLimit-Limit", strconv.Itoa(governing.max))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(minRemaining))
			w.Header().Set("RateLimit-Reset", strconv.Itoa(secondsUntil(govReset, now)))

			if rejected {
				w.Header().Set("Retry-After", strconv.Itoa(secondsUntil(govReset, now)))
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("tier", governing.name),
					slog.String("path", r.URL.Path),
				)
				if rl.rec != nil {
					rl.rec.RecordRateLimited(governing.name)
				}
				rl.errors.WriteError(w, r, apperr.NewRateLimited())
				return
			}

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// 成功はカウントしない。失敗のみ事後に課金する
			if rec.statusCode >= 400 {
				for _, t := range tiers {
					t.charge(key, now, rl.cfg.Window)
				}
			}
		})
	}
}

// WindowCount は指定ティアの現在保持ウィンドウ数を返す。テスト用。
func (rl *RateLimiter) WindowCount(tier string) int {
	switch tier {
	case "auth":
		return rl.auth.size()
	case "login":
		return rl.login.size()
	default:
		return rl.general.size()
	}
}

// cleanupLoop はバックグラウンドで期限切れウィンドウを定期的に回収する。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.general.evictExpired(now, rl.cfg.Window)
			rl.auth.evictExpired(now, rl.cfg.Window)
			rl.login.evictExpired(now, rl.cfg.Window)
		case <-rl.stopCh:
			return
		}
	}
}

// secondsUntil はリセット時刻までの秒数を返す。最小1秒。
func secondsUntil(reset, now time.Time) int {
	sec := int(reset.Sub(now).Seconds())
	if sec < 1 {
		sec = 1
	}
	return sec
}
