// Package pool は上限付きデータベース接続プールを提供する。
// 貸し出し中の接続数は設定された最大値を超えず、最大到達時の獲得要求は
// 即時失敗ではなく獲得タイムアウトまでブロックしてバックプレッシャーをかける。
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/beastfood/server/internal/apperr"
)

// ErrClosed はクローズ済みプールへの操作を表す。
var ErrClosed = errors.New("pool: closed")

// Factory はバックエンドセッションの生成を行うインターフェース。
type Factory interface {
	Connect(ctx context.Context) (Session, error)
}

// Config は接続プールの動作パラメータを保持する。
type Config struct {
	Min                 int           // 維持する最小接続数
	Max                 int           // 同時に存在できる最大接続数
	AcquireTimeout      time.Duration // 獲得待ちの上限
	CreateTimeout       time.Duration // 1回の接続生成の上限
	CreateRetryInterval time.Duration // 生成リトライの間隔
	IdleTimeout         time.Duration // この時間を超えてアイドルの接続は破棄
	DestroyTimeout      time.Duration // Closeの完了待ち上限。超過時は強制的に手放す
	ReapInterval        time.Duration // アイドル接続回収の周期
}

// DefaultConfig はデフォルトのプール設定を返す。
func DefaultConfig() Config {
	return Config{
		Min:                 2,
		Max:                 20,
		AcquireTimeout:      10 * time.Second,
		CreateTimeout:       10 * time.Second,
		CreateRetryInterval: 200 * time.Millisecond,
		IdleTimeout:         30 * time.Second,
		DestroyTimeout:      5 * time.Second,
		ReapInterval:        1 * time.Second,
	}
}

// Stats はプールの現在の状態スナップショット。メトリクス用。
type Stats struct {
	Idle   int // アイドル接続数
	Leased int // 貸し出し中の接続数
	Live   int // 生成中を含む生存接続数
}

// Pool は上限付き接続プール。
// すべての状態遷移はmuの下で行い、獲得待ちはwaitersチャネルで直接handoffする。
type Pool struct {
	cfg     Config
	factory Factory
	logger  *slog.Logger

	// 接続生成の試行間隔を制御するペーサー。
	// リトライだけでなく並行生成もこの間隔で直列化される。
	createPacer *rate.Limiter

	mu         sync.Mutex
	idle       []*Conn      // LIFO。末尾が最も新しい
	live       int          // 生成中 + アイドル + 貸し出し中
	waiters    []chan *Conn // FIFO。nil送信は「枠が空いたので再試行せよ」の合図
	closed     bool
	hasPostGIS bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New は新しいPoolを生成し、バックグラウンドでアイドル回収ループを開始する。
func New(cfg Config, factory Factory, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:         cfg,
		factory:     factory,
		logger:      logger,
		createPacer: rate.NewLimiter(rate.Every(cfg.CreateRetryInterval), 1),
		stopCh:      make(chan struct{}),
	}

	p.wg.Add(1)
	go p.reapLoop()

	return p
}

// Acquire はプールから接続を1つ貸し出す。
// アイドル接続があれば即座に返し、生存数が最大未満なら新規生成する。
// 最大到達時はAcquireTimeoutまたはctxのキャンセルまで待機する。
// タイムアウト時はKindPoolTimeout、生成失敗時はKindPoolFaultのエラーを返す。
// 呼び出し元のキャンセルは待機予約を放棄し、ゾンビ予約を残さない。
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, apperr.NewPoolFault(ErrClosed)
		}

		// アイドル接続があれば即座に貸し出す
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.leaseLocked(c)
			p.mu.Unlock()
			return c, nil
		}

		// 枠が空いていれば新規生成する
		if p.live < p.cfg.Max {
			p.live++
			p.mu.Unlock()

			s, err := p.create(ctx)
			if err != nil {
				p.mu.Lock()
				p.live--
				p.wakeOneLocked(nil)
				p.mu.Unlock()

				if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, apperr.NewPoolTimeout(err)
				}
				return nil, apperr.NewPoolFault(err)
			}

			c := &Conn{id: uuid.New(), session: s}
			p.mu.Lock()
			p.leaseLocked(c)
			p.mu.Unlock()
			return c, nil
		}

		// 最大到達。handoffチャネルで待機する
		ch := make(chan *Conn, 1)
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		select {
		case c := <-ch:
			if c == nil {
				// 枠が空いた合図。ループ先頭から再試行
				continue
			}
			return c, nil
		case <-ctx.Done():
			p.removeWaiter(ch)
			// キャンセルと同時に接続が届いていた場合はプールに返す
			select {
			case c := <-ch:
				if c != nil {
					p.Release(c)
				}
			default:
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, apperr.NewPoolTimeout(ctx.Err())
			}
			return nil, ctx.Err()
		}
	}
}

// Release は貸し出し中の接続をプールに返却する。
// アイドル超過またはプールのドレイン中は再利用せず破棄する。
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		p.closeSession(c)
		return
	}

	// 待機者がいれば直接handoffする
	if len(p.waiters) > 0 {
		p.leaseLocked(c)
		p.wakeOneLocked(c)
		p.mu.Unlock()
		return
	}

	c.inUse = false
	c.acquiredAt = time.Time{}
	c.idleSince = time.Now()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// Destroy は致命的障害を起こした接続を破棄する。
// CloseがDestroyTimeoutを超えた場合は未完了のI/Oに関わらず強制的に手放す。
func (p *Pool) Destroy(c *Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()
	p.live--
	p.wakeOneLocked(nil)
	p.mu.Unlock()

	p.closeSession(c)
}

// Probe は起動時の機能プローブを実行する。
// PostGIS拡張の有無を検出しフラグとして記録する。プローブの失敗は
// 致命的ではなく、広告される機能を狭めるだけである。
func (p *Pool) Probe(ctx context.Context) {
	c, err := p.Acquire(ctx)
	if err != nil {
		p.logger.Warn("capability probe skipped: could not acquire connection",
			slog.String("error", err.Error()),
		)
		return
	}
	defer p.Release(c)

	var version string
	if err := c.Session().QueryRowScan(ctx, "SELECT PostGIS_Version()", &version); err != nil {
		p.logger.Warn("PostGIS not available, geo features will be limited",
			slog.String("error", err.Error()),
		)
		return
	}

	p.mu.Lock()
	p.hasPostGIS = true
	p.mu.Unlock()

	p.logger.Info("PostGIS available", slog.String("version", version))
}

// HasPostGIS は起動時プローブで検出したPostGIS拡張の有無を返す。
func (p *Pool) HasPostGIS() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasPostGIS
}

// Warm は最小接続数まで接続を事前生成する。失敗はログのみで継続する。
func (p *Pool) Warm(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.closed || p.live >= p.cfg.Min {
			p.mu.Unlock()
			return
		}
		p.live++
		p.mu.Unlock()

		s, err := p.create(ctx)
		if err != nil {
			p.mu.Lock()
			p.live--
			p.mu.Unlock()
			p.logger.Warn("pool warm-up connection failed",
				slog.String("error", err.Error()),
			)
			return
		}

		c := &Conn{id: uuid.New(), session: s, idleSince: time.Now()}
		p.mu.Lock()
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
}

// Stats は現在のプール状態のスナップショットを返す。
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := len(p.idle)
	return Stats{
		Idle:   idle,
		Leased: p.live - idle,
		Live:   p.live,
	}
}

// Close はプールをドレインする。
// アイドル接続をすべて破棄し、以降のAcquireは失敗する。
// 貸し出し中の接続はReleaseされた時点で破棄される。
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	close(p.stopCh)
	for _, ch := range waiters {
		ch <- nil
	}
	for _, c := range idle {
		p.closeSession(c)
	}
	p.wg.Wait()
}

// leaseLocked は接続を貸し出し状態に遷移させる。muを保持して呼ぶこと。
func (p *Pool) leaseLocked(c *Conn) {
	c.inUse = true
	c.acquiredAt = time.Now()
	c.idleSince = time.Time{}
}

// wakeOneLocked は先頭の待機者を1つ起こす。muを保持して呼ぶこと。
// cがnilの場合は「枠が空いた」合図として送る。
func (p *Pool) wakeOneLocked(c *Conn) {
	if len(p.waiters) == 0 {
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	ch <- c
}

// removeWaiter は待機リストからchを取り除く。
func (p *Pool) removeWaiter(ch chan *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// create は新しいセッションを生成する。
// CreateTimeoutに達するまでCreateRetryInterval間隔でリトライする。
func (p *Pool) create(ctx context.Context) (Session, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	var lastErr error
	for {
		if err := p.createPacer.Wait(cctx); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		s, err := p.factory.Connect(cctx)
		if err == nil {
			p.logger.Info("database connection established",
				slog.Int("live", p.Stats().Live),
			)
			return s, nil
		}

		lastErr = err
		p.logger.Error("database connection failed",
			slog.String("error", err.Error()),
		)

		if cctx.Err() != nil {
			return nil, lastErr
		}
	}
}

// closeSession は接続をDestroyTimeoutの範囲内で閉じる。
// 超過時はcloseの完了を待たずに手放す。
func (p *Pool) closeSession(c *Conn) {
	done := make(chan struct{})
	go func() {
		if err := c.session.Close(); err != nil {
			p.logger.Error("connection close failed",
				slog.String("conn_id", c.id.String()),
				slog.String("error", err.Error()),
			)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DestroyTimeout):
		p.logger.Warn("connection destroy timed out, force-dropping",
			slog.String("conn_id", c.id.String()),
		)
	}
}

// reapLoop はReapInterval周期でアイドル超過の接続を回収する。
// 最小接続数を下回る回収は行わない。
func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reap()
		case <-p.stopCh:
			return
		}
	}
}

// reap はIdleTimeoutを超えたアイドル接続を破棄する。
func (p *Pool) reap() {
	now := time.Now()

	p.mu.Lock()
	var expired []*Conn
	kept := p.idle[:0]
	for _, c := range p.idle {
		if p.live-len(expired) > p.cfg.Min && now.Sub(c.idleSince) > p.cfg.IdleTimeout {
			expired = append(expired, c)
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	p.live -= len(expired)
	p.mu.Unlock()

	for _, c := range expired {
		p.closeSession(c)
		p.logger.Info("idle connection reaped",
			slog.String("conn_id", c.id.String()),
		)
	}
}
