package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/accounts/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
// 各区分はIPごとのトークンバケットで、容量はLimit、Window/Limitごとに1つ補充される。
// 固定ウィンドウではないため、Window内の最大許可数は2*Limit-1になる。
type RateLimiterConfig struct {
	GeneralLimit    int           // API全般の上限回数
	GeneralWindow   time.Duration // API全般の期間
	SensitiveLimit  int           // パスワードリセット系の上限回数
	SensitiveWindow time.Duration // パスワードリセット系の期間
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/IP、パスワードリセット系 5 req/15min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralLimit:    120,
		GeneralWindow:   time.Minute,
		SensitiveLimit:  5,
		SensitiveWindow: 15 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はIPごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterTier は1つの区分のIP別リミッター群。
type limiterTier struct {
	name   string
	limit  rate.Limit
	burst  int
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newLimiterTier(name string, limit int, window time.Duration) *limiterTier {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &limiterTier{
		name:     name,
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		window:   window,
		limiters: make(map[string]*clientLimiter),
	}
}

// quota はリクエスト1回分の判定結果。
type quota struct {
	allowed    bool
	limit      int
	remaining  int
	reset      time.Time
	retryAfter time.Duration
}

// take はIPのトークンを1つ消費し、判定結果を返す。
func (t *limiterTier) take(ip string, now time.Time) quota {
	t.mu.Lock()
	defer t.mu.Unlock()

	cl, exists := t.limiters[ip]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[ip] = cl
	}
	cl.lastAccess = now

	allowed := cl.limiter.AllowN(now, 1)
	tokens := cl.limiter.TokensAt(now)

	q := quota{
		allowed:   allowed,
		limit:     t.burst,
		remaining: int(math.Max(0, math.Floor(tokens))),
	}

	// 満タンに戻るまでの時間
	missing := float64(t.burst) - tokens
	q.reset = now.Add(durationForTokens(missing, t.limit))
	if !allowed {
		q.retryAfter = durationForTokens(1-tokens, t.limit)
	}
	return q
}

func (t *limiterTier) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// sweep は最終アクセスからttl以上経過したエントリを削除する。
func (t *limiterTier) sweep(now time.Time, ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, cl := range t.limiters {
		if now.Sub(cl.lastAccess) >= ttl {
			delete(t.limiters, ip)
		}
	}
}

func durationForTokens(tokens float64, limit rate.Limit) time.Duration {
	if tokens <= 0 || limit <= 0 {
		return 0
	}
	return time.Duration(tokens / float64(limit) * float64(time.Second)).Round(time.Millisecond)
}

// RateLimiter はIPごとのレート制限を管理する。
// API全般とパスワードリセット系の2区分を独立に提供する。
type RateLimiter struct {
	config    RateLimiterConfig
	general   *limiterTier
	sensitive *limiterTier
	now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:    config,
		general:   newLimiterTier("general", config.GeneralLimit, config.GeneralWindow),
		sensitive: newLimiterTier("sensitive", config.SensitiveLimit, config.SensitiveWindow),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// SensitiveMiddleware はパスワードリセット系のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) SensitiveMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.sensitive)
}

func (rl *RateLimiter) middleware(tier *limiterTier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			q := tier.take(ip, rl.now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.remaining))
			w.Header().Set("X-RateLimit-Reset", q.reset.UTC().Format(time.RFC3339))

			if !q.allowed {
				slog.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("ip", ip),
					slog.String("limit_type", tier.name),
				)
				writeRateLimitResponse(w, q.retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// SensitiveLimiterCount は現在管理されているパスワードリセット系リミッターのエントリ数を返す。
func (rl *RateLimiter) SensitiveLimiterCount() int {
	return rl.sensitive.count()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は区分ごとに最終アクセスから一定時間経過したエントリを削除する。
// 期間が経過したリミッターは満タンに戻っているため、削除しても上限は緩まない。
func (rl *RateLimiter) cleanup() {
	now := rl.now()
	for _, tier := range []*limiterTier{rl.general, rl.sensitive} {
		ttl := rl.config.CleanupInterval * 2
		if tier.window > ttl {
			ttl = tier.window
		}
		tier.sweep(now, ttl)
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteAPIError(w, model.NewRateLimitedError("Too many requests. Please try again later."))
}
