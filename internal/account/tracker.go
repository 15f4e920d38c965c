package account

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// trackerEntry はメールアドレスごとの送信状況。
type trackerEntry struct {
	count       int
	lastAttempt time.Time
}

// Tracker はプロセス内で確認メールの送信頻度を制限する。
// 永続化された送信記録が正であり、Trackerは再起動で失われる補助的なキャッシュとして扱う。
// プロセス起動時に生成し、Runで古いエントリを定期的に削除する。
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*trackerEntry
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewTracker はTrackerを生成する。
// 直近の送信からwindow以内にmax回送信済みのアドレスは送信不可になる。
func NewTracker(max int, window time.Duration) *Tracker {
	return &Tracker{
		entries: make(map[string]*trackerEntry),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// CanSend は送信回数がmax以上かつ最後の送信からwindow未満の場合のみfalseを返す。
func (t *Tracker) CanSend(email string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[email]
	if !ok {
		return true
	}
	if e.count < t.max {
		return true
	}
	return t.now().Sub(e.lastAttempt) >= t.window
}

// Track は送信を1回記録する。
// 最後の送信からwindow以上経過している場合はカウントを1からやり直す。
func (t *Tracker) Track(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.entries[email]
	if !ok {
		t.entries[email] = &trackerEntry{count: 1, lastAttempt: now}
		return
	}
	if now.Sub(e.lastAttempt) >= t.window {
		e.count = 1
	} else {
		e.count++
	}
	e.lastAttempt = now
}

// Prune は最後の送信からwindow以上経過したエントリを削除し、削除件数を返す。
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for email, e := range t.entries {
		if now.Sub(e.lastAttempt) >= t.window {
			delete(t.entries, email)
			removed++
		}
	}
	return removed
}

// Len は保持しているエントリ数を返す。
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Run はコンテキストがキャンセルされるまでinterval間隔でPruneを実行する。
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Prune(); n > 0 {
				slog.Debug("pruned verification tracker", slog.Int("removed", n))
			}
		}
	}
}
