// Package cleanup は認証データの定期メンテナンスジョブを提供する。
// 保持期間を超過した確認メール送信記録の削除と、期限切れOTPの消去を行う。
// 確認トークンは期限切れと未知を区別するため消去しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// メトリクスの種別ラベル
const (
	KindVerificationAttempts = "verification_attempts"
	KindExpiredOtps          = "expired_otps"
)

// DefaultRetention は確認メール送信記録のデフォルト保持期間。
const DefaultRetention = 7 * 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder は処理件数の記録に必要なインターフェース。
// metrics.MetricsCollectorの部分集合として定義する。
type Recorder interface {
	RecordCleanup(kind string, rows int64)
}

// CleanupJob は認証データのメンテナンスジョブ。
// 何度実行しても結果が変わらない冪等な処理のみを行う。
type CleanupJob struct {
	db        Executor
	logger    *slog.Logger
	metrics   Recorder
	Retention time.Duration // 送信記録の保持期間（デフォルト: 7日）
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// metricsがnilの場合は記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, metrics Recorder) *CleanupJob {
	return &CleanupJob{
		db:        db,
		logger:    logger,
		metrics:   metrics,
		Retention: DefaultRetention,
		now:       time.Now,
	}
}

// Run はメンテナンス処理を1回実行する。
// どちらかの処理が失敗した場合も残りの処理は実行し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	attempts, attemptsErr := j.exec(ctx, KindVerificationAttempts,
		`DELETE FROM verification_attempts WHERE created_at < $1`,
		now.Add(-j.Retention),
	)
	otps, otpsErr := j.exec(ctx, KindExpiredOtps,
		`UPDATE accounts
		 SET reset_password_otp = NULL, reset_password_otp_expires_at = NULL, updated_at = now()
		 WHERE reset_password_otp_expires_at IS NOT NULL AND reset_password_otp_expires_at < $1`,
		now,
	)

	if attemptsErr != nil {
		return attemptsErr
	}
	if otpsErr != nil {
		return otpsErr
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_attempts", attempts),
		slog.Int64("cleared_otps", otps),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// exec は1つのメンテナンスSQLを実行し、影響行数を返す。
func (j *CleanupJob) exec(ctx context.Context, kind, query string, arg interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, arg)
	if err != nil {
		j.logger.Error("cleanup statement failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to clean up %s: %w", kind, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to read rows affected",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to read rows affected for %s: %w", kind, err)
	}

	if j.metrics != nil {
		j.metrics.RecordCleanup(kind, rows)
	}
	return rows, nil
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
