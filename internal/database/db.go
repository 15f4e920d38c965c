package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// Open はPostgreSQLデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはConnectまたはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// pinger は接続確認が可能な対象を表す。*sql.DBが満たす。
type pinger interface {
	PingContext(ctx context.Context) error
}

// Connect はデータベース接続を開き、疎通が取れるまで再試行する。
// retries回の再試行（初回を含めずに）をbackoff間隔で行い、すべて失敗した場合はエラーを返す。
func Connect(ctx context.Context, databaseURL string, retries int, backoff time.Duration, logger *slog.Logger) (*sql.DB, error) {
	db, err := Open(databaseURL)
	if err != nil {
		return nil, err
	}

	if err := waitForDatabase(ctx, db, retries, backoff, logger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// waitForDatabase はPingが成功するまで最大retries回再試行する。
// コンテキストがキャンセルされた場合は待機を中断する。
func waitForDatabase(ctx context.Context, p pinger, retries int, backoff time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if lastErr = p.PingContext(ctx); lastErr == nil {
			if attempt > 0 {
				logger.Info("database connection established", slog.Int("attempt", attempt+1))
			}
			return nil
		}

		if attempt == retries {
			break
		}

		logger.Warn("database not reachable, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("retries_left", retries-attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("database connection aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed to connect to database after %d attempts: %w", retries+1, lastErr)
}
