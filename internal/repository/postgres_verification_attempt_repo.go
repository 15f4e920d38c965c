package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/accounts/internal/model"
)

// PostgresVerificationAttemptRepo はPostgreSQLを使用した確認メール送信記録リポジトリ。
type PostgresVerificationAttemptRepo struct {
	db *sql.DB
}

// NewPostgresVerificationAttemptRepo はPostgresVerificationAttemptRepoを生成する。
func NewPostgresVerificationAttemptRepo(db *sql.DB) *PostgresVerificationAttemptRepo {
	return &PostgresVerificationAttemptRepo{db: db}
}

// Create は送信記録を1件追加する。
func (r *PostgresVerificationAttemptRepo) Create(ctx context.Context, attempt *model.VerificationAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_attempts (id, email, type, created_at) VALUES ($1, $2, $3, $4)`,
		attempt.ID, attempt.Email, string(attempt.Type), attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verification attempt: %w", err)
	}
	return nil
}

// CountSince はsince以降の送信記録数を返す。
// (email, type, created_at) の複合インデックスを使用する。
func (r *PostgresVerificationAttemptRepo) CountSince(ctx context.Context, email string, attemptType model.VerificationType, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM verification_attempts
		 WHERE email = $1 AND type = $2 AND created_at >= $3`,
		email, string(attemptType), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count verification attempts: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ VerificationAttemptRepository = (*PostgresVerificationAttemptRepo)(nil)
