// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/accounts/internal/model"
)

// ErrEmailTaken はメールアドレスの一意制約違反を表す。
// 重複チェックとINSERTの間に別リクエストが同じメールアドレスで登録した場合に返る。
var ErrEmailTaken = errors.New("email already registered")

// AccountRepository はアカウントデータの永続化インターフェース。
// Find系は見つからない場合にnil, nilを返す。
type AccountRepository interface {
	// Create はアカウントを作成する。メールアドレスが既に存在する場合はErrEmailTakenを返す。
	Create(ctx context.Context, account *model.Account) error

	// FindByID は指定IDのアカウントを取得する。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail は正規化済みメールアドレスでアカウントを取得する。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// FindByVerificationToken は確認トークンでアカウントを取得する。
	FindByVerificationToken(ctx context.Context, token string) (*model.Account, error)

	// SetVerificationToken は未確認アカウントの確認トークンと有効期限を置き換える。
	// 既に確認済みの場合は何も更新せずfalseを返す。
	SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) (bool, error)

	// MarkEmailVerified はトークンが一致する場合のみ確認済みにし、トークンを消去する。
	// 同じトークンで同時に確認された場合、trueを返すのは1件だけ。
	MarkEmailVerified(ctx context.Context, id, token string, verifiedAt time.Time) (bool, error)

	// SetResetOtp はパスワードリセット用OTPと有効期限を置き換える。
	SetResetOtp(ctx context.Context, id, otp string, expiresAt time.Time) error

	// UpdatePassword はパスワードハッシュを更新し、OTPを消去する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// UpdateProfile はSetされた項目のみ更新し、更新後のアカウントを返す。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Account, error)
}

// VerificationAttemptRepository は確認メール送信記録の永続化インターフェース。
type VerificationAttemptRepository interface {
	// Create は送信記録を1件追加する。
	Create(ctx context.Context, attempt *model.VerificationAttempt) error

	// CountSince は指定メールアドレス・種別でsince以降に作成された記録数を返す。
	CountSince(ctx context.Context, email string, attemptType model.VerificationType, since time.Time) (int, error)
}
