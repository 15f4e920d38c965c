// Package account はサインアップ、メールアドレス確認、ログイン、
// OTPによるパスワードリセットの状態遷移を提供する。
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/accounts/internal/auth"
	"github.com/hitoshi/accounts/internal/model"
	"github.com/hitoshi/accounts/internal/repository"
)

// PasswordResetAcceptedMessage はパスワードリセット要求に対して常に返すメッセージ。
// 登録有無にかかわらず同一にする。
const PasswordResetAcceptedMessage = "If an account with that email exists, an OTP has been sent to it"

// errVerificationThrottled はTrackerにより確認メールの送信が抑止されたことを表す。
var errVerificationThrottled = errors.New("verification email throttled")

// Notifier は確認メールとOTPメールの送信先。
type Notifier interface {
	SendVerification(ctx context.Context, to, name, token string) error
	SendPasswordResetOtp(ctx context.Context, to, name, otp string) error
}

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
	// CompareDummy は未登録アカウントに対しても同等の照合コストを払うために使う。
	CompareDummy(password string)
}

// TokenIssuer はセッショントークンを発行する。
type TokenIssuer interface {
	Issue(accountID, email string) (string, error)
}

// Recorder は状態遷移の結果を記録する。
type Recorder interface {
	RecordSignup(result string)
	RecordLogin(result string)
	RecordVerificationEmail(result string)
	RecordEmailVerified(result string)
	RecordPasswordReset(stage, result string)
}

// ServiceConfig はアカウントサービスの設定。
type ServiceConfig struct {
	VerificationTokenTTL    time.Duration
	OtpTTL                  time.Duration
	MaxVerificationAttempts int
	AttemptWindow           time.Duration
}

// Deps はServiceが依存するコンポーネント。
type Deps struct {
	Accounts repository.AccountRepository
	Attempts repository.VerificationAttemptRepository
	Notifier Notifier
	Hasher   PasswordHasher
	Tokens   TokenIssuer
	Tracker  *Tracker
	Metrics  Recorder // nilの場合は記録しない
}

// Service はアカウントのライフサイクルを管理する。
type Service struct {
	accounts repository.AccountRepository
	attempts repository.VerificationAttemptRepository
	notifier Notifier
	hasher   PasswordHasher
	tokens   TokenIssuer
	tracker  *Tracker
	metrics  Recorder
	config   ServiceConfig

	now      func() time.Time
	newID    func() string
	newToken func() (string, error)
	newOTP   func() (string, error)
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = NewTracker(config.MaxVerificationAttempts, config.AttemptWindow)
	}
	return &Service{
		accounts: deps.Accounts,
		attempts: deps.Attempts,
		notifier: deps.Notifier,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		tracker:  tracker,
		metrics:  metrics,
		config:   config,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		newToken: auth.GenerateVerificationToken,
		newOTP:   auth.GenerateOTP,
	}
}

// SignupInput はサインアップの入力。
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token   string
	Account model.AccountSummary
}

// ResetPasswordInput はパスワード再設定の入力。
// Otpは任意で、指定された場合は保存済みOTPとの一致も確認する。
type ResetPasswordInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	Otp             string
}

// NormalizeEmail は前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Signup はアカウントを作成し、確認メールを送信する。
// メール送信に失敗した場合もアカウントは作成済みのまま残り、Internalエラーを返す。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.Account, error) {
	email := NormalizeEmail(in.Email)

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordSignup("error")
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		s.metrics.RecordSignup("conflict")
		return nil, model.NewEmailInUseError()
	}

	now := s.now()
	count, err := s.attempts.CountSince(ctx, email, model.VerificationTypeEmail, now.Add(-s.config.AttemptWindow))
	if err != nil {
		s.metrics.RecordSignup("error")
		return nil, fmt.Errorf("failed to count verification attempts: %w", err)
	}
	if count >= s.config.MaxVerificationAttempts {
		s.metrics.RecordSignup("rate_limited")
		return nil, model.NewRateLimitedError("Too many verification attempts. Please try again later.")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.RecordSignup("error")
		return nil, err
	}
	token, err := s.newToken()
	if err != nil {
		s.metrics.RecordSignup("error")
		return nil, err
	}
	expiresAt := now.Add(s.config.VerificationTokenTTL)

	account := &model.Account{
		ID:                         s.newID(),
		Email:                      email,
		PasswordHash:               hash,
		Name:                       strings.TrimSpace(in.Name),
		VerificationToken:          &token,
		VerificationTokenExpiresAt: &expiresAt,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			s.metrics.RecordSignup("conflict")
			return nil, model.NewEmailInUseError()
		}
		s.metrics.RecordSignup("error")
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account created", slog.String("account_id", account.ID))

	if err := s.sendVerification(ctx, account, token); err != nil {
		if errors.Is(err, errVerificationThrottled) {
			s.metrics.RecordSignup("rate_limited")
			return nil, model.NewRateLimitedError("Too many verification attempts. Please try again later.")
		}
		s.metrics.RecordSignup("mail_failed")
		slog.Error("failed to send verification email",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}

	s.metrics.RecordSignup("success")
	return account, nil
}

// VerifyEmail は確認トークンを消費し、アカウントを確認済みにする。
// 未知のトークンはInvalidToken、期限切れのトークンはExpiredで区別する。
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		s.metrics.RecordEmailVerified("invalid_token")
		return model.NewBadRequestError("Verification token is required", map[string]string{"token": "Verification token is required"})
	}

	account, err := s.accounts.FindByVerificationToken(ctx, token)
	if err != nil {
		s.metrics.RecordEmailVerified("error")
		return fmt.Errorf("failed to look up verification token: %w", err)
	}
	if account == nil {
		s.metrics.RecordEmailVerified("invalid_token")
		return model.NewInvalidTokenError()
	}

	now := s.now()
	if account.VerificationTokenExpiresAt != nil && !now.Before(*account.VerificationTokenExpiresAt) {
		s.metrics.RecordEmailVerified("expired")
		return model.NewExpiredTokenError()
	}

	ok, err := s.accounts.MarkEmailVerified(ctx, account.ID, token, now)
	if err != nil {
		s.metrics.RecordEmailVerified("error")
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	if !ok {
		// 同じトークンで先に確認が完了した
		s.metrics.RecordEmailVerified("invalid_token")
		return model.NewInvalidTokenError()
	}

	s.metrics.RecordEmailVerified("success")
	slog.Info("email verified", slog.String("account_id", account.ID))
	return nil
}

// Login は資格情報を照合し、セッショントークンを発行する。
// 未登録とパスワード不一致は同じエラーを返す。
// 未確認アカウントには新しい確認トークンを発行して確認メールを再送し、EmailNotVerifiedを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		s.hasher.CompareDummy(password)
		s.metrics.RecordLogin("invalid_credentials")
		return nil, model.NewAuthenticationFailedError()
	}

	ok, err := s.hasher.Compare(account.PasswordHash, password)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, err
	}
	if !ok {
		s.metrics.RecordLogin("invalid_credentials")
		return nil, model.NewAuthenticationFailedError()
	}

	if !account.EmailVerified {
		if err := s.refreshVerification(ctx, account); err != nil {
			return nil, err
		}
	}

	token, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		s.metrics.RecordLogin("error")
		return nil, err
	}

	s.metrics.RecordLogin("success")
	return &LoginResult{
		Token:   token,
		Account: model.AccountSummary{ID: account.ID, Email: account.Email},
	}, nil
}

// refreshVerification は未確認アカウントの確認トークンを置き換え、確認メールを再送する。
// 古いトークンは置き換えた時点で無効になる。
// 照会後に確認が完了していた場合はメールを送らずnilを返し、通常のログインを続ける。
// それ以外の戻り値は常に非nilのエラー。
func (s *Service) refreshVerification(ctx context.Context, account *model.Account) error {
	token, err := s.newToken()
	if err != nil {
		s.metrics.RecordLogin("error")
		return err
	}
	expiresAt := s.now().Add(s.config.VerificationTokenTTL)

	updated, err := s.accounts.SetVerificationToken(ctx, account.ID, token, expiresAt)
	if err != nil {
		s.metrics.RecordLogin("error")
		return fmt.Errorf("failed to refresh verification token: %w", err)
	}
	if !updated {
		slog.Info("account verified during login", slog.String("account_id", account.ID))
		return nil
	}

	if err := s.sendVerification(ctx, account, token); err != nil {
		if errors.Is(err, errVerificationThrottled) {
			s.metrics.RecordLogin("unverified")
			return model.NewEmailNotVerifiedError(false)
		}
		s.metrics.RecordLogin("error")
		slog.Error("failed to resend verification email",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
		return model.NewInternalError()
	}

	s.metrics.RecordLogin("unverified")
	return model.NewEmailNotVerifiedError(true)
}

// sendVerification はTrackerで送信可否を確認し、確認メールを送信する。
// 送信に成功した場合のみTrackerと送信記録を更新する。
func (s *Service) sendVerification(ctx context.Context, account *model.Account, token string) error {
	if !s.tracker.CanSend(account.Email) {
		s.metrics.RecordVerificationEmail("throttled")
		slog.Warn("verification email throttled", slog.String("account_id", account.ID))
		return errVerificationThrottled
	}

	if err := s.notifier.SendVerification(ctx, account.Email, account.Name, token); err != nil {
		s.metrics.RecordVerificationEmail("failed")
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	s.tracker.Track(account.Email)

	attempt := &model.VerificationAttempt{
		ID:        s.newID(),
		Email:     account.Email,
		Type:      model.VerificationTypeEmail,
		CreatedAt: s.now(),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		s.metrics.RecordVerificationEmail("failed")
		return fmt.Errorf("failed to record verification attempt: %w", err)
	}

	s.metrics.RecordVerificationEmail("sent")
	return nil
}

// RequestPasswordReset はOTPを発行してメールで送信する。
// 未登録のメールアドレスでもエラーにせず、呼び出し側は常に同じ応答を返す。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordPasswordReset("request", "error")
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		s.metrics.RecordPasswordReset("request", "unknown_email")
		return nil
	}

	otp, err := s.newOTP()
	if err != nil {
		s.metrics.RecordPasswordReset("request", "error")
		return err
	}
	expiresAt := s.now().Add(s.config.OtpTTL)

	if err := s.accounts.SetResetOtp(ctx, account.ID, otp, expiresAt); err != nil {
		s.metrics.RecordPasswordReset("request", "error")
		return fmt.Errorf("failed to store reset otp: %w", err)
	}

	if err := s.notifier.SendPasswordResetOtp(ctx, account.Email, account.Name, otp); err != nil {
		s.metrics.RecordPasswordReset("request", "mail_failed")
		slog.Error("failed to send password reset otp",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()),
		)
		return model.NewInternalError()
	}

	s.metrics.RecordPasswordReset("request", "success")
	slog.Info("password reset otp issued", slog.String("account_id", account.ID))
	return nil
}

// VerifyOtp はOTPが一致し期限内であることを確認する。
// OTPは消費せず、ResetPasswordまたは期限切れまで有効なまま残る。
// 成功時は正規化済みのメールアドレスを返す。
func (s *Service) VerifyOtp(ctx context.Context, email, otp string) (string, error) {
	email = NormalizeEmail(email)

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordPasswordReset("verify", "error")
		return "", fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		s.metrics.RecordPasswordReset("verify", "not_found")
		return "", model.NewNotFoundError("User")
	}

	if !otpValid(account, otp, s.now()) {
		s.metrics.RecordPasswordReset("verify", "invalid_otp")
		return "", model.NewInvalidOrExpiredOtpError()
	}

	s.metrics.RecordPasswordReset("verify", "success")
	return account.Email, nil
}

// ResetPassword はパスワードを置き換え、OTPを消去する。
// 有効期限内のOTPが発行済みであることを必須とする。
// OTPの所持を確認するのはOtpが指定された場合のみ。
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if in.Password != in.ConfirmPassword {
		s.metrics.RecordPasswordReset("reset", "mismatch")
		return model.NewValidationError("Passwords don't match", map[string]string{
			"confirmPassword": "Passwords don't match",
		})
	}

	email := NormalizeEmail(in.Email)
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordPasswordReset("reset", "error")
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		s.metrics.RecordPasswordReset("reset", "not_found")
		return model.NewNotFoundError("User")
	}

	now := s.now()
	if !otpOutstanding(account, now) {
		s.metrics.RecordPasswordReset("reset", "invalid_otp")
		return model.NewInvalidOrExpiredOtpError()
	}
	if in.Otp != "" && !otpValid(account, in.Otp, now) {
		s.metrics.RecordPasswordReset("reset", "invalid_otp")
		return model.NewInvalidOrExpiredOtpError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.RecordPasswordReset("reset", "error")
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		s.metrics.RecordPasswordReset("reset", "error")
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.metrics.RecordPasswordReset("reset", "success")
	slog.Info("password reset completed", slog.String("account_id", account.ID))
	return nil
}

// otpOutstanding はOTPが発行済みかつ期限内かを返す。
func otpOutstanding(account *model.Account, now time.Time) bool {
	return account.ResetPasswordOtp != nil &&
		account.ResetPasswordOtpExpiresAt != nil &&
		now.Before(*account.ResetPasswordOtpExpiresAt)
}

// otpValid はOTPが期限内で保存値と一致するかを返す。
func otpValid(account *model.Account, otp string, now time.Time) bool {
	if !otpOutstanding(account, now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*account.ResetPasswordOtp), []byte(otp)) == 1
}

type nopRecorder struct{}

func (nopRecorder) RecordSignup(string) {}
func (nopRecorder) RecordLogin(string) {}
func (nopRecorder) RecordVerificationEmail(string) {}
func (nopRecorder) RecordEmailVerified(string) {}
func (nopRecorder) RecordPasswordReset(string, string) {}
