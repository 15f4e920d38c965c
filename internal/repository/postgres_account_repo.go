package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/accounts/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const accountColumns = `id, email, password_hash, name, phone, dob, gender, address,
	preferred_language, profile_pic, email_verified, phone_verified, verified_at,
	verification_token, verification_token_expires_at,
	reset_password_otp, reset_password_otp_expires_at, created_at, updated_at`

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	address, err := marshalAddress(account.Address)
	if err != nil {
		return err
	}

	var gender sql.NullString
	if account.Gender != nil {
		gender = sql.NullString{String: string(*account.Gender), Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, name, phone, dob, gender, address,
		                       preferred_language, profile_pic, email_verified, phone_verified,
		                       verification_token, verification_token_expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		account.ID, account.Email, account.PasswordHash, account.Name,
		nullStringPtr(account.Phone), nullTimePtr(account.DOB), gender, address,
		nullStringPtr(account.PreferredLanguage), nullStringPtr(account.ProfilePic),
		account.EmailVerified, account.PhoneVerified,
		nullStringPtr(account.VerificationToken), nullTimePtr(account.VerificationTokenExpiresAt),
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

// FindByEmail はメールアドレスでアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return account, nil
}

// FindByVerificationToken は確認トークンでアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByVerificationToken(ctx context.Context, token string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE verification_token = $1`, token)
	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by verification token: %w", err)
	}
	return account, nil
}

// SetVerificationToken は未確認アカウントの確認トークンと有効期限を置き換える。
// 確認済みのアカウントには確認済み状態を保ったまま何もせずfalseを返す。
func (r *PostgresAccountRepo) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET verification_token = $2, verification_token_expires_at = $3, updated_at = now()
		 WHERE id = $1 AND email_verified = FALSE`,
		id, token, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set verification token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkEmailVerified はトークンが現在の値と一致する場合のみ確認済みにする。
// 条件付きUPDATEのため、同じトークンでの並行リクエストはどちらか一方だけが成功する。
func (r *PostgresAccountRepo) MarkEmailVerified(ctx context.Context, id, token string, verifiedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET email_verified = TRUE, verified_at = $3,
		     verification_token = NULL, verification_token_expires_at = NULL,
		     updated_at = now()
		 WHERE id = $1 AND verification_token = $2`,
		id, token, verifiedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark email verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// SetResetOtp はパスワードリセット用OTPと有効期限を置き換える。
func (r *PostgresAccountRepo) SetResetOtp(ctx context.Context, id, otp string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET reset_password_otp = $2, reset_password_otp_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, otp, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set reset otp: %w", err)
	}
	return requireOneRow(result, id)
}

// UpdatePassword はパスワードハッシュを更新し、OTPを消去する。
func (r *PostgresAccountRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET password_hash = $2,
		     reset_password_otp = NULL, reset_password_otp_expires_at = NULL,
		     updated_at = now()
		 WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireOneRow(result, id)
}

// UpdateProfile はSetされた項目のみ更新し、更新後のアカウントを返す。
// アカウントが存在しない場合はnilを返す。
func (r *PostgresAccountRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Account, error) {
	query, args, err := buildProfileUpdate(id, update)
	if err != nil {
		return nil, err
	}

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return account, nil
}

// buildProfileUpdate はSetされた項目からUPDATE文と引数を組み立てる。
func buildProfileUpdate(id string, update model.ProfileUpdate) (string, []interface{}, error) {
	var sets []string
	args := []interface{}{id}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name.Set {
		add("name", nullStringPtr(update.Name.Ptr()))
	}
	if update.Phone.Set {
		add("phone", nullStringPtr(update.Phone.Ptr()))
	}
	if update.DOB.Set {
		add("dob", nullTimePtr(update.DOB.Ptr()))
	}
	if update.Gender.Set {
		var g sql.NullString
		if update.Gender.Valid {
			g = sql.NullString{String: string(update.Gender.Value), Valid: true}
		}
		add("gender", g)
	}
	if update.Address.Set {
		address, err := marshalAddress(update.Address.Ptr())
		if err != nil {
			return "", nil, err
		}
		add("address", address)
	}
	if update.PreferredLanguage.Set {
		add("preferred_language", nullStringPtr(update.PreferredLanguage.Ptr()))
	}

	if len(sets) == 0 {
		return "", nil, errors.New("no profile fields to update")
	}
	sets = append(sets, "updated_at = now()")

	query := `UPDATE accounts SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + accountColumns
	return query, args, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccount は1行をAccountに変換する。行がない場合はnil, nilを返す。
func scanAccount(row rowScanner) (*model.Account, error) {
	a := &model.Account{}
	var (
		phone, gender, language, pic, token, otp sql.NullString
		dob, verifiedAt, tokenExpires, otpExpires sql.NullTime
		address                                   []byte
	)

	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.Name, &phone, &dob, &gender, &address,
		&language, &pic, &a.EmailVerified, &a.PhoneVerified, &verifiedAt,
		&token, &tokenExpires, &otp, &otpExpires, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.Phone = stringPtr(phone)
	a.DOB = timePtr(dob)
	if gender.Valid {
		g := model.Gender(gender.String)
		a.Gender = &g
	}
	if len(address) > 0 {
		var addr model.Address
		if err := json.Unmarshal(address, &addr); err != nil {
			return nil, fmt.Errorf("failed to decode address: %w", err)
		}
		a.Address = &addr
	}
	a.PreferredLanguage = stringPtr(language)
	a.ProfilePic = stringPtr(pic)
	a.VerifiedAt = timePtr(verifiedAt)
	a.VerificationToken = stringPtr(token)
	a.VerificationTokenExpiresAt = timePtr(tokenExpires)
	a.ResetPasswordOtp = stringPtr(otp)
	a.ResetPasswordOtpExpiresAt = timePtr(otpExpires)

	return a, nil
}

// marshalAddress は住所をJSONBカラム用の文字列に変換する。nilはNULLになる。
// []byteのまま渡すとbyteaとして送信されるため文字列にする。
func marshalAddress(addr *model.Address) (interface{}, error) {
	if addr == nil {
		return nil, nil
	}
	b, err := json.Marshal(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode address: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func requireOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
