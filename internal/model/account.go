// Package model はドメインモデルを定義する。
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Gender はプロフィールの性別を表す。
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// VerificationType は検証メール送信記録の種別。
type VerificationType string

// VerificationTypeEmail はメールアドレス確認メールの送信を表す。
const VerificationTypeEmail VerificationType = "EMAIL_VERIFICATION"

// Address は構造化された住所を表す。
// すべての項目は任意。
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Country string `json:"country,omitempty"`
}

// Account はサービス利用者のアカウントを表す。
// 作成はサインアップのみで行い、このサービスでは削除しない。
type Account struct {
	ID           string
	Email        string
	PasswordHash string

	// プロフィール
	Name              string
	Phone             *string
	DOB               *time.Time
	Gender            *Gender
	Address           *Address
	PreferredLanguage *string
	ProfilePic        *string

	// メールアドレス確認状態
	// EmailVerified が true の場合、VerificationToken は常に nil。
	EmailVerified              bool
	PhoneVerified              bool
	VerifiedAt                 *time.Time
	VerificationToken          *string
	VerificationTokenExpiresAt *time.Time

	// パスワードリセット状態
	ResetPasswordOtp          *string
	ResetPasswordOtpExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountSummary はレスポンスに含める最小限のアカウント情報。
// 認証情報は含めない。
type AccountSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Summary はアカウントの最小限の射影を返す。
func (a *Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Email: a.Email, Name: a.Name}
}

// Profile はプロフィール取得APIが返すアカウントの射影。
// パスワードハッシュ、確認トークン、OTPは含めない。
type Profile struct {
	ID                string   `json:"id"`
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	Phone             *string  `json:"phone"`
	DOB               *string  `json:"dob"`
	Gender            *Gender  `json:"gender"`
	Address           *Address `json:"address"`
	PreferredLanguage *string  `json:"preferredLanguage"`
	ProfilePic        *string  `json:"profilePic"`
	EmailVerified     bool     `json:"emailVerified"`
	PhoneVerified     bool     `json:"phoneVerified"`
}

// DateLayout は生年月日の入出力フォーマット。
const DateLayout = "2006-01-02"

// Profile はアカウントからプロフィールの射影を生成する。
func (a *Account) Profile() Profile {
	p := Profile{
		ID:                a.ID,
		Email:             a.Email,
		Name:              a.Name,
		Phone:             a.Phone,
		Gender:            a.Gender,
		Address:           a.Address,
		PreferredLanguage: a.PreferredLanguage,
		ProfilePic:        a.ProfilePic,
		EmailVerified:     a.EmailVerified,
		PhoneVerified:     a.PhoneVerified,
	}
	if a.DOB != nil {
		s := a.DOB.Format(DateLayout)
		p.DOB = &s
	}
	return p
}

// VerificationAttempt は確認メール送信1件ごとの監査記録。
// 直近1時間の送信回数の算出に使用する。
type VerificationAttempt struct {
	ID        string
	Email     string
	Type      VerificationType
	CreatedAt time.Time
}

// Nullable はJSONの部分更新における3状態（未指定 / null / 値あり）を表す。
type Nullable[T any] struct {
	Set   bool // リクエストにキーが存在した
	Valid bool // 値がnullではない
	Value T
}

// UnmarshalJSON はキーが存在した場合にのみ呼ばれるため、Setを立てる。
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Valid = false
		var zero T
		n.Value = zero
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// Ptr は値ありの場合に値へのポインタ、nullの場合にnilを返す。
func (n Nullable[T]) Ptr() *T {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// ProfileUpdate はプロフィールの部分更新内容。
// Setがfalseの項目は変更しない。Setがtrue、Validがfalseの項目はnullに更新する。
type ProfileUpdate struct {
	Name              Nullable[string]
	Phone             Nullable[string]
	DOB               Nullable[time.Time]
	Gender            Nullable[Gender]
	Address           Nullable[Address]
	PreferredLanguage Nullable[string]
}

// IsEmpty は変更対象の項目が1つもない場合にtrueを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return !u.Name.Set && !u.Phone.Set && !u.DOB.Set &&
		!u.Gender.Set && !u.Address.Set && !u.PreferredLanguage.Set
}
