// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// ドメイン層が返すエラーはすべてこの型で、境界で1つのハンドラーがJSONに変換する。
type APIError struct {
	Code    string            // エラーコード
	Message string            // ユーザー向けメッセージ
	Status  int               // HTTPステータスコード
	Fields  map[string]string // 入力検証エラーの項目パス → メッセージ（BadRequest/ValidationErrorのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeEmailNotVerified     = "EMAIL_NOT_VERIFIED"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeExpired              = "TOKEN_EXPIRED"
	ErrCodeInvalidOrExpiredOtp  = "INVALID_OR_EXPIRED_OTP"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewBadRequestError は不正・欠落した入力のエラーを生成する。
// fieldsは省略可能。
func NewBadRequestError(message string, fields map[string]string) *APIError {
	return &APIError{
		Code:    ErrCodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Fields:  fields,
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string, fields map[string]string) *APIError {
	return &APIError{
		Code:    ErrCodeValidation,
		Message: message,
		Status:  http.StatusBadRequest,
		Fields:  fields,
	}
}

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: "Email already in use",
		Status:  http.StatusConflict,
	}
}

// NewAuthenticationFailedError は認証失敗エラーを生成する。
// メールアドレス未登録・パスワード不一致のどちらでも同じ内容を返す。
func NewAuthenticationFailedError() *APIError {
	return &APIError{
		Code:    ErrCodeAuthenticationFailed,
		Message: "Authentication failed",
		Status:  http.StatusUnauthorized,
	}
}

// NewEmailNotVerifiedError はメールアドレス未確認エラーを生成する。
func NewEmailNotVerifiedError(resent bool) *APIError {
	msg := "Email not verified. A new verification email has been sent."
	if !resent {
		msg = "Email not verified. Too many verification emails were sent recently, please try again later."
	}
	return &APIError{
		Code:    ErrCodeEmailNotVerified,
		Message: msg,
		Status:  http.StatusForbidden,
	}
}

// NewInvalidTokenError は未知の確認トークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidToken,
		Message: "Invalid verification token",
		Status:  http.StatusBadRequest,
	}
}

// NewExpiredTokenError は期限切れの確認トークンのエラーを生成する。
func NewExpiredTokenError() *APIError {
	return &APIError{
		Code:    ErrCodeExpired,
		Message: "Verification token has expired. Please request a new one.",
		Status:  http.StatusBadRequest,
	}
}

// NewInvalidOrExpiredOtpError はOTP不一致・期限切れのエラーを生成する。
func NewInvalidOrExpiredOtpError() *APIError {
	return &APIError{
		Code:    ErrCodeInvalidOrExpiredOtp,
		Message: "Invalid or expired OTP",
		Status:  http.StatusBadRequest,
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// NewRateLimitedError は送信回数・リクエスト数の上限超過エラーを生成する。
func NewRateLimitedError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeRateLimited,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

// NewUnauthenticatedError はBearerトークンの欠落・無効エラーを生成する。
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthenticated,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:    ErrCodeInternal,
		Message: "Something went wrong",
		Status:  http.StatusInternalServerError,
	}
}
