// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/accounts/internal/account"
	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// AccountServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Signup(ctx context.Context, in account.SignupInput) (*model.Account, error)
	Login(ctx context.Context, email, password string) (*account.LoginResult, error)
	VerifyEmail(ctx context.Context, token string) error
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyOtp(ctx context.Context, email, otp string) (string, error)
	ResetPassword(ctx context.Context, in account.ResetPasswordInput) error
}

// messageResponse はメッセージのみを返す成功レスポンス。
type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// signupResponse はサインアップ成功時のレスポンス。
type signupResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	User    model.AccountSummary `json:"user"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    loginAccount `json:"user"`
}

// loginAccount はログインレスポンスに含めるアカウント情報。
type loginAccount struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// verifyOtpResponse はOTP確認成功時のレスポンス。次の手順のためにメールアドレスを返す。
type verifyOtpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Email   string `json:"email"`
}

// AuthHandler はサインアップ、ログイン、メール確認、パスワードリセットのHTTPハンドラー。
type AuthHandler struct {
	service AccountServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AccountServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// Signup はアカウントを登録し、確認メールを送信する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	if apiErr := validateRequest(req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	created, err := h.service.Signup(r.Context(), account.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, signupResponse{
		Success: true,
		Message: "User registered successfully. Please check your email to verify your account.",
		User:    created.Summary(),
	})
}

// Login は資格情報を検証し、セッショントークンを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	if apiErr := validateRequest(req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Token:   result.Token,
		User: loginAccount{
			ID:    result.Account.ID,
			Email: result.Account.Email,
		},
	})
}

// VerifyEmail は確認リンクのトークンを消費する。
// GET /auth/verify-email?token=xxx
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		middleware.WriteAPIError(w, model.NewBadRequestError(validationFailedMessage, map[string]string{
			"token": "Verification token is required",
		}))
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Email verified successfully",
	})
}

// RequestPasswordReset はパスワードリセット用OTPを発行する。
// 登録の有無にかかわらず同じレスポンスを返す。
// POST /auth/forgot-password/request
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	if apiErr := validateRequest(req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: account.PasswordResetAcceptedMessage,
	})
}

// VerifyOtp はOTPを確認する。
// POST /auth/forgot-password/verify
func (h *AuthHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	if apiErr := validateRequest(req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	email, err := h.service.VerifyOtp(r.Context(), req.Email, req.Otp)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyOtpResponse{
		Success: true,
		Message: "OTP verified successfully",
		Email:   email,
	})
}

// ResetPassword は新しいパスワードを設定する。
// POST /auth/forgot-password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	if apiErr := validateRequest(req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	err := h.service.ResetPassword(r.Context(), account.ResetPasswordInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Otp:             req.Otp,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Password reset successfully",
	})
}

// writeJSON は成功レスポンスをJSONで書き込む。
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
