package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// ProfileServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	// GetProfile は認証済みアカウントのプロフィールを返す。
	GetProfile(ctx context.Context, accountID string) (*model.Profile, error)
	// UpdateProfile は指定された項目のみ更新し、更新後のプロフィールを返す。
	UpdateProfile(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error)
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	User    *model.Profile `json:"user"`
}

// UserHandler はプロフィールのHTTPハンドラー。
type UserHandler struct {
	service ProfileServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service ProfileServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// GetProfile はプロフィールを返す。
// GET /user/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthenticatedError("User not authenticated"))
		return
	}

	profile, err := h.service.GetProfile(r.Context(), accountID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{Success: true, User: profile})
}

// UpdateProfile はプロフィールを部分更新する。
// PUT /user/update-profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthenticatedError("User not authenticated"))
		return
	}

	var req updateProfileRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}
	update, apiErr := req.toProfileUpdate()
	if apiErr != nil {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), accountID, update)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		Success: true,
		Message: "Profile updated successfully",
		User:    profile,
	})
}
