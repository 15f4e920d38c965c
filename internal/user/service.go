// Package user はプロフィールの取得と部分更新を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/accounts/internal/model"
	"github.com/hitoshi/accounts/internal/repository"
)

// Sanitizer はプロフィール更新内容の自由入力項目を平文化する。
type Sanitizer interface {
	Update(u model.ProfileUpdate) model.ProfileUpdate
}

// Service はプロフィール管理のサービス層。
type Service struct {
	accounts  repository.AccountRepository
	sanitizer Sanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
// sanitizerがnilの場合は入力をそのまま保存する。
func NewService(accounts repository.AccountRepository, sanitizer Sanitizer) *Service {
	return &Service{accounts: accounts, sanitizer: sanitizer}
}

// GetProfile はアカウントのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewNotFoundError("User")
	}

	p := account.Profile()
	return &p, nil
}

// UpdateProfile は指定された項目のみ更新し、更新後のプロフィールを返す。
// 変更対象が1つもない場合はBadRequestを返す。
func (s *Service) UpdateProfile(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error) {
	if update.IsEmpty() {
		return nil, model.NewBadRequestError("No valid fields to update", nil)
	}

	if s.sanitizer != nil {
		update = s.sanitizer.Update(update)
	}
	if update.Name.Set {
		if !update.Name.Valid || utf8.RuneCountInString(update.Name.Value) < 2 {
			return nil, model.NewValidationError("Validation failed", map[string]string{
				"name": "Name must be at least 2 characters",
			})
		}
	}

	account, err := s.accounts.UpdateProfile(ctx, accountID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if account == nil {
		return nil, model.NewNotFoundError("User")
	}

	slog.Info("profile updated", slog.String("account_id", accountID))

	p := account.Profile()
	return &p, nil
}
