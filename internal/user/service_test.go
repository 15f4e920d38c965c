package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/accounts/internal/model"
)

// --- モック定義 ---

type mockAccountRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.Account, error)
	updateProfileFn func(ctx context.Context, id string, u model.ProfileUpdate) (*model.Account, error)
}

func (m *mockAccountRepo) Create(context.Context, *model.Account) error { return nil }
func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockAccountRepo) FindByEmail(context.Context, string) (*model.Account, error) {
	return nil, nil
}
func (m *mockAccountRepo) FindByVerificationToken(context.Context, string) (*model.Account, error) {
	return nil, nil
}
func (m *mockAccountRepo) SetVerificationToken(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}
func (m *mockAccountRepo) MarkEmailVerified(context.Context, string, string, time.Time) (bool, error) {
	return false, nil
}
func (m *mockAccountRepo) SetResetOtp(context.Context, string, string, time.Time) error {
	return nil
}
func (m *mockAccountRepo) UpdatePassword(context.Context, string, string) error { return nil }
func (m *mockAccountRepo) UpdateProfile(ctx context.Context, id string, u model.ProfileUpdate) (*model.Account, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, u)
	}
	return nil, nil
}

type upperSanitizer struct{ called bool }

func (s *upperSanitizer) Update(u model.ProfileUpdate) model.ProfileUpdate {
	s.called = true
	if u.Name.Valid {
		u.Name.Value = "Sanitized"
	}
	return u
}

func strPtr(s string) *string { return &s }

func apiErrorCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	return apiErr.Code
}

// --- GetProfile ---

func TestService_GetProfile(t *testing.T) {
	repo := &mockAccountRepo{
		findByIDFn: func(_ context.Context, id string) (*model.Account, error) {
			return &model.Account{ID: id, Email: "a@example.com", Name: "Alice", PasswordHash: "hash", Phone: strPtr("0123")}, nil
		},
	}
	svc := NewService(repo, nil)

	p, err := svc.GetProfile(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "acc-1" || p.Name != "Alice" || p.Phone == nil || *p.Phone != "0123" {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestService_GetProfile_NotFound(t *testing.T) {
	svc := NewService(&mockAccountRepo{}, nil)

	_, err := svc.GetProfile(context.Background(), "missing")
	if code := apiErrorCode(t, err); code != model.ErrCodeNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodeNotFound)
	}
}

func TestService_GetProfile_RepoError(t *testing.T) {
	repo := &mockAccountRepo{
		findByIDFn: func(context.Context, string) (*model.Account, error) { return nil, errors.New("db down") },
	}
	svc := NewService(repo, nil)

	if _, err := svc.GetProfile(context.Background(), "acc-1"); err == nil {
		t.Fatal("expected error")
	}
}

// --- UpdateProfile ---

func TestService_UpdateProfile_Empty(t *testing.T) {
	called := false
	repo := &mockAccountRepo{
		updateProfileFn: func(context.Context, string, model.ProfileUpdate) (*model.Account, error) {
			called = true
			return nil, nil
		},
	}
	svc := NewService(repo, nil)

	_, err := svc.UpdateProfile(context.Background(), "acc-1", model.ProfileUpdate{})
	if code := apiErrorCode(t, err); code != model.ErrCodeBadRequest {
		t.Errorf("code = %q, want %q", code, model.ErrCodeBadRequest)
	}
	if called {
		t.Error("repository should not be called for empty update")
	}
}

func TestService_UpdateProfile_OnlyNamePassedThrough(t *testing.T) {
	var got model.ProfileUpdate
	repo := &mockAccountRepo{
		updateProfileFn: func(_ context.Context, id string, u model.ProfileUpdate) (*model.Account, error) {
			got = u
			return &model.Account{ID: id, Email: "a@example.com", Name: u.Name.Value, Phone: strPtr("0123")}, nil
		},
	}
	sanitizer := &upperSanitizer{}
	svc := NewService(repo, sanitizer)

	p, err := svc.UpdateProfile(context.Background(), "acc-1", model.ProfileUpdate{
		Name: model.Nullable[string]{Set: true, Valid: true, Value: "X-ray"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sanitizer.called {
		t.Error("sanitizer should be applied")
	}
	if got.Phone.Set || got.Gender.Set || got.Address.Set {
		t.Errorf("only name should be set, got %+v", got)
	}
	if p.Name != "Sanitized" || p.Phone == nil || *p.Phone != "0123" {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestService_UpdateProfile_NullName_Rejected(t *testing.T) {
	svc := NewService(&mockAccountRepo{}, nil)

	_, err := svc.UpdateProfile(context.Background(), "acc-1", model.ProfileUpdate{
		Name: model.Nullable[string]{Set: true},
	})
	if code := apiErrorCode(t, err); code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", code, model.ErrCodeValidation)
	}
}

func TestService_UpdateProfile_NotFound(t *testing.T) {
	svc := NewService(&mockAccountRepo{}, nil)

	_, err := svc.UpdateProfile(context.Background(), "missing", model.ProfileUpdate{
		Phone: model.Nullable[string]{Set: true, Valid: true, Value: "0123"},
	})
	if code := apiErrorCode(t, err); code != model.ErrCodeNotFound {
		t.Errorf("code = %q, want %q", code, model.ErrCodeNotFound)
	}
}
