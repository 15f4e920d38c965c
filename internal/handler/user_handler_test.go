package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// --- モック定義 ---

// mockProfileService はProfileServiceInterfaceのモック実装。
type mockProfileService struct {
	getProfileFn    func(ctx context.Context, accountID string) (*model.Profile, error)
	updateProfileFn func(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error)
}

func (m *mockProfileService) GetProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, accountID)
	}
	return &model.Profile{ID: accountID}, nil
}

func (m *mockProfileService) UpdateProfile(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, accountID, update)
	}
	return &model.Profile{ID: accountID}, nil
}

// withAccountID はリクエストコンテキストに認証済みアカウントを注入する。
func withAccountID(req *http.Request, accountID string) *http.Request {
	ctx := middleware.ContextWithAccount(req.Context(), middleware.Principal{AccountID: accountID, Email: "alice@example.com"})
	return req.WithContext(ctx)
}

// --- GET /user/profile テスト ---

func TestUserHandler_GetProfile_Success(t *testing.T) {
	phone := "+81-90-0000-0000"
	svc := &mockProfileService{
		getProfileFn: func(ctx context.Context, accountID string) (*model.Profile, error) {
			if accountID != "acc-123" {
				t.Errorf("accountID = %q, want %q", accountID, "acc-123")
			}
			return &model.Profile{ID: "acc-123", Email: "alice@example.com", Name: "Alice", Phone: &phone, EmailVerified: true}, nil
		},
	}
	h := NewUserHandler(svc)

	w := httptest.NewRecorder()
	h.GetProfile(w, withAccountID(httptest.NewRequest(http.MethodGet, "/user/profile", nil), "acc-123"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	user := body["user"].(map[string]interface{})
	if user["name"] != "Alice" || user["phone"] != phone || user["emailVerified"] != true {
		t.Errorf("user = %v", user)
	}
	// 未設定項目はnullで返す
	if v, ok := user["dob"]; !ok || v != nil {
		t.Errorf("dob = %v (present=%v), want null", v, ok)
	}
}

func TestUserHandler_GetProfile_NoAccount_ReturnsUnauthenticated(t *testing.T) {
	h := NewUserHandler(&mockProfileService{})

	w := httptest.NewRecorder()
	h.GetProfile(w, httptest.NewRequest(http.MethodGet, "/user/profile", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_GetProfile_NotFound(t *testing.T) {
	svc := &mockProfileService{
		getProfileFn: func(ctx context.Context, accountID string) (*model.Profile, error) {
			return nil, model.NewNotFoundError("User")
		},
	}
	h := NewUserHandler(svc)

	w := httptest.NewRecorder()
	h.GetProfile(w, withAccountID(httptest.NewRequest(http.MethodGet, "/user/profile", nil), "acc-gone"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := decodeBody(t, w); body["message"] != "User not found" {
		t.Errorf("message = %v", body["message"])
	}
}

// --- PUT /user/update-profile テスト ---

func TestUserHandler_UpdateProfile_OnlyPresentFields(t *testing.T) {
	var got model.ProfileUpdate
	svc := &mockProfileService{
		updateProfileFn: func(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error) {
			got = update
			return &model.Profile{ID: accountID, Name: "Xavier"}, nil
		},
	}
	h := NewUserHandler(svc)

	w := httptest.NewRecorder()
	h.UpdateProfile(w, withAccountID(jsonRequest(http.MethodPut, "/user/update-profile", `{"name":"Xavier"}`), "acc-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !got.Name.Set || got.Name.Value != "Xavier" {
		t.Errorf("name = %+v", got.Name)
	}
	if got.Phone.Set || got.DOB.Set || got.Gender.Set || got.Address.Set || got.PreferredLanguage.Set {
		t.Errorf("only name should be set: %+v", got)
	}
	if body := decodeBody(t, w); body["message"] != "Profile updated successfully" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestUserHandler_UpdateProfile_ParsesTypedFields(t *testing.T) {
	var got model.ProfileUpdate
	svc := &mockProfileService{
		updateProfileFn: func(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error) {
			got = update
			return &model.Profile{ID: accountID}, nil
		},
	}
	h := NewUserHandler(svc)

	w := httptest.NewRecorder()
	h.UpdateProfile(w, withAccountID(jsonRequest(http.MethodPut, "/user/update-profile",
		`{"dob":"1990-04-01","gender":"Female","address":{"city":"Osaka"},"phone":null}`), "acc-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !got.DOB.Valid || !got.DOB.Value.Equal(time.Date(1990, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("dob = %+v", got.DOB)
	}
	if !got.Gender.Valid || got.Gender.Value != model.GenderFemale {
		t.Errorf("gender = %+v", got.Gender)
	}
	if !got.Address.Valid || got.Address.Value.City != "Osaka" {
		t.Errorf("address = %+v", got.Address)
	}
	if !got.Phone.Set || got.Phone.Valid {
		t.Errorf("phone should be set to null: %+v", got.Phone)
	}
}

func TestUserHandler_UpdateProfile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		field   string
		message string
	}{
		{"short name", `{"name":"X"}`, "name", "Name must be at least 2 characters"},
		{"bad gender", `{"gender":"Unknown"}`, "gender", "Gender must be Male, Female or Other"},
		{"bad dob", `{"dob":"01/04/1990"}`, "dob", "Invalid date format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockProfileService{
				updateProfileFn: func(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error) {
					t.Fatal("service should not be called")
					return nil, nil
				},
			}
			h := NewUserHandler(svc)

			w := httptest.NewRecorder()
			h.UpdateProfile(w, withAccountID(jsonRequest(http.MethodPut, "/user/update-profile", tt.body), "acc-1"))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if got := fieldErrors(t, decodeBody(t, w))[tt.field]; got != tt.message {
				t.Errorf("errors[%s] = %v, want %q", tt.field, got, tt.message)
			}
		})
	}
}

func TestUserHandler_UpdateProfile_EmptyBodyFromService(t *testing.T) {
	svc := &mockProfileService{
		updateProfileFn: func(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error) {
			if !update.IsEmpty() {
				t.Errorf("update should be empty: %+v", update)
			}
			return nil, model.NewBadRequestError("No valid fields to update", nil)
		},
	}
	h := NewUserHandler(svc)

	w := httptest.NewRecorder()
	h.UpdateProfile(w, withAccountID(jsonRequest(http.MethodPut, "/user/update-profile", `{"email":"x@example.com"}`), "acc-1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeBody(t, w); body["message"] != "No valid fields to update" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestUserHandler_UpdateProfile_EmptyDOBClears(t *testing.T) {
	var got model.ProfileUpdate
	svc := &mockProfileService{
		updateProfileFn: func(ctx context.Context, accountID string, update model.ProfileUpdate) (*model.Profile, error) {
			got = update
			return &model.Profile{ID: accountID}, nil
		},
	}
	h := NewUserHandler(svc)

	w := httptest.NewRecorder()
	h.UpdateProfile(w, withAccountID(jsonRequest(http.MethodPut, "/user/update-profile", `{"dob":""}`), "acc-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !got.DOB.Set || got.DOB.Valid {
		t.Errorf("dob should be cleared: %+v", got.DOB)
	}
}
