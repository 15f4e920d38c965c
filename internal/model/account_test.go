package model

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestNullable_UnmarshalJSON_ThreeStates(t *testing.T) {
	var body struct {
		Name  Nullable[string] `json:"name"`
		Phone Nullable[string] `json:"phone"`
		City  Nullable[string] `json:"city"`
	}
	if err := json.Unmarshal([]byte(`{"name":"Alice","phone":null}`), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !body.Name.Set || !body.Name.Valid || body.Name.Value != "Alice" {
		t.Errorf("name = %+v, want set and valid with Alice", body.Name)
	}
	if !body.Phone.Set || body.Phone.Valid {
		t.Errorf("phone = %+v, want set and null", body.Phone)
	}
	if body.City.Set {
		t.Errorf("city = %+v, want unset", body.City)
	}
	if body.Phone.Ptr() != nil {
		t.Error("Ptr() of null should be nil")
	}
	if p := body.Name.Ptr(); p == nil || *p != "Alice" {
		t.Errorf("Ptr() = %v, want Alice", p)
	}
}

func TestNullable_UnmarshalJSON_WrongType(t *testing.T) {
	var body struct {
		Name Nullable[string] `json:"name"`
	}
	if err := json.Unmarshal([]byte(`{"name":12}`), &body); err == nil {
		t.Fatal("expected error for number into string field")
	}
}

func TestProfileUpdate_IsEmpty(t *testing.T) {
	if !(ProfileUpdate{}).IsEmpty() {
		t.Error("zero ProfileUpdate should be empty")
	}
	u := ProfileUpdate{Gender: Nullable[Gender]{Set: true}}
	if u.IsEmpty() {
		t.Error("update with explicit null gender should not be empty")
	}
}

func TestAccount_Profile_ExcludesCredentials(t *testing.T) {
	dob := time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC)
	token := "secret-token"
	otp := "1234"
	a := &Account{
		ID:                "acc-1",
		Email:             "a@example.com",
		PasswordHash:      "hash",
		Name:              "Alice",
		DOB:               &dob,
		VerificationToken: &token,
		ResetPasswordOtp:  &otp,
		EmailVerified:     true,
	}

	raw, err := json.Marshal(a.Profile())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"password", "passwordHash", "verificationToken", "resetPasswordOtp"} {
		if _, ok := out[key]; ok {
			t.Errorf("profile should not contain %q", key)
		}
	}
	if out["dob"] != "1990-04-02" {
		t.Errorf("dob = %v, want 1990-04-02", out["dob"])
	}
	if out["emailVerified"] != true {
		t.Errorf("emailVerified = %v, want true", out["emailVerified"])
	}
}

func TestAPIError_Constructors_Status(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
		code   string
	}{
		{NewEmailInUseError(), http.StatusConflict, ErrCodeConflict},
		{NewAuthenticationFailedError(), http.StatusUnauthorized, ErrCodeAuthenticationFailed},
		{NewEmailNotVerifiedError(true), http.StatusForbidden, ErrCodeEmailNotVerified},
		{NewInvalidTokenError(), http.StatusBadRequest, ErrCodeInvalidToken},
		{NewExpiredTokenError(), http.StatusBadRequest, ErrCodeExpired},
		{NewInvalidOrExpiredOtpError(), http.StatusBadRequest, ErrCodeInvalidOrExpiredOtp},
		{NewNotFoundError("User"), http.StatusNotFound, ErrCodeNotFound},
		{NewRateLimitedError("slow down"), http.StatusTooManyRequests, ErrCodeRateLimited},
		{NewUnauthenticatedError("no token"), http.StatusUnauthorized, ErrCodeUnauthenticated},
		{NewInternalError(), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		if tt.err.Status != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.code, tt.err.Status, tt.status)
		}
		if tt.err.Code != tt.code {
			t.Errorf("code = %q, want %q", tt.err.Code, tt.code)
		}
	}
}

func TestNewNotFoundError_Message(t *testing.T) {
	if got := NewNotFoundError("User").Message; got != "User not found" {
		t.Errorf("message = %q, want %q", got, "User not found")
	}
}
