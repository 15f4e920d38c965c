package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/accounts/internal/model"
)

func TestPostgresAccountRepo_ImplementsInterface(t *testing.T) {
	var _ AccountRepository = (*PostgresAccountRepo)(nil)
}

func TestPostgresVerificationAttemptRepo_ImplementsInterface(t *testing.T) {
	var _ VerificationAttemptRepository = (*PostgresVerificationAttemptRepo)(nil)
}

func TestNewPostgresAccountRepo_Initializes(t *testing.T) {
	if repo := NewPostgresAccountRepo(nil); repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"other pq error", &pq.Error{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildProfileUpdate_OnlySetFields(t *testing.T) {
	update := model.ProfileUpdate{
		Name:  model.Nullable[string]{Set: true, Valid: true, Value: "Alice"},
		Phone: model.Nullable[string]{Set: true},
	}

	query, args, err := buildProfileUpdate("acc-1", update)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(query, "name = $2") || !strings.Contains(query, "phone = $3") {
		t.Errorf("query should set name and phone in order, got %q", query)
	}
	if strings.Contains(query, "gender =") {
		t.Errorf("query should not touch gender: %q", query)
	}
	if !strings.Contains(query, "updated_at = now()") {
		t.Errorf("query should bump updated_at: %q", query)
	}
	if len(args) != 3 {
		t.Fatalf("args = %d, want 3", len(args))
	}
	if args[0] != "acc-1" {
		t.Errorf("args[0] = %v, want acc-1", args[0])
	}
	if ns, ok := args[2].(sql.NullString); !ok || ns.Valid {
		t.Errorf("phone arg = %#v, want NULL", args[2])
	}
}

func TestBuildProfileUpdate_AddressEncodedAsJSONString(t *testing.T) {
	update := model.ProfileUpdate{
		Address: model.Nullable[model.Address]{Set: true, Valid: true, Value: model.Address{City: "Osaka"}},
	}

	_, args, err := buildProfileUpdate("acc-1", update)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := args[1].(string)
	if !ok {
		t.Fatalf("address arg type = %T, want string", args[1])
	}
	if s != `{"city":"Osaka"}` {
		t.Errorf("address arg = %s", s)
	}
}

func TestBuildProfileUpdate_Empty(t *testing.T) {
	if _, _, err := buildProfileUpdate("acc-1", model.ProfileUpdate{}); err == nil {
		t.Fatal("expected error for empty update")
	}
}

// fakeRow はscanAccountに渡すテスト用の行。
type fakeRow struct {
	values []interface{}
	err    error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: got %d dest, want %d", len(dest), len(r.values))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case *[]byte:
			if v != nil {
				*d = v.([]byte)
			}
		case *sql.NullString:
			if v != nil {
				*d = sql.NullString{String: v.(string), Valid: true}
			}
		case *sql.NullTime:
			if v != nil {
				*d = sql.NullTime{Time: v.(time.Time), Valid: true}
			}
		default:
			return fmt.Errorf("unsupported dest %T", dest[i])
		}
	}
	return nil
}

func TestScanAccount_MapsNullableColumns(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	dob := time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC)
	row := &fakeRow{values: []interface{}{
		"acc-1", "a@example.com", "hash", "Alice",
		nil, dob, "Female", []byte(`{"city":"Tokyo"}`),
		"ja", nil, false, false, nil,
		"token", now, nil, nil, now, now,
	}}

	a, err := scanAccount(row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Phone != nil {
		t.Errorf("Phone = %v, want nil", *a.Phone)
	}
	if a.DOB == nil || !a.DOB.Equal(dob) {
		t.Errorf("DOB = %v, want %v", a.DOB, dob)
	}
	if a.Gender == nil || *a.Gender != model.GenderFemale {
		t.Errorf("Gender = %v, want Female", a.Gender)
	}
	if a.Address == nil || a.Address.City != "Tokyo" {
		t.Errorf("Address = %+v, want city Tokyo", a.Address)
	}
	if a.VerificationToken == nil || *a.VerificationToken != "token" {
		t.Errorf("VerificationToken = %v, want token", a.VerificationToken)
	}
	if a.ResetPasswordOtp != nil {
		t.Errorf("ResetPasswordOtp = %v, want nil", *a.ResetPasswordOtp)
	}
}

func TestScanAccount_NoRows(t *testing.T) {
	a, err := scanAccount(&fakeRow{err: sql.ErrNoRows})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Errorf("expected nil account, got %+v", a)
	}
}
