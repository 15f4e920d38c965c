package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/accounts/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// validationFailedMessage は入力検証エラーのトップレベルメッセージ。
const validationFailedMessage = "Validation failed"

// fieldLabels はエラーメッセージ中の項目名。
var fieldLabels = map[string]string{
	"email":           "Email",
	"password":        "Password",
	"confirmPassword": "Confirm password",
	"name":            "Name",
	"otp":             "OTP",
}

// validate はリクエストボディの形式検証に使う。
// エラーの項目パスにはJSONのキー名を使う。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// hasdigit は数字を1文字以上含むことを要求する
	v.RegisterValidation("hasdigit", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), unicode.IsDigit) >= 0
	})
	return v
}

// signupRequest はサインアップリクエストのボディ。
// confirmPasswordは任意で、指定された場合はpasswordと一致する必要がある。
type signupRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,hasdigit"`
	Name            string `json:"name" validate:"required,min=2"`
	ConfirmPassword string `json:"confirmPassword" validate:"omitempty,eqfield=Password"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,hasdigit"`
}

// forgotPasswordRequest はOTP発行リクエストのボディ。
type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// verifyOtpRequest はOTP確認リクエストのボディ。
type verifyOtpRequest struct {
	Email string `json:"email" validate:"required,email"`
	Otp   string `json:"otp" validate:"required,len=4,numeric"`
}

// resetPasswordRequest はパスワード再設定リクエストのボディ。
// passwordとconfirmPasswordの一致はサービス層で検証する。
type resetPasswordRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6,hasdigit"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
	Otp             string `json:"otp" validate:"omitempty,len=4,numeric"`
}

// updateProfileRequest はプロフィール更新リクエストのボディ。
// キーの有無とnullを区別するため、すべての項目をNullableで受け取る。
type updateProfileRequest struct {
	Name              model.Nullable[string]        `json:"name"`
	Phone             model.Nullable[string]        `json:"phone"`
	DOB               model.Nullable[string]        `json:"dob"`
	Gender            model.Nullable[string]        `json:"gender"`
	Address           model.Nullable[model.Address] `json:"address"`
	PreferredLanguage model.Nullable[string]        `json:"preferredLanguage"`
}

// decodeJSON はリクエストボディをdstにデコードする。
// 不正なJSONはBadRequestとして返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) *model.APIError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewBadRequestError("Request body is required", nil)
		}
		return model.NewBadRequestError("Invalid request body", nil)
	}
	return nil
}

// validateRequest は構造体タグに従ってリクエストを検証する。
// 失敗した場合は項目パスごとのメッセージを持つBadRequestを返す。
func validateRequest(req interface{}) *model.APIError {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return model.NewBadRequestError(validationFailedMessage, nil)
	}

	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		path := fe.Field()
		if _, exists := fields[path]; exists {
			continue
		}
		fields[path] = fieldErrorMessage(fe)
	}
	return model.NewBadRequestError(validationFailedMessage, fields)
}

// fieldErrorMessage は検証エラー1件をユーザー向けメッセージに変換する。
func fieldErrorMessage(fe validator.FieldError) string {
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return label + " must be at least " + fe.Param() + " characters"
	case "hasdigit":
		return label + " must contain at least one number"
	case "len", "numeric":
		if fe.Field() == "otp" {
			return "OTP must be 4 digits"
		}
		return label + " is invalid"
	case "eqfield":
		return "Passwords don't match"
	default:
		return label + " is invalid"
	}
}

// toProfileUpdate はプロフィール更新リクエストを検証し、ドメインの更新内容に変換する。
// nameは値がある場合のみ長さを検証し、nullの扱いはサービス層に委ねる。
func (req updateProfileRequest) toProfileUpdate() (model.ProfileUpdate, *model.APIError) {
	update := model.ProfileUpdate{
		Name:              req.Name,
		Phone:             req.Phone,
		Address:           req.Address,
		PreferredLanguage: req.PreferredLanguage,
	}
	fields := map[string]string{}

	if req.Name.Valid {
		if err := validate.Var(strings.TrimSpace(req.Name.Value), "min=2"); err != nil {
			fields["name"] = "Name must be at least 2 characters"
		}
	}

	if req.Gender.Set {
		update.Gender.Set = true
		if req.Gender.Valid {
			if err := validate.Var(req.Gender.Value, "oneof=Male Female Other"); err != nil {
				fields["gender"] = "Gender must be Male, Female or Other"
			} else {
				update.Gender.Valid = true
				update.Gender.Value = model.Gender(req.Gender.Value)
			}
		}
	}

	if req.DOB.Set {
		update.DOB.Set = true
		// 空文字はnullとして扱う
		if req.DOB.Valid && req.DOB.Value != "" {
			dob, ok := parseDate(req.DOB.Value)
			if !ok {
				fields["dob"] = "Invalid date format"
			} else {
				update.DOB.Valid = true
				update.DOB.Value = dob
			}
		}
	}

	if len(fields) > 0 {
		return model.ProfileUpdate{}, model.NewBadRequestError(validationFailedMessage, fields)
	}
	return update, nil
}

// parseDate はYYYY-MM-DDまたはRFC 3339形式の日付を解析する。
func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(model.DateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}
