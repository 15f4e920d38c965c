package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/accounts/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// Errorsは入力検証エラーの場合のみ含む。
type ErrorResponseBody struct {
	Success bool              `json:"success"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// WriteAPIError は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// ステータスコードはAPIErrorが保持する値を使う。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := ErrorResponseBody{
		Success: false,
		Code:    apiErr.Code,
		Message: apiErr.Message,
	}
	if apiErr.Code == model.ErrCodeBadRequest || apiErr.Code == model.ErrCodeValidation {
		body.Errors = apiErr.Fields
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteError は任意のerrorをレスポンスに変換する。
// *model.APIError以外は内部エラーとして扱い、詳細はログのみに記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteAPIError(w, apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "unhandled error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
