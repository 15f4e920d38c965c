// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/accounts/internal/auth"
	"github.com/hitoshi/accounts/internal/model"
)

const bearerPrefix = "Bearer "

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// accountContextKey はリクエストコンテキストに認証済みアカウントを格納するためのキー。
	accountContextKey = contextKey("account")

	// requestInfoContextKey はアクセスログ用のリクエスト情報を格納するためのキー。
	requestInfoContextKey = contextKey("request_info")
)

// Principal はBearerトークンで認証されたアカウント。
type Principal struct {
	AccountID string
	Email     string
}

// TokenParser はセッショントークンの検証に必要なインターフェース。
// auth.Signerの部分集合として定義する。
type TokenParser interface {
	Parse(token string) (*auth.Claims, error)
}

// NewBearerMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// 認証済みアカウントIDとメールアドレスをリクエストコンテキストに注入する。
// トークンの欠落・無効には401 Unauthenticatedを返す。
func NewBearerMiddleware(parser TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Authorizationヘッダーからトークンを取得
			header := r.Header.Get("Authorization")
			if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				WriteAPIError(w, model.NewUnauthenticatedError("Authentication token is required"))
				return
			}
			token := strings.TrimSpace(header[len(bearerPrefix):])

			// 2. 署名と有効期限を検証
			claims, err := parser.Parse(token)
			if err != nil {
				slog.DebugContext(r.Context(), "bearer token rejected",
					slog.String("error", err.Error()),
				)
				WriteAPIError(w, model.NewUnauthenticatedError("Invalid or expired token"))
				return
			}

			// 3. 認証済みアカウントをコンテキストに注入
			ctx := ContextWithAccount(r.Context(), Principal{AccountID: claims.AccountID, Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
// Bearerミドルウェアを通過したリクエストでのみ有効。
func AccountIDFromContext(ctx context.Context) (string, error) {
	p, ok := ctx.Value(accountContextKey).(Principal)
	if !ok || p.AccountID == "" {
		return "", fmt.Errorf("account ID not found in context")
	}
	return p.AccountID, nil
}

// PrincipalFromContext はリクエストコンテキストから認証済みアカウントを取得する。
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(accountContextKey).(Principal)
	return p, ok && p.AccountID != ""
}

// ContextWithAccount はコンテキストに認証済みアカウントを注入する。
// アクセスログのミドルウェアが外側にある場合はログ用の情報にも記録する。
func ContextWithAccount(ctx context.Context, p Principal) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.accountID = p.AccountID
	}
	return context.WithValue(ctx, accountContextKey, p)
}

func contextWithRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoContextKey, info)
}
