package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// healthTimeout はヘルスチェックでのDB疎通確認のタイムアウト。
const healthTimeout = 3 * time.Second

// HealthChecker はヘルスチェックに必要なインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// NewHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// checkerがnilの場合は常に正常を返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				middleware.WriteAPIError(w, &model.APIError{
					Code:    "UNAVAILABLE",
					Message: "Service unavailable",
					Status:  http.StatusServiceUnavailable,
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
