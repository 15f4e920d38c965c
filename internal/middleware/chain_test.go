package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/accounts/internal/auth"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// fakeHTTPRecorder はHTTPRecorderのテスト用実装。
type fakeHTTPRecorder struct {
	statuses  []int
	latencies []time.Duration
}

func (f *fakeHTTPRecorder) RecordHTTPStatus(statusCode int) {
	f.statuses = append(f.statuses, statusCode)
}

func (f *fakeHTTPRecorder) RecordRequestLatency(d time.Duration) {
	f.latencies = append(f.latencies, d)
}

// TestMiddlewareChain_ProtectedRoute は
// Recovery -> Metrics -> SecurityHeaders -> CORS -> RateLimit -> Bearer の順で認証済みリクエストが通ることを検証する。
func TestMiddlewareChain_ProtectedRoute(t *testing.T) {
	rl := NewRateLimiter(testConfig())
	defer rl.Stop()
	recorder := &fakeHTTPRecorder{}

	var capturedID string
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID, _ = AccountIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := NewRecoveryMiddleware()(
		NewMetricsMiddleware(recorder)(
			NewSecurityHeadersMiddleware()(
				NewCORSMiddleware("http://localhost:3000")(
					rl.GeneralMiddleware()(
						NewBearerMiddleware(auth.NewSigner(testSecret, time.Hour))(final))))))

	req := httptest.NewRequest(http.MethodGet, "/user/profile", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, time.Hour))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedID != "acc-123" {
		t.Errorf("account ID = %q, want %q", capturedID, "acc-123")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be set")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("CORS headers should be set")
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("rate limit headers should be set")
	}
	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusOK {
		t.Errorf("recorded statuses = %v, want [200]", recorder.statuses)
	}
	if len(recorder.latencies) != 1 {
		t.Errorf("recorded latencies = %d, want 1", len(recorder.latencies))
	}
}

// TestMiddlewareChain_NoToken_Returns401 はトークンがない場合に401が記録されることを検証する。
func TestMiddlewareChain_NoToken_Returns401(t *testing.T) {
	recorder := &fakeHTTPRecorder{}

	handler := NewMetricsMiddleware(recorder)(
		NewBearerMiddleware(auth.NewSigner(testSecret, time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/user/update-profile", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusUnauthorized {
		t.Errorf("recorded statuses = %v, want [401]", recorder.statuses)
	}
}

// TestRecoveryMiddleware_PanicReturnsEnvelope はpanicが統一フォーマットの500に変換されることを検証する。
func TestRecoveryMiddleware_PanicReturnsEnvelope(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/signup", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeError(t, w)
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
}

// TestSecurityHeadersMiddleware_SetsHeaders はセキュリティヘッダーが付与されることを検証する。
func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

// TestClientIP はRemoteAddrからホスト部分を取り出すことを検証する。
func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

// TestRecoveryMiddleware_ReraisesAbortHandler はhttp.ErrAbortHandlerが握りつぶされないことを検証する。
func TestRecoveryMiddleware_ReraisesAbortHandler(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered = %v, want http.ErrAbortHandler", rec)
		}
	}()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Error("ServeHTTP should have panicked")
}
