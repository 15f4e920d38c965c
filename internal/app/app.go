// Package app はサブコマンドごとの依存関係のワイヤリングとプロセスのライフサイクルを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/accounts/internal/account"
	"github.com/hitoshi/accounts/internal/auth"
	"github.com/hitoshi/accounts/internal/config"
	"github.com/hitoshi/accounts/internal/database"
	"github.com/hitoshi/accounts/internal/handler"
	"github.com/hitoshi/accounts/internal/logger"
	"github.com/hitoshi/accounts/internal/mail"
	"github.com/hitoshi/accounts/internal/metrics"
	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/repository"
	"github.com/hitoshi/accounts/internal/security"
	"github.com/hitoshi/accounts/internal/user"
	"github.com/hitoshi/accounts/internal/worker/cleanup"
)

const (
	shutdownTimeout      = 30 * time.Second
	trackerPruneInterval = 5 * time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandUser:
		return runUser(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runAuth(cfg)
	}
}

// runAuth は認証サービスを起動する。
// メール送信方式の設定を検証してからDBに接続し、全依存関係をワイヤリングする。
func runAuth(cfg *config.Config) error {
	if err := cfg.ValidateAuthService(); err != nil {
		return err
	}

	// 1. メール送信
	transport, closeTransport, err := newMailTransport(cfg.Mail, slog.Default())
	if err != nil {
		return err
	}
	defer closeTransport()

	mailer, err := mail.NewMailer(transport, mail.MailerConfig{
		From:                 cfg.Mail.From,
		BaseURL:              cfg.BaseURL,
		VerificationTokenTTL: cfg.VerificationTokenTTL,
		OtpTTL:               cfg.OtpTTL,
	})
	if err != nil {
		return err
	}

	// 2. DB接続
	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	tracker := account.NewTracker(cfg.MaxVerificationAttempts, cfg.VerificationAttemptWindow)
	service := account.NewService(account.Deps{
		Accounts: repository.NewPostgresAccountRepo(db),
		Attempts: repository.NewPostgresVerificationAttemptRepo(db),
		Notifier: mailer,
		Hasher:   auth.NewBcryptHasher(cfg.BcryptCost),
		Tokens:   auth.NewSigner(cfg.JWTSecret, cfg.SessionTTL),
		Tracker:  tracker,
		Metrics:  collector,
	}, account.ServiceConfig{
		VerificationTokenTTL:    cfg.VerificationTokenTTL,
		OtpTTL:                  cfg.OtpTTL,
		MaxVerificationAttempts: cfg.MaxVerificationAttempts,
		AttemptWindow:           cfg.VerificationAttemptWindow,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx, trackerPruneInterval)

	// 5. ルーターの構築
	deps := newRouterDeps(cfg, db, collector, registry)
	defer deps.RateLimiter.Stop()

	router := handler.NewAuthRouter(deps, service)
	return serve(newServer(cfg.ServerPort, router), notifyStop())
}

// runUser はプロフィールサービスを起動する。
// 認証サービスと同じJWT_SECRETでBearerトークンを検証する。
func runUser(cfg *config.Config) error {
	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	service := user.NewService(
		repository.NewPostgresAccountRepo(db),
		security.NewProfileSanitizer(),
	)

	deps := newRouterDeps(cfg, db, collector, registry)
	defer deps.RateLimiter.Stop()

	router := handler.NewUserRouter(deps, service, auth.NewSigner(cfg.JWTSecret, cfg.SessionTTL))
	return serve(newServer(cfg.ServerPort, router), notifyStop())
}

// runWorker はメンテナンスワーカーを起動する。
// クリーンアップジョブをCLEANUP_INTERVALごとに実行し、プローブ用に /health と /metrics を公開する。
func runWorker(cfg *config.Config) error {
	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	job := cleanup.NewCleanupJob(db, slog.Default(), collector)
	job.Retention = cfg.AttemptRetention

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("attempt_retention", cfg.AttemptRetention),
	)
	go job.Start(ctx, cfg.CleanupInterval)

	deps := newRouterDeps(cfg, db, collector, registry)
	defer deps.RateLimiter.Stop()

	err = serve(newServer(cfg.ServerPort, handler.NewOpsRouter(deps)), notifyStop())
	cancel()

	slog.Info("worker stopped gracefully")
	return err
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.MigrateUp(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

// checkHealth はURLにGETリクエストを送り、200以外をエラーとして返す。
func checkHealth(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// connect はリトライ付きでDBに接続する。
func connect(cfg *config.Config) (*sql.DB, error) {
	slog.Info("connecting to database",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("retries", cfg.DBConnectRetries),
	)

	db, err := database.Connect(context.Background(), cfg.DatabaseURL,
		cfg.DBConnectRetries, cfg.DBConnectBackoff, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newMailTransport はMAIL_TRANSPORTに対応するTransportと、その解放関数を返す。
func newMailTransport(cfg config.MailConfig, l *slog.Logger) (mail.Transport, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Transport {
	case config.MailTransportSMTP:
		return mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
		}), noop, nil
	case config.MailTransportKafka:
		t := mail.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaTopic)
		return t, t.Close, nil
	case config.MailTransportLog:
		l.Warn("mail transport is log; emails will not be delivered")
		return mail.NewLogTransport(l), noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported MAIL_TRANSPORT: %q", cfg.Transport)
	}
}

// rateLimiterConfig は設定値からレート制限の設定を組み立てる。
// 0以下の値はデフォルトのまま残す。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralLimit = cfg.RateLimitGeneral
	}
	if cfg.RateLimitSensitive > 0 {
		rl.SensitiveLimit = cfg.RateLimitSensitive
	}
	if cfg.RateLimitSensitiveWindow > 0 {
		rl.SensitiveWindow = cfg.RateLimitSensitiveWindow
	}
	return rl
}

// newRegistry はGoランタイムとプロセスのメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newRouterDeps(cfg *config.Config, checker handler.HealthChecker, collector *metrics.Collector, registry *prometheus.Registry) *handler.RouterDeps {
	return &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxy:        cfg.TrustProxy,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		Metrics:           collector,
		Gatherer:          registry,
		HealthChecker:     checker,
	}
}

func newServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// notifyStop はSIGINTとSIGTERMを受け取るチャネルを返す。
func notifyStop() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	return stop
}

// serve はHTTPサーバーを起動し、stopを受信するとグレースフルシャットダウンを行う。
// 待ち受けに失敗した場合はそのエラーを返す。
func serve(server *http.Server, stop <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-stop:
	}

	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
