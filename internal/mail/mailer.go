// Package mail は確認メールとOTPメールの生成と送信を提供する。
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// メール種別
const (
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
)

// Message は送信する1通のメール。
type Message struct {
	Kind    string
	From    string
	To      string
	Subject string
	HTML    string
}

// Transport はメールの送信手段。送信の成否をエラーで返し、再送はしない。
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// MailerConfig はMailerの設定。
type MailerConfig struct {
	From                 string
	BaseURL              string // 確認リンクのベースURL（末尾スラッシュなし）
	VerificationTokenTTL time.Duration
	OtpTTL               time.Duration
}

// Mailer はテンプレートから本文を生成し、Transportで送信する。
type Mailer struct {
	transport Transport
	config    MailerConfig
	templates *template.Template
}

// NewMailer は埋め込みテンプレートを読み込みMailerを生成する。
func NewMailer(transport Transport, config MailerConfig) (*Mailer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}
	return &Mailer{transport: transport, config: config, templates: tmpl}, nil
}

// VerificationLink は確認トークンを埋め込んだリンクを返す。
func (m *Mailer) VerificationLink(token string) string {
	return m.config.BaseURL + "/auth/verify-email?token=" + url.QueryEscape(token)
}

// SendVerification はメールアドレス確認メールを送信する。
func (m *Mailer) SendVerification(ctx context.Context, to, name, token string) error {
	body, err := m.render("verify_email.html", map[string]string{
		"Name":     name,
		"Link":     m.VerificationLink(token),
		"ValidFor": humanDuration(m.config.VerificationTokenTTL),
	})
	if err != nil {
		return err
	}

	return m.transport.Send(ctx, Message{
		Kind:    KindVerification,
		From:    m.config.From,
		To:      to,
		Subject: "Email Verification",
		HTML:    body,
	})
}

// SendPasswordResetOtp はパスワードリセット用OTPメールを送信する。
func (m *Mailer) SendPasswordResetOtp(ctx context.Context, to, name, otp string) error {
	body, err := m.render("otp_email.html", map[string]string{
		"Name":     name,
		"Otp":      otp,
		"ValidFor": humanDuration(m.config.OtpTTL),
	})
	if err != nil {
		return err
	}

	return m.transport.Send(ctx, Message{
		Kind:    KindPasswordReset,
		From:    m.config.From,
		To:      to,
		Subject: "Password Reset OTP",
		HTML:    body,
	})
}

func (m *Mailer) render(name string, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// humanDuration は "24 hours" や "10 minutes" のような表記を返す。
func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
