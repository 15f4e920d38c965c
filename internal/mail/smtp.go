package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	DialTimeout time.Duration // 0の場合は8秒
	IOTimeout   time.Duration // 0の場合は15秒
}

// SMTPTransport はSTARTTLSとPLAIN認証でSMTPサーバーへ送信する。
type SMTPTransport struct {
	config SMTPConfig
}

// NewSMTPTransport はSMTPTransportを生成する。
func NewSMTPTransport(config SMTPConfig) *SMTPTransport {
	if config.DialTimeout == 0 {
		config.DialTimeout = 8 * time.Second
	}
	if config.IOTimeout == 0 {
		config.IOTimeout = 15 * time.Second
	}
	return &SMTPTransport{config: config}
}

// Send はメールを1通送信する。接続全体にIOTimeoutのデッドラインを設定する。
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))

	dialer := &net.Dialer{Timeout: t.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}

	deadline := time.Now().Add(t.config.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, t.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.config.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}

	if t.config.Username != "" {
		auth := smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := c.Mail(envelopeAddress(msg.From)); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write(buildMIME(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	return c.Quit()
}

// buildMIME はHTML本文のメッセージを組み立てる。件名はRFC 2047でエンコードする。
func buildMIME(msg Message) []byte {
	headers := []string{
		"From: " + msg.From,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.HTML)
}

// envelopeAddress は "Name <addr>" 形式からアドレス部分を取り出す。
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return strings.TrimSpace(from)
}
