// Package notify はパスワードリセットリンクの通知を提供する。
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	mail "github.com/go-mail/mail"
)

const resetSubject = "Reset your VocabStore password"

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	Timeout time.Duration
}

// SMTPNotifier はgo-mailでリセットメールを送信する。
type SMTPNotifier struct {
	config SMTPConfig
	dialer *mail.Dialer
}

// NewSMTPNotifier はSMTPNotifierを生成する。ポート465の場合は暗黙TLSで接続する。
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.Timeout = cfg.Timeout
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	d.SSL = cfg.Port == 465

	return &SMTPNotifier{config: cfg, dialer: d}
}

// SendPasswordReset はリセットリンクを含むメールを送信する。
func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := buildResetMessage(n.config.From, to, resetURL)
	if err != nil {
		return err
	}
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send reset mail via %s:%d: %w", n.config.Host, n.config.Port, err)
	}

	slog.Info("password reset mail sent", slog.String("smtp_host", n.config.Host))
	return nil
}

var resetHTML = template.Must(template.New("reset").Parse(
	`<p>You requested a password reset for your VocabStore account.</p>` +
		`<p><a href="{{.}}">Reset your password</a></p>` +
		`<p>This link expires in one hour. If you did not request it, you can ignore this email.</p>`))

func buildResetMessage(from, to, resetURL string) (*mail.Message, error) {
	var html bytes.Buffer
	if err := resetHTML.Execute(&html, resetURL); err != nil {
		return nil, fmt.Errorf("failed to render reset mail: %w", err)
	}
	text := "You requested a password reset for your VocabStore account.\n\n" +
		"Open this link to choose a new password:\n" + resetURL + "\n\n" +
		"This link expires in one hour. If you did not request it, you can ignore this email.\n"

	m := mail.NewMessage(mail.SetEncoding(mail.Unencoded))
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", resetSubject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html.String())
	return m, nil
}

// LogNotifier はメールを送らずリセットリンクをログに出力する。
// SMTP未設定の開発環境で使う。
type LogNotifier struct{}

// SendPasswordReset はリセットリンクをログに出力する。
func (LogNotifier) SendPasswordReset(_ context.Context, to, resetURL string) error {
	slog.Info("password reset link (mail not configured)",
		slog.String("to", to),
		slog.String("reset_url", resetURL),
	)
	return nil
}

// Unavailable は常に失敗するNotifier。SMTP未設定の本番環境で使う。
type Unavailable struct{}

// SendPasswordReset は常にエラーを返す。
func (Unavailable) SendPasswordReset(context.Context, string, string) error {
	return fmt.Errorf("mail delivery is not configured")
}
