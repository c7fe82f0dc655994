package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/busticket/internal/config"
)

// ErrEmailNotConfigured is returned when no SMTP credentials were supplied.
var ErrEmailNotConfigured = errors.New("email delivery is not configured")

// Notifier delivers one-time codes out of band.
type Notifier interface {
	SendOTP(ctx context.Context, email, code, displayName string) error
}

// EmailService sends OTP codes through an SMTP relay.
type EmailService struct {
	cfg    config.EmailConfig
	otpTTL time.Duration
	log    *zap.Logger
	dialer *net.Dialer
}

// NewEmailService creates a new EmailService.
func NewEmailService(cfg config.EmailConfig, otpTTL time.Duration, log *zap.Logger) *EmailService {
	return &EmailService{
		cfg:    cfg,
		otpTTL: otpTTL,
		log:    log,
		dialer: &net.Dialer{Timeout: 10 * time.Second},
	}
}

// NewNotifier picks the notifier for cfg.Provider; "log" only writes the code to the logger.
func NewNotifier(cfg config.EmailConfig, otpTTL time.Duration, log *zap.Logger) Notifier {
	if cfg.Provider == "log" {
		return &LogNotifier{log: log}
	}
	return NewEmailService(cfg, otpTTL, log)
}

// SendOTP emails code to the recipient.
func (s *EmailService) SendOTP(ctx context.Context, email, code, displayName string) error {
	if s.cfg.Username == "" || s.cfg.Host == "" {
		s.log.Warn("email transport not configured", zap.String("provider", s.cfg.Provider))
		return ErrEmailNotConfigured
	}

	msg, err := s.buildOTPMessage(email, code, displayName)
	if err != nil {
		return err
	}

	client, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("smtp connect: %w", err)
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(s.from()); err != nil {
		return err
	}
	if err := client.Rcpt(email); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	s.log.Info("otp email sent", zap.String("recipient", email))
	return client.Quit()
}

// Verify dials the relay and authenticates without sending mail.
func (s *EmailService) Verify(ctx context.Context) error {
	if s.cfg.Username == "" || s.cfg.Host == "" {
		return ErrEmailNotConfigured
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
		return err
	}
	return client.Quit()
}

// connect uses implicit TLS on 465 and STARTTLS elsewhere when the server offers it.
func (s *EmailService) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if s.cfg.Port == 465 {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if s.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, err
			}
		}
	}

	return client, nil
}

func (s *EmailService) from() string {
	if s.cfg.From != "" {
		return s.cfg.From
	}
	return s.cfg.Username
}

var otpEmailTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; background-color: #f4f4f4;">
    <div style="max-width: 600px; margin: 20px auto; background-color: white; padding: 30px; border-radius: 8px;">
      <h1 style="text-align: center;">Bus Ticket Booking</h1>
      <h2 style="text-align: center;">Email Verification</h2>
      <p>Hi {{.Name}},</p>
      <p>Your one-time password (OTP) for email verification is:</p>
      <div style="border: 2px solid #2563eb; padding: 20px; border-radius: 8px; text-align: center;">
        <span style="font-size: 36px; font-weight: bold; color: #2563eb; letter-spacing: 5px;">{{.Code}}</span>
      </div>
      <p><strong>Valid for {{.Minutes}} minutes only</strong></p>
      <p>This OTP is for security purposes. Do not share it with anyone.</p>
      <p>If you didn't request this, please ignore this email.</p>
    </div>
  </body>
</html>`))

func (s *EmailService) buildOTPMessage(to, code, displayName string) ([]byte, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "User"
	}
	minutes := int(s.otpTTL.Minutes())

	var html bytes.Buffer
	if err := otpEmailTemplate.Execute(&html, struct {
		Name    string
		Code    string
		Minutes int
	}{name, code, minutes}); err != nil {
		return nil, err
	}

	boundary := "otp-" + uuid.NewString()
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.from())
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: Your OTP Code - Bus Ticket Booking\r\n")
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	fmt.Fprintf(&msg, "Your OTP code is: %s. Valid for %d minutes only.\r\n", code, minutes)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	msg.Write(html.Bytes())
	fmt.Fprintf(&msg, "\r\n--%s--\r\n", boundary)

	return msg.Bytes(), nil
}

// LogNotifier writes codes to the logger instead of sending them. Intended for local runs.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendOTP(_ context.Context, email, code, displayName string) error {
	n.log.Info("otp issued",
		zap.String("recipient", email),
		zap.String("name", displayName),
		zap.String("code", code))
	return nil
}
