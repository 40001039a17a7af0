package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/config"
)

const dialTimeout = 10 * time.Second

// MailService sends mail with the configured relay.
type MailService interface {
	SendMail(ctx context.Context, m Mail) error
	IsConfigured() bool

	// Settings returns the configuration with the password redacted.
	Settings() Settings

	// TestConnection dials the relay and performs the handshake and login.
	TestConnection(ctx context.Context) error
}

type smtpService struct {
	cfg     config.SMTPConfig
	nowFunc func() time.Time
}

// NewMailService creates a mail service for cfg.
func NewMailService(cfg config.SMTPConfig) MailService {
	if cfg.Encryption == "" {
		cfg.Encryption = EncryptionStartTLS
	}
	return &smtpService{cfg: cfg, nowFunc: time.Now}
}

func (s *smtpService) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.FromAddress != ""
}

func (s *smtpService) Settings() Settings {
	return Settings{
		Host:        s.cfg.Host,
		Port:        s.cfg.Port,
		Username:    s.cfg.Username,
		HasPassword: s.cfg.Password != "",
		FromAddress: s.cfg.FromAddress,
		FromName:    s.cfg.FromName,
		Encryption:  s.cfg.Encryption,
		Enabled:     s.IsConfigured(),
	}
}

// SendMail delivers m. The context bounds the whole SMTP conversation.
func (s *smtpService) SendMail(ctx context.Context, m Mail) error {
	if !s.IsConfigured() {
		return apperror.NewBadRequest("SMTP is not configured")
	}
	if len(m.To) == 0 {
		return apperror.NewBadRequest("mail has no recipients")
	}
	for _, rcpt := range m.To {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return apperror.NewBadRequest(fmt.Sprintf("invalid recipient %q", rcpt))
		}
	}

	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.FromAddress}
	msg := buildMessage(from, m, s.nowFunc())

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return sendMessage(client, from.Address, m.To, msg)
}

func (s *smtpService) TestConnection(ctx context.Context) error {
	if s.cfg.Host == "" {
		return apperror.NewBadRequest("SMTP host is not configured")
	}
	client, err := s.dial(ctx)
	if err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	defer client.Close()
	return client.Quit()
}

// dial connects, upgrades to TLS according to the encryption mode and
// authenticates when a username is configured.
func (s *smtpService) dial(ctx context.Context) (*gosmtp.Client, error) {
	host := s.cfg.Host
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if s.cfg.Encryption == EncryptionSSL {
		d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: dialTimeout}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		d := &net.Dialer{Timeout: dialTimeout}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := gosmtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if s.cfg.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starting TLS: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}
	return client, nil
}

// sendMessage handles MAIL FROM, RCPT TO and DATA on an open client.
func sendMessage(client *gosmtp.Client, from string, to []string, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// buildMessage renders an RFC 5322 plain-text message. Header values are
// stripped of line breaks so a subject cannot inject headers.
func buildMessage(from mail.Address, m Mail, now time.Time) string {
	var b strings.Builder
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + headerValue(strings.Join(m.To, ", ")) + "\r\n")
	b.WriteString("Subject: " + headerValue(m.Subject) + "\r\n")
	b.WriteString("Date: " + now.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(m.Body, "\r\n", "\n"), "\n", "\r\n"))
	return b.String()
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
