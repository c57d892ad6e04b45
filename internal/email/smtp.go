package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/wneessen/go-mail"
)

// SMTP connection security modes.
const (
	smtpSecurityImplicit = "implicit"
	smtpSecuritySTARTTLS = "starttls"
	smtpSecurityNone     = "none"
)

const smtpTimeout = 15 * time.Second

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	cfg config.SMTPConfig
}

// NewSMTPSender builds an SMTP sender.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Name returns "smtp".
func (s *SMTPSender) Name() string { return "smtp" }

// Send delivers msg within ctx.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, errMsg := newSMTPMessage(msg)
	if errMsg != nil {
		return errMsg
	}
	client, errClient := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if errClient != nil {
		return fmt.Errorf("email: smtp client: %w", errClient)
	}
	if errSend := client.DialAndSendWithContext(ctx, m); errSend != nil {
		return fmt.Errorf("email: smtp: %w", errSend)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{mail.WithTimeout(smtpTimeout)}
	switch smtpSecurity(s.cfg) {
	case smtpSecurityImplicit:
		opts = append(opts, mail.WithSSL())
	case smtpSecurityNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if s.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(s.cfg.Port))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// smtpSecurity resolves the configured mode. Port 465 defaults to implicit TLS,
// anything else to STARTTLS.
func smtpSecurity(cfg config.SMTPConfig) string {
	switch strings.ToLower(strings.TrimSpace(cfg.Security)) {
	case smtpSecurityImplicit, "ssl", "tls":
		return smtpSecurityImplicit
	case smtpSecurityNone:
		return smtpSecurityNone
	case smtpSecuritySTARTTLS:
		return smtpSecuritySTARTTLS
	}
	if cfg.Port == 465 {
		return smtpSecurityImplicit
	}
	return smtpSecuritySTARTTLS
}

// newSMTPMessage renders msg as multipart/alternative with text and HTML parts.
func newSMTPMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if errFrom := m.FromFormat(msg.FromName, msg.From); errFrom != nil {
		return nil, fmt.Errorf("email: from: %w", errFrom)
	}
	if errTo := m.To(msg.To); errTo != nil {
		return nil, fmt.Errorf("email: to: %w", errTo)
	}
	if msg.ReplyTo != "" {
		if errReply := m.ReplyTo(msg.ReplyTo); errReply != nil {
			return nil, fmt.Errorf("email: reply-to: %w", errReply)
		}
	}
	m.Subject(msg.Subject)
	m.SetDate()
	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}
	return m, nil
}
