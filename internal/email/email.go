// Package email renders and delivers account emails through Resend, Brevo or
// SMTP.
package email

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/settings"
	log "github.com/sirupsen/logrus"
)

// ErrNoProvider is returned when a production send has no transport.
var ErrNoProvider = errors.New("email: no provider configured")

// Message is one outbound email.
type Message struct {
	FromName string
	From     string
	ReplyTo  string
	To       string
	Subject  string
	HTML     string
	Text     string
}

// Sender delivers a rendered message.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// SenderFromConfig picks Resend, then Brevo, then SMTP. It returns nil when
// none is configured.
func SenderFromConfig(cfg config.EmailConfig) Sender {
	switch {
	case strings.TrimSpace(cfg.ResendAPIKey) != "":
		return NewResendSender(cfg.ResendAPIKey)
	case strings.TrimSpace(cfg.BrevoAPIKey) != "":
		return NewBrevoSender(cfg.BrevoAPIKey)
	case strings.TrimSpace(cfg.SMTP.Host) != "":
		return NewSMTPSender(cfg.SMTP)
	}
	return nil
}

// Mailer renders account emails and hands them to a Sender.
type Mailer struct {
	sender     Sender
	from       string
	fromName   string
	replyTo    string
	siteURL    string
	siteName   string
	production bool
}

// NewMailer builds a mailer. Outside production messages are logged and
// dropped.
func NewMailer(cfg config.Config, sender Sender) *Mailer {
	return &Mailer{
		sender:     sender,
		from:       strings.TrimSpace(cfg.Email.From),
		fromName:   strings.TrimSpace(cfg.Email.FromName),
		replyTo:    strings.TrimSpace(cfg.Email.ReplyTo),
		siteURL:    strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/"),
		siteName:   strings.TrimSpace(cfg.SiteName),
		production: cfg.IsProduction(),
	}
}

// Send delivers msg, filling sender fields from configuration.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = m.from
	}
	if msg.FromName == "" {
		msg.FromName = m.displayName()
	}
	if msg.ReplyTo == "" {
		msg.ReplyTo = m.replyTo
	}
	fields := log.Fields{"to": msg.To, "subject": msg.Subject}
	if !m.production {
		log.WithFields(fields).Info("email: skipped outside production")
		return nil
	}
	if m.sender == nil {
		return ErrNoProvider
	}
	if errSend := m.sender.Send(ctx, msg); errSend != nil {
		log.WithError(errSend).WithFields(fields).WithField("provider", m.sender.Name()).Error("email: send failed")
		return errSend
	}
	log.WithFields(fields).WithField("provider", m.sender.Name()).Info("email: sent")
	return nil
}

// SendVerification emails the link that confirms the address.
func (m *Mailer) SendVerification(ctx context.Context, to, token string) error {
	link := m.link("/verify-email", url.Values{"token": {token}, "email": {to}})
	html, text, errRender := render(verificationTemplate, templateData{
		SiteName: m.displayName(),
		Domain:   m.domain(),
		Link:     link,
	})
	if errRender != nil {
		return errRender
	}
	return m.Send(ctx, Message{
		To:      to,
		Subject: "Verify your email for " + m.domain(),
		HTML:    html,
		Text:    text,
	})
}

// SendPasswordReset emails the password reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	link := m.link("/reset-password", url.Values{"token": {token}})
	html, text, errRender := render(resetTemplate, templateData{
		SiteName: m.displayName(),
		Domain:   m.domain(),
		Link:     link,
	})
	if errRender != nil {
		return errRender
	}
	return m.Send(ctx, Message{
		To:      to,
		Subject: "Reset your password for " + m.domain(),
		HTML:    html,
		Text:    text,
	})
}

func (m *Mailer) link(path string, query url.Values) string {
	return m.siteURL + path + "?" + query.Encode()
}

func (m *Mailer) domain() string {
	parsed, err := url.Parse(m.siteURL)
	if err != nil || parsed.Hostname() == "" {
		return m.siteURL
	}
	return parsed.Hostname()
}

func (m *Mailer) displayName() string {
	if override := settings.DBConfigString(settings.SiteNameKey); override != "" {
		return override
	}
	if m.siteName != "" {
		return m.siteName
	}
	return m.domain()
}
