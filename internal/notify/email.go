// Package notify emails operators about filings that need them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

const (
	defaultFromName = "LCA Filing"
	emailCategory   = "lca-filing"
)

var errNoRecipient = errors.New("notify: message has no recipient")

// EmailSender delivers one operator email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one operator email. FilingID and Event tag the message at
// the provider so bounces and opens can be traced back to a filing.
type EmailMessage struct {
	To       string
	Subject  string
	Body     string
	HTML     string
	FilingID string
	Event    string
}

// SenderConfig is the sending identity shared by every provider.
type SenderConfig struct {
	FromEmail string
	FromName  string
	ReplyTo   string
	// ConfigurationSet is the SES configuration set; SendGrid ignores it.
	ConfigurationSet string
}

func (c SenderConfig) withDefaults() SenderConfig {
	c.FromEmail = strings.TrimSpace(c.FromEmail)
	c.FromName = strings.TrimSpace(c.FromName)
	if c.FromName == "" {
		c.FromName = defaultFromName
	}
	c.ReplyTo = strings.TrimSpace(c.ReplyTo)
	return c
}

func (c SenderConfig) fromAddress() string {
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
}

// tags returns the provider tags for msg, skipping empty values.
func (m EmailMessage) tags() map[string]string {
	tags := map[string]string{"category": emailCategory}
	if m.FilingID != "" {
		tags["filing_id"] = m.FilingID
	}
	if m.Event != "" {
		tags["event"] = m.Event
	}
	return tags
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	cfg    SenderConfig
	logger *logging.Logger
}

// NewSendGridSender returns nil when apiKey is empty.
func NewSendGridSender(apiKey string, cfg SenderConfig, logger *logging.Logger) *SendGridSender {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	m, err := buildSendGridMail(s.cfg, msg)
	if err != nil {
		return err
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "filing_id", msg.FilingID)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Debug("email sent via sendgrid", "to", msg.To, "filing_id", msg.FilingID, "status", resp.StatusCode)
	return nil
}

// buildSendGridMail maps msg onto a v3 mail body. Tags travel as custom args
// and the fixed category.
func buildSendGridMail(cfg SenderConfig, msg EmailMessage) (*mail.SGMailV3, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, errNoRecipient
	}
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(cfg.FromName, cfg.FromEmail))
	m.Subject = msg.Subject
	if cfg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", cfg.ReplyTo))
	}

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	m.AddPersonalizations(p)

	text := msg.Body
	html := msg.HTML
	if html == "" {
		html = text
	}
	if text != "" {
		m.AddContent(mail.NewContent("text/plain", text))
	}
	if html != "" {
		m.AddContent(mail.NewContent("text/html", html))
	}

	m.AddCategories(emailCategory)
	for k, v := range msg.tags() {
		if k == "category" {
			continue
		}
		m.SetCustomArg(k, v)
	}
	return m, nil
}

// StubEmailSender logs instead of sending and keeps what it would have sent.
type StubEmailSender struct {
	mu     sync.Mutex
	sent   []EmailMessage
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if strings.TrimSpace(msg.To) == "" {
		return errNoRecipient
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	s.logger.Info("email not sent (stub sender)", "to", msg.To, "subject", msg.Subject, "filing_id", msg.FilingID)
	return nil
}

// Sent returns the messages recorded so far.
func (s *StubEmailSender) Sent() []EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EmailMessage(nil), s.sent...)
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
