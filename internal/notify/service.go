package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/lca-filing-automation/internal/events"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Config controls who is told about filings.
type Config struct {
	Recipients []string
	// APIBaseURL, when set, is used to link to the filing endpoints.
	APIBaseURL string
}

// Service emails operators when a filing pauses for them or finishes. It is
// an outbox delivery handler, so sends are retried until they succeed.
type Service struct {
	email      EmailSender
	recipients []string
	baseURL    string
	logger     *logging.Logger
}

func NewService(email EmailSender, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	recipients := make([]string, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}
	return &Service{
		email:      email,
		recipients: recipients,
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		logger:     logger,
	}
}

// Handle implements events.DeliveryHandler.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeInteractionRequired && entry.Type != events.TypeFilingFinished {
		return nil
	}
	var evt events.FilingStatusV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
	}
	if evt.FilingID == "" {
		evt.FilingID = entry.FilingID
	}
	if entry.Type == events.TypeInteractionRequired {
		return s.NotifyInteractionRequired(ctx, evt)
	}
	return s.NotifyFilingFinished(ctx, evt)
}

// NotifyInteractionRequired tells operators a filing is waiting on them.
func (s *Service) NotifyInteractionRequired(ctx context.Context, evt events.FilingStatusV1) error {
	section := evt.Section
	if section == "" {
		section = "the current section"
	}
	subject := fmt.Sprintf("Action required: LCA filing %s is waiting at %s", evt.FilingID, section)
	lines := []string{
		fmt.Sprintf("Filing %s paused at %s (%.0f%% complete).", evt.FilingID, section, evt.Percentage),
	}
	if evt.Message != "" {
		lines = append(lines, "", "Details: "+evt.Message)
	}
	if link := s.link(evt.FilingID, "/interaction"); link != "" {
		lines = append(lines, "", "Review and resolve: "+link)
	}
	return s.send(ctx, events.TypeInteractionRequired, subject, lines, evt.FilingID)
}

// NotifyFilingFinished reports the terminal outcome of a filing.
func (s *Service) NotifyFilingFinished(ctx context.Context, evt events.FilingStatusV1) error {
	outcome := "finished"
	switch evt.Status {
	case "completed":
		outcome = "was submitted"
	case "failed":
		outcome = "failed"
	}
	subject := fmt.Sprintf("LCA filing %s %s", evt.FilingID, outcome)
	lines := []string{fmt.Sprintf("Filing %s %s at %s.", evt.FilingID, outcome, evt.OccurredAt.Format("January 2, 2006 at 3:04 PM MST"))}
	if evt.Message != "" {
		lines = append(lines, "", evt.Message)
	}
	if link := s.link(evt.FilingID, ""); link != "" {
		lines = append(lines, "", "Result: "+link)
	}
	return s.send(ctx, events.TypeFilingFinished, subject, lines, evt.FilingID)
}

func (s *Service) link(filingID, suffix string) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/v1/filings/%s%s", s.baseURL, filingID, suffix)
}

func (s *Service) send(ctx context.Context, event, subject string, lines []string, filingID string) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("notify: email not configured, skipping", "filing_id", filingID)
		return nil
	}
	body := strings.Join(lines, "\n")

	var b strings.Builder
	b.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">`)
	for _, line := range lines {
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(line))
	}
	b.WriteString("</div>")

	var errs []error
	for _, recipient := range s.recipients {
		msg := EmailMessage{To: recipient, Subject: subject, Body: body, HTML: b.String(), FilingID: filingID, Event: event}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email", "error", err, "to", recipient, "filing_id", filingID)
			errs = append(errs, err)
			continue
		}
		s.logger.Info("notify: operator email sent", "to", recipient, "filing_id", filingID)
	}
	return errors.Join(errs...)
}

var _ events.DeliveryHandler = (*Service)(nil)
