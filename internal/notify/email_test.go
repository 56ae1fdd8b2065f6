package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/lca-filing-automation/internal/events"
)

func TestNewSendGridSender(t *testing.T) {
	assert.Nil(t, NewSendGridSender(" ", SenderConfig{FromEmail: "filings@acme.example"}, nil))

	sender := NewSendGridSender("sg-key", SenderConfig{FromEmail: " filings@acme.example "}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "LCA Filing", sender.cfg.FromName)
	assert.Equal(t, "filings@acme.example", sender.cfg.FromEmail)
}

func TestSendGridSender_SendWithoutClient(t *testing.T) {
	err := (&SendGridSender{}).Send(context.Background(), EmailMessage{To: "ops@acme.example"})
	assert.Error(t, err)
}

func TestBuildSendGridMail(t *testing.T) {
	cfg := SenderConfig{FromEmail: "filings@acme.example", ReplyTo: "paralegal@acme.example"}.withDefaults()
	m, err := buildSendGridMail(cfg, EmailMessage{
		To:       "ops@acme.example",
		Subject:  "Action required",
		Body:     "plain",
		FilingID: "f-1",
		Event:    events.TypeInteractionRequired,
	})
	require.NoError(t, err)

	assert.Equal(t, "LCA Filing", m.From.Name)
	assert.Equal(t, "filings@acme.example", m.From.Address)
	assert.Equal(t, "paralegal@acme.example", m.ReplyTo.Address)
	require.Len(t, m.Personalizations, 1)
	require.Len(t, m.Personalizations[0].To, 1)
	assert.Equal(t, "ops@acme.example", m.Personalizations[0].To[0].Address)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "text/html", m.Content[1].Type)
	assert.Equal(t, "plain", m.Content[1].Value)
	assert.Equal(t, []string{"lca-filing"}, m.Categories)
	assert.Equal(t, map[string]string{"filing_id": "f-1", "event": events.TypeInteractionRequired}, m.CustomArgs)

	_, err = buildSendGridMail(cfg, EmailMessage{Subject: "no recipient"})
	assert.ErrorIs(t, err, errNoRecipient)
}

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SenderConfig{}, nil))

	fake := &fakeSES{}
	sender := NewSESSender(fake, SenderConfig{FromEmail: "filings@acme.example", ConfigurationSet: "lca-ops"}, nil)
	require.NoError(t, sender.Send(context.Background(), EmailMessage{
		To:       "ops@acme.example",
		Subject:  "Action required",
		Body:     "plain",
		HTML:     "<p>html</p>",
		FilingID: "6f1c2b9e-0d41-4c55-a1f0-7c2f1b0e9a11",
		Event:    events.TypeFilingFinished,
	}))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "LCA Filing <filings@acme.example>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ops@acme.example"}, in.Destination.ToAddresses)
	assert.Empty(t, in.ReplyToAddresses)
	assert.Equal(t, "lca-ops", aws.ToString(in.ConfigurationSetName))
	assert.Equal(t, "plain", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>html</p>", aws.ToString(in.Content.Simple.Body.Html.Data))

	tags := map[string]string{}
	for _, tag := range in.EmailTags {
		tags[aws.ToString(tag.Name)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, map[string]string{
		"category":  "lca-filing",
		"event":     "lca_filing_finished_v1",
		"filing_id": "6f1c2b9e-0d41-4c55-a1f0-7c2f1b0e9a11",
	}, tags)

	assert.ErrorIs(t, sender.Send(context.Background(), EmailMessage{Subject: "x"}), errNoRecipient)

	fake.err = errors.New("throttled")
	err := sender.Send(context.Background(), EmailMessage{To: "ops@acme.example"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func entry(t *testing.T, typ string, evt events.FilingStatusV1) events.OutboxEntry {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return events.OutboxEntry{FilingID: evt.FilingID, Type: typ, Payload: data}
}

func TestService_InteractionRequired(t *testing.T) {
	stub := NewStubEmailSender(nil)
	svc := NewService(stub, Config{Recipients: []string{"ops@acme.example", " ", "lead@acme.example"}, APIBaseURL: "https://lca.acme.example/"}, nil)

	err := svc.Handle(context.Background(), entry(t, events.TypeInteractionRequired, events.FilingStatusV1{
		FilingID:   "f1",
		Section:    "Section B: Employer Information",
		Percentage: 35,
		Message:    "FEIN must be 9 digits",
	}))
	require.NoError(t, err)

	sent := stub.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Action required: LCA filing f1 is waiting at Section B: Employer Information", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Details: FEIN must be 9 digits")
	assert.Contains(t, sent[0].Body, "https://lca.acme.example/v1/filings/f1/interaction")
	assert.Contains(t, sent[0].HTML, "<p>")
	assert.Equal(t, "lead@acme.example", sent[1].To)
	assert.Equal(t, "f1", sent[0].FilingID)
	assert.Equal(t, events.TypeInteractionRequired, sent[0].Event)
}

func TestService_FilingFinished(t *testing.T) {
	stub := NewStubEmailSender(nil)
	svc := NewService(stub, Config{Recipients: []string{"ops@acme.example"}}, nil)

	err := svc.Handle(context.Background(), entry(t, events.TypeFilingFinished, events.FilingStatusV1{
		FilingID:   "f2",
		Status:     "failed",
		Message:    "login rejected",
		OccurredAt: time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC),
	}))
	require.NoError(t, err)

	sent := stub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "LCA filing f2 failed", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "login rejected")
	assert.NotContains(t, sent[0].Body, "Result:")
}

func TestService_IgnoresOtherEvents(t *testing.T) {
	stub := NewStubEmailSender(nil)
	svc := NewService(stub, Config{Recipients: []string{"ops@acme.example"}}, nil)

	require.NoError(t, svc.Handle(context.Background(), events.OutboxEntry{Type: events.TypeSectionCompleted, Payload: []byte("{")}))
	assert.Empty(t, stub.Sent())

	err := svc.Handle(context.Background(), events.OutboxEntry{Type: events.TypeFilingFinished, Payload: []byte("{")})
	assert.Error(t, err)
}

type failingSender struct{}

func (failingSender) Send(context.Context, EmailMessage) error { return errors.New("smtp down") }

func TestService_SendFailureIsReturned(t *testing.T) {
	svc := NewService(failingSender{}, Config{Recipients: []string{"ops@acme.example"}}, nil)
	err := svc.NotifyFilingFinished(context.Background(), events.FilingStatusV1{FilingID: "f3", Status: "completed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")

	quiet := NewService(failingSender{}, Config{}, nil)
	assert.NoError(t, quiet.NotifyFilingFinished(context.Background(), events.FilingStatusV1{FilingID: "f3"}))
}
