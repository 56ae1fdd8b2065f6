package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// SESAPI is the subset of the SES v2 client used by SESSender.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends through SES v2. Message tags become SES email tags so a
// configuration set can route events per filing.
type SESSender struct {
	client SESAPI
	cfg    SenderConfig
	logger *logging.Logger
}

// NewSESSender returns nil when client is nil.
func NewSESSender(client SESAPI, cfg SenderConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{client: client, cfg: cfg.withDefaults(), logger: logger}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	in, err := buildSESInput(s.cfg, msg)
	if err != nil {
		return err
	}
	out, err := s.client.SendEmail(ctx, in)
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Debug("email sent via ses", "to", msg.To, "filing_id", msg.FilingID, "message_id", aws.ToString(out.MessageId))
	return nil
}

func buildSESInput(cfg SenderConfig, msg EmailMessage) (*sesv2.SendEmailInput, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, errNoRecipient
	}
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(cfg.fromAddress()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	}
	if cfg.ReplyTo != "" {
		in.ReplyToAddresses = []string{cfg.ReplyTo}
	}
	if cfg.ConfigurationSet != "" {
		in.ConfigurationSetName = aws.String(cfg.ConfigurationSet)
	}

	tags := msg.tags()
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String(k), Value: aws.String(sesTagValue(tags[k]))})
	}
	return in, nil
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// sesTagValue keeps the characters SES accepts in tag values: ASCII letters,
// digits, underscore and dash.
func sesTagValue(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var _ EmailSender = (*SESSender)(nil)
