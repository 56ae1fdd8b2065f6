package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/lca-filing-automation/internal/config"
	"github.com/wolfman30/lca-filing-automation/internal/notify"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// BuildEmailSender selects the operator email transport. EMAIL_PROVIDER may
// be "sendgrid", "ses", "stub" or "auto"; auto prefers SendGrid when a key is
// present and SES when a sender address is. The provider name is returned
// for logging.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub"
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	if provider == "" || provider == "auto" {
		switch {
		case cfg.SendGridAPIKey != "":
			provider = "sendgrid"
		case cfg.EmailFromAddress != "" && awsCfg != nil:
			provider = "ses"
		default:
			provider = "stub"
		}
	}

	sender := notify.SenderConfig{
		FromEmail:        cfg.EmailFromAddress,
		FromName:         cfg.EmailFromName,
		ReplyTo:          cfg.EmailReplyTo,
		ConfigurationSet: cfg.SESConfigSet,
	}
	switch provider {
	case "sendgrid":
		if s := notify.NewSendGridSender(cfg.SendGridAPIKey, sender, logger); s != nil {
			return s, provider
		}
		logger.Warn("sendgrid selected without SENDGRID_API_KEY; emails will only be logged")
	case "ses":
		if awsCfg != nil {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), sender, logger), provider
		}
		logger.Warn("ses selected without AWS config; emails will only be logged")
	}
	return notify.NewStubEmailSender(logger), "stub"
}
