package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"golang.org/x/time/rate"

	appconfig "github.com/wolfman30/lca-filing-automation/internal/config"
	"github.com/wolfman30/lca-filing-automation/internal/oracle"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// LLM providers selectable through LLM_PROVIDER.
const (
	ProviderAuto    = "auto"
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
	ProviderNone    = "none"
)

// BuildOracle wires the decision oracle. It returns a nil Oracle when the
// provider is "none" or nothing is configured, in which case unmapped fields
// are gap-filled and validation is rule-based only. The returned closer
// releases provider clients.
func BuildOracle(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (oracle.Oracle, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	provider := resolveProvider(cfg)
	if provider == ProviderNone {
		logger.Warn("decision oracle disabled; unmapped fields will use defaults")
		return nil, noop, nil
	}

	var (
		primary oracle.LLMClient
		model   string
		closers []func() error
	)
	switch provider {
	case ProviderOpenAI:
		c, err := oracle.NewOpenAIClientFromKey(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, noop, err
		}
		primary, model = c, cfg.OpenAIModel
	case ProviderBedrock:
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, noop, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		primary, model = oracle.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg)), cfg.BedrockModelID
	case ProviderGemini:
		c, err := oracle.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, err
		}
		closers = append(closers, c.Close)
		primary, model = c, cfg.GeminiModel
	default:
		return nil, noop, fmt.Errorf("bootstrap: unknown LLM_PROVIDER %q", provider)
	}

	// Gemini ignores the request model, so it can back up any primary.
	var fallback oracle.LLMClient
	if provider != ProviderGemini && strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		c, err := oracle.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini fallback unavailable", "error", err)
		} else {
			closers = append(closers, c.Close)
			fallback = c
		}
	}
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	llm, err := oracle.NewLLMOracle(oracle.NewFallbackClient(primary, fallback, logger), model, logger)
	if err != nil {
		_ = closeAll()
		return nil, noop, err
	}
	llm.WithTimeout(cfg.OracleTimeout).
		WithTemperature(float32(cfg.OracleTemperature)).
		WithMaxTokens(int32(cfg.OracleMaxTokens))

	policy := oracle.RetryPolicy{
		MaxAttempts: cfg.OracleMaxAttempts,
		BaseDelay:   cfg.OracleBaseDelay,
		MaxDelay:    cfg.OracleMaxDelay,
	}
	if cfg.OracleRatePerSec > 0 {
		policy.Limiter = rate.NewLimiter(rate.Limit(cfg.OracleRatePerSec), max(cfg.OracleBurst, 1))
	}
	logger.Info("decision oracle configured", "provider", provider, "model", model, "fallback", fallback != nil)
	return oracle.NewRetryingOracle(llm, policy, logger), closeAll, nil
}

func resolveProvider(cfg *appconfig.Config) string {
	p := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if p != "" && p != ProviderAuto {
		return p
	}
	switch {
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		return ProviderOpenAI
	case strings.TrimSpace(cfg.BedrockModelID) != "":
		return ProviderBedrock
	case strings.TrimSpace(cfg.GeminiAPIKey) != "":
		return ProviderGemini
	default:
		return ProviderNone
	}
}
