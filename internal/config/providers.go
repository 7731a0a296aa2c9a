package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hivemindctl/hivemind/internal/agent"
	"github.com/hivemindctl/hivemind/internal/agent/providers"
	modelcatalog "github.com/hivemindctl/hivemind/internal/models"
)

// BuildProviders constructs an LLMProvider for every enabled entry in cfg,
// keyed by the name used elsewhere in this package and registered on the
// Manager via RegisterProvider. Credentials come from the environment, never
// from the config file. When Bedrock discovery is enabled, it also queries
// and registers the account's available foundation models into
// modelcatalog.DefaultCatalog before returning; a discovery failure is
// logged and otherwise ignored, since Bedrock can still be used with an
// explicitly configured DefaultModel without it.
func BuildProviders(ctx context.Context, cfg ProvidersConfig) (map[string]agent.LLMProvider, error) {
	out := make(map[string]agent.LLMProvider)

	if cfg.Anthropic.Enabled {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:      cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Anthropic.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("config: building anthropic provider: %w", err)
		}
		out["anthropic"] = p
	}

	if cfg.OpenAI.Enabled {
		out["openai"] = providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"))
	}

	if cfg.Bedrock.Enabled {
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{
			Region:          cfg.Bedrock.Region,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			DefaultModel:    cfg.Bedrock.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("config: building bedrock provider: %w", err)
		}
		out["bedrock"] = p

		if cfg.Bedrock.Discovery.Enabled {
			discovery := modelcatalog.NewBedrockDiscovery(cfg.Bedrock.Discovery, slog.Default())
			if err := discovery.RegisterWithCatalog(ctx, modelcatalog.DefaultCatalog); err != nil {
				slog.Warn("bedrock model discovery failed, falling back to configured default_model", "error", err)
			}
		}
	}

	if cfg.Google.Enabled {
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       os.Getenv("GOOGLE_API_KEY"),
			DefaultModel: cfg.Google.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("config: building google provider: %w", err)
		}
		out["google"] = p
	}

	return out, nil
}
