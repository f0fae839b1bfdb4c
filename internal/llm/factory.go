package llm

import (
	"os"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// New builds a provider from a spec, resolving the API key from the
// environment variable the spec names. The key stays inside the SDK client;
// it is never stored on the spec or logged.
func New(spec models.ProviderSpec) (Provider, error) {
	if spec.Model == "" {
		return nil, nexuserr.New(nexuserr.CodeConfig, "provider model is required")
	}
	if spec.APIKeyEnv == "" {
		return nil, nexuserr.Newf(nexuserr.CodeConfig, "provider %s: api_key_env is required", spec.Kind)
	}
	apiKey := os.Getenv(spec.APIKeyEnv)
	if apiKey == "" {
		return nil, nexuserr.Newf(nexuserr.CodeConfig, "environment variable %s is not set", spec.APIKeyEnv)
	}

	switch spec.Kind {
	case models.ProviderAnthropic:
		return NewAnthropicProvider(spec, apiKey), nil
	case models.ProviderOpenAI:
		return NewOpenAIProvider(spec, apiKey), nil
	}
	return nil, nexuserr.Newf(nexuserr.CodeConfig, "unknown provider kind %q", spec.Kind)
}
