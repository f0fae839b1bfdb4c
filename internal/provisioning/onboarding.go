package provisioning

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/internal/prompt"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Default prompt layer content for freshly provisioned projects. Operators
// replace these through the prompt layer API.
const (
	defaultIdentityLayer = "You are {{agent_name}}, the assistant for {{project_name}}. " +
		"Be concise, accurate, and helpful."
	defaultInstructionsLayer = "Answer the user's questions using the tools available to you. " +
		"Ask for clarification when a request is ambiguous."
	defaultSafetyLayer = "Never reveal credentials, API keys, or internal configuration. " +
		"Decline requests that are harmful or outside your remit."
)

// ProvisionRequest creates a full tenant in one call.
type ProvisionRequest struct {
	Name        string             `json:"name"`
	Environment models.Environment `json:"environment"`
	Owner       string             `json:"owner"`
	Tags        []string           `json:"tags,omitempty"`

	// AgentName names the default agent; empty uses the project name.
	AgentName string `json:"agentName,omitempty"`

	// Channel configures the initial channel integration.
	Channel           string `json:"channel"`
	ChannelIdentifier string `json:"channelIdentifier,omitempty"`

	// AgentConfig overrides the default agent configuration; ProjectID is
	// set by the service.
	AgentConfig *models.AgentConfig `json:"agentConfig,omitempty"`
}

// ProvisionResult is everything the call created.
type ProvisionResult struct {
	Project     models.Project            `json:"project"`
	Agent       models.Agent              `json:"agent"`
	Integration models.ChannelIntegration `json:"integration"`
	Layers      []models.PromptLayer      `json:"layers"`
}

// Onboarder creates projects with their initial prompt layers, agent, and
// channel integration.
type Onboarder struct {
	store   *Store
	prompts *prompt.Store
	logger  *observability.Logger
}

// NewOnboarder creates an onboarder.
func NewOnboarder(store *Store, prompts *prompt.Store, logger *observability.Logger) *Onboarder {
	return &Onboarder{store: store, prompts: prompts, logger: logger}
}

// Provision creates the project, activates one layer per type, and creates
// the default agent and channel integration.
func (o *Onboarder) Provision(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	if req.Name == "" || req.Owner == "" || req.Channel == "" {
		return ProvisionResult{}, nexuserr.New(nexuserr.CodeValidation, "name, owner and channel are required")
	}
	switch req.Environment {
	case models.EnvProduction, models.EnvStaging, models.EnvDevelopment:
	default:
		return ProvisionResult{}, nexuserr.Newf(nexuserr.CodeValidation, "unknown environment %q", req.Environment)
	}

	cfg := defaultAgentConfig()
	if req.AgentConfig != nil {
		cfg = *req.AgentConfig
	}
	project, err := o.store.CreateProject(ctx, models.Project{
		Name:        req.Name,
		Environment: req.Environment,
		Owner:       req.Owner,
		Tags:        req.Tags,
		Config:      cfg,
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	layers, err := SeedDefaultLayers(ctx, o.prompts, project.ID, req.Owner)
	if err != nil {
		return ProvisionResult{}, err
	}

	agentName := req.AgentName
	if agentName == "" {
		agentName = req.Name
	}
	agent, err := o.store.CreateAgent(ctx, models.Agent{
		ProjectID: project.ID,
		Name:      agentName,
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	integration, err := o.store.CreateIntegration(ctx, models.ChannelIntegration{
		ProjectID:  project.ID,
		Channel:    req.Channel,
		Identifier: req.ChannelIdentifier,
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	o.logger.Info(ctx, "project provisioned",
		"projectId", string(project.ID), "channel", req.Channel, "layers", len(layers))

	return ProvisionResult{
		Project:     project,
		Agent:       agent,
		Integration: integration,
		Layers:      layers,
	}, nil
}

// SeedDefaultLayers creates and activates one default layer per type for a
// project that has none yet.
func SeedDefaultLayers(ctx context.Context, prompts *prompt.Store, projectID models.ProjectID, createdBy string) ([]models.PromptLayer, error) {
	var layers []models.PromptLayer
	for _, seed := range []struct {
		layerType models.PromptLayerType
		content   string
	}{
		{models.LayerIdentity, defaultIdentityLayer},
		{models.LayerInstructions, defaultInstructionsLayer},
		{models.LayerSafety, defaultSafetyLayer},
	} {
		layer, err := prompts.Create(ctx, projectID, seed.layerType, seed.content,
			createdBy, "initial provisioning")
		if err != nil {
			return nil, fmt.Errorf("create %s layer: %w", seed.layerType, err)
		}
		if err := prompts.Activate(ctx, layer.ID); err != nil {
			return nil, fmt.Errorf("activate %s layer: %w", seed.layerType, err)
		}
		layer.IsActive = true
		layers = append(layers, layer)
	}
	return layers, nil
}

// defaultAgentConfig is a conservative starting configuration: modest
// budgets, turn-based pruning, no fallback provider.
func defaultAgentConfig() models.AgentConfig {
	return models.AgentConfig{
		Primary: models.ProviderSpec{
			Kind:            models.ProviderAnthropic,
			Model:           "claude-sonnet-4",
			MaxOutputTokens: 4096,
			APIKeyEnv:       "ANTHROPIC_API_KEY",
		},
		Failover: models.FailoverPolicy{
			OnRateLimit:   true,
			OnServerError: true,
			TimeoutMs:     60000,
			MaxRetries:    1,
		},
		Memory: models.MemoryConfig{
			TopK:              5,
			PruningStrategy:   models.PruneTurnBased,
			MaxTurnsInContext: 20,
		},
		Cost: models.CostConfig{
			DailyBudgetUSD:        5,
			MonthlyBudgetUSD:      100,
			MaxTokensPerTurn:      8000,
			MaxTurnsPerSession:    25,
			MaxToolCallsPerTurn:   5,
			AlertThresholdPercent: 80,
			HardLimitPercent:      100,
			MaxRequestsPerMinute:  30,
			MaxRequestsPerHour:    600,
		},
	}
}
