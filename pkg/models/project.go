package models

import "time"

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive  ProjectStatus = "active"
	ProjectPaused  ProjectStatus = "paused"
	ProjectDeleted ProjectStatus = "deleted"
)

// Environment identifies the deployment environment a project targets.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

// Project is the tenant root. It owns prompt layers, sessions, secrets,
// memory entries, and agents.
type Project struct {
	ID          ProjectID     `json:"id"`
	Name        string        `json:"name"`
	Environment Environment   `json:"environment"`
	Owner       string        `json:"owner"`
	Tags        []string      `json:"tags,omitempty"`
	Config      AgentConfig   `json:"agent_config"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ProviderKind identifies an LLM provider implementation.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai"
)

// ProviderSpec configures one LLM provider endpoint.
type ProviderSpec struct {
	// Kind selects the provider implementation.
	Kind ProviderKind `json:"kind"`

	// Model is the provider-specific model id.
	Model string `json:"model"`

	// Temperature is the sampling temperature (0 disables).
	Temperature float64 `json:"temperature,omitempty"`

	// MaxOutputTokens caps response length per call.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// The raw key is never persisted.
	APIKeyEnv string `json:"api_key_env"`

	// BaseURL overrides the provider endpoint (optional).
	BaseURL string `json:"base_url,omitempty"`
}

// FailoverPolicy controls when the runner substitutes the fallback provider.
type FailoverPolicy struct {
	OnRateLimit   bool `json:"on_rate_limit"`
	OnServerError bool `json:"on_server_error"`
	OnTimeout     bool `json:"on_timeout"`

	// TimeoutMs bounds every network call to a provider.
	TimeoutMs int `json:"timeout_ms"`

	// MaxRetries is the maximum number of failover attempts per run.
	MaxRetries int `json:"max_retries"`
}

// PruningStrategy selects how conversation history is trimmed per turn.
type PruningStrategy string

const (
	PruneTurnBased  PruningStrategy = "turn-based"
	PruneTokenBased PruningStrategy = "token-based"
)

// MemoryConfig controls long-term memory behavior for a project.
type MemoryConfig struct {
	LongTermEnabled   bool            `json:"long_term_enabled"`
	TopK              int             `json:"top_k"`
	DecayEnabled      bool            `json:"decay_enabled"`
	DecayHalfLifeDays float64         `json:"decay_half_life_days"`
	PruningStrategy   PruningStrategy `json:"pruning_strategy"`
	MaxTurnsInContext int             `json:"max_turns_in_context"`
	CompactionEnabled bool            `json:"compaction_enabled"`

	// CompactionMinTurns is the turn count at which post-run compaction fires.
	CompactionMinTurns int `json:"compaction_min_turns,omitempty"`
}

// CostConfig holds per-project budgets and rate limits enforced by the
// cost guard before every turn.
type CostConfig struct {
	DailyBudgetUSD   float64 `json:"daily_budget_usd"`
	MonthlyBudgetUSD float64 `json:"monthly_budget_usd"`

	MaxTokensPerTurn    int `json:"max_tokens_per_turn"`
	MaxTurnsPerSession  int `json:"max_turns_per_session"`
	MaxToolCallsPerTurn int `json:"max_tool_calls_per_turn"`

	// AlertThresholdPercent is the soft threshold at which a cost_alert
	// event fires. HardLimitPercent may exceed 100 to allow a grace band;
	// the guard vetoes only past the hard limit.
	AlertThresholdPercent float64 `json:"alert_threshold_percent"`
	HardLimitPercent      float64 `json:"hard_limit_percent"`

	MaxRequestsPerMinute int `json:"max_requests_per_minute"`
	MaxRequestsPerHour   int `json:"max_requests_per_hour"`
}

// AgentConfig is the per-project agent behavior configuration embedded in a
// Project and loadable from a config file.
type AgentConfig struct {
	ProjectID ProjectID `json:"project_id"`

	Primary  ProviderSpec  `json:"primary"`
	Fallback *ProviderSpec `json:"fallback,omitempty"`

	Failover FailoverPolicy `json:"failover"`
	Memory   MemoryConfig   `json:"memory"`
	Cost     CostConfig     `json:"cost"`

	// AllowedTools is the run allow-list; tool ids outside it are rejected
	// with TOOL_NOT_ALLOWED.
	AllowedTools []string `json:"allowed_tools"`
}

// ToolAllowed reports whether a tool id is on the configured allow-list.
func (c *AgentConfig) ToolAllowed(id string) bool {
	for _, t := range c.AllowedTools {
		if t == id {
			return true
		}
	}
	return false
}

// FailoverTimeout returns the per-call network timeout as a duration,
// defaulting to 60s when unset.
func (p FailoverPolicy) FailoverTimeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}
