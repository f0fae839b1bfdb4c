// Package llm adapts LLM provider SDKs to a single streaming interface.
//
// Each adapter converts its SDK's event stream into the ChatEvent sequence
// the runner consumes: message_start, interleaved content and tool-use
// events, then message_end (or error). API keys are resolved from the
// environment at construction time and never persisted or logged.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ChatMessage is one conversation entry in provider-neutral form. Tool
// results ride on the user-role message that follows the assistant's tool
// calls.
type ChatMessage struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ChatParams is one streaming completion request.
type ChatParams struct {
	// Model overrides the provider's configured model when non-empty.
	Model string

	// System is the resolved system prompt, passed out-of-band where the
	// provider supports it.
	System string

	Messages []ChatMessage
	Tools    []ToolSpec

	// MaxTokens caps output length; 0 uses the provider default.
	MaxTokens int

	// Temperature is the sampling temperature; 0 leaves the provider default.
	Temperature float64
}

// Provider is a streaming LLM backend.
type Provider interface {
	// Kind identifies the provider implementation.
	Kind() models.ProviderKind

	// Model returns the configured default model id.
	Model() string

	// Chat opens a streaming completion. The returned channel yields events
	// until message_end or error, then closes. Errors establishing the
	// stream are returned directly.
	Chat(ctx context.Context, params ChatParams) (<-chan ChatEvent, error)

	// CountTokens estimates the token count of the given messages. It is an
	// approximation used for pruning decisions, not billing.
	CountTokens(messages []ChatMessage) int

	// ContextWindow returns the model's context window in tokens.
	ContextWindow() int

	// SupportsToolUse reports whether the configured model accepts tools.
	SupportsToolUse() bool
}

// estimateTokens approximates token count as characters/4, the usual
// heuristic for English text. Pruning only needs a consistent estimate.
func estimateTokens(messages []ChatMessage) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			chars += len(tr.Content)
		}
	}
	return chars / 4
}

// contextWindows maps model id prefixes to context window sizes. Longest
// prefix wins.
var contextWindows = map[string]int{
	"claude": 200_000,
	"gpt-4o": 128_000,
	"gpt-4.1": 1_000_000,
	"o3":     200_000,
}

const defaultContextWindow = 128_000

func contextWindowFor(model string) int {
	best := ""
	for prefix := range contextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultContextWindow
	}
	return contextWindows[best]
}
