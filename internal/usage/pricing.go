// Package usage provides durable spend aggregation and model pricing.
package usage

import (
	"strings"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Cost is pricing for a model in USD per million tokens.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
}

// Estimate calculates the cost of the given usage.
func (c Cost) Estimate(u models.TokenUsage) float64 {
	total := float64(u.InputTokens)*c.Input +
		float64(u.OutputTokens)*c.Output +
		float64(u.CacheReadTokens)*c.CacheRead +
		float64(u.CacheWriteTokens)*c.CacheWrite
	return total / 1_000_000
}

// defaultPricing maps model id prefixes to per-million pricing. Longest
// prefix wins so dated model ids resolve to their family.
var defaultPricing = map[string]Cost{
	// Anthropic
	"claude-opus-4":   {Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
	"claude-sonnet-4": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
	"claude-haiku-4":  {Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
	"claude-3-5":      {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},

	// OpenAI
	"gpt-4o-mini": {Input: 0.15, Output: 0.6},
	"gpt-4o":      {Input: 2.5, Output: 10},
	"gpt-4.1":     {Input: 2, Output: 8},
	"o3":          {Input: 2, Output: 8},
}

// fallbackCost is used for unknown models so spend is never silently zero.
var fallbackCost = Cost{Input: 3, Output: 15}

// PriceFor returns the pricing for a model id.
func PriceFor(model string) Cost {
	best := ""
	for prefix := range defaultPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return fallbackCost
	}
	return defaultPricing[best]
}

// EstimateCost prices the given usage for a model.
func EstimateCost(model string, u models.TokenUsage) float64 {
	return PriceFor(model).Estimate(u)
}
