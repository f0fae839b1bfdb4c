package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/tools"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// MemoryWriter stores long-term memory entries on behalf of the remember
// tool.
type MemoryWriter interface {
	Store(ctx context.Context, entry models.MemoryEntry) (models.MemoryEntry, error)
}

// Remember persists a fact to the project's long-term memory.
type Remember struct {
	memory MemoryWriter
}

func NewRemember(memory MemoryWriter) *Remember {
	return &Remember{memory: memory}
}

func (r *Remember) Meta() tools.Metadata {
	return tools.Metadata{
		ID:          "remember",
		Name:        "Remember",
		Description: "Store an important fact in long-term memory for future conversations.",
		Category:    "memory",
		Risk:        tools.RiskLow,
		SideEffects: true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "The fact to remember."},
				"category": {"type": "string", "description": "Optional grouping, e.g. \"preferences\"."},
				"importance": {"type": "number", "minimum": 0, "maximum": 1, "description": "0..1, defaults to 0.5."}
			},
			"required": ["content"],
			"additionalProperties": false
		}`),
	}
}

func (r *Remember) Execute(ctx context.Context, input json.RawMessage, rc *tools.RunContext) (string, error) {
	if r.memory == nil {
		return "", fmt.Errorf("memory store unavailable")
	}
	var params struct {
		Content    string  `json:"content"`
		Category   string  `json:"category"`
		Importance float64 `json:"importance"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.Content) == "" {
		return "", fmt.Errorf("content is required")
	}
	if params.Importance <= 0 {
		params.Importance = 0.5
	}

	entry, err := r.memory.Store(ctx, models.MemoryEntry{
		ProjectID:  rc.ProjectID,
		Content:    params.Content,
		Category:   params.Category,
		Importance: params.Importance,
		Metadata:   map[string]any{"session_id": string(rc.SessionID)},
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Remembered (id %s).", entry.ID), nil
}
