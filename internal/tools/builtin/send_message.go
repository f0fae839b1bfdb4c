package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/tools"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// AgentSender puts messages on the inter-agent bus for the send_message
// tool.
type AgentSender interface {
	Send(ctx context.Context, msg models.AgentMessage) (string, error)
	SendAndWait(ctx context.Context, msg models.AgentMessage, timeout time.Duration) (models.AgentMessage, error)
}

// SendMessage lets an agent message another agent, optionally waiting for a
// reply.
type SendMessage struct {
	bus AgentSender
}

func NewSendMessage(bus AgentSender) *SendMessage {
	return &SendMessage{bus: bus}
}

func (s *SendMessage) Meta() tools.Metadata {
	return tools.Metadata{
		ID:          "send_message",
		Name:        "Send Message",
		Description: "Send a message to another agent. Set waitForReply to block for a response.",
		Category:    "comms",
		Risk:        tools.RiskMedium,
		SideEffects: true,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"toAgentId": {"type": "string", "description": "Target agent id."},
				"content": {"type": "string", "description": "Message body."},
				"waitForReply": {"type": "boolean", "description": "Block until the target replies."},
				"timeoutMs": {"type": "integer", "minimum": 0, "description": "Reply wait bound, default 30000."}
			},
			"required": ["toAgentId", "content"],
			"additionalProperties": false
		}`),
	}
}

func (s *SendMessage) Execute(ctx context.Context, input json.RawMessage, rc *tools.RunContext) (string, error) {
	if s.bus == nil {
		return "", fmt.Errorf("comms bus unavailable")
	}
	var params struct {
		ToAgentID    string `json:"toAgentId"`
		Content      string `json:"content"`
		WaitForReply bool   `json:"waitForReply"`
		TimeoutMs    int    `json:"timeoutMs"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.ToAgentID) == "" || strings.TrimSpace(params.Content) == "" {
		return "", fmt.Errorf("toAgentId and content are required")
	}

	msg := models.AgentMessage{
		FromAgentID: rc.AgentID,
		ToAgentID:   models.AgentID(params.ToAgentID),
		Content:     params.Content,
	}

	if !params.WaitForReply {
		id, err := s.bus.Send(ctx, msg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Message %s sent to %s.", id, params.ToAgentID), nil
	}

	timeout := 30 * time.Second
	if params.TimeoutMs > 0 {
		timeout = time.Duration(params.TimeoutMs) * time.Millisecond
	}
	reply, err := s.bus.SendAndWait(ctx, msg, timeout)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}
