package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// maxEmptyStreamEvents bounds consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider streams completions through the Anthropic Messages API.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewAnthropicProvider builds a provider for the given spec. The API key is
// held by the SDK client only.
func NewAnthropicProvider(spec models.ProviderSpec, apiKey string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	return &AnthropicProvider{
		client:      anthropic.NewClient(opts...),
		model:       spec.Model,
		maxTokens:   spec.MaxOutputTokens,
		temperature: spec.Temperature,
	}
}

func (p *AnthropicProvider) Kind() models.ProviderKind { return models.ProviderAnthropic }
func (p *AnthropicProvider) Model() string             { return p.model }
func (p *AnthropicProvider) SupportsToolUse() bool     { return true }

func (p *AnthropicProvider) ContextWindow() int {
	return contextWindowFor(p.model)
}

func (p *AnthropicProvider) CountTokens(messages []ChatMessage) int {
	return estimateTokens(messages)
}

// Chat opens a streaming completion and converts SSE events to ChatEvents.
func (p *AnthropicProvider) Chat(ctx context.Context, params ChatParams) (<-chan ChatEvent, error) {
	stream, err := p.createStream(ctx, params)
	if err != nil {
		return nil, wrapProviderError(string(models.ProviderAnthropic), p.resolveModel(params.Model), err)
	}

	events := make(chan ChatEvent)
	go p.processStream(stream, events, p.resolveModel(params.Model))
	return events, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, params ChatParams) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(params.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.resolveModel(params.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if params.System != "" {
		req.System = []anthropic.TextBlockParam{{Type: "text", Text: params.System}}
	}
	if temp := p.resolveTemperature(params.Temperature); temp > 0 {
		req.Temperature = anthropic.Float(temp)
	}
	if len(params.Tools) > 0 {
		tools, err := convertAnthropicTools(params.Tools)
		if err != nil {
			return nil, err
		}
		req.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, req), nil
}

// processStream reassembles Anthropic SSE events into the ChatEvent
// sequence. Tool input arrives as input_json_delta fragments between
// content_block_start and content_block_stop; fragments are both forwarded
// as deltas and accumulated so tool_use_end carries the complete input.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- ChatEvent, model string) {
	defer close(events)

	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var usage models.TokenUsage
	stop := StopEndTurn
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			usage.InputTokens = messageStart.Message.Usage.InputTokens
			usage.CacheReadTokens = messageStart.Message.Usage.CacheReadInputTokens
			usage.CacheWriteTokens = messageStart.Message.Usage.CacheCreationInputTokens
			events <- ChatEvent{Type: EventMessageStart, Usage: usage}
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			if contentBlockStart.ContentBlock.Type == "tool_use" {
				toolUse := contentBlockStart.ContentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   models.ToolCallID(toolUse.ID),
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				events <- ChatEvent{
					Type:     EventToolUseStart,
					ToolCall: &models.ToolCall{ID: currentToolCall.ID, Name: currentToolCall.Name},
				}
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					events <- ChatEvent{Type: EventContentDelta, Text: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && currentToolCall != nil {
					currentToolInput.WriteString(delta.PartialJSON)
					events <- ChatEvent{
						Type:        EventToolUseDelta,
						ToolCallID:  currentToolCall.ID,
						PartialJSON: delta.PartialJSON,
					}
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				events <- ChatEvent{Type: EventToolUseEnd, ToolCall: currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = messageDelta.Usage.OutputTokens
			}
			if r := mapAnthropicStop(string(messageDelta.Delta.StopReason)); r != "" {
				stop = r
			}
			eventProcessed = true

		case "message_stop":
			events <- ChatEvent{Type: EventMessageEnd, StopReason: stop, Usage: usage}
			return

		case "error":
			events <- ChatEvent{
				Type: EventError,
				Err:  wrapProviderError(string(models.ProviderAnthropic), model, errors.New("anthropic stream error")),
			}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				events <- ChatEvent{
					Type: EventError,
					Err: nexuserr.Newf(nexuserr.CodeProviderServerError,
						"malformed stream: %d consecutive empty events", emptyEventCount),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		events <- ChatEvent{
			Type: EventError,
			Err:  wrapProviderError(string(models.ProviderAnthropic), model, err),
		}
	}
}

// mapAnthropicStop converts the API's stop_reason to a StopReason. The two
// vocabularies coincide, so this guards against future values only.
func mapAnthropicStop(reason string) StopReason {
	switch reason {
	case "end_turn":
		return StopEndTurn
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopStopSequence
	}
	return ""
}

func (p *AnthropicProvider) resolveModel(override string) string {
	if override != "" {
		return override
	}
	return p.model
}

func (p *AnthropicProvider) resolveTemperature(override float64) float64 {
	if override > 0 {
		return override
	}
	return p.temperature
}

func convertAnthropicMessages(messages []ChatMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		// System content rides on MessageNewParams.System, not the transcript.
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(string(tr.ToolCallID), tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, nexuserr.Wrap(nexuserr.CodeValidation, "invalid tool call input", err)
			}
			content = append(content, anthropic.NewToolUseBlock(string(tc.ID), input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, nexuserr.Newf(nexuserr.CodeValidation, "invalid tool schema for %s", tool.Name)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, nexuserr.Newf(nexuserr.CodeValidation, "invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}
