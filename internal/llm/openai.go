package llm

import (
	"context"
	"encoding/json"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// OpenAIProvider streams completions through the OpenAI chat API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAIProvider builds a provider for the given spec. The API key is
// held by the SDK client only.
func NewOpenAIProvider(spec models.ProviderSpec, apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if spec.BaseURL != "" {
		cfg.BaseURL = spec.BaseURL
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		model:       spec.Model,
		maxTokens:   spec.MaxOutputTokens,
		temperature: spec.Temperature,
	}
}

func (p *OpenAIProvider) Kind() models.ProviderKind { return models.ProviderOpenAI }
func (p *OpenAIProvider) Model() string             { return p.model }
func (p *OpenAIProvider) SupportsToolUse() bool     { return true }

func (p *OpenAIProvider) ContextWindow() int {
	return contextWindowFor(p.model)
}

func (p *OpenAIProvider) CountTokens(messages []ChatMessage) int {
	return estimateTokens(messages)
}

// Chat opens a streaming completion and converts SDK chunks to ChatEvents.
func (p *OpenAIProvider) Chat(ctx context.Context, params ChatParams) (<-chan ChatEvent, error) {
	model := p.model
	if params.Model != "" {
		model = params.Model
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(params.Messages, params.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	} else if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}
	if params.Temperature > 0 {
		req.Temperature = float32(params.Temperature)
	} else if p.temperature > 0 {
		req.Temperature = float32(p.temperature)
	}
	if len(params.Tools) > 0 {
		req.Tools = convertOpenAITools(params.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapProviderError(string(models.ProviderOpenAI), model, err)
	}

	events := make(chan ChatEvent)
	go p.processStream(ctx, stream, events, model)
	return events, nil
}

// processStream converts OpenAI stream chunks to ChatEvents. Tool call
// arguments arrive as fragments keyed by index; the name and id land in the
// first fragment, so tool_use_start fires there and tool_use_end when the
// finish reason arrives (or the stream drains).
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- ChatEvent, model string) {
	defer close(events)
	defer stream.Close()

	type pendingCall struct {
		call models.ToolCall
		args []byte
	}
	pending := make(map[int]*pendingCall)
	order := make([]int, 0, 4)

	var usage models.TokenUsage
	stop := StopEndTurn
	started := false

	finish := func() {
		for _, idx := range order {
			pc := pending[idx]
			if pc == nil || pc.call.ID == "" || pc.call.Name == "" {
				continue
			}
			if len(pc.args) == 0 {
				pc.args = []byte("{}")
			}
			pc.call.Input = json.RawMessage(pc.args)
			events <- ChatEvent{Type: EventToolUseEnd, ToolCall: &pc.call}
		}
		pending = make(map[int]*pendingCall)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			events <- ChatEvent{Type: EventError, Err: wrapProviderError(string(models.ProviderOpenAI), model, ctx.Err())}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				finish()
				events <- ChatEvent{Type: EventMessageEnd, StopReason: stop, Usage: usage}
				return
			}
			events <- ChatEvent{Type: EventError, Err: wrapProviderError(string(models.ProviderOpenAI), model, err)}
			return
		}

		// The usage-bearing chunk has no choices.
		if response.Usage != nil {
			usage.InputTokens = int64(response.Usage.PromptTokens)
			usage.OutputTokens = int64(response.Usage.CompletionTokens)
		}
		if len(response.Choices) == 0 {
			continue
		}

		if !started {
			events <- ChatEvent{Type: EventMessageStart}
			started = true
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			events <- ChatEvent{Type: EventContentDelta, Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			pc := pending[index]
			if pc == nil {
				pc = &pendingCall{}
				pending[index] = pc
				order = append(order, index)
			}
			if tc.ID != "" {
				pc.call.ID = models.ToolCallID(tc.ID)
			}
			if tc.Function.Name != "" {
				pc.call.Name = tc.Function.Name
				events <- ChatEvent{
					Type:     EventToolUseStart,
					ToolCall: &models.ToolCall{ID: pc.call.ID, Name: pc.call.Name},
				}
			}
			if tc.Function.Arguments != "" {
				pc.args = append(pc.args, tc.Function.Arguments...)
				events <- ChatEvent{
					Type:        EventToolUseDelta,
					ToolCallID:  pc.call.ID,
					PartialJSON: tc.Function.Arguments,
				}
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			stop = StopToolUse
		case openai.FinishReasonLength:
			stop = StopMaxTokens
		case openai.FinishReasonStop:
			stop = StopEndTurn
		}
	}
}

func convertOpenAIMessages(messages []ChatMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		out := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			out.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				out.ToolCalls[i] = openai.ToolCall{
					ID:   string(tc.ID),
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		if out.Content != "" || len(out.ToolCalls) > 0 {
			result = append(result, out)
		}

		// Tool results become separate tool-role messages after the
		// assistant message that requested them.
		for _, tr := range msg.ToolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: string(tr.ToolCallID),
			})
		}
	}
	return result
}

func convertOpenAITools(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object"}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
