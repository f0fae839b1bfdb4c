package llm

import (
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// ChatEventType discriminates the variants of ChatEvent.
type ChatEventType string

const (
	// EventMessageStart opens a response. Usage carries input token counts.
	EventMessageStart ChatEventType = "message_start"

	// EventContentDelta carries an incremental text fragment.
	EventContentDelta ChatEventType = "content_delta"

	// EventToolUseStart opens a tool call. ToolCall has ID and Name; Input
	// arrives via deltas.
	EventToolUseStart ChatEventType = "tool_use_start"

	// EventToolUseDelta carries a fragment of tool input JSON.
	EventToolUseDelta ChatEventType = "tool_use_delta"

	// EventToolUseEnd closes a tool call. ToolCall carries the reassembled
	// Input.
	EventToolUseEnd ChatEventType = "tool_use_end"

	// EventMessageEnd closes the response with StopReason and final Usage.
	EventMessageEnd ChatEventType = "message_end"

	// EventError terminates the stream abnormally. Err is always set.
	EventError ChatEventType = "error"
)

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// ChatEvent is one item on a provider stream. Exactly one variant's fields
// are populated, selected by Type. A stream is a sequence of events ending
// in either message_end or error; the channel is closed after the terminal
// event.
type ChatEvent struct {
	Type ChatEventType

	// Text is set for content_delta.
	Text string

	// ToolCall is set for tool_use_start (ID, Name) and tool_use_end
	// (ID, Name, Input).
	ToolCall *models.ToolCall

	// ToolCallID and PartialJSON are set for tool_use_delta.
	ToolCallID  models.ToolCallID
	PartialJSON string

	// StopReason is set for message_end.
	StopReason StopReason

	// Usage is set for message_start (input side) and message_end (final).
	Usage models.TokenUsage

	// Err is set for error.
	Err error
}
