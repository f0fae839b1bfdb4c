package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-core/internal/llm"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// turnOutcome is what the accumulator reassembles from one provider stream.
type turnOutcome struct {
	text      string
	toolCalls []models.ToolCall
	stop      llm.StopReason
	usage     models.TokenUsage
}

// streamWithFailover runs one provider call, substituting the fallback
// provider on classified failures the policy covers, up to maxRetries
// attempts. Unclassified errors are not retried.
func (rn *run) streamWithFailover(ctx context.Context, params llm.ChatParams) (turnOutcome, error) {
	policy := rn.cfg.Failover
	provider := rn.provider

	for {
		callCtx, cancel := context.WithTimeout(ctx, policy.FailoverTimeout())
		outcome, err := rn.streamTurn(callCtx, provider, params)
		cancel()
		if err == nil {
			rn.lastKind = provider.Kind()
			rn.lastModel = provider.Model()
			rn.provider = provider
			return outcome, nil
		}
		if ctx.Err() != nil {
			return outcome, nexuserr.Wrap(nexuserr.CodeAborted, "run canceled", ctx.Err())
		}

		code := nexuserr.CodeOf(err)
		if !isProviderCode(code) {
			code = llm.Classify(err)
		}
		if !failoverCovers(policy, code) || rn.fallback == nil ||
			provider == rn.fallback || rn.attempts >= policy.MaxRetries {
			return outcome, err
		}

		rn.attempts++
		rn.recorder.Append(models.EventFailover, map[string]any{
			"from":    string(provider.Kind()),
			"to":      string(rn.fallback.Kind()),
			"reason":  string(code),
			"attempt": rn.attempts,
		})
		if rn.runner.metrics != nil {
			rn.runner.metrics.FailoverCounter.WithLabelValues(string(code)).Inc()
		}
		rn.runner.logger.Warn(ctx, "provider failover",
			"from", string(provider.Kind()), "to", string(rn.fallback.Kind()),
			"reason", string(code))
		provider = rn.fallback
	}
}

// streamTurn opens one chat stream and fans every event out to three
// concurrent consumers: the client relay, the accumulator, and the trace
// recorder. It returns once the stream is drained.
func (rn *run) streamTurn(ctx context.Context, provider llm.Provider, params llm.ChatParams) (turnOutcome, error) {
	events, err := provider.Chat(ctx, params)
	if err != nil {
		return turnOutcome{}, err
	}

	relayCh := make(chan llm.ChatEvent, 16)
	accumCh := make(chan llm.ChatEvent, 16)
	traceCh := make(chan llm.ChatEvent, 16)

	go func() {
		defer close(relayCh)
		defer close(accumCh)
		defer close(traceCh)
		for event := range events {
			relayCh <- event
			accumCh <- event
			traceCh <- event
		}
	}()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		rn.relayEvents(ctx, relayCh)
	}()

	var outcome turnOutcome
	var streamErr error
	go func() {
		defer wg.Done()
		outcome, streamErr = accumulate(accumCh)
	}()

	started := time.Now()
	go func() {
		defer wg.Done()
		for event := range traceCh {
			if event.Type == llm.EventMessageEnd {
				rn.recorder.RecordLLMResponse(provider.Kind(), provider.Model(),
					string(event.StopReason), event.Usage, time.Since(started).Milliseconds())
				rn.observeTokens(provider, event.Usage)
			}
		}
	}()

	wg.Wait()
	if rn.runner.metrics != nil {
		rn.runner.metrics.LLMRequestDuration.WithLabelValues(
			string(provider.Kind()), provider.Model()).Observe(time.Since(started).Seconds())
	}
	return outcome, streamErr
}

// relayEvents re-emits the client-facing view of the provider stream.
// Tool results are relayed by the dispatcher, not here.
func (rn *run) relayEvents(ctx context.Context, events <-chan llm.ChatEvent) {
	for event := range events {
		switch event.Type {
		case llm.EventContentDelta:
			rn.emit(ctx, models.AgentStreamEvent{
				Type:  models.StreamContentDelta,
				Delta: event.Text,
			})
		case llm.EventToolUseStart:
			if event.ToolCall != nil {
				rn.emit(ctx, models.AgentStreamEvent{
					Type:       models.StreamToolUseStart,
					ToolCallID: event.ToolCall.ID,
					ToolName:   event.ToolCall.Name,
				})
			}
		}
	}
}

// accumulate reassembles the turn: assistant text from content deltas,
// complete tool calls from tool_use_end events, stop reason and usage from
// message_end.
func accumulate(events <-chan llm.ChatEvent) (turnOutcome, error) {
	var outcome turnOutcome
	var text strings.Builder
	var streamErr error

	for event := range events {
		switch event.Type {
		case llm.EventMessageStart:
			outcome.usage.Add(event.Usage)
		case llm.EventContentDelta:
			text.WriteString(event.Text)
		case llm.EventToolUseEnd:
			if event.ToolCall != nil {
				outcome.toolCalls = append(outcome.toolCalls, *event.ToolCall)
			}
		case llm.EventMessageEnd:
			outcome.stop = event.StopReason
			outcome.usage = event.Usage
		case llm.EventError:
			streamErr = event.Err
		}
	}
	outcome.text = text.String()
	return outcome, streamErr
}

func (rn *run) observeTokens(provider llm.Provider, usage models.TokenUsage) {
	if rn.runner.metrics == nil {
		return
	}
	kind := string(provider.Kind())
	model := provider.Model()
	rn.runner.metrics.TokensUsed.WithLabelValues(kind, model, "input").Add(float64(usage.InputTokens))
	rn.runner.metrics.TokensUsed.WithLabelValues(kind, model, "output").Add(float64(usage.OutputTokens))
}

func isProviderCode(code nexuserr.Code) bool {
	switch code {
	case nexuserr.CodeProviderRateLimit, nexuserr.CodeProviderServerError,
		nexuserr.CodeProviderTimeout, nexuserr.CodeProviderUnknown:
		return true
	}
	return false
}

func failoverCovers(policy models.FailoverPolicy, code nexuserr.Code) bool {
	switch code {
	case nexuserr.CodeProviderRateLimit:
		return policy.OnRateLimit
	case nexuserr.CodeProviderServerError:
		return policy.OnServerError
	case nexuserr.CodeProviderTimeout:
		return policy.OnTimeout
	}
	return false
}
