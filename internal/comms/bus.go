// Package comms is the in-process inter-agent message bus: pub/sub over
// agent-identified channels with request/reply and timeouts.
package comms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const defaultReplyTimeout = 30 * time.Second

// Handler receives messages addressed to a subscribed agent. Handlers run
// on the sender's goroutine; long work should be moved off it.
type Handler func(ctx context.Context, msg models.AgentMessage)

// Unsubscribe removes a subscription. Safe to call more than once.
type Unsubscribe func()

type subscription struct {
	id      uint64
	agentID models.AgentID
	handler Handler
}

// Bus routes agent messages to the subscribers registered at send time.
// Messages to agents with no subscriber are dropped.
type Bus struct {
	mu      sync.RWMutex
	nextSub uint64
	subs    map[models.AgentID][]*subscription

	waitMu  sync.Mutex
	waiters map[string]chan models.AgentMessage

	logger *observability.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *observability.Logger) *Bus {
	return &Bus{
		subs:    make(map[models.AgentID][]*subscription),
		waiters: make(map[string]chan models.AgentMessage),
		logger:  logger,
	}
}

// Subscribe registers a handler for messages addressed to agentID. The
// returned function removes the subscription.
func (b *Bus) Subscribe(agentID models.AgentID, handler Handler) Unsubscribe {
	b.mu.Lock()
	b.nextSub++
	sub := &subscription{id: b.nextSub, agentID: agentID, handler: handler}
	b.subs[agentID] = append(b.subs[agentID], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[agentID]
			for i, s := range list {
				if s.id == sub.id {
					b.subs[agentID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[agentID]) == 0 {
				delete(b.subs, agentID)
			}
		})
	}
}

// Send delivers msg to the current subscribers of the target agent and
// returns the assigned message id. Fire-and-forget: no subscriber, no
// error.
func (b *Bus) Send(ctx context.Context, msg models.AgentMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	// A reply unblocks its waiter in addition to normal delivery.
	if msg.ReplyToID != "" {
		b.waitMu.Lock()
		if ch, ok := b.waiters[msg.ReplyToID]; ok {
			delete(b.waiters, msg.ReplyToID)
			select {
			case ch <- msg:
			default:
			}
		}
		b.waitMu.Unlock()
	}

	b.mu.RLock()
	subs := make([]*subscription, len(b.subs[msg.ToAgentID]))
	copy(subs, b.subs[msg.ToAgentID])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(ctx, msg)
	}
	return msg.ID, nil
}

// SendAndWait sends msg and blocks until a reply arrives whose ReplyToID
// matches the sent message id. Fails with AGENT_TIMEOUT after timeout
// (default 30 s) and with ABORTED on context cancellation.
func (b *Bus) SendAndWait(ctx context.Context, msg models.AgentMessage, timeout time.Duration) (models.AgentMessage, error) {
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ch := make(chan models.AgentMessage, 1)
	b.waitMu.Lock()
	b.waiters[msg.ID] = ch
	b.waitMu.Unlock()
	defer func() {
		b.waitMu.Lock()
		delete(b.waiters, msg.ID)
		b.waitMu.Unlock()
	}()

	if _, err := b.Send(ctx, msg); err != nil {
		return models.AgentMessage{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return models.AgentMessage{}, nexuserr.Newf(nexuserr.CodeAgentTimeout,
			"no reply from %s within %s", msg.ToAgentID, timeout)
	case <-ctx.Done():
		return models.AgentMessage{}, nexuserr.Wrap(nexuserr.CodeAborted, "reply wait canceled", ctx.Err())
	}
}

// SubscriberCount reports how many handlers are registered for an agent.
func (b *Bus) SubscriberCount(agentID models.AgentID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[agentID])
}
