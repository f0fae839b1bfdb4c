package proactive

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const (
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 30 * time.Second
	defaultBatchSize    = 32
)

// Adapter is the send half of a channel integration. Implementations must
// never log or return the recipient's credentials.
type Adapter interface {
	// Send delivers content to recipient and returns the channel-native
	// message id.
	Send(ctx context.Context, projectID models.ProjectID, recipient, content string) (string, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, projectID models.ProjectID, recipient, content string) (string, error)

func (f AdapterFunc) Send(ctx context.Context, projectID models.ProjectID, recipient, content string) (string, error) {
	return f(ctx, projectID, recipient, content)
}

// Messenger owns the queue worker and the channel adapter registry.
type Messenger struct {
	queue  *Queue
	logger *observability.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter

	poll         time.Duration
	maxAttempts  int
	retryBackoff time.Duration

	stop chan struct{}
	done chan struct{}
}

// Option tunes a Messenger.
type Option func(*Messenger)

// WithPollInterval sets how often the worker checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(m *Messenger) { m.poll = d }
}

// WithRetryPolicy sets the attempt cap and the delay before a failed job is
// retried.
func WithRetryPolicy(maxAttempts int, backoff time.Duration) Option {
	return func(m *Messenger) {
		m.maxAttempts = maxAttempts
		m.retryBackoff = backoff
	}
}

// NewMessenger creates a messenger over the queue. Call Start to begin
// delivering.
func NewMessenger(queue *Queue, logger *observability.Logger, opts ...Option) *Messenger {
	m := &Messenger{
		queue:        queue,
		logger:       logger,
		adapters:     make(map[string]Adapter),
		poll:         defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterAdapter binds a channel name to its adapter. Later registrations
// replace earlier ones.
func (m *Messenger) RegisterAdapter(channel string, adapter Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[channel] = adapter
}

// Channels lists the registered channel names, sorted.
func (m *Messenger) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Schedule validates the channel and enqueues the message.
func (m *Messenger) Schedule(ctx context.Context, req ScheduleRequest) (Job, error) {
	m.mu.RLock()
	_, known := m.adapters[req.Channel]
	m.mu.RUnlock()
	if !known {
		return Job{}, nexuserr.Newf(nexuserr.CodeValidation, "no adapter registered for channel %q", req.Channel)
	}
	return m.queue.Schedule(ctx, req)
}

// Cancel removes a pending job. See Queue.Cancel.
func (m *Messenger) Cancel(ctx context.Context, jobID string) (bool, error) {
	return m.queue.Cancel(ctx, jobID)
}

// Job loads one job's current state.
func (m *Messenger) Job(ctx context.Context, jobID string) (Job, error) {
	return m.queue.Get(ctx, jobID)
}

// Start launches the delivery worker.
func (m *Messenger) Start(ctx context.Context) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.worker(context.WithoutCancel(ctx))
}

// Stop halts the worker and waits for the in-flight batch to finish.
func (m *Messenger) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
}

func (m *Messenger) worker(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.DeliverDue(ctx)
		}
	}
}

// DeliverDue sends every currently due job once. Exposed for tests and for
// callers that drive delivery on their own schedule.
func (m *Messenger) DeliverDue(ctx context.Context) {
	jobs, err := m.queue.Due(ctx, defaultBatchSize)
	if err != nil {
		m.logger.Error(ctx, "loading due proactive jobs failed", "error", err)
		return
	}
	for _, job := range jobs {
		m.deliver(ctx, job)
	}
}

func (m *Messenger) deliver(ctx context.Context, job Job) {
	m.mu.RLock()
	adapter, ok := m.adapters[job.Channel]
	m.mu.RUnlock()
	if !ok {
		err := nexuserr.Newf(nexuserr.CodeValidation, "no adapter registered for channel %q", job.Channel)
		m.fail(ctx, job, err)
		return
	}

	deliveryID, err := adapter.Send(ctx, job.ProjectID, job.Recipient, job.Content)
	if err != nil {
		m.fail(ctx, job, err)
		return
	}
	if err := m.queue.MarkSent(ctx, job.ID); err != nil {
		m.logger.Error(ctx, "marking proactive job sent failed", "jobId", job.ID, "error", err)
		return
	}
	m.logger.Info(ctx, "proactive message delivered",
		"jobId", job.ID, "channel", job.Channel, "deliveryId", deliveryID)
}

func (m *Messenger) fail(ctx context.Context, job Job, sendErr error) {
	status, err := m.queue.MarkFailed(ctx, job.ID, sendErr, m.maxAttempts, m.retryBackoff)
	if err != nil {
		m.logger.Error(ctx, "marking proactive job failed errored", "jobId", job.ID, "error", err)
		return
	}
	if status == JobDead {
		m.logger.Error(ctx, "proactive message dead-lettered",
			"jobId", job.ID, "channel", job.Channel, "error", sendErr)
		return
	}
	m.logger.Warn(ctx, "proactive delivery failed, will retry",
		"jobId", job.ID, "channel", job.Channel, "error", sendErr)
}
